package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/wayrdp/wayrdp/internal/logging"
)

var log = logging.L("config")

type Config struct {
	// Listener
	ListenAddr     string `mapstructure:"listen_addr"`
	TLSCertFile    string `mapstructure:"tls_cert_file"`
	TLSKeyFile     string `mapstructure:"tls_key_file"`
	MaxConnections int    `mapstructure:"max_connections"`

	// Video pipeline
	TargetFPS          int     `mapstructure:"target_fps"`
	MainBitrate        int     `mapstructure:"main_bitrate"`
	AuxBitrate         int     `mapstructure:"aux_bitrate"` // 0 = half of main
	MaxH264Level       string  `mapstructure:"max_h264_level"`
	AuxChangeThreshold float64 `mapstructure:"aux_change_threshold"`
	MaxAuxInterval     int     `mapstructure:"max_aux_interval"`
	ForceBitmap        bool    `mapstructure:"force_bitmap"`
	RefreshIntervalMS  int     `mapstructure:"refresh_interval_ms"`

	// Event queues
	InputQueueCap     int `mapstructure:"input_queue_cap"`
	ControlQueueCap   int `mapstructure:"control_queue_cap"`
	ClipboardQueueCap int `mapstructure:"clipboard_queue_cap"`
	GraphicsQueueCap  int `mapstructure:"graphics_queue_cap"`

	// Clipboard broker
	ClipboardLoopWindowMS  int  `mapstructure:"clipboard_loop_window_ms"`
	ClipboardDedupWindowMS int  `mapstructure:"clipboard_dedup_window_ms"`
	ClipboardTimeoutMS     int  `mapstructure:"clipboard_timeout_ms"`
	ClipboardPollFallback  bool `mapstructure:"clipboard_poll_fallback"`

	// Portal
	PortalTimeoutMS   int `mapstructure:"portal_timeout_ms"`
	ShutdownTimeoutMS int `mapstructure:"shutdown_timeout_ms"`

	// Status endpoint (localhost diagnostics; empty disables)
	StatusAddr string `mapstructure:"status_addr"`

	// Logging
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
}

func Default() *Config {
	return &Config{
		ListenAddr:     "0.0.0.0:3389",
		MaxConnections: 16,

		TargetFPS:          30,
		MainBitrate:        4_000_000,
		AuxBitrate:         0,
		AuxChangeThreshold: 0.05,
		MaxAuxInterval:     30,
		RefreshIntervalMS:  1000,

		InputQueueCap:     32,
		ControlQueueCap:   16,
		ClipboardQueueCap: 8,
		GraphicsQueueCap:  4,

		ClipboardLoopWindowMS:  500,
		ClipboardDedupWindowMS: 2000,
		ClipboardTimeoutMS:     5000,

		PortalTimeoutMS:   5000,
		ShutdownTimeoutMS: 2000,

		StatusAddr: "127.0.0.1:3390",

		LogLevel:      "info",
		LogFormat:     "text",
		LogMaxSizeMB:  50,
		LogMaxBackups: 3,
	}
}

// Load reads configuration from cfgFile (or the default search path) and
// applies WAYRDP_-prefixed environment overrides. Validation fatals abort
// loading; warnings are logged and the value clamped.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("wayrdp")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("WAYRDP")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	result := cfg.Validate()
	for _, err := range result.Warnings {
		log.Warn("config validation", "error", err)
	}
	if result.HasFatals() {
		for _, err := range result.Fatals {
			log.Error("config validation fatal", "error", err)
		}
		return nil, fmt.Errorf("config has fatal validation errors: %v", result.Fatals[0])
	}

	return cfg, nil
}

// EffectiveAuxBitrate returns the configured aux bitrate, defaulting to
// half the main bitrate when unset.
func (c *Config) EffectiveAuxBitrate() int {
	if c.AuxBitrate > 0 {
		return c.AuxBitrate
	}
	return c.MainBitrate / 2
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "wayrdp")
	}
	return "/etc/wayrdp"
}

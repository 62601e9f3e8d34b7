package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wayrdp/wayrdp/internal/config"
	"github.com/wayrdp/wayrdp/internal/logging"
	"github.com/wayrdp/wayrdp/internal/portal"
	"github.com/wayrdp/wayrdp/internal/rdp"
	"github.com/wayrdp/wayrdp/internal/session"
	"github.com/wayrdp/wayrdp/internal/statusapi"
)

// Exit codes by error kind.
const (
	exitOK            = 0
	exitConfiguration = 1
	exitPortal        = 2
	exitListener      = 3
)

var (
	version   = "0.1.0"
	cfgFile   string
	logFile   string
	logLevel  string
	logFormat string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "wayrdp",
	Short: "RDP server for Wayland desktops",
	Long: `wayrdp exposes a Wayland desktop to RDP clients. Screen contents are
captured through the desktop portal, encoded as AVC444 H.264 (or bitmap
updates), and pointer, keyboard, and clipboard state is bridged back to
the compositor.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the server",
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runServer())
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate configuration and TLS material",
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runCheck())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("wayrdp v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: wayrdp.yaml in $XDG_CONFIG_HOME/wayrdp or /etc/wayrdp, then the working directory)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "log file path (default stdout only)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfiguration)
	}
}

// loadConfig loads the config file and applies CLI flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logFile != "" {
		cfg.LogFile = logFile
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}
	return cfg, nil
}

// initLogging sets up structured logging from config.
func initLogging(cfg *config.Config) {
	var output io.Writer = os.Stdout
	if cfg.LogFile != "" {
		rw, err := logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v (logging to stdout)\n", cfg.LogFile, err)
		} else {
			output = logging.TeeWriter(os.Stdout, rw)
		}
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, output)
}

func runCheck() int {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
		return exitConfiguration
	}
	if _, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile); err != nil {
		fmt.Fprintf(os.Stderr, "TLS material invalid: %v\n", err)
		return exitConfiguration
	}
	fmt.Println("Configuration OK")
	return exitOK
}

func runServer() int {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
		return exitConfiguration
	}
	initLogging(cfg)

	cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
	if err != nil {
		log.Error("Failed to load TLS material", "error", err)
		return exitConfiguration
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Probe the portal once at startup so a missing portal surfaces as a
	// clean diagnostic instead of failing every connection.
	probeCtx, cancelProbe := context.WithTimeout(ctx, time.Duration(cfg.PortalTimeoutMS)*time.Millisecond)
	probe, err := portal.Connect(probeCtx, time.Duration(cfg.PortalTimeoutMS)*time.Millisecond)
	cancelProbe()
	if err != nil {
		log.Error("Desktop portal unavailable", "error", err)
		return exitPortal
	}
	probe.Close()

	manager := session.NewManager(cfg)
	server := rdp.NewServer(rdp.ServerConfig{
		Addr: cfg.ListenAddr,
		TLS: &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		},
		MaxConnections: cfg.MaxConnections,
	}, manager.Hooks)

	if cfg.StatusAddr != "" {
		go statusapi.New(cfg.StatusAddr, manager).Run(ctx)
	}

	log.Info("Starting wayrdp", "version", version, "listen", cfg.ListenAddr)
	err = server.ListenAndServe(ctx)
	manager.StopAll()
	if err != nil {
		log.Error("Listener failed", "error", err)
		return exitListener
	}
	log.Info("Shutdown complete")
	return exitOK
}

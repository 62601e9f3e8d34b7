package config

import (
	"fmt"
	"net"
	"os"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// ValidationResult separates errors that must block startup from ones that
// are safe to clamp and continue with.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r *ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

func (r *ValidationResult) fatal(format string, args ...any) {
	r.Fatals = append(r.Fatals, fmt.Errorf(format, args...))
}

func (r *ValidationResult) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Errorf(format, args...))
}

// Validate checks the config. Dangerous zero-values that would cause panics
// are clamped to safe defaults and reported as warnings; misconfiguration
// that cannot be recovered (bad listen address, missing TLS material) is
// fatal.
func (c *Config) Validate() *ValidationResult {
	r := &ValidationResult{}

	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		r.fatal("listen_addr %q is not host:port: %v", c.ListenAddr, err)
	}
	if c.StatusAddr != "" {
		if _, _, err := net.SplitHostPort(c.StatusAddr); err != nil {
			r.fatal("status_addr %q is not host:port: %v", c.StatusAddr, err)
		}
	}

	if c.TLSCertFile == "" || c.TLSKeyFile == "" {
		r.fatal("tls_cert_file and tls_key_file are required")
	} else {
		for _, path := range []string{c.TLSCertFile, c.TLSKeyFile} {
			if _, err := os.Stat(path); err != nil {
				r.fatal("TLS material %q: %v", path, err)
			}
		}
	}

	if c.MaxConnections < 1 {
		r.warn("max_connections %d is below minimum 1, clamping", c.MaxConnections)
		c.MaxConnections = 1
	}

	if c.TargetFPS < 1 {
		r.warn("target_fps %d is below minimum 1, clamping", c.TargetFPS)
		c.TargetFPS = 1
	} else if c.TargetFPS > 60 {
		r.warn("target_fps %d exceeds maximum 60, clamping", c.TargetFPS)
		c.TargetFPS = 60
	}

	if c.MainBitrate <= 0 {
		r.warn("main_bitrate %d is not positive, using default", c.MainBitrate)
		c.MainBitrate = Default().MainBitrate
	}
	if c.AuxBitrate < 0 {
		r.warn("aux_bitrate %d is negative, deriving from main", c.AuxBitrate)
		c.AuxBitrate = 0
	}

	if c.AuxChangeThreshold <= 0 || c.AuxChangeThreshold > 1 {
		r.warn("aux_change_threshold %v outside (0,1], using default", c.AuxChangeThreshold)
		c.AuxChangeThreshold = Default().AuxChangeThreshold
	}
	if c.MaxAuxInterval < 1 {
		r.warn("max_aux_interval %d is below minimum 1, clamping", c.MaxAuxInterval)
		c.MaxAuxInterval = 1
	}

	for _, q := range []struct {
		name string
		val  *int
	}{
		{"input_queue_cap", &c.InputQueueCap},
		{"control_queue_cap", &c.ControlQueueCap},
		{"clipboard_queue_cap", &c.ClipboardQueueCap},
		{"graphics_queue_cap", &c.GraphicsQueueCap},
	} {
		if *q.val < 1 {
			r.warn("%s %d is below minimum 1, clamping", q.name, *q.val)
			*q.val = 1
		}
	}

	for _, t := range []struct {
		name string
		val  *int
	}{
		{"clipboard_loop_window_ms", &c.ClipboardLoopWindowMS},
		{"clipboard_dedup_window_ms", &c.ClipboardDedupWindowMS},
		{"clipboard_timeout_ms", &c.ClipboardTimeoutMS},
		{"portal_timeout_ms", &c.PortalTimeoutMS},
		{"shutdown_timeout_ms", &c.ShutdownTimeoutMS},
		{"refresh_interval_ms", &c.RefreshIntervalMS},
	} {
		if *t.val < 1 {
			r.warn("%s %d is not positive, using default", t.name, *t.val)
			*t.val = defaultFor(t.name)
		}
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		r.warn("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel)
		c.LogLevel = "info"
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.warn("log_format %q is not valid (use text or json)", c.LogFormat)
		c.LogFormat = "text"
	}

	return r
}

func defaultFor(name string) int {
	d := Default()
	switch name {
	case "clipboard_loop_window_ms":
		return d.ClipboardLoopWindowMS
	case "clipboard_dedup_window_ms":
		return d.ClipboardDedupWindowMS
	case "clipboard_timeout_ms":
		return d.ClipboardTimeoutMS
	case "portal_timeout_ms":
		return d.PortalTimeoutMS
	case "shutdown_timeout_ms":
		return d.ShutdownTimeoutMS
	case "refresh_interval_ms":
		return d.RefreshIntervalMS
	default:
		return 1
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("x"), 0600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func validConfig(t *testing.T) *Config {
	cfg := Default()
	cfg.TLSCertFile = writeTempFile(t, "cert.pem")
	cfg.TLSKeyFile = writeTempFile(t, "key.pem")
	return cfg
}

func TestValidate_DefaultsWithTLSAreClean(t *testing.T) {
	cfg := validConfig(t)
	r := cfg.Validate()
	if r.HasFatals() {
		t.Fatalf("unexpected fatals: %v", r.Fatals)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", r.Warnings)
	}
}

func TestValidate_MissingTLSIsFatal(t *testing.T) {
	cfg := Default()
	r := cfg.Validate()
	if !r.HasFatals() {
		t.Fatal("expected fatal for missing TLS material")
	}
}

func TestValidate_BadListenAddrIsFatal(t *testing.T) {
	cfg := validConfig(t)
	cfg.ListenAddr = "not-an-address"
	r := cfg.Validate()
	if !r.HasFatals() {
		t.Fatal("expected fatal for bad listen_addr")
	}
}

func TestValidate_FPSClamped(t *testing.T) {
	tests := []struct {
		name string
		in   int
		want int
	}{
		{"below minimum", 0, 1},
		{"above maximum", 120, 60},
		{"in range", 30, 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			cfg.TargetFPS = tt.in
			cfg.Validate()
			if cfg.TargetFPS != tt.want {
				t.Fatalf("target_fps = %d, want %d", cfg.TargetFPS, tt.want)
			}
		})
	}
}

func TestValidate_QueueCapsClamped(t *testing.T) {
	cfg := validConfig(t)
	cfg.GraphicsQueueCap = 0
	cfg.InputQueueCap = -5
	r := cfg.Validate()
	if r.HasFatals() {
		t.Fatalf("queue caps should clamp, not abort: %v", r.Fatals)
	}
	if cfg.GraphicsQueueCap != 1 || cfg.InputQueueCap != 1 {
		t.Fatalf("queue caps not clamped: graphics=%d input=%d", cfg.GraphicsQueueCap, cfg.InputQueueCap)
	}
}

func TestValidate_AuxThresholdReset(t *testing.T) {
	cfg := validConfig(t)
	cfg.AuxChangeThreshold = 1.5
	cfg.Validate()
	if cfg.AuxChangeThreshold != Default().AuxChangeThreshold {
		t.Fatalf("aux_change_threshold = %v, want default", cfg.AuxChangeThreshold)
	}
}

func TestEffectiveAuxBitrate(t *testing.T) {
	cfg := Default()
	cfg.MainBitrate = 4_000_000
	cfg.AuxBitrate = 0
	if got := cfg.EffectiveAuxBitrate(); got != 2_000_000 {
		t.Fatalf("derived aux bitrate = %d, want 2000000", got)
	}
	cfg.AuxBitrate = 1_000_000
	if got := cfg.EffectiveAuxBitrate(); got != 1_000_000 {
		t.Fatalf("explicit aux bitrate = %d, want 1000000", got)
	}
}

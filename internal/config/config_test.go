package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Flush.ThresholdBytes != DefaultFlushThresholdBytes {
		t.Errorf("ThresholdBytes = %d", cfg.Flush.ThresholdBytes)
	}
	if cfg.Camera.Pixels() != DefaultModules*DefaultPixelsPerModule {
		t.Errorf("Pixels() = %d", cfg.Camera.Pixels())
	}
	if cfg.Monitor.TimestampOffset != -time.Hour {
		t.Errorf("TimestampOffset = %v", cfg.Monitor.TimestampOffset)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
flush:
  threshold_bytes: 1000
camera:
  modules: 2
  pixels_per_module: 8
export:
  compression: snappy
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Flush.ThresholdBytes != 1000 {
		t.Errorf("ThresholdBytes = %d, want 1000", cfg.Flush.ThresholdBytes)
	}
	if cfg.Camera.Pixels() != 16 {
		t.Errorf("Pixels() = %d, want 16", cfg.Camera.Pixels())
	}
	if cfg.Export.Compression != "snappy" {
		t.Errorf("Compression = %q, want snappy", cfg.Export.Compression)
	}

	// Unset sections keep defaults.
	if cfg.Memory.GuardBytes != DefaultMemoryGuardBytes {
		t.Errorf("GuardBytes = %d, want default", cfg.Memory.GuardBytes)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"zero threshold", func(c *Config) { c.Flush.ThresholdBytes = 0 }, true},
		{"zero guard", func(c *Config) { c.Memory.GuardBytes = 0 }, true},
		{"zero chunk", func(c *Config) { c.Memory.TargetChunkBytes = 0 }, true},
		{"zero modules", func(c *Config) { c.Camera.Modules = 0 }, true},
		{"too many modules", func(c *Config) { c.Camera.Modules = 300 }, true},
		{"zero pixels", func(c *Config) { c.Camera.PixelsPerModule = 0 }, true},
		{"bad compression", func(c *Config) { c.Export.Compression = "bzip2" }, true},
		{"no compression", func(c *Config) { c.Export.Compression = "" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// Package config provides configuration for the evstore pipeline.
//
// All size heuristics that govern buffering and reading are expressed here
// as named, overridable values rather than embedded constants, so they can
// be tuned in tests and deployments.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultFlushThresholdBytes is the buffered-batch size at which the
	// table writer flushes to the store.
	// Override via config: flush.threshold_bytes
	DefaultFlushThresholdBytes = 500_000_000

	// DefaultMemoryGuardBytes is the table size above which LoadAll
	// refuses to materialize the whole table without force.
	// Override via config: memory.guard_bytes
	DefaultMemoryGuardBytes = 8_000_000_000

	// DefaultTargetChunkBytes is the approximate resident size of one
	// chunk during chunked iteration.
	// Override via config: memory.target_chunk_bytes
	DefaultTargetChunkBytes = 2_000_000_000

	// DefaultModules is the number of camera modules.
	DefaultModules = 32

	// DefaultPixelsPerModule is the number of pixels per module.
	DefaultPixelsPerModule = 64
)

// DefaultMonitorTimestampOffset corrects monitor log timestamps, which are
// written in local site time rather than UTC.
// TODO: drop once the telemetry logger emits UTC timestamps.
const DefaultMonitorTimestampOffset = -time.Hour

// Config represents the complete evstore configuration.
type Config struct {
	// Flush configures the buffered table writer.
	Flush FlushConfig `yaml:"flush"`

	// Memory configures read-side memory guards.
	Memory MemoryConfig `yaml:"memory"`

	// Camera defines the instrument topology.
	Camera CameraConfig `yaml:"camera"`

	// Monitor configures telemetry-log parsing.
	Monitor MonitorConfig `yaml:"monitor"`

	// Store configures the underlying columnar database.
	Store StoreConfig `yaml:"store"`

	// Export configures Parquet export.
	Export ExportConfig `yaml:"export"`
}

// FlushConfig configures the buffered table writer.
type FlushConfig struct {
	// ThresholdBytes triggers a flush when the buffered estimate reaches it.
	ThresholdBytes int64 `yaml:"threshold_bytes"`
}

// MemoryConfig configures read-side memory guards.
type MemoryConfig struct {
	// GuardBytes is the LoadAll refusal threshold.
	GuardBytes int64 `yaml:"guard_bytes"`

	// TargetChunkBytes is the chunk-size target for chunked iteration.
	TargetChunkBytes int64 `yaml:"target_chunk_bytes"`
}

// CameraConfig defines the instrument topology.
type CameraConfig struct {
	// Modules is the number of camera modules.
	Modules int `yaml:"modules"`

	// PixelsPerModule is the number of pixels per module.
	PixelsPerModule int `yaml:"pixels_per_module"`
}

// Pixels returns the total pixel count of the camera.
func (c CameraConfig) Pixels() int {
	return c.Modules * c.PixelsPerModule
}

// MonitorConfig configures telemetry-log parsing.
type MonitorConfig struct {
	// TimestampOffset is added to every parsed monitor timestamp.
	TimestampOffset time.Duration `yaml:"timestamp_offset"`
}

// StoreConfig configures the underlying columnar database.
type StoreConfig struct {
	// MemoryLimit is the DuckDB memory limit, e.g. "2GB". Empty keeps the
	// engine default.
	MemoryLimit string `yaml:"memory_limit"`
}

// ExportConfig configures Parquet export.
type ExportConfig struct {
	// Compression is the Parquet compression algorithm: snappy, zstd, lz4, none.
	Compression string `yaml:"compression"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Flush: FlushConfig{
			ThresholdBytes: DefaultFlushThresholdBytes,
		},
		Memory: MemoryConfig{
			GuardBytes:       DefaultMemoryGuardBytes,
			TargetChunkBytes: DefaultTargetChunkBytes,
		},
		Camera: CameraConfig{
			Modules:         DefaultModules,
			PixelsPerModule: DefaultPixelsPerModule,
		},
		Monitor: MonitorConfig{
			TimestampOffset: DefaultMonitorTimestampOffset,
		},
		Export: ExportConfig{
			Compression: "zstd",
		},
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Flush.ThresholdBytes <= 0 {
		return fmt.Errorf("flush.threshold_bytes must be positive, got %d", c.Flush.ThresholdBytes)
	}
	if c.Memory.GuardBytes <= 0 {
		return fmt.Errorf("memory.guard_bytes must be positive, got %d", c.Memory.GuardBytes)
	}
	if c.Memory.TargetChunkBytes <= 0 {
		return fmt.Errorf("memory.target_chunk_bytes must be positive, got %d", c.Memory.TargetChunkBytes)
	}
	if c.Camera.Modules <= 0 || c.Camera.Modules > 256 {
		return fmt.Errorf("camera.modules must be in 1-256, got %d", c.Camera.Modules)
	}
	if c.Camera.PixelsPerModule <= 0 {
		return fmt.Errorf("camera.pixels_per_module must be positive, got %d", c.Camera.PixelsPerModule)
	}
	switch c.Export.Compression {
	case "", "none", "snappy", "zstd", "lz4", "gzip":
	default:
		return fmt.Errorf("export.compression %q is not supported", c.Export.Compression)
	}
	return nil
}

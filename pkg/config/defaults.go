package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/tcpcmd/internal/bytesize"
	"github.com/marmos91/tcpcmd/pkg/wire"
)

// Defaults that other packages and the CLI refer to.
const (
	DefaultPort                = 7700
	DefaultExtensionDir        = "cmdso"
	DefaultConnectionTableSize = 65536
	DefaultShutdownTimeout     = 30 * time.Second
)

// ApplyDefaults fills zero-valued fields. Explicit values are kept.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	cfg.API.ApplyDefaults()
	applyServerDefaults(&cfg.Server)
	applyExtensionsDefaults(&cfg.Extensions)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	if cfg.Profiling.Endpoint == "" {
		cfg.Profiling.Endpoint = "http://localhost:4040"
	}
	if len(cfg.Profiling.ProfileTypes) == 0 {
		cfg.Profiling.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.UnixSocket == "" {
		cfg.UnixSocket = filepath.Join(os.TempDir(), "tcpcmd.sock")
	}
	if cfg.Workers == 0 {
		cfg.Workers = 1
	}
	if cfg.MaxPacketSize == 0 {
		cfg.MaxPacketSize = bytesize.ByteSize(wire.DefaultMaxPacketSize)
	}
	if cfg.ConnectionTableSize == 0 {
		cfg.ConnectionTableSize = DefaultConnectionTableSize
	}
}

func applyExtensionsDefaults(cfg *ExtensionsConfig) {
	if cfg.Root == "" {
		cfg.Root = "."
	}
	if cfg.Dir == "" {
		cfg.Dir = DefaultExtensionDir
	}
}

// GetDefaultConfig returns a configuration with every default applied.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

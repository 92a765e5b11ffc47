package commands

import (
	"fmt"

	"github.com/marmos91/tcpcmd/internal/logger"
	cmdadapter "github.com/marmos91/tcpcmd/pkg/adapter/cmd"
	"github.com/marmos91/tcpcmd/pkg/config"
)

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// adapterConfig maps the file configuration onto the command adapter.
func adapterConfig(cfg *config.Config) cmdadapter.Config {
	s := cfg.Server
	return cmdadapter.Config{
		BindAddress:         s.BindAddress,
		Port:                s.Port,
		UnixSocket:          s.UnixSocket,
		Workers:             s.Workers,
		MaxConnections:      s.MaxConnections,
		MaxPacketSize:       s.MaxPacketSize.Uint32(),
		ConnectionTableSize: s.ConnectionTableSize,
		IdleTimeout:         s.IdleTimeout,
		WriteTimeout:        s.WriteTimeout,
		ShutdownTimeout:     cfg.ShutdownTimeout,
		MetricsLogInterval:  s.MetricsLogInterval,
		ExtensionDir:        cfg.Extensions.Path(),
		WatchExtensions:     cfg.Extensions.Watch,
	}
}

// configSource describes where the configuration was loaded from.
func configSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}

package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/tcpcmd/internal/logger"
	"github.com/marmos91/tcpcmd/internal/telemetry"
	cmdadapter "github.com/marmos91/tcpcmd/pkg/adapter/cmd"
	"github.com/marmos91/tcpcmd/pkg/api"
	"github.com/marmos91/tcpcmd/pkg/config"
	"github.com/marmos91/tcpcmd/pkg/metrics"
	"github.com/marmos91/tcpcmd/pkg/metrics/prometheus"
)

var pidFile string

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the command server",
	Long: `Start the command server in the foreground.

The server loads every extension module under the configured extension
directory, then listens on TCP and on the local unix control socket until
SIGINT or SIGTERM.

Examples:
  # Start with the default config location
  tcpcmd start

  # Start with a custom config file
  tcpcmd start --config /etc/tcpcmd/config.yaml

  # Override settings from the environment
  TCPCMD_LOGGING_LEVEL=DEBUG TCPCMD_SERVER_WORKERS=4 tcpcmd start`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Write the process ID to this file while running")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "tcpcmd",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("Telemetry shutdown error", logger.Err(err))
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "tcpcmd",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("Profiling shutdown error", logger.Err(err))
		}
	}()

	logger.Info("Configuration loaded", "source", configSource(GetConfigFile()),
		"level", cfg.Logging.Level, "format", cfg.Logging.Format)
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint)
	}

	var m metrics.CommandMetrics
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		m = prometheus.NewCommandMetrics()
		logger.Info("Metrics enabled", "path", "/metrics")
	}

	srv := cmdadapter.New(adapterConfig(cfg), m, nil)
	if err := srv.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize command server: %w", err)
	}
	defer srv.Exit()

	apiDone := make(chan error, 1)
	if cfg.API.IsEnabled() {
		apiServer := api.NewServer(cfg.API, srv)
		go func() { apiDone <- apiServer.Start(ctx) }()
	} else {
		apiDone <- nil
	}

	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	serveDone := make(chan error, 1)
	go func() { serveDone <- srv.Serve(ctx) }()

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		err = <-serveDone
	case err = <-serveDone:
		stop()
	}

	if apiErr := <-apiDone; apiErr != nil {
		logger.Error("API server error", logger.Err(apiErr))
	}

	if err != nil {
		logger.Error("Server stopped with error", logger.Err(err))
		return err
	}
	logger.Info("Server stopped")
	return nil
}

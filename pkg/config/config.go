package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/tcpcmd/internal/bytesize"
	"github.com/marmos91/tcpcmd/pkg/api"
)

// EnvPrefix prefixes every environment override, e.g. TCPCMD_SERVER_PORT.
const EnvPrefix = "TCPCMD"

// Config is the static configuration of a tcpcmd server.
//
// Sources, highest precedence first:
//  1. Environment variables (TCPCMD_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	API       api.APIConfig   `mapstructure:"api" yaml:"api"`

	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Extensions ExtensionsConfig `mapstructure:"extensions" yaml:"extensions"`

	// ShutdownTimeout bounds graceful shutdown before connections are
	// force-closed.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is DEBUG, INFO, WARN or ERROR (case-insensitive).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is stdout, stderr or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector (host:port).
	Endpoint string `mapstructure:"endpoint" validate:"required_if=Enabled true" yaml:"endpoint"`

	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate is the fraction of traces kept.
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server URL.
	Endpoint string `mapstructure:"endpoint" validate:"required_if=Enabled true" yaml:"endpoint"`

	ProfileTypes []string `mapstructure:"profile_types" validate:"dive,oneof=cpu alloc_objects alloc_space inuse_objects inuse_space goroutines mutex_count mutex_duration block_count block_duration" yaml:"profile_types"`
}

// MetricsConfig enables Prometheus collection. Metrics are served on the
// API server under /metrics.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// ServerConfig configures the command listeners.
type ServerConfig struct {
	// BindAddress is the TCP address to bind. Empty binds all interfaces.
	BindAddress string `mapstructure:"bind_address" validate:"omitempty,ip" yaml:"bind_address"`

	Port int `mapstructure:"port" validate:"min=1,max=65535" yaml:"port"`

	// UnixSocket is the path of the local control socket. With more than
	// one worker each worker listens on "<path>.<slot>".
	UnixSocket string `mapstructure:"unix_socket" validate:"required" yaml:"unix_socket"`

	Workers int `mapstructure:"workers" validate:"min=1,max=1024" yaml:"workers"`

	// MaxConnections limits concurrent connections across all workers.
	// 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0" yaml:"max_connections"`

	// MaxPacketSize bounds the declared size of a single packet, header
	// included.
	MaxPacketSize bytesize.ByteSize `mapstructure:"max_packet_size" yaml:"max_packet_size"`

	// ConnectionTableSize is the number of fd slots in the shared
	// connection table.
	ConnectionTableSize int `mapstructure:"connection_table_size" validate:"min=64,max=16777216" yaml:"connection_table_size"`

	// IdleTimeout closes connections that send nothing for this long.
	// 0 disables it.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"min=0" yaml:"idle_timeout"`

	// WriteTimeout bounds a single send to a client. 0 disables it.
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"min=0" yaml:"write_timeout"`

	// MetricsLogInterval periodically logs connection counts. 0 disables it.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" validate:"min=0" yaml:"metrics_log_interval"`
}

// UnixSocketPath returns the control socket path of worker slot.
func (s ServerConfig) UnixSocketPath(slot int) string {
	if s.Workers <= 1 {
		return s.UnixSocket
	}
	return fmt.Sprintf("%s.%d", s.UnixSocket, slot)
}

// ExtensionsConfig locates the extension tree.
type ExtensionsConfig struct {
	// Root is the working root. Dir is resolved against it.
	Root string `mapstructure:"root" validate:"required" yaml:"root"`

	// Dir is the extension directory under Root.
	Dir string `mapstructure:"dir" validate:"required" yaml:"dir"`

	// Watch logs changes to the extension tree while running.
	Watch bool `mapstructure:"watch" yaml:"watch"`
}

// Path returns the absolute-or-relative extension directory.
func (e ExtensionsConfig) Path() string {
	if filepath.IsAbs(e.Dir) {
		return e.Dir
	}
	return filepath.Join(e.Root, e.Dir)
}

// Load reads configuration from configPath (or the default location when
// empty), the environment and defaults, then validates it. A missing file is
// not an error: defaults plus environment are used.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	if err := setupViper(v, configPath); err != nil {
		return nil, err
	}

	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad is Load for CLI use: it requires the file to exist and explains
// how to create one when it doesn't.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  tcpcmd config init\n\n"+
				"Or specify a custom config file:\n"+
				"  tcpcmd <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  tcpcmd config init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path as YAML.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Viper only consults the environment for keys it already knows, so
	// every key is seeded with its default.
	if err := seedDefaults(v, GetDefaultConfig()); err != nil {
		return err
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		return nil
	}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	return nil
}

func seedDefaults(v *viper.Viper, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal defaults: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("failed to unmarshal defaults: %w", err)
	}
	setDefaults(v, "", tree)
	return nil
}

func setDefaults(v *viper.Viper, prefix string, tree map[string]any) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch t := val.(type) {
		case map[string]any:
			setDefaults(v, key, t)
		case nil:
		default:
			v.SetDefault(key, t)
		}
	}
}

// readConfigFile reports whether a config file was read.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// byteSizeDecodeHook accepts "1Mi", "512KB" or plain numbers for ByteSize
// fields.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(_ reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.Parse(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook accepts "30s", "5m" or nanoseconds.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(_ reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns $XDG_CONFIG_HOME/tcpcmd, ~/.config/tcpcmd, or ".".
func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "tcpcmd")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "tcpcmd")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a file exists at GetDefaultConfigPath.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory.
func GetConfigDir() string {
	return getConfigDir()
}

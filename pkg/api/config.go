package api

import "time"

// APIConfig configures the status HTTP server.
type APIConfig struct {
	// Enabled defaults to true when unset.
	Enabled *bool `mapstructure:"enabled" yaml:"enabled"`

	// BindAddress is the address to bind. Empty binds all interfaces.
	BindAddress string `mapstructure:"bind_address" validate:"omitempty,ip" yaml:"bind_address"`

	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// DefaultPort is the status API port.
const DefaultPort = 7780

// IsEnabled reports whether the server should start.
func (c *APIConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// ApplyDefaults fills zero values.
func (c *APIConfig) ApplyDefaults() {
	if c.Enabled == nil {
		on := true
		c.Enabled = &on
	}
	if c.Port <= 0 {
		c.Port = DefaultPort
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
}

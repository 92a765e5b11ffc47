package cmd

import (
	"fmt"
	"time"

	"github.com/marmos91/tcpcmd/pkg/wire"
)

// Config configures the command adapter.
type Config struct {
	// BindAddress is the TCP address to bind. Empty binds all interfaces.
	BindAddress string

	// Port is the TCP port. 0 picks a free port, shared by every worker.
	Port int

	// UnixSocket is the control socket path. Empty disables the unix
	// listeners. With more than one worker, worker N listens on
	// "<UnixSocket>.<N>".
	UnixSocket string

	Workers        int
	MaxConnections int

	// MaxPacketSize bounds a packet's declared size, header included.
	MaxPacketSize uint32

	ConnectionTableSize int

	IdleTimeout        time.Duration
	WriteTimeout       time.Duration
	ShutdownTimeout    time.Duration
	MetricsLogInterval time.Duration

	// ExtensionDir is scanned for modules during Init.
	ExtensionDir string

	// WatchExtensions logs changes to ExtensionDir while serving.
	WatchExtensions bool
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.MaxPacketSize == 0 {
		c.MaxPacketSize = wire.DefaultMaxPacketSize
	}
	if c.ConnectionTableSize <= 0 {
		c.ConnectionTableSize = 65536
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}

func (c *Config) validate() error {
	if c.MaxPacketSize < wire.HeaderSize || c.MaxPacketSize > wire.MaxPacketSizeCeiling {
		return fmt.Errorf("max packet size %d outside [%d, %d]",
			c.MaxPacketSize, wire.HeaderSize, wire.MaxPacketSizeCeiling)
	}
	return nil
}

// unixSocketPath returns the control socket of worker slot.
func (c *Config) unixSocketPath(slot int) string {
	if c.Workers <= 1 {
		return c.UnixSocket
	}
	return fmt.Sprintf("%s.%d", c.UnixSocket, slot)
}

package cmd

import (
	"log/slog"

	"github.com/marmos91/tcpcmd/internal/logger"
)

// host is what extension entry points see of the running server.
type host struct {
	pid     int
	workers int
	dir     string
}

func (h host) PID() int             { return h.pid }
func (h host) Workers() int         { return h.workers }
func (h host) ExtensionDir() string { return h.dir }

func (h host) Logger() *slog.Logger {
	return logger.With("component", "extension")
}

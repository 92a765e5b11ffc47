// Package router provides the built-in command handlers: keepalive and
// transfer.
//
// Transfer forwards a payload from a trusted local peer (one connected over
// the worker's unix socket) to another connection served by the same worker.
// The destination is named by (pid, fd); it is accepted only after the
// connection table entry at fd is confirmed to belong to this process and
// this worker, and the session behind it still owns that fd. Every rejected
// transfer is logged and dropped. The sender is never told.
package router

import (
	"time"

	"github.com/marmos91/tcpcmd/internal/logger"
	"github.com/marmos91/tcpcmd/pkg/command"
	"github.com/marmos91/tcpcmd/pkg/connreg"
	"github.com/marmos91/tcpcmd/pkg/metrics"
	"github.com/marmos91/tcpcmd/pkg/registry"
	"github.com/marmos91/tcpcmd/pkg/wire"
)

// Worker is the view of the serving worker a transfer needs.
type Worker interface {
	PID() int
	Slot() int

	// Lookup reads the process-visible connection table.
	Lookup(fd int) (connreg.Entry, bool)

	// Resolve follows an entry through the worker's own session arena.
	Resolve(e connreg.Entry) (command.Session, bool)
}

// Source is a session that knows the worker serving it.
type Source interface {
	command.Session
	Worker() Worker
}

// Router holds the built-in handlers.
type Router struct {
	metrics metrics.CommandMetrics
}

// New returns a router. m may be nil.
func New(m metrics.CommandMetrics) *Router {
	return &Router{metrics: m}
}

// Register installs keepalive and transfer on reg.
func (r *Router) Register(reg command.Registrar) error {
	if err := reg.Register(wire.CmdKeepalive, wire.CmdKeepalive, r.Keepalive); err != nil {
		return err
	}
	return reg.Register(wire.CmdTransfer, wire.CmdTransfer, r.Transfer)
}

// Keepalive acknowledges nothing and changes nothing.
func (r *Router) Keepalive(c *command.Context, hdr wire.Header, _ []byte) error {
	logger.Debug("Keepalive", logger.KeySize, hdr.Size, connField(c))
	return nil
}

// Transfer forwards the payload of a transfer packet. It always returns nil.
func (r *Router) Transfer(c *command.Context, _ wire.Header, body []byte) error {
	src, ok := c.Session.(Source)
	if !ok || src.Network() != "unix" {
		r.drop(c, metrics.TransferUntrusted, "network", networkOf(c))
		return nil
	}
	w := src.Worker()

	t, err := wire.DecodeTransfer(body)
	if err != nil {
		r.drop(c, metrics.TransferMalformed, logger.KeyError, err.Error())
		return nil
	}
	fd := int(t.DestFD)

	if fd <= 2 {
		r.drop(c, metrics.TransferReservedFD, logger.KeyDestFD, fd)
		return nil
	}

	entry, ok := w.Lookup(fd)
	if !ok {
		r.drop(c, metrics.TransferNoEntry, logger.KeyDestFD, fd, logger.KeyDestPID, t.DestPID)
		return nil
	}

	if int(t.DestPID) != w.PID() ||
		int(entry.Owner.PID) != w.PID() ||
		int(entry.Owner.Worker) != w.Slot() {
		r.drop(c, metrics.TransferForeign,
			logger.KeyDestFD, fd,
			logger.KeyDestPID, t.DestPID,
			logger.KeyPID, w.PID(),
			logger.KeyWorker, w.Slot(),
			"owner_pid", entry.Owner.PID,
			"owner_worker", entry.Owner.Worker)
		return nil
	}

	dest, ok := w.Resolve(entry)
	if !ok {
		r.drop(c, metrics.TransferStale, logger.KeyDestFD, fd)
		return nil
	}

	if !dest.Alive() || dest.FD() != fd {
		r.drop(c, metrics.TransferDead, logger.KeyDestFD, fd, "live_fd", dest.FD())
		return nil
	}

	start := time.Now()
	if err := dest.Send(t.Data); err != nil {
		r.drop(c, metrics.TransferSendFailed, logger.KeyDestFD, fd, logger.KeyError, err.Error())
		return nil
	}

	if r.metrics != nil {
		r.metrics.RecordTransfer(metrics.TransferDelivered, len(t.Data))
	}
	logger.Debug("Transfer delivered",
		logger.KeyDestFD, fd,
		logger.KeyBytes, len(t.Data),
		logger.KeyDurationMs, logger.Since(start),
		connField(c))
	return nil
}

func (r *Router) drop(c *command.Context, outcome string, kv ...any) {
	if r.metrics != nil {
		r.metrics.RecordTransfer(outcome, 0)
	}
	args := append([]any{logger.KeyReason, outcome, connField(c)}, kv...)
	logger.Warn("Transfer dropped", args...)
}

func connField(c *command.Context) any {
	if c == nil || c.Session == nil {
		return logger.ConnectionID("")
	}
	return logger.ConnectionID(c.Session.ID())
}

func networkOf(c *command.Context) string {
	if c == nil || c.Session == nil {
		return ""
	}
	return c.Session.Network()
}

// Builtin reports whether r lies within the commands this package serves.
func Builtin(r registry.Range) bool {
	return r.Min >= wire.CmdKeepalive && r.Max <= wire.CmdTransfer
}

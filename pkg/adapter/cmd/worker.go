package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/marmos91/tcpcmd/internal/logger"
	"github.com/marmos91/tcpcmd/pkg/command"
	"github.com/marmos91/tcpcmd/pkg/connreg"
)

// worker is one serving group: a TCP listener, a unix control listener and
// the arena that owns the sessions they accept. Transfers only reach
// sessions of the worker that received them.
type worker struct {
	slot  int
	pid   int
	table *connreg.Table
	arena *connreg.Arena[command.Session]
}

func newWorker(slot, pid int, table *connreg.Table) *worker {
	owner := connreg.Owner{PID: int32(pid), Worker: int32(slot)}
	return &worker{
		slot:  slot,
		pid:   pid,
		table: table,
		arena: connreg.NewArena[command.Session](owner),
	}
}

func (w *worker) PID() int  { return w.pid }
func (w *worker) Slot() int { return w.slot }

func (w *worker) Lookup(fd int) (connreg.Entry, bool) {
	return w.table.Lookup(fd)
}

func (w *worker) Resolve(e connreg.Entry) (command.Session, bool) {
	return w.arena.Resolve(e)
}

// register inserts s into the arena and publishes it in the table. The
// session stays reachable for status output even when its fd is beyond the
// table; it just cannot be a transfer destination.
func (w *worker) register(s *session) {
	s.tag = w.arena.Insert(s)
	if s.fd < 0 {
		return
	}
	if s.fd >= w.table.Size() {
		logger.Warn("Connection fd beyond connection table, not addressable for transfer",
			logger.KeyFD, s.fd, "table_size", w.table.Size(), logger.ConnectionID(s.id))
		return
	}
	if err := w.table.Publish(s.fd, w.arena.Owner(), s.tag); err != nil {
		logger.Warn("Connection not addressable for transfer",
			logger.KeyFD, s.fd, logger.ConnectionID(s.id), logger.Err(err))
		return
	}
	s.published = true
}

func (w *worker) unregister(s *session) {
	if s.published {
		w.table.Clear(s.fd, s.tag)
	}
	w.arena.Remove(s.tag)
}

// listenTCP binds addr, with SO_REUSEPORT when reuse is set so that every
// worker can bind the same port.
func listenTCP(ctx context.Context, addr string, reuse bool) (net.Listener, error) {
	lc := net.ListenConfig{}
	if reuse {
		lc.Control = func(_, _ string, c syscall.RawConn) error {
			var serr error
			if err := c.Control(func(fd uintptr) {
				serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			}); err != nil {
				return err
			}
			return serr
		}
	}
	return lc.Listen(ctx, "tcp", addr)
}

// listenUnix binds a unix stream socket at path, replacing a stale socket
// file left by a previous run.
func listenUnix(ctx context.Context, path string) (net.Listener, error) {
	if fi, err := os.Lstat(path); err == nil {
		if fi.Mode()&fs.ModeSocket == 0 {
			return nil, fmt.Errorf("%s exists and is not a socket", path)
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("remove stale socket %s: %w", path, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	lc := net.ListenConfig{}
	return lc.Listen(ctx, "unix", path)
}

func hostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

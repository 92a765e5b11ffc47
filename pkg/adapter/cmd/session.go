package cmd

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/tcpcmd/internal/router"
	"github.com/marmos91/tcpcmd/pkg/adapter"
	"github.com/marmos91/tcpcmd/pkg/connreg"
)

// ErrSessionClosed is returned by Send after the connection has ended.
var ErrSessionClosed = errors.New("cmd: session closed")

// session is the per-connection state handlers and transfers see.
type session struct {
	id      string
	conn    net.Conn
	network string
	fd      int
	worker  *worker
	since   time.Time

	writeTimeout time.Duration
	writeMu      sync.Mutex
	alive        atomic.Bool

	tag       connreg.Tag
	published bool
}

var _ router.Source = (*session)(nil)

func newSession(conn net.Conn, w *worker, writeTimeout time.Duration) *session {
	s := &session{
		id:           uuid.NewString(),
		conn:         conn,
		network:      conn.LocalAddr().Network(),
		fd:           connFD(conn),
		worker:       w,
		since:        time.Now(),
		writeTimeout: writeTimeout,
	}
	s.alive.Store(true)
	return s
}

// connFD returns the descriptor number behind conn, or -1.
func connFD(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}
	fd := -1
	if err := raw.Control(func(f uintptr) { fd = int(f) }); err != nil {
		return -1
	}
	return fd
}

func (s *session) ID() string           { return s.id }
func (s *session) FD() int              { return s.fd }
func (s *session) Network() string      { return s.network }
func (s *session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }
func (s *session) Alive() bool          { return s.alive.Load() }
func (s *session) Worker() router.Worker {
	return s.worker
}

// Send writes p to the client in full. Concurrent sends do not interleave.
func (s *session) Send(p []byte) error {
	if !s.alive.Load() {
		return ErrSessionClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return err
		}
	}
	_, err := s.conn.Write(p)
	return err
}

func (s *session) info() adapter.ConnectionInfo {
	remote := ""
	if a := s.conn.RemoteAddr(); a != nil {
		remote = a.String()
	}
	return adapter.ConnectionInfo{
		ID:         s.id,
		Network:    s.network,
		RemoteAddr: remote,
		FD:         s.fd,
		Worker:     s.worker.slot,
		Since:      s.since,
	}
}

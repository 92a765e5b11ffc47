package cmd

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/tcpcmd/pkg/adapter"
	"github.com/marmos91/tcpcmd/pkg/command"
	"github.com/marmos91/tcpcmd/pkg/connreg"
	"github.com/marmos91/tcpcmd/pkg/extension"
	"github.com/marmos91/tcpcmd/pkg/wire"
)

const (
	cmdEcho   = 100
	cmdFail   = 101
	cmdReject = 102
)

type lib map[string]any

func (l lib) Lookup(name string) (any, error) {
	s, ok := l[name]
	if !ok {
		return nil, fmt.Errorf("no symbol %s", name)
	}
	return s, nil
}

func (lib) Close() error { return nil }

type opener map[string]lib

func (o opener) Open(path string) (extension.Library, error) {
	l, ok := o[filepath.Base(path)]
	if !ok {
		return nil, errors.New("not a module")
	}
	return l, nil
}

// echoModule answers cmdEcho with the packet body, fails on cmdFail, and
// refuses sessions while refuse is set.
func echoModule(refuse *atomic.Bool) lib {
	return lib{
		command.SymbolLoad: func(_ command.Host, r command.Registrar, _ int) error {
			if err := r.Register(cmdEcho, cmdEcho, func(c *command.Context, _ wire.Header, body []byte) error {
				return c.Send(append([]byte(nil), body...))
			}); err != nil {
				return err
			}
			return r.Register(cmdFail, cmdFail, func(*command.Context, wire.Header, []byte) error {
				return errors.New("handler failed")
			})
		},
		command.SymbolUnload: func(command.Host) error { return nil },
		command.SymbolSessionInit: func(*command.Context) error {
			if refuse.Load() {
				return errors.New("refused")
			}
			return nil
		},
		command.SymbolSessionFinit: func(*command.Context) error { return nil },
	}
}

type server struct {
	a      *Adapter
	tcp    string
	unix   string
	refuse atomic.Bool
	done   chan error
}

func startServer(t *testing.T) *server {
	t.Helper()

	// Short directory: unix socket paths are length-limited.
	sockDir, err := os.MkdirTemp("", "tcpcmd")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(sockDir) })

	extDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(extDir, "echo.so"), nil, 0o644))

	s := &server{done: make(chan error, 1)}
	a := New(Config{
		BindAddress:     "127.0.0.1",
		UnixSocket:      filepath.Join(sockDir, "c.sock"),
		MaxPacketSize:   1024,
		ShutdownTimeout: 2 * time.Second,
		ExtensionDir:    extDir,
	}, nil, opener{"echo.so": echoModule(&s.refuse)})
	s.a = a

	require.NoError(t, a.Init(context.Background()))
	require.True(t, a.Ready())

	ctx, cancel := context.WithCancel(context.Background())
	go func() { s.done <- a.Serve(ctx) }()

	addrs := a.Addrs()
	require.Len(t, addrs, 2)
	s.tcp = addrs[0].String()
	s.unix = addrs[1].String()

	t.Cleanup(func() {
		cancel()
		select {
		case <-s.done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
		a.Exit()
	})
	return s
}

func (s *server) dial(t *testing.T, network string) net.Conn {
	t.Helper()
	addr := s.tcp
	if network == "unix" {
		addr = s.unix
	}
	c, err := net.Dial(network, addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// sessionFD waits for the server side of a new network session and returns
// its descriptor.
func (s *server) sessionFD(t *testing.T, network string, known int) int {
	t.Helper()
	var fd int
	require.Eventually(t, func() bool {
		var matches []adapter.ConnectionInfo
		for _, ci := range s.a.Sessions() {
			if ci.Network == network {
				matches = append(matches, ci)
			}
		}
		if len(matches) != known+1 {
			return false
		}
		fd = matches[len(matches)-1].FD
		return true
	}, 2*time.Second, 10*time.Millisecond)
	return fd
}

func send(t *testing.T, c net.Conn, cmd uint32, body []byte) {
	t.Helper()
	require.NoError(t, wire.WritePacket(c, cmd, body))
}

func readN(t *testing.T, c net.Conn, n int) []byte {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, n)
	_, err := io.ReadFull(c, buf)
	require.NoError(t, err)
	return buf
}

func expectNothing(t *testing.T, c net.Conn) {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, err := c.Read(make([]byte, 1))
	var ne net.Error
	require.True(t, errors.As(err, &ne) && ne.Timeout(), "expected read timeout, got %v", err)
}

func expectClosed(t *testing.T, c net.Conn) {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := c.Read(make([]byte, 1))
	require.Error(t, err)
	var ne net.Error
	require.False(t, errors.As(err, &ne) && ne.Timeout(), "connection still open")
}

func TestInitRegistersBuiltinsAndExtensions(t *testing.T) {
	s := startServer(t)

	var got []string
	for _, r := range s.a.Ranges() {
		got = append(got, r.String())
	}
	assert.Equal(t, []string{"1", "2", "100", "101"}, got)

	mods := s.a.Modules()
	require.Len(t, mods, 1)
	assert.Equal(t, 0, mods[0].Slot)
	assert.Equal(t, "echo.so", filepath.Base(mods[0].Path))
}

func TestEchoKeepaliveAndUnknownCommand(t *testing.T) {
	s := startServer(t)
	c := s.dial(t, "tcp")

	send(t, c, wire.CmdKeepalive, nil)
	send(t, c, 9999, []byte("ignored"))
	send(t, c, cmdEcho, []byte("ping"))

	assert.Equal(t, []byte("ping"), readN(t, c, 4))
}

func TestTransferFromUnixReachesTCPSession(t *testing.T) {
	s := startServer(t)

	dst := s.dial(t, "tcp")
	fd := s.sessionFD(t, "tcp", 0)

	ctl := s.dial(t, "unix")
	send(t, ctl, wire.CmdTransfer, wire.AppendTransfer(nil, wire.TransferBody{
		DestPID: int32(os.Getpid()),
		DestFD:  int32(fd),
		Data:    []byte("pushed"),
	}))

	assert.Equal(t, []byte("pushed"), readN(t, dst, 6))
}

func TestTransferFromTCPIsIgnored(t *testing.T) {
	s := startServer(t)

	dst := s.dial(t, "tcp")
	fd := s.sessionFD(t, "tcp", 0)

	src := s.dial(t, "tcp")
	send(t, src, wire.CmdTransfer, wire.AppendTransfer(nil, wire.TransferBody{
		DestPID: int32(os.Getpid()),
		DestFD:  int32(fd),
		Data:    []byte("nope"),
	}))

	expectNothing(t, dst)

	// The sender's connection survives the rejected transfer.
	send(t, src, cmdEcho, []byte("ok"))
	assert.Equal(t, []byte("ok"), readN(t, src, 2))
}

func TestTransferToWrongPIDIsIgnored(t *testing.T) {
	s := startServer(t)

	dst := s.dial(t, "tcp")
	fd := s.sessionFD(t, "tcp", 0)

	ctl := s.dial(t, "unix")
	send(t, ctl, wire.CmdTransfer, wire.AppendTransfer(nil, wire.TransferBody{
		DestPID: int32(os.Getpid() + 1),
		DestFD:  int32(fd),
		Data:    []byte("nope"),
	}))

	expectNothing(t, dst)
}

func TestHandlerErrorClosesConnection(t *testing.T) {
	s := startServer(t)
	c := s.dial(t, "tcp")

	send(t, c, cmdFail, nil)
	expectClosed(t, c)
}

func TestOversizedPacketClosesConnection(t *testing.T) {
	s := startServer(t)
	c := s.dial(t, "tcp")

	hdr := wire.EncodeHeader(4096, cmdEcho)
	_, err := c.Write(hdr[:])
	require.NoError(t, err)
	expectClosed(t, c)
}

func TestUndersizedPacketClosesConnection(t *testing.T) {
	s := startServer(t)
	c := s.dial(t, "tcp")

	var hdr [wire.HeaderSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], 8)
	binary.BigEndian.PutUint32(hdr[4:8], wire.CmdKeepalive)
	_, err := c.Write(hdr[:])
	require.NoError(t, err)
	expectClosed(t, c)
}

func TestSessionInitFailureClosesConnection(t *testing.T) {
	s := startServer(t)
	s.refuse.Store(true)

	c := s.dial(t, "tcp")
	expectClosed(t, c)
}

func TestSessionsDropClosedConnections(t *testing.T) {
	s := startServer(t)

	c := s.dial(t, "tcp")
	s.sessionFD(t, "tcp", 0)
	require.NoError(t, c.Close())

	require.Eventually(t, func() bool {
		return len(s.a.Sessions()) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServeBeforeInit(t *testing.T) {
	a := New(Config{}, nil, opener{})
	assert.ErrorIs(t, a.Serve(context.Background()), ErrNotInitialized)
}

func TestInitRejectsBadPacketLimit(t *testing.T) {
	a := New(Config{MaxPacketSize: wire.MaxPacketSizeCeiling + 1, ExtensionDir: t.TempDir()}, nil, opener{})
	assert.Error(t, a.Init(context.Background()))
	a.Exit()
}

func TestInitFailsWithoutExtensionDirectory(t *testing.T) {
	a := New(Config{ExtensionDir: filepath.Join(t.TempDir(), "cmdso")}, nil, opener{})

	err := a.Init(context.Background())
	require.ErrorIs(t, err, fs.ErrNotExist)
	assert.False(t, a.Ready())
	assert.Nil(t, a.table)
	assert.Empty(t, a.Ranges())
	a.Exit()
}

func TestInitFailureUnloadsLoadedModules(t *testing.T) {
	extDir := t.TempDir()
	for _, name := range []string{"a.so", "z.so"} {
		require.NoError(t, os.WriteFile(filepath.Join(extDir, name), nil, 0o644))
	}

	var unloaded atomic.Int32
	module := func(loadErr error) lib {
		return lib{
			command.SymbolLoad:         func(command.Host, command.Registrar, int) error { return loadErr },
			command.SymbolUnload:       func(command.Host) error { unloaded.Add(1); return nil },
			command.SymbolSessionInit:  func(*command.Context) error { return nil },
			command.SymbolSessionFinit: func(*command.Context) error { return nil },
		}
	}
	boom := errors.New("boom")
	a := New(Config{ExtensionDir: extDir}, nil, opener{
		"z.so": module(nil),
		"a.so": module(boom),
	})

	err := a.Init(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int32(1), unloaded.Load())
	assert.False(t, a.Ready())
	assert.Nil(t, a.table)

	a.Exit()
	assert.Equal(t, int32(1), unloaded.Load())
}

func TestRegisterBeyondTable(t *testing.T) {
	table, err := connreg.NewTable(64)
	require.NoError(t, err)
	t.Cleanup(func() { _ = table.Close() })
	w := newWorker(0, os.Getpid(), table)

	inside := &session{id: "inside", fd: 10}
	w.register(inside)
	assert.True(t, inside.published)
	_, ok := table.Lookup(10)
	assert.True(t, ok)

	beyond := &session{id: "beyond", fd: table.Size()}
	w.register(beyond)
	assert.False(t, beyond.published)
	got, ok := w.arena.Get(beyond.tag)
	require.True(t, ok)
	assert.Same(t, beyond, got)

	w.unregister(inside)
	w.unregister(beyond)
	_, ok = table.Lookup(10)
	assert.False(t, ok)
}

func TestUnixSocketPathPerWorker(t *testing.T) {
	c := Config{UnixSocket: "/run/tcpcmd.sock", Workers: 1}
	assert.Equal(t, "/run/tcpcmd.sock", c.unixSocketPath(0))

	c.Workers = 3
	assert.Equal(t, "/run/tcpcmd.sock.2", c.unixSocketPath(2))
}

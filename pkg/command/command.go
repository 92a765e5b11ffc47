// Package command defines the contract between the server and command
// handlers, including handlers contributed by extension modules.
//
// An extension is a Go plugin exporting four symbols (see the Symbol*
// constants). At startup the server calls its LoadFunc with a Registrar
// through which the extension claims command ranges:
//
//	func CmdLoad(h command.Host, r command.Registrar, slot int) error {
//		return r.Register(1000, 1099, handleEcho)
//	}
//
// Each connection carries a Context with one opaque slot per extension,
// indexed by the slot number passed to CmdLoad.
package command

import (
	"log/slog"
	"net"

	"github.com/marmos91/tcpcmd/pkg/wire"
)

// Handler processes one packet. A non-nil error closes the calling
// connection; handlers absorb routing and validation failures themselves.
//
// body is a pooled buffer reused for later packets once the handler
// returns. It, and any slice of it such as a decoded transfer's Data, is
// valid only for the duration of the call; copy what must be kept.
type Handler func(c *Context, hdr wire.Header, body []byte) error

// Registrar is the capability to add handlers to the command table.
type Registrar interface {
	// Register claims the inclusive range [cmdMin, cmdMax] for h.
	Register(cmdMin, cmdMax uint32, h Handler) error
}

// RegistrarFunc adapts a function to Registrar.
type RegistrarFunc func(cmdMin, cmdMax uint32, h Handler) error

// Register calls f.
func (f RegistrarFunc) Register(cmdMin, cmdMax uint32, h Handler) error {
	return f(cmdMin, cmdMax, h)
}

// Session is the connection a packet arrived on.
type Session interface {
	// ID is unique for the lifetime of the process.
	ID() string

	// FD is the OS descriptor number of the connection.
	FD() int

	// Network is the transport: "tcp" or "unix".
	Network() string

	RemoteAddr() net.Addr

	// Alive reports whether the session still accepts writes.
	Alive() bool

	// Send writes raw bytes to the peer.
	Send(p []byte) error
}

// Host is the process-wide state visible to extensions.
type Host interface {
	PID() int
	Workers() int
	ExtensionDir() string
	Logger() *slog.Logger
}

// Context is per-connection state handed to every handler invocation.
type Context struct {
	Session Session

	// Slots holds per-extension session state, indexed by extension slot.
	Slots []any
}

// NewContext returns a context for s with n empty extension slots.
func NewContext(s Session, n int) *Context {
	return &Context{Session: s, Slots: make([]any, n)}
}

// Slot returns the value stored by the extension at slot i, or nil.
func (c *Context) Slot(i int) any {
	if i < 0 || i >= len(c.Slots) {
		return nil
	}
	return c.Slots[i]
}

// SetSlot stores v in slot i. Out of range indexes are ignored.
func (c *Context) SetSlot(i int, v any) {
	if i < 0 || i >= len(c.Slots) {
		return
	}
	c.Slots[i] = v
}

// Send writes p to the calling connection.
func (c *Context) Send(p []byte) error {
	return c.Session.Send(p)
}

// Extension entry points.
type (
	LoadFunc         func(h Host, r Registrar, slot int) error
	UnloadFunc       func(h Host) error
	SessionInitFunc  func(c *Context) error
	SessionFinitFunc func(c *Context) error
)

// Exported symbol names looked up in every extension module.
const (
	SymbolLoad         = "CmdLoad"
	SymbolUnload       = "CmdUnload"
	SymbolSessionInit  = "CmdSessionInit"
	SymbolSessionFinit = "CmdSessionFinit"
)

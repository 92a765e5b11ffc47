// Package adapter holds the listener lifecycle shared by server adapters:
// accept loops, connection limits, and graceful then forced shutdown.
package adapter

import (
	"context"
	"net"
	"time"
)

// Adapter is a server front end managed by the start command.
type Adapter interface {
	// Init prepares the adapter. A failure aborts startup.
	Init(ctx context.Context) error

	// Serve blocks until ctx is cancelled or Stop is called.
	Serve(ctx context.Context) error

	// Stop shuts the listeners down and waits for connections.
	Stop(ctx context.Context) error

	// Exit releases what Init acquired. It runs once, after Serve returns.
	Exit()

	Protocol() string
}

// ConnectionInfo describes a live connection for status output.
type ConnectionInfo struct {
	ID         string    `json:"id"`
	Network    string    `json:"network"`
	RemoteAddr string    `json:"remote_addr"`
	FD         int       `json:"fd"`
	Worker     int       `json:"worker"`
	Since      time.Time `json:"since"`
}

// ConnectionHandler serves one accepted connection until it closes or ctx
// is cancelled.
type ConnectionHandler interface {
	Serve(ctx context.Context)
}

// ConnectionFactory wraps accepted connections in a protocol handler.
type ConnectionFactory interface {
	NewConnection(conn net.Conn) ConnectionHandler
}

// ConnectionFactoryFunc adapts a function to ConnectionFactory.
type ConnectionFactoryFunc func(conn net.Conn) ConnectionHandler

func (f ConnectionFactoryFunc) NewConnection(conn net.Conn) ConnectionHandler { return f(conn) }

// Binding pairs a listener with the factory for its connections.
type Binding struct {
	Listener net.Listener
	Factory  ConnectionFactory
}

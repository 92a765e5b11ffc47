package adapter

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/tcpcmd/internal/logger"
)

// BaseConfig holds settings common to every adapter.
type BaseConfig struct {
	// MaxConnections limits concurrent connections across all bindings.
	// 0 means unlimited.
	MaxConnections int

	// ShutdownTimeout bounds the wait for active connections before they
	// are force-closed.
	ShutdownTimeout time.Duration

	// MetricsLogInterval periodically logs the connection count. 0
	// disables it.
	MetricsLogInterval time.Duration
}

// MetricsRecorder records connection lifecycle metrics.
type MetricsRecorder interface {
	RecordConnectionAccepted(network string)
	RecordConnectionClosed(network string)
	RecordConnectionForceClosed()
	SetActiveConnections(count int32)
}

// BaseAdapter runs accept loops over a set of listeners and tracks the
// connections they produce.
//
// All exported methods are safe for concurrent use. Stop is idempotent.
type BaseAdapter struct {
	Config BaseConfig

	protocolName string

	// Metrics may be nil.
	Metrics MetricsRecorder

	listenerMu sync.RWMutex
	listeners  []net.Listener

	activeConns  sync.WaitGroup
	shutdownOnce sync.Once

	// Shutdown is closed when shutdown starts.
	Shutdown chan struct{}

	ConnCount atomic.Int32

	// connSemaphore is nil when MaxConnections is 0.
	connSemaphore chan struct{}

	// ShutdownCtx is passed to every connection and cancelled on shutdown.
	ShutdownCtx    context.Context
	CancelRequests context.CancelFunc

	// ActiveConnections maps net.Conn to struct{} for forced closure.
	ActiveConnections sync.Map

	// ListenerReady is closed once every listener is accepting.
	ListenerReady chan struct{}
}

// NewBaseAdapter returns a stopped adapter. Call Serve to start it.
func NewBaseAdapter(config BaseConfig, protocol string) *BaseAdapter {
	var sem chan struct{}
	if config.MaxConnections > 0 {
		sem = make(chan struct{}, config.MaxConnections)
		logger.Debug(protocol+" connection limit", "max_connections", config.MaxConnections)
	} else {
		logger.Debug(protocol+" connection limit", "max_connections", "unlimited")
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &BaseAdapter{
		Config:         config,
		protocolName:   protocol,
		Shutdown:       make(chan struct{}),
		connSemaphore:  sem,
		ShutdownCtx:    ctx,
		CancelRequests: cancel,
		ListenerReady:  make(chan struct{}),
	}
}

// Serve accepts on every binding until ctx is cancelled or Stop is called,
// then waits for connections to drain.
//
// Returns nil on graceful shutdown, or an error if connections had to be
// force-closed.
func (b *BaseAdapter) Serve(ctx context.Context, bindings ...Binding) error {
	if len(bindings) == 0 {
		return fmt.Errorf("%s: no listeners", b.protocolName)
	}

	b.listenerMu.Lock()
	for _, bd := range bindings {
		b.listeners = append(b.listeners, bd.Listener)
	}
	select {
	case <-b.Shutdown:
		// Stopped before serving.
		for _, l := range b.listeners {
			_ = l.Close()
		}
	default:
	}
	b.listenerMu.Unlock()
	close(b.ListenerReady)

	for _, bd := range bindings {
		logger.Info(b.protocolName+" listening",
			logger.KeyNetwork, bd.Listener.Addr().Network(),
			"address", bd.Listener.Addr().String())
	}

	go func() {
		select {
		case <-ctx.Done():
			logger.Info(b.protocolName+" shutdown signal received", logger.KeyError, ctx.Err())
			b.initiateShutdown()
		case <-b.Shutdown:
		}
	}()

	if b.Config.MetricsLogInterval > 0 {
		go b.logMetrics(ctx)
	}

	var loops sync.WaitGroup
	for _, bd := range bindings {
		loops.Add(1)
		go func(bd Binding) {
			defer loops.Done()
			b.acceptLoop(bd)
		}(bd)
	}
	loops.Wait()

	return b.gracefulShutdown()
}

func (b *BaseAdapter) acceptLoop(bd Binding) {
	network := bd.Listener.Addr().Network()

	for {
		if b.connSemaphore != nil {
			select {
			case b.connSemaphore <- struct{}{}:
			case <-b.Shutdown:
				return
			}
		}

		conn, err := bd.Listener.Accept()
		if err != nil {
			if b.connSemaphore != nil {
				<-b.connSemaphore
			}
			select {
			case <-b.Shutdown:
				return
			default:
			}
			logger.Debug("Error accepting "+b.protocolName+" connection",
				logger.KeyNetwork, network, logger.KeyError, err)
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			time.Sleep(5 * time.Millisecond)
			continue
		}

		if tcp, ok := conn.(*net.TCPConn); ok {
			if err := tcp.SetNoDelay(true); err != nil {
				logger.Debug("Failed to set TCP_NODELAY", logger.KeyError, err)
			}
		}

		b.track(conn, network, bd.Factory.NewConnection(conn))
	}
}

func (b *BaseAdapter) track(conn net.Conn, network string, handler ConnectionHandler) {
	b.activeConns.Add(1)
	current := b.ConnCount.Add(1)
	b.ActiveConnections.Store(conn, struct{}{})

	if b.Metrics != nil {
		b.Metrics.RecordConnectionAccepted(network)
		b.Metrics.SetActiveConnections(current)
	}
	logger.Debug(b.protocolName+" connection accepted",
		logger.KeyNetwork, network, logger.KeyClient, conn.RemoteAddr().String(), "active", current)

	go func() {
		defer func() {
			b.ActiveConnections.Delete(conn)
			b.activeConns.Done()
			left := b.ConnCount.Add(-1)
			if b.connSemaphore != nil {
				<-b.connSemaphore
			}
			if b.Metrics != nil {
				b.Metrics.RecordConnectionClosed(network)
				b.Metrics.SetActiveConnections(left)
			}
			logger.Debug(b.protocolName+" connection closed", logger.KeyNetwork, network, "active", left)
		}()

		handler.Serve(b.ShutdownCtx)
	}()
}

// initiateShutdown closes the listeners, interrupts blocked reads and
// cancels ShutdownCtx. Only the first call has an effect.
func (b *BaseAdapter) initiateShutdown() {
	b.shutdownOnce.Do(func() {
		logger.Debug(b.protocolName + " shutdown initiated")
		close(b.Shutdown)

		b.listenerMu.Lock()
		for _, l := range b.listeners {
			if err := l.Close(); err != nil {
				logger.Debug("Error closing "+b.protocolName+" listener", logger.KeyError, err)
			}
		}
		b.listenerMu.Unlock()

		b.interruptBlockingReads()
		b.CancelRequests()
	})
}

func (b *BaseAdapter) interruptBlockingReads() {
	deadline := time.Now().Add(100 * time.Millisecond)
	b.ActiveConnections.Range(func(key, _ any) bool {
		if err := key.(net.Conn).SetReadDeadline(deadline); err != nil {
			logger.Debug("Error setting shutdown deadline on connection", logger.KeyError, err)
		}
		return true
	})
}

func (b *BaseAdapter) waitConns() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		b.activeConns.Wait()
		close(done)
	}()
	return done
}

func (b *BaseAdapter) gracefulShutdown() error {
	active := b.ConnCount.Load()
	logger.Info(b.protocolName+" graceful shutdown: waiting for active connections",
		"active", active, "timeout", b.Config.ShutdownTimeout)

	select {
	case <-b.waitConns():
		logger.Info(b.protocolName + " graceful shutdown complete")
		return nil

	case <-time.After(b.Config.ShutdownTimeout):
		remaining := b.ConnCount.Load()
		logger.Warn(b.protocolName+" shutdown timeout exceeded, forcing closure",
			"active", remaining, "timeout", b.Config.ShutdownTimeout)
		b.forceCloseConnections()
		return fmt.Errorf("%s shutdown timeout: %d connections force-closed", b.protocolName, remaining)
	}
}

func (b *BaseAdapter) forceCloseConnections() {
	closed := 0
	b.ActiveConnections.Range(func(key, _ any) bool {
		if err := key.(net.Conn).Close(); err != nil {
			logger.Debug("Error force-closing connection", logger.KeyError, err)
			return true
		}
		closed++
		if b.Metrics != nil {
			b.Metrics.RecordConnectionForceClosed()
		}
		return true
	})
	logger.Info("Force-closed connections", "count", closed)
}

// Stop starts shutdown and waits for connections until ctx is done.
func (b *BaseAdapter) Stop(ctx context.Context) error {
	b.initiateShutdown()

	select {
	case <-b.waitConns():
		return nil
	case <-ctx.Done():
		logger.Warn(b.protocolName+" shutdown context cancelled",
			"active", b.ConnCount.Load(), logger.KeyError, ctx.Err())
		return ctx.Err()
	}
}

func (b *BaseAdapter) logMetrics(ctx context.Context) {
	ticker := time.NewTicker(b.Config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.Shutdown:
			return
		case <-ticker.C:
			logger.Info(b.protocolName+" metrics", "active_connections", b.ConnCount.Load())
		}
	}
}

// GetActiveConnections returns the number of open connections.
func (b *BaseAdapter) GetActiveConnections() int32 {
	return b.ConnCount.Load()
}

// Addrs blocks until Serve has installed its listeners and returns their
// addresses in binding order.
func (b *BaseAdapter) Addrs() []net.Addr {
	<-b.ListenerReady

	b.listenerMu.RLock()
	defer b.listenerMu.RUnlock()

	out := make([]net.Addr, len(b.listeners))
	for i, l := range b.listeners {
		out[i] = l.Addr()
	}
	return out
}

// Protocol returns the adapter name used in logs.
func (b *BaseAdapter) Protocol() string {
	return b.protocolName
}

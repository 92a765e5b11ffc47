package cmd

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"runtime/debug"
	"time"

	"github.com/marmos91/tcpcmd/internal/logger"
	"github.com/marmos91/tcpcmd/internal/telemetry"
	"github.com/marmos91/tcpcmd/pkg/bufpool"
	"github.com/marmos91/tcpcmd/pkg/command"
	"github.com/marmos91/tcpcmd/pkg/metrics"
	"github.com/marmos91/tcpcmd/pkg/wire"
)

// connection serves one accepted socket.
type connection struct {
	adapter *Adapter
	worker  *worker
	conn    net.Conn
}

func (a *Adapter) newConnection(w *worker, conn net.Conn) *connection {
	return &connection{adapter: a, worker: w, conn: conn}
}

// Serve registers the session, runs every module's session-init, then reads
// and dispatches packets until the peer disconnects, a handler fails, or
// the server shuts down.
func (c *connection) Serve(ctx context.Context) {
	a := c.adapter
	s := newSession(c.conn, c.worker, a.config.WriteTimeout)

	lc := logger.NewLogContext(s.id, c.conn.RemoteAddr().String(), c.worker.slot)
	ctx = logger.WithContext(ctx, lc)

	c.worker.register(s)
	cc := command.NewContext(s, a.loader.Len())

	defer c.close(ctx, s, cc)

	logger.DebugCtx(ctx, "Session opened", logger.KeyNetwork, s.network, logger.KeyFD, s.fd)

	if err := c.sessionInit(ctx, cc); err != nil {
		logger.WarnCtx(ctx, "Session init failed, closing connection", logger.Err(err))
		return
	}
	defer a.loader.SessionFinit(cc)

	c.resetIdle()
	for {
		select {
		case <-ctx.Done():
			logger.DebugCtx(ctx, "Connection closed due to server shutdown")
			return
		default:
		}

		pkt, err := wire.ReadPacket(c.conn, a.config.MaxPacketSize, bufpool.Get)
		if err != nil {
			if pkt.Body != nil {
				bufpool.Put(pkt.Body)
			}
			c.logReadError(ctx, err)
			return
		}

		err = c.dispatch(ctx, cc, pkt)
		bufpool.Put(pkt.Body)
		if err != nil {
			logger.WarnCtx(ctx, "Handler failed, closing connection",
				logger.Cmd(pkt.Header.Cmd), logger.Err(err))
			return
		}
		c.resetIdle()
	}
}

func (c *connection) sessionInit(ctx context.Context, cc *command.Context) error {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanSessionInit)
	defer span.End()

	err := c.adapter.loader.SessionInit(cc)
	telemetry.RecordError(ctx, err)
	return err
}

// dispatch runs the handler registered for the packet's command. Packets
// without a handler are skipped.
func (c *connection) dispatch(ctx context.Context, cc *command.Context, pkt wire.Packet) error {
	a := c.adapter
	cmd := pkt.Header.Cmd

	h, ok := a.registry.Lookup(cmd)
	if !ok {
		logger.DebugCtx(ctx, "No handler for command", logger.Cmd(cmd), logger.KeySize, pkt.Header.Size)
		if a.metrics != nil {
			a.metrics.RecordPacket(cmd, metrics.PacketUnknown, 0)
		}
		return nil
	}

	ctx, span := telemetry.StartPacketSpan(ctx, cmd, pkt.Header.Size,
		telemetry.Connection(cc.Session.ID()),
		telemetry.Network(cc.Session.Network()),
		telemetry.Worker(c.worker.slot))
	defer span.End()

	start := time.Now()
	err := h(cc, pkt.Header, pkt.Body)
	elapsed := time.Since(start)

	status := metrics.PacketOK
	if err != nil {
		status = metrics.PacketError
		telemetry.RecordError(ctx, err)
	}
	if a.metrics != nil {
		a.metrics.RecordPacket(cmd, status, elapsed)
	}
	if logger.Enabled(slog.LevelDebug) {
		lc := logger.FromContext(ctx).WithTrace(telemetry.TraceID(ctx), telemetry.SpanID(ctx))
		logger.DebugCtx(logger.WithContext(ctx, lc), "Packet handled",
			logger.Cmd(cmd), logger.KeySize, pkt.Header.Size,
			logger.DurationMs(float64(elapsed.Microseconds())/1000))
	}
	return err
}

func (c *connection) resetIdle() {
	if t := c.adapter.config.IdleTimeout; t > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(t)); err != nil {
			logger.Debug("Failed to set read deadline", logger.Err(err))
		}
	}
}

func (c *connection) logReadError(ctx context.Context, err error) {
	var ne net.Error
	switch {
	case errors.Is(err, io.EOF):
		logger.DebugCtx(ctx, "Connection closed by client")
	case errors.As(err, &ne) && ne.Timeout():
		logger.DebugCtx(ctx, "Connection timed out", logger.Err(err))
	case errors.Is(err, wire.ErrPacketTooLarge), errors.Is(err, wire.ErrSizeTooSmall):
		logger.WarnCtx(ctx, "Invalid packet size, closing connection", logger.Err(err))
	case errors.Is(err, net.ErrClosed):
		logger.DebugCtx(ctx, "Connection closed")
	default:
		logger.DebugCtx(ctx, "Error reading packet", logger.Err(err))
	}
}

// close retires the session: it stops being a transfer destination before
// the descriptor is released for reuse.
func (c *connection) close(ctx context.Context, s *session, cc *command.Context) {
	if r := recover(); r != nil {
		logger.ErrorCtx(ctx, "Panic in connection handler",
			logger.KeyError, r, "stack", string(debug.Stack()))
	}

	s.alive.Store(false)
	c.worker.unregister(s)
	_ = c.conn.Close()

	logger.DebugCtx(ctx, "Session closed", "age_ms", logger.FromContext(ctx).Age())
}

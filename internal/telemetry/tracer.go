package telemetry

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys.
const (
	AttrCmd         = "tcpcmd.cmd"
	AttrPacketSize  = "tcpcmd.packet.size"
	AttrConnection  = "tcpcmd.connection.id"
	AttrNetwork     = "network.transport"
	AttrClientAddr  = "client.address"
	AttrWorker      = "tcpcmd.worker"
	AttrExtension   = "tcpcmd.extension.path"
	AttrExtensionID = "tcpcmd.extension.slot"
)

// Span names.
const (
	SpanPacket        = "tcpcmd.packet"
	SpanExtensionLoad = "tcpcmd.extension.load"
	SpanSessionInit   = "tcpcmd.session.init"
)

func Cmd(cmd uint32) attribute.KeyValue { return attribute.Int64(AttrCmd, int64(cmd)) }

func PacketSize(n uint32) attribute.KeyValue { return attribute.Int64(AttrPacketSize, int64(n)) }

func Connection(id string) attribute.KeyValue { return attribute.String(AttrConnection, id) }

func Network(n string) attribute.KeyValue { return attribute.String(AttrNetwork, n) }

func ClientAddr(a string) attribute.KeyValue { return attribute.String(AttrClientAddr, a) }

func Worker(slot int) attribute.KeyValue { return attribute.Int(AttrWorker, slot) }

// StartPacketSpan starts the span that wraps one handler invocation.
func StartPacketSpan(ctx context.Context, cmd, size uint32, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{Cmd(cmd), PacketSize(size)}, attrs...)
	return StartSpan(ctx, SpanPacket+"."+strconv.FormatUint(uint64(cmd), 10),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(all...))
}

// StartExtensionSpan starts a span around an extension entry point.
func StartExtensionSpan(ctx context.Context, name, path string, slot int) (context.Context, trace.Span) {
	return StartSpan(ctx, name, trace.WithAttributes(
		attribute.String(AttrExtension, path),
		attribute.Int(AttrExtensionID, slot),
	))
}

// Package metrics defines the observability hooks of the command server.
//
// Components take a CommandMetrics and treat nil as "metrics disabled":
//
//	m := prometheus.NewCommandMetrics() // nil unless InitRegistry was called
//	adapter := cmd.New(cfg, m)
package metrics

import "time"

// Packet statuses recorded by RecordPacket.
const (
	PacketOK      = "ok"
	PacketError   = "error"
	PacketUnknown = "unknown"
)

// Transfer outcomes recorded by RecordTransfer.
const (
	TransferDelivered  = "delivered"
	TransferUntrusted  = "untrusted"
	TransferMalformed  = "malformed"
	TransferReservedFD = "reserved_fd"
	TransferNoEntry    = "no_entry"
	TransferForeign    = "foreign"
	TransferStale      = "stale"
	TransferDead       = "dead"
	TransferSendFailed = "send_failed"
)

// CommandMetrics observes packet dispatch and connection lifecycle.
type CommandMetrics interface {
	// RecordPacket counts one dispatched packet. status is PacketOK,
	// PacketError (handler failed) or PacketUnknown (no handler registered).
	// Unknown packets are not broken down by cmd.
	RecordPacket(cmd uint32, status string, duration time.Duration)

	// RecordTransfer counts one transfer attempt by outcome. bytes is the
	// payload size, counted only for delivered transfers.
	RecordTransfer(outcome string, bytes int)

	RecordConnectionAccepted(network string)
	RecordConnectionClosed(network string)
	RecordConnectionForceClosed()
	SetActiveConnections(count int32)

	// SetExtensions records how many extension modules are loaded.
	SetExtensions(count int)
}

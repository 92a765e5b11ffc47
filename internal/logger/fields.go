package logger

import "log/slog"

// Field keys shared by every log statement in the server.
const (
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Commands and packets.
	KeyCmd    = "cmd"
	KeyCmdMin = "cmd_min"
	KeyCmdMax = "cmd_max"
	KeySize   = "size"
	KeyBytes  = "bytes"

	// Extensions.
	KeyPath   = "path"
	KeySlot   = "slot"
	KeySymbol = "symbol"

	// Connections.
	KeyConnectionID = "connection_id"
	KeyClient       = "client"
	KeyNetwork      = "network"
	KeyFD           = "fd"
	KeyWorker       = "worker"
	KeyPID          = "pid"

	// Transfer routing.
	KeyDestPID = "dest_pid"
	KeyDestFD  = "dest_fd"
	KeyReason  = "reason"

	KeyError      = "error"
	KeyDurationMs = "duration_ms"
)

// Err formats err under KeyError. A nil error yields an empty attribute,
// which slog drops.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

func Cmd(cmd uint32) slog.Attr { return slog.Any(KeyCmd, cmd) }

func Slot(i int) slog.Attr { return slog.Int(KeySlot, i) }

func Path(p string) slog.Attr { return slog.String(KeyPath, p) }

func ConnectionID(id string) slog.Attr { return slog.String(KeyConnectionID, id) }

func Worker(slot int) slog.Attr { return slog.Int(KeyWorker, slot) }

// DurationMs records a duration in milliseconds.
func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDurationMs, ms) }

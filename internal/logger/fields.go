package logger

import (
	"encoding/hex"
	"fmt"
	"log/slog"
)

// Standard field keys for structured logging across the engine. Use these
// keys consistently so logs aggregate and query cleanly regardless of
// which component emitted them.
const (
	// ------------------------------------------------------------------
	// Distributed tracing
	// ------------------------------------------------------------------
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// ------------------------------------------------------------------
	// Request / operation identity
	// ------------------------------------------------------------------
	KeyOpcode    = "opcode"    // PUT, GET, MOVE, DIRECTORY, ...
	KeyStage     = "stage"     // stage index within the opcode's script
	KeyStatus    = "status"    // tuplestore.Status
	KeyStatusMsg = "status_msg"
	KeyCookie    = "cookie"    // user cookie carried on Request/Completion
	KeyNamespace = "namespace"
	KeyKey       = "key"       // tuple key (namespace::key on the wire)
	KeyMatch     = "match"     // DIRECTORY/ITERATOR match pattern

	// ------------------------------------------------------------------
	// LogContext fields
	// ------------------------------------------------------------------
	KeyProcedure = "procedure"
	KeyShare     = "share"
	KeyClientIP  = "client_ip"
	KeyUID       = "uid"
	KeyGID       = "gid"
	KeyHandle    = "handle"

	// ------------------------------------------------------------------
	// Cluster topology
	// ------------------------------------------------------------------
	KeySlot      = "slot"
	KeyConnIndex = "conn_index"
	KeyAddr      = "addr"
	KeyHops      = "hops" // redirect hop count for a single request

	// ------------------------------------------------------------------
	// Connection lifecycle
	// ------------------------------------------------------------------
	KeyConnStatus = "conn_status"
	KeyAttempt    = "attempt"
	KeyMaxRetries = "max_retries"

	// ------------------------------------------------------------------
	// I/O
	// ------------------------------------------------------------------
	KeyBytesRead    = "bytes_read"
	KeyBytesWritten = "bytes_written"
	KeySize         = "size"

	// ------------------------------------------------------------------
	// Operation metadata
	// ------------------------------------------------------------------
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
)

// Opcode returns a slog.Attr for the opcode field.
func Opcode(op fmt.Stringer) slog.Attr { return slog.String(KeyOpcode, op.String()) }

// Slot returns a slog.Attr for a hash slot.
func Slot(slot int) slog.Attr { return slog.Int(KeySlot, slot) }

// ConnIndex returns a slog.Attr for a connection-manager index.
func ConnIndex(idx int) slog.Attr { return slog.Int(KeyConnIndex, idx) }

// DurationMs returns a slog.Attr for an elapsed duration in milliseconds.
func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDurationMs, ms) }

// Handle returns a slog.Attr for an opaque handle, hex-encoded.
func Handle(h []byte) slog.Attr { return slog.String(KeyHandle, hex.EncodeToString(h)) }

// Err returns a slog.Attr for err, or an empty Attr when err is nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

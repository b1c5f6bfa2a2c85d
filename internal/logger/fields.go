package logger

import "log/slog"

// Field keys used across hostd. Stick to these so logs can be queried
// consistently.
const (
	KeyRequestID = "request_id"
	KeyTraceID   = "trace_id"
	KeySpanID    = "span_id"
	KeyOperation = "operation"
	KeyClientIP  = "client_ip"

	// Runtime
	KeyModule    = "module"
	KeyVersion   = "version"
	KeyFile      = "file"
	KeyService   = "service"
	KeyState     = "state"
	KeyAutoStart = "auto_start"
	KeyKind      = "kind"
	KeySigner    = "signer"
	KeyCipher    = "cipher"
	KeyQueue     = "queue_depth"
	KeyCount     = "count"

	// Transport and storage
	KeyAddress    = "address"
	KeyMethod     = "method"
	KeyPath       = "path"
	KeyStatus     = "status"
	KeyStoreType  = "store_type"
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
)

// Module returns the module attribute.
func Module(name string) slog.Attr { return slog.String(KeyModule, name) }

// Service returns the service attribute.
func Service(id string) slog.Attr { return slog.String(KeyService, id) }

// State returns the lifecycle state attribute.
func State(s string) slog.Attr { return slog.String(KeyState, s) }

// Err returns the error attribute. A nil error yields an empty attribute,
// which handlers drop.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

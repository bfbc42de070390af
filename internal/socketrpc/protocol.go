package socketrpc

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/tinytelemetry/journald-query/internal/journal"
)

// JSON-RPC 2.0 Method Reference
//
// The socket server exposes model.JournalReader over a Unix domain socket,
// one newline-delimited request per line.
//
//   Method                  Params              Result
//   ─────────────────────   ─────────────────   ──────────────────────────
//   DiscoverHosts           (none)              []string
//   DiscoverUnits           (none)              []string
//   DiscoverHostsAndUnits   (none)              {hosts: []string, units: []string}
//   DiscoverServices        (none)              {hosts: [{hostname, units}]}
//   Query                   {Query: Query}      []Entry
//
// Query carries start_time_utc and end_time_utc in microseconds plus the
// optional hostname, unit and message_contains filters.
//
// Error codes follow JSON-RPC 2.0:
//   -32700  Parse error (malformed JSON)
//   -32601  Method not found
//   -32602  Invalid params
//   -32603  Internal error (marshal failure)
//   -32000  Application error; data.kind carries the journal error kind

const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603
	codeApplication    = -32000
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *ErrorData `json:"data,omitempty"`
}

// ErrorData is attached to application errors raised by the journal.
type ErrorData struct {
	Kind journal.Kind `json:"kind"`
}

func (e *RPCError) Error() string { return e.Message }

// Unwrap exposes the journal error kind so callers on the client side can use
// errors.Is against the journal sentinels.
func (e *RPCError) Unwrap() error {
	switch {
	case e.Code == codeInvalidParams:
		return journal.ErrInvalidArgument
	case e.Data != nil && e.Data.Kind != journal.KindUnknown:
		return &journal.Error{Kind: e.Data.Kind}
	}
	return nil
}

// HostsAndUnits is the result of DiscoverHostsAndUnits.
type HostsAndUnits struct {
	Hosts []string `json:"hosts"`
	Units []string `json:"units"`
}

// DefaultSocketPath returns the default Unix socket path.
// It prefers $XDG_RUNTIME_DIR/journald-query/journald-query.sock, falling
// back to ~/.local/state/journald-query/journald-query.sock.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "journald-query", "journald-query.sock")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/journald-query.sock"
	}
	return filepath.Join(home, ".local", "state", "journald-query", "journald-query.sock")
}

package routingports

import "fmt"

// ErrorKind classifies a failed tool invocation for callers that need to
// branch on failure class without inspecting adapter internals.
type ErrorKind string

const (
	ErrorKindBadRequest    ErrorKind = "bad_request"    // malformed or missing parameters
	ErrorKindNotFound      ErrorKind = "not_found"      // target/session/record absent
	ErrorKindStoreIO       ErrorKind = "store_io"       // durable medium unavailable or corrupt
	ErrorKindUpstream      ErrorKind = "upstream"       // backend API reported a failure
	ErrorKindTimeout       ErrorKind = "timeout"        // adapter call exceeded its deadline
	ErrorKindRateLimited   ErrorKind = "rate_limited"   // admission control rejected the request
	ErrorKindUnknownIntent ErrorKind = "unknown_intent" // no tool registered for the intent
	ErrorKindInternal      ErrorKind = "internal"       // recovered fault inside an adapter
)

// ToolResult is the uniform envelope returned by every tool. Adapters never
// leak raw errors or panics; any internal fault is translated into
// OK=false with an ErrorKind.
type ToolResult struct {
	OK           bool           `json:"ok"`
	Payload      map[string]any `json:"payload,omitempty"`
	ErrorKind    ErrorKind      `json:"error_kind,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// OKResult wraps a payload in a successful envelope.
func OKResult(payload map[string]any) ToolResult {
	return ToolResult{OK: true, Payload: payload}
}

// FailResult builds a failed envelope with a formatted message.
func FailResult(kind ErrorKind, format string, args ...any) ToolResult {
	return ToolResult{
		OK:           false,
		ErrorKind:    kind,
		ErrorMessage: fmt.Sprintf(format, args...),
	}
}

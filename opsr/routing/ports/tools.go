package routingports

import (
	"context"
	"encoding/json"
)

// ToolSpec describes a callable tool exposed to the router and the
// classifier prompt.
type ToolSpec struct {
	Name        string // unique logical name
	Description string // concise doc for intent selection
	JSONSchema  []byte // JSON schema for args (Draft 2020-12 recommended)
}

// Tool defines the runtime that executes a backend capability. Invoke must
// not panic or return a raw error: every failure is folded into the
// ToolResult envelope at the adapter boundary.
type Tool interface {
	Name() string
	Description() string
	Schema() []byte
	Invoke(ctx context.Context, args json.RawMessage) ToolResult
}

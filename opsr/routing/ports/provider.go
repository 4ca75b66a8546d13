package routingports

import (
	"context"
)

// PromptMessage represents a single chat message used to build prompts.
type PromptMessage struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// PromptInput aggregates everything the provider needs to produce a completion.
type PromptInput struct {
	System   string            // high-level system instructions
	Messages []PromptMessage   // ordered chat history (already windowed)
	Meta     map[string]string // lightweight metadata for tracing
}

// Options controls sampling and limits.
type Options struct {
	MaxNewTokens int
	Temperature  float32
	TopP         float32
	Stop         []string
	// TimeoutMs applies to the provider call only.
	TimeoutMs int
}

// Usage captures token accounting for cost/telemetry.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Completion is the provider's non-streaming response.
type Completion struct {
	Text  string
	Raw   any    // raw provider payload for debugging/telemetry
	Usage *Usage // optional usage information
}

// Provider is the abstraction for all LLM backends. Inference, credential
// acquisition, and transport are entirely the implementation's concern.
type Provider interface {
	Complete(ctx context.Context, in PromptInput, opts Options) (Completion, error)
}

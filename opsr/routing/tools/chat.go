package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/opsdeck/opsrouter/opsr/memory"
	ports "github.com/opsdeck/opsrouter/opsr/routing/ports"
)

// ChatSchema defines the JSON schema for open-ended chat turns.
const ChatSchema = `{
  "type": "object",
  "properties": {
    "message": {
      "type": "string",
      "description": "The user's message"
    },
    "session_id": {
      "type": "string",
      "description": "Session whose history seeds the prompt"
    }
  },
  "required": ["message"],
  "additionalProperties": false
}`

const chatSystemPrompt = "You are an operations assistant for a managed device fleet. " +
	"Answer concisely. When a question concerns device health, suggest running a diagnostic check."

// ChatTool answers open-ended messages through the language model provider,
// seeding the prompt with the session's recent history. It never writes to
// the session log itself; exchange recording belongs to the router.
type ChatTool struct {
	provider ports.Provider
	memory   *memory.SessionMemory
	opts     ports.Options
}

func NewChatTool(provider ports.Provider, mem *memory.SessionMemory, opts ports.Options) *ChatTool {
	return &ChatTool{provider: provider, memory: mem, opts: opts}
}

func (t *ChatTool) Name() string { return "chat" }

func (t *ChatTool) Description() string {
	return "Answers general operations questions conversationally, with the session's recent history as context."
}

func (t *ChatTool) Schema() []byte { return []byte(ChatSchema) }

func (t *ChatTool) Invoke(ctx context.Context, args json.RawMessage) ports.ToolResult {
	var params struct {
		Message   string `json:"message"`
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return ports.FailResult(ports.ErrorKindBadRequest, "invalid arguments: %v", err)
	}
	if strings.TrimSpace(params.Message) == "" {
		return ports.FailResult(ports.ErrorKindBadRequest, "message is required")
	}

	var history []ports.PromptMessage
	if t.memory != nil && params.SessionID != "" {
		turns, err := t.memory.ContextFor(ctx, params.SessionID, 0)
		if err != nil {
			// Degrade to a contextless answer rather than failing the turn.
			history = nil
		} else {
			history = make([]ports.PromptMessage, 0, len(turns))
			for _, turn := range turns {
				history = append(history, ports.PromptMessage{
					Role:    string(turn.Role),
					Content: turn.Content,
				})
			}
		}
	}

	in := ports.PromptInput{
		System:   chatSystemPrompt,
		Messages: append(history, ports.PromptMessage{Role: "user", Content: params.Message}),
		Meta:     map[string]string{"session_id": params.SessionID},
	}

	completion, err := t.provider.Complete(ctx, in, t.opts)
	if err != nil {
		kind := ports.ErrorKindUpstream
		if errors.Is(err, context.DeadlineExceeded) {
			kind = ports.ErrorKindTimeout
		}
		return ports.FailResult(kind, "completion failed: %v", err)
	}

	payload := map[string]any{
		"response": strings.TrimSpace(completion.Text),
	}
	if completion.Usage != nil {
		payload["usage"] = map[string]any{
			"prompt_tokens":     completion.Usage.PromptTokens,
			"completion_tokens": completion.Usage.CompletionTokens,
			"total_tokens":      completion.Usage.TotalTokens,
		}
	}
	return ports.OKResult(payload)
}

// Ensure ChatTool implements the Tool interface.
var _ ports.Tool = (*ChatTool)(nil)

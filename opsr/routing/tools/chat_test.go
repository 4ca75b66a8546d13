package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdeck/opsrouter/opsr/memory"
	ports "github.com/opsdeck/opsrouter/opsr/routing/ports"
)

// memStore is a minimal in-memory SessionStore for chat context tests.
type memStore struct {
	turns map[string][]ports.Turn
}

func (s *memStore) Append(ctx context.Context, sessionID string, role ports.Role, content string) (int64, error) {
	if s.turns == nil {
		s.turns = make(map[string][]ports.Turn)
	}
	seq := int64(len(s.turns[sessionID]) + 1)
	s.turns[sessionID] = append(s.turns[sessionID], ports.Turn{
		SessionID: sessionID, Role: role, Content: content, Sequence: seq, CreatedAt: time.Now(),
	})
	return seq, nil
}

func (s *memStore) Read(ctx context.Context, sessionID string, limit int) ([]ports.Turn, error) {
	turns := s.turns[sessionID]
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
}

func (s *memStore) Clear(ctx context.Context, sessionID string) error { return nil }

func (s *memStore) ListSessions(ctx context.Context) ([]string, error) { return nil, nil }

func (s *memStore) Stats(ctx context.Context, sessionID string, strict bool) (ports.SessionStats, error) {
	return ports.SessionStats{}, nil
}

var _ ports.SessionStore = (*memStore)(nil)

// capturedProvider records the prompt it was handed.
type capturedProvider struct {
	lastInput ports.PromptInput
	text      string
	err       error
}

func (p *capturedProvider) Complete(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	p.lastInput = in
	if p.err != nil {
		return ports.Completion{}, p.err
	}
	return ports.Completion{Text: p.text}, nil
}

func TestChat_AnswersWithHistoryContext(t *testing.T) {
	store := &memStore{}
	ctx := context.Background()
	store.Append(ctx, "s1", ports.RoleUser, "earlier question")
	store.Append(ctx, "s1", ports.RoleAssistant, "earlier answer")

	provider := &capturedProvider{text: "  fresh answer  "}
	mem := memory.New(store, nil, 20)
	tool := NewChatTool(provider, mem, ports.Options{MaxNewTokens: 64})

	result := tool.Invoke(ctx, json.RawMessage(`{"message": "new question", "session_id": "s1"}`))
	require.True(t, result.OK, result.ErrorMessage)
	assert.Equal(t, "fresh answer", result.Payload["response"])

	// Two history turns plus the new user message.
	require.Len(t, provider.lastInput.Messages, 3)
	assert.Equal(t, "earlier question", provider.lastInput.Messages[0].Content)
	assert.Equal(t, "new question", provider.lastInput.Messages[2].Content)
	assert.NotEmpty(t, provider.lastInput.System)
}

func TestChat_RequiresMessage(t *testing.T) {
	tool := NewChatTool(&capturedProvider{}, nil, ports.Options{})

	result := tool.Invoke(context.Background(), json.RawMessage(`{"message": "   "}`))
	assert.False(t, result.OK)
	assert.Equal(t, ports.ErrorKindBadRequest, result.ErrorKind)
}

func TestChat_ProviderFailure(t *testing.T) {
	provider := &capturedProvider{err: fmt.Errorf("backend down")}
	tool := NewChatTool(provider, nil, ports.Options{})

	result := tool.Invoke(context.Background(), json.RawMessage(`{"message": "hello"}`))
	assert.False(t, result.OK)
	assert.Equal(t, ports.ErrorKindUpstream, result.ErrorKind)
}

func TestChat_WorksWithoutSession(t *testing.T) {
	provider := &capturedProvider{text: "hi"}
	tool := NewChatTool(provider, nil, ports.Options{})

	result := tool.Invoke(context.Background(), json.RawMessage(`{"message": "hello"}`))
	require.True(t, result.OK, result.ErrorMessage)
	require.Len(t, provider.lastInput.Messages, 1)
}

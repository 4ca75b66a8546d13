package routing

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ports "github.com/opsdeck/opsrouter/opsr/routing/ports"
)

func TestRuleClassifier_FleetWording(t *testing.T) {
	c := NewRuleClassifier()
	intent, err := c.Classify(context.Background(), "check all devices please")
	require.NoError(t, err)
	assert.Equal(t, "diagnose", intent.Action)
	assert.Equal(t, "check_all_devices", intent.Params["operation"])
}

func TestRuleClassifier_TroubleshootExtractsCriteria(t *testing.T) {
	c := NewRuleClassifier()
	intent, err := c.Classify(context.Background(), "troubleshoot edge-fw-01")
	require.NoError(t, err)
	assert.Equal(t, "diagnose", intent.Action)
	assert.Equal(t, "troubleshoot_device", intent.Params["operation"])
	assert.Equal(t, "edge-fw-01", intent.Params["criteria"])
}

func TestRuleClassifier_TroubleshootWithStream(t *testing.T) {
	c := NewRuleClassifier()
	intent, err := c.Classify(context.Background(), "diagnose edge-fw-01 in stream prod-7")
	require.NoError(t, err)
	assert.Equal(t, "diagnose", intent.Action)
	assert.Equal(t, "edge-fw-01", intent.Params["criteria"])
	assert.Equal(t, "prod-7", intent.Params["stream_id"])
}

func TestRuleClassifier_Inventory(t *testing.T) {
	c := NewRuleClassifier()
	intent, err := c.Classify(context.Background(), "list devices")
	require.NoError(t, err)
	assert.Equal(t, "inventory", intent.Action)
	assert.Equal(t, "list", intent.Params["operation"])
}

func TestRuleClassifier_Docstore(t *testing.T) {
	c := NewRuleClassifier()
	intent, err := c.Classify(context.Background(), "what tables do we have")
	require.NoError(t, err)
	assert.Equal(t, "docstore", intent.Action)
}

func TestRuleClassifier_FallsBackToChat(t *testing.T) {
	c := NewRuleClassifier()
	intent, err := c.Classify(context.Background(), "tell me a joke")
	require.NoError(t, err)
	assert.Equal(t, chatAction, intent.Action)
	assert.Equal(t, "tell me a joke", intent.Params["message"])
}

// scriptedProvider returns canned completion text.
type scriptedProvider struct {
	text string
	err  error
}

func (p scriptedProvider) Complete(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	if p.err != nil {
		return ports.Completion{}, p.err
	}
	return ports.Completion{Text: p.text}, nil
}

func noSpecs() []ports.ToolSpec { return nil }

func TestProviderClassifier_ParsesModelOutput(t *testing.T) {
	provider := scriptedProvider{text: `Here you go:
{"action": "diagnose", "confidence": 0.92, "reasoning": "health check", "params": {"operation": "troubleshoot_device", "criteria": "edge-1"}}`}
	c := NewProviderClassifier(provider, noSpecs, ports.Options{})

	intent, err := c.Classify(context.Background(), "is edge-1 alive?")
	require.NoError(t, err)
	assert.Equal(t, "diagnose", intent.Action)
	assert.InDelta(t, 0.92, intent.Confidence, 0.001)
	assert.Equal(t, "edge-1", intent.Params["criteria"])
}

func TestProviderClassifier_RepairsSloppyJSON(t *testing.T) {
	provider := scriptedProvider{text: `{action: 'chat', confidence: 0.5, params: {message: 'hi'},}`}
	c := NewProviderClassifier(provider, noSpecs, ports.Options{})

	intent, err := c.Classify(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "chat", intent.Action)
}

func TestProviderClassifier_GarbageFallsBackToRules(t *testing.T) {
	provider := scriptedProvider{text: "I cannot answer in JSON, sorry."}
	c := NewProviderClassifier(provider, noSpecs, ports.Options{})

	intent, err := c.Classify(context.Background(), "troubleshoot edge-fw-01")
	require.NoError(t, err)
	assert.Equal(t, "diagnose", intent.Action)
	assert.Equal(t, "edge-fw-01", intent.Params["criteria"])
}

func TestProviderClassifier_ProviderErrorFallsBackToRules(t *testing.T) {
	provider := scriptedProvider{err: fmt.Errorf("connection refused")}
	c := NewProviderClassifier(provider, noSpecs, ports.Options{})

	intent, err := c.Classify(context.Background(), "list devices")
	require.NoError(t, err)
	assert.Equal(t, "inventory", intent.Action)
}

func TestParseIntent_RejectsMissingAction(t *testing.T) {
	_, ok := parseIntent(`{"confidence": 0.9}`)
	assert.False(t, ok)
}

func TestFixJSON(t *testing.T) {
	fixed := fixJSON(`{action: 'x', params: {a: 1,},}`)
	assert.JSONEq(t, `{"action": "x", "params": {"a": 1}}`, fixed)
}

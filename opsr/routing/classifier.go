package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	ports "github.com/opsdeck/opsrouter/opsr/routing/ports"
)

// chatAction is the fallback intent when nothing else matches.
const chatAction = "chat"

// RuleClassifier is a deterministic keyword classifier. It backs the
// provider classifier when no model is configured and when model output
// cannot be parsed.
type RuleClassifier struct{}

func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{}
}

var deviceCriteriaRx = regexp.MustCompile(
	`(?i)(?:troubleshoot|diagnose|check)\s+(?:device\s+)?(.+?)(?:\s+(?:in|on)\s+stream\s+(\S+))?$`)

func (c *RuleClassifier) Classify(ctx context.Context, input string) (ports.Intent, error) {
	text := strings.ToLower(strings.TrimSpace(input))

	switch {
	case containsAny(text, "check all", "all devices", "fleet", "every device"):
		return ports.Intent{
			Action:     "diagnose",
			Confidence: 0.9,
			Reasoning:  "fleet-wide wording",
			Params:     map[string]any{"operation": "check_all_devices"},
		}, nil

	case containsAny(text, "troubleshoot", "diagnose") ||
		(strings.Contains(text, "check") && strings.Contains(text, "device")):
		params := map[string]any{"operation": "troubleshoot_device"}
		if m := deviceCriteriaRx.FindStringSubmatch(strings.TrimSpace(input)); m != nil {
			params["criteria"] = strings.TrimSpace(m[1])
			if m[2] != "" {
				params["stream_id"] = m[2]
			}
		}
		return ports.Intent{
			Action:     "diagnose",
			Confidence: 0.8,
			Reasoning:  "troubleshooting wording",
			Params:     params,
		}, nil

	case containsAny(text, "list devices", "show devices", "device inventory"):
		return ports.Intent{
			Action:     "inventory",
			Confidence: 0.85,
			Reasoning:  "inventory wording",
			Params:     map[string]any{"operation": "list"},
		}, nil

	case containsAny(text, "list tables", "show tables", "what tables"):
		return ports.Intent{
			Action:     "docstore",
			Confidence: 0.85,
			Reasoning:  "table inspection wording",
			Params:     map[string]any{"operation": "list_tables"},
		}, nil

	case containsAny(text, "report file", "csv", "scan file", "read file"):
		return ports.Intent{
			Action:     "filescan",
			Confidence: 0.7,
			Reasoning:  "report file wording",
			Params:     map[string]any{"operation": "list"},
		}, nil
	}

	return ports.Intent{
		Action:     chatAction,
		Confidence: 0.5,
		Reasoning:  "no operational keyword matched",
		Params:     map[string]any{"message": input},
	}, nil
}

func containsAny(text string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}

// ProviderClassifier asks the language model to pick an intent from the
// registered tool specs. Unparseable model output degrades to the rule
// classifier rather than failing the turn.
type ProviderClassifier struct {
	provider ports.Provider
	specs    func() []ports.ToolSpec
	opts     ports.Options
	fallback ports.Classifier
}

func NewProviderClassifier(provider ports.Provider, specs func() []ports.ToolSpec, opts ports.Options) *ProviderClassifier {
	return &ProviderClassifier{
		provider: provider,
		specs:    specs,
		opts:     opts,
		fallback: NewRuleClassifier(),
	}
}

const classifierSystemPrompt = `You route user requests to operational tools.
Respond with a single JSON object and nothing else:
{"action": "<tool name>", "confidence": <0..1>, "reasoning": "<one line>", "params": {...}}
Use action "chat" with params {"message": "<the user message>"} when no tool fits.`

func (c *ProviderClassifier) Classify(ctx context.Context, input string) (ports.Intent, error) {
	var b strings.Builder
	b.WriteString("Available tools:\n")
	for _, spec := range c.specs() {
		fmt.Fprintf(&b, "- %s: %s\n  schema: %s\n", spec.Name, spec.Description, string(spec.JSONSchema))
	}
	fmt.Fprintf(&b, "\nUser request: %s", input)

	completion, err := c.provider.Complete(ctx, ports.PromptInput{
		System:   classifierSystemPrompt,
		Messages: []ports.PromptMessage{{Role: "user", Content: b.String()}},
	}, c.opts)
	if err != nil {
		return c.fallback.Classify(ctx, input)
	}

	intent, ok := parseIntent(completion.Text)
	if !ok {
		return c.fallback.Classify(ctx, input)
	}
	return intent, nil
}

var jsonObjectRx = regexp.MustCompile(`(?s)\{.*\}`)

// parseIntent extracts the intent JSON from model output, repairing the
// common formatting slips models make.
func parseIntent(text string) (ports.Intent, bool) {
	match := jsonObjectRx.FindString(text)
	if match == "" {
		return ports.Intent{}, false
	}
	if !json.Valid([]byte(match)) {
		match = fixJSON(match)
		if !json.Valid([]byte(match)) {
			return ports.Intent{}, false
		}
	}

	var intent ports.Intent
	if err := json.Unmarshal([]byte(match), &intent); err != nil || intent.Action == "" {
		return ports.Intent{}, false
	}
	return intent, true
}

// fixJSON repairs trailing commas, unquoted keys, and single quotes.
func fixJSON(jsonStr string) string {
	jsonStr = regexp.MustCompile(`,\s*([}\]])`).ReplaceAllString(jsonStr, "$1")
	jsonStr = regexp.MustCompile(`([{,]\s*)([a-zA-Z_][a-zA-Z0-9_]*)\s*:`).ReplaceAllString(jsonStr, `$1"$2":`)
	jsonStr = strings.ReplaceAll(jsonStr, "'", "\"")
	return jsonStr
}

var (
	_ ports.Classifier = (*RuleClassifier)(nil)
	_ ports.Classifier = (*ProviderClassifier)(nil)
)

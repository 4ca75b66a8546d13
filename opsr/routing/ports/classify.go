package routingports

import "context"

// Intent is the structured output of the natural-language classifier:
// which action the user wants and the parameters extracted for it.
type Intent struct {
	Action     string         `json:"action"`
	Confidence float64        `json:"confidence"`
	Reasoning  string         `json:"reasoning"`
	Params     map[string]any `json:"params,omitempty"`
}

// Classifier turns free text into a structured intent. Implementations are
// external collaborators (LLM-backed or rule-based); the router treats them
// as a black box.
type Classifier interface {
	Classify(ctx context.Context, input string) (Intent, error)
}

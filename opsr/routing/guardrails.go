package routing

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Guardrails validates tool arguments before dispatch. Validation failures
// are recoverable: the router folds them into a bad-request result instead
// of invoking the tool.
type Guardrails struct{}

func NewGuardrails() *Guardrails {
	return &Guardrails{}
}

// ValidateArgs checks args against the tool's JSON schema. An empty schema
// accepts anything.
func (g *Guardrails) ValidateArgs(schema []byte, args json.RawMessage) error {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if !json.Valid(args) {
		return fmt.Errorf("arguments are not valid JSON")
	}
	if len(schema) == 0 {
		return nil
	}

	schemaLoader := gojsonschema.NewBytesLoader(schema)
	documentLoader := gojsonschema.NewBytesLoader(args)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		var problems []string
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return fmt.Errorf("invalid arguments: %s", strings.Join(problems, "; "))
	}
	return nil
}

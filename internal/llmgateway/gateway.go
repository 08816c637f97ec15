// Package llmgateway is the single point every kaizen component calls
// through to reach an LLM: conflict resolution (C7), tip generation (C9),
// and cluster consolidation (C10) never talk to a provider directly.
//
// The gateway supports two response modes. Schema-constrained mode asks the
// provider to return JSON matching a supplied schema directly. Free-text
// mode asks for plain output and then runs it through Clean, which strips
// one outer fenced code block and any <thinking>/<reflection>/<think>
// regions before the caller unmarshals it.
package llmgateway

import "context"

// Provider is implemented once per wire protocol (openai, anthropic).
type Provider interface {
	// Complete sends a single-turn prompt and returns the raw text response.
	// When schema is non-nil and the provider supports constrained decoding
	// for model, the provider must ask for output matching it; otherwise the
	// caller is responsible for running Clean on the result.
	Complete(ctx context.Context, model, systemPrompt, userPrompt string, schema map[string]any) (string, error)
}

// Gateway dispatches to a configured Provider and tracks which models are
// known to support schema-constrained decoding.
type Gateway struct {
	provider       Provider
	supportsSchema map[string]bool
}

func New(provider Provider, schemaModels []string) *Gateway {
	supported := make(map[string]bool, len(schemaModels))
	for _, m := range schemaModels {
		supported[m] = true
	}
	return &Gateway{provider: provider, supportsSchema: supported}
}

// SupportsSchema reports whether model is known to accept constrained
// decoding. Unknown models are assumed not to, and fall back to free text.
func (g *Gateway) SupportsSchema(model string) bool {
	return g.supportsSchema[model]
}

// Call sends systemPrompt/userPrompt to model. When schema is provided and
// the model supports constrained decoding it is passed through as-is;
// otherwise the response is cleaned with Clean before being returned, so
// every caller can go straight to json.Unmarshal on the result.
func (g *Gateway) Call(ctx context.Context, model, systemPrompt, userPrompt string, schema map[string]any) (string, error) {
	var effectiveSchema map[string]any
	if schema != nil && g.SupportsSchema(model) {
		effectiveSchema = schema
	}

	raw, err := g.provider.Complete(ctx, model, systemPrompt, userPrompt, effectiveSchema)
	if err != nil {
		return "", err
	}

	if effectiveSchema != nil {
		return raw, nil
	}

	return Clean(raw), nil
}

// Package tips implements C9: turning a parsed trajectory into a set of
// actionable tips via the LLM gateway. Grounded on
// kaizen/llm/tips/tips.py's generate_tips.
package tips

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/rakunlabs/kaizen/internal/kschema"
	"github.com/rakunlabs/kaizen/internal/llmgateway"
	"github.com/rakunlabs/kaizen/internal/trajectory"
)

// Generator turns trajectories into tips via a configured LLM gateway.
type Generator struct {
	gateway *llmgateway.Gateway
	model   string
}

func New(gateway *llmgateway.Gateway, model string) *Generator {
	return &Generator{gateway: gateway, model: model}
}

// Result is the outcome of one generation attempt. Tips is empty, never
// nil-with-error, when the model returns malformed or empty output: tip
// generation degrades gracefully rather than failing the caller's ingest.
type Result struct {
	TaskDescription string
	Tips            []kschema.Tip
}

var promptTemplate = template.Must(template.New("tip_generation").Parse(defaultTipGenerationPrompt))

type promptInput struct {
	TaskInstruction   string
	TrajectorySummary string
	NumSteps          int
}

// Generate parses messages into a trajectory and asks the model for tips.
// It never returns an error for a malformed or empty model response; that
// case produces a Result with an empty Tips slice and a logged warning, so
// one bad trajectory cannot abort a batch sync.
func (g *Generator) Generate(ctx context.Context, messages []trajectory.Message) (Result, error) {
	parsed := trajectory.Parse(messages)

	var prompt strings.Builder
	if err := promptTemplate.Execute(&prompt, promptInput{
		TaskInstruction:   parsed.TaskInstruction,
		TrajectorySummary: parsed.TrajectorySummary,
		NumSteps:          parsed.NumSteps,
	}); err != nil {
		return Result{}, fmt.Errorf("render tip generation prompt: %w", err)
	}

	raw, err := g.gateway.Call(ctx, g.model, "", prompt.String(), tipGenerationSchema)
	if err != nil {
		slog.Warn("tip generation: LLM call failed, returning no tips", "error", err)
		return Result{TaskDescription: parsed.TaskInstruction}, nil
	}

	var parsedResponse kschema.TipGenerationResponse
	if err := json.Unmarshal([]byte(raw), &parsedResponse); err != nil {
		slog.Warn("tip generation: could not parse LLM response, returning no tips", "error", err)
		return Result{TaskDescription: parsed.TaskInstruction}, nil
	}

	return Result{TaskDescription: parsed.TaskInstruction, Tips: parsedResponse.Tips}, nil
}

const defaultTipGenerationPrompt = `You are analyzing an agent's trajectory to extract reusable tips for future tasks of the same kind.

Task: {{.TaskInstruction}}
Steps taken: {{.NumSteps}}

Trajectory:
{{.TrajectorySummary}}

Identify concrete, actionable tips a future agent could use to perform this kind of task better or avoid mistakes seen here. Return an empty list if there is nothing worth extracting. Respond with JSON matching the required schema.`

var tipGenerationSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"tips": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"content":   map[string]any{"type": "string"},
					"rationale": map[string]any{"type": "string"},
					"category":  map[string]any{"type": "string"},
					"trigger":   map[string]any{"type": "string"},
				},
				"required":             []string{"content", "rationale", "category", "trigger"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []string{"tips"},
	"additionalProperties": false,
}

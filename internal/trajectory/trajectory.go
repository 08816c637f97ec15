// Package trajectory implements C8: canonicalizing a raw agent message
// history (either the "blocks" dialect of typed content blocks or the
// "flat" dialect of string content plus tool_calls) into a task
// instruction, an ordered step list, and a bounded human-readable summary.
package trajectory

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// DefaultTaskDescription is used when a trajectory has no leading user
// message to derive a task instruction from.
const DefaultTaskDescription = "Task description unknown"

const (
	maxSummarySteps   = 50
	maxStepContentLen = 2000
)

// StepKind categorizes one entry of a parsed trajectory.
type StepKind string

const (
	StepReasoning   StepKind = "reasoning"
	StepAction      StepKind = "action"
	StepObservation StepKind = "observation"
)

// Step is one canonicalized trajectory entry.
type Step struct {
	Kind    StepKind
	Content string
}

// Parsed is the canonical form of a trajectory, ready for C9/C11.
type Parsed struct {
	TaskInstruction   string
	Steps             []Step
	TrajectorySummary string
	NumSteps          int
}

// Message is one entry of the raw message history. Content may be a plain
// string (the "flat" dialect) or a []any of typed blocks (the "blocks"
// dialect, `{type: text|thinking|tool_use|tool_result, ...}`).
type Message struct {
	Role       string `json:"role"`
	Content    any    `json:"content"`
	ToolCalls  []any  `json:"tool_calls,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// Parse canonicalizes messages into task instruction, steps, and a capped
// markdown trajectory summary. The first user message's string content
// becomes the task instruction; any other shape there falls back to
// DefaultTaskDescription and is logged, rather than raised, since ingestion
// must never abort on one odd message.
func Parse(messages []Message) Parsed {
	var taskInstruction string
	var steps []Step
	seenUser := false

	for _, msg := range messages {
		if msg.Role == "user" && !seenUser {
			seenUser = true
			if s, ok := msg.Content.(string); ok {
				taskInstruction = s
			} else {
				slog.Debug("trajectory: first user message content was not a string, falling back to default task description")
			}
		}

		// tool_result blocks can arrive on a "user" turn (Anthropic's
		// convention) as well as inline in an assistant turn, so blocks are
		// parsed the same way regardless of role: a text block on a user or
		// tool turn also becomes a reasoning step.
		switch content := msg.Content.(type) {
		case string:
			if msg.Role == "assistant" && strings.TrimSpace(content) != "" {
				steps = append(steps, Step{Kind: StepReasoning, Content: content})
			} else if msg.Role == "tool" && strings.TrimSpace(content) != "" {
				steps = append(steps, Step{Kind: StepObservation, Content: content})
			}
		case []any:
			steps = append(steps, parseBlocks(content)...)
		case nil:
			// Empty messages are common from tool-calling patterns.
		default:
			if msg.Role == "assistant" {
				slog.Debug("trajectory: skipping assistant message with unrecognized content shape", "type", fmt.Sprintf("%T", content))
			}
		}

		if msg.Role == "assistant" {
			for _, tc := range msg.ToolCalls {
				if step, ok := toolCallStep(tc); ok {
					steps = append(steps, step)
				}
			}
		}
	}

	if taskInstruction == "" {
		taskInstruction = DefaultTaskDescription
	}

	numSteps := 0
	for _, s := range steps {
		if s.Kind == StepReasoning || s.Kind == StepAction {
			numSteps++
		}
	}

	return Parsed{
		TaskInstruction:   taskInstruction,
		Steps:             steps,
		TrajectorySummary: summarize(steps),
		NumSteps:          numSteps,
	}
}

// parseBlocks handles the "blocks" dialect: a list of
// {type: text|thinking|tool_use|tool_result, ...} maps.
func parseBlocks(blocks []any) []Step {
	var steps []Step
	for _, raw := range blocks {
		block, ok := raw.(map[string]any)
		if !ok {
			slog.Debug("trajectory: skipping non-object content block")
			continue
		}

		switch block["type"] {
		case "text":
			text, _ := block["text"].(string)
			if strings.TrimSpace(text) != "" {
				steps = append(steps, Step{Kind: StepReasoning, Content: text})
			}
		case "thinking":
			// Thinking blocks are internal deliberation, not a user-facing
			// reasoning step; the original excludes them from the summary too.
		case "tool_use":
			steps = append(steps, Step{Kind: StepAction, Content: formatCall(block["name"], block["input"])})
		case "tool_result":
			content := stringifyToolResultContent(block["content"])
			steps = append(steps, Step{Kind: StepObservation, Content: content})
		default:
			slog.Debug("trajectory: skipping content block of unrecognized type", "type", block["type"])
		}
	}
	return steps
}

// toolCallStep handles the "flat" dialect's tool_calls entries:
// {id, type:"function", function:{name, arguments}}.
func toolCallStep(raw any) (Step, bool) {
	call, ok := raw.(map[string]any)
	if !ok {
		return Step{}, false
	}
	fn, ok := call["function"].(map[string]any)
	if !ok {
		return Step{}, false
	}
	name, _ := fn["name"].(string)

	var args map[string]any
	switch a := fn["arguments"].(type) {
	case string:
		_ = json.Unmarshal([]byte(a), &args)
	case map[string]any:
		args = a
	}

	return Step{Kind: StepAction, Content: formatCall(name, args)}, true
}

// formatCall renders name(k=v, ...), matching the original's
// f"{name}({args_display})" with a raw-argument-string fallback when input
// isn't a map.
func formatCall(nameAny, inputAny any) string {
	name, _ := nameAny.(string)

	input, ok := inputAny.(map[string]any)
	if !ok {
		if inputAny == nil {
			return name + "()"
		}
		return fmt.Sprintf("%s(%v)", name, inputAny)
	}

	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		v, err := json.Marshal(input[k])
		if err != nil {
			v = []byte(fmt.Sprintf("%v", input[k]))
		}
		pairs = append(pairs, fmt.Sprintf("%s=%s", k, v))
	}

	return fmt.Sprintf("%s(%s)", name, strings.Join(pairs, ", "))
}

func stringifyToolResultContent(content any) string {
	switch c := content.(type) {
	case string:
		return c
	case nil:
		return ""
	default:
		raw, err := json.Marshal(c)
		if err != nil {
			return fmt.Sprintf("%v", c)
		}
		return string(raw)
	}
}

// summarize renders up to maxSummarySteps steps as markdown, truncating
// each step's content to maxStepContentLen characters.
func summarize(steps []Step) string {
	limit := len(steps)
	if limit > maxSummarySteps {
		limit = maxSummarySteps
	}

	parts := make([]string, 0, limit)
	for i, step := range steps[:limit] {
		content := step.Content
		if len(content) > maxStepContentLen {
			content = content[:maxStepContentLen] + "..."
		}

		var label string
		switch step.Kind {
		case StepReasoning:
			label = "Reasoning"
		case StepAction:
			label = "Action"
		case StepObservation:
			label = "Observation"
		default:
			continue
		}

		parts = append(parts, fmt.Sprintf("**Step %d - %s:**\n%s", i+1, label, content))
	}

	return strings.Join(parts, "\n\n")
}

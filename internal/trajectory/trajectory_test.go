package trajectory

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseFlatDialect(t *testing.T) {
	messages := []Message{
		{Role: "user", Content: "book a flight to Berlin"},
		{Role: "assistant", Content: "I'll search for flights."},
		{
			Role: "assistant",
			ToolCalls: []any{
				map[string]any{
					"id":   "call_1",
					"type": "function",
					"function": map[string]any{
						"name":      "search_flights",
						"arguments": `{"destination":"Berlin"}`,
					},
				},
			},
		},
		{Role: "tool", Content: "found 3 flights"},
	}

	parsed := Parse(messages)

	require.Equal(t, "book a flight to Berlin", parsed.TaskInstruction)
	require.Len(t, parsed.Steps, 3)
	require.Equal(t, StepReasoning, parsed.Steps[0].Kind)
	require.Equal(t, StepAction, parsed.Steps[1].Kind)
	require.Equal(t, `search_flights(destination="Berlin")`, parsed.Steps[1].Content)
	require.Equal(t, StepObservation, parsed.Steps[2].Kind)
	require.Equal(t, 2, parsed.NumSteps)
}

func TestParseBlocksDialect(t *testing.T) {
	messages := []Message{
		{Role: "user", Content: "summarize the ticket"},
		{
			Role: "assistant",
			Content: []any{
				map[string]any{"type": "thinking", "thinking": "let me think"},
				map[string]any{"type": "text", "text": "I will fetch the ticket first."},
				map[string]any{
					"type":  "tool_use",
					"name":  "fetch_ticket",
					"input": map[string]any{"id": "T-1"},
				},
				map[string]any{
					"type":    "tool_result",
					"content": "ticket body here",
				},
			},
		},
	}

	parsed := Parse(messages)

	require.Equal(t, "summarize the ticket", parsed.TaskInstruction)
	require.Len(t, parsed.Steps, 3)
	require.Equal(t, StepReasoning, parsed.Steps[0].Kind)
	require.Equal(t, StepAction, parsed.Steps[1].Kind)
	require.Equal(t, `fetch_ticket(id="T-1")`, parsed.Steps[1].Content)
	require.Equal(t, StepObservation, parsed.Steps[2].Kind)
	require.Equal(t, "ticket body here", parsed.Steps[2].Content)
}

func TestParseMissingTaskInstructionFallsBackToDefault(t *testing.T) {
	parsed := Parse([]Message{
		{Role: "assistant", Content: "hello"},
	})
	require.Equal(t, DefaultTaskDescription, parsed.TaskInstruction)
}

func TestParseUnrecognizedContentShapeIsSkippedNotRaised(t *testing.T) {
	messages := []Message{
		{Role: "user", Content: "do something"},
		{Role: "assistant", Content: 42},
		{Role: "assistant", Content: "a real step"},
	}

	parsed := Parse(messages)

	require.Len(t, parsed.Steps, 1)
	require.Equal(t, "a real step", parsed.Steps[0].Content)
}

func TestSummarizeCapsStepsAndContentLength(t *testing.T) {
	var messages []Message
	messages = append(messages, Message{Role: "user", Content: "task"})
	for i := 0; i < 60; i++ {
		messages = append(messages, Message{Role: "assistant", Content: "step"})
	}

	parsed := Parse(messages)
	require.Equal(t, maxSummarySteps, strings.Count(parsed.TrajectorySummary, "**Step"))

	longContent := strings.Repeat("x", maxStepContentLen+500)
	parsedLong := Parse([]Message{
		{Role: "user", Content: "task"},
		{Role: "assistant", Content: longContent},
	})
	require.Contains(t, parsedLong.TrajectorySummary, strings.Repeat("x", maxStepContentLen)+"...")
}

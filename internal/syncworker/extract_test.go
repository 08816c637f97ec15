package syncworker

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractMessagesOrdersByIndexPromptsBeforeCompletions(t *testing.T) {
	attrs := map[string]any{
		"gen_ai.prompt.0.role":     "user",
		"gen_ai.prompt.0.content":  "do the thing",
		"gen_ai.completion.0.role": "assistant",
		"gen_ai.completion.0.content": "doing it",
		"gen_ai.prompt.1.role":     "system",
		"gen_ai.prompt.1.content":  "be terse",
	}

	messages := extractMessages(attrs)

	require.Len(t, messages, 3)
	require.Equal(t, "user", messages[0].Role)
	require.Equal(t, "system", messages[1].Role)
	require.Equal(t, "assistant", messages[2].Role)
}

func TestParseContentFallsBackToRawStringOnInvalidJSON(t *testing.T) {
	require.Equal(t, "plain text", parseContent("plain text"))

	parsed := parseContent(`[{"type":"text","text":"hi"}]`)
	blocks, ok := parsed.([]any)
	require.True(t, ok)
	require.Len(t, blocks, 1)
}

func TestExpandToolResultsSplitsIntoToolMessages(t *testing.T) {
	messages := extractMessages(map[string]any{
		"gen_ai.prompt.0.role":    "user",
		"gen_ai.prompt.0.content": `[{"type":"tool_result","tool_use_id":"call_1","content":"42"}]`,
	})

	expanded := expandToolResults(messages)

	require.Len(t, expanded, 1)
	require.Equal(t, "tool", expanded[0].Role)
	require.Equal(t, "call_1", expanded[0].ToolCallID)
	require.Equal(t, "42", expanded[0].Content)
}

func TestCleanMessagesStripsSystemReminderAndDropsEmpty(t *testing.T) {
	messages := extractMessages(map[string]any{
		"gen_ai.prompt.0.role":    "user",
		"gen_ai.prompt.0.content": "do it <system-reminder>internal note</system-reminder>now",
		"gen_ai.prompt.1.role":    "user",
		"gen_ai.prompt.1.content": "<system-reminder>only this</system-reminder>",
	})

	cleaned := cleanMessages(messages)

	require.Len(t, cleaned, 1)
	require.Equal(t, "do it now", cleaned[0].Content)
}

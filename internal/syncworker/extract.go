package syncworker

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rakunlabs/kaizen/internal/trajectory"
)

// extractMessages pulls gen_ai.prompt.{i}.{role|content} and
// gen_ai.completion.{i}.{role|content} attributes out of a span, in
// ascending index order within each group, prompts before completions.
// Grounded on phoenix_sync.py's _extract_messages_from_span.
func extractMessages(attrs map[string]any) []trajectory.Message {
	prompts := extractIndexedGroup(attrs, "gen_ai.prompt.")
	completions := extractIndexedGroup(attrs, "gen_ai.completion.")

	messages := make([]trajectory.Message, 0, len(prompts)+len(completions))
	messages = append(messages, prompts...)
	messages = append(messages, completions...)
	return messages
}

func extractIndexedGroup(attrs map[string]any, prefix string) []trajectory.Message {
	indices := map[int]map[string]any{}

	for key := range attrs {
		rest := strings.TrimPrefix(key, prefix)
		if rest == key {
			continue
		}
		dot := strings.IndexByte(rest, '.')
		if dot < 0 {
			continue
		}
		idxStr, field := rest[:dot], rest[dot+1:]
		idx, err := strconv.Atoi(idxStr)
		if err != nil {
			continue
		}
		if indices[idx] == nil {
			indices[idx] = map[string]any{}
		}
		indices[idx][field] = attrs[key]
	}

	order := make([]int, 0, len(indices))
	for idx := range indices {
		order = append(order, idx)
	}
	sort.Ints(order)

	messages := make([]trajectory.Message, 0, len(order))
	for _, idx := range order {
		fields := indices[idx]
		role, _ := fields["role"].(string)
		if role == "" {
			continue
		}

		messages = append(messages, trajectory.Message{
			Role:    role,
			Content: parseContent(fields["content"]),
		})
	}

	return messages
}

// parseContent mirrors phoenix_sync.py's _parse_content: try JSON first
// (the common case, a serialized content-block list), and fall back to
// the raw value when it isn't valid JSON.
func parseContent(raw any) any {
	s, ok := raw.(string)
	if !ok {
		return raw
	}

	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return s
	}

	var parsed any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
		return parsed
	}

	return s
}

// expandToolResults mirrors phoenix_sync.py's _extract_trajectory: any
// message whose content is a block list containing tool_result blocks is
// expanded into one role:"tool" message per block, keyed by tool_call_id,
// leaving the remaining (non-tool_result) content on the original message.
func expandToolResults(messages []trajectory.Message) []trajectory.Message {
	out := make([]trajectory.Message, 0, len(messages))

	for _, msg := range messages {
		blocks, ok := msg.Content.([]any)
		if !ok {
			out = append(out, msg)
			continue
		}

		var kept []any
		var toolMessages []trajectory.Message
		for _, raw := range blocks {
			block, ok := raw.(map[string]any)
			if !ok {
				kept = append(kept, raw)
				continue
			}
			if block["type"] != "tool_result" {
				kept = append(kept, raw)
				continue
			}

			toolCallID, _ := block["tool_use_id"].(string)
			if toolCallID == "" {
				toolCallID, _ = block["tool_call_id"].(string)
			}
			toolMessages = append(toolMessages, trajectory.Message{
				Role:       "tool",
				Content:    block["content"],
				ToolCallID: toolCallID,
			})
		}

		if len(kept) > 0 {
			msg.Content = kept
			out = append(out, msg)
		}
		out = append(out, toolMessages...)
	}

	return out
}

var systemReminderPattern = regexp.MustCompile(`(?s)<system-reminder>.*?</system-reminder>`)

// cleanMessages strips <system-reminder> regions from string content and
// drops messages that end up with no content and no tool calls, per
// phoenix_sync.py's _clean_trajectory.
func cleanMessages(messages []trajectory.Message) []trajectory.Message {
	out := make([]trajectory.Message, 0, len(messages))

	for _, msg := range messages {
		if s, ok := msg.Content.(string); ok {
			msg.Content = strings.TrimSpace(systemReminderPattern.ReplaceAllString(s, ""))
		}

		empty := false
		switch c := msg.Content.(type) {
		case string:
			empty = c == ""
		case nil:
			empty = true
		case []any:
			empty = len(c) == 0
		}

		if empty && len(msg.ToolCalls) == 0 {
			continue
		}

		out = append(out, msg)
	}

	return out
}

package conflict

const defaultConflictResolutionPrompt = `You maintain a knowledge base of entities. Compare the existing entities
against the newly proposed ones and decide, for each existing entity that is
similar to a new one, whether it should be updated, deleted, or left alone;
and for each new entity that has no close match, whether it should be added.

Existing entities:
{{.OldEntities}}

Newly proposed entities:
{{.NewEntities}}

Respond with a JSON object of the form:
{"entities": [{"event": "ADD"|"UPDATE"|"DELETE"|"NONE", "id": "...", "type": "...", "content": ...}]}

For ADD events, id must be the id of the corresponding entity from the
newly proposed list. For UPDATE/DELETE/NONE events, id must be the id of the
corresponding existing entity. Do not include a metadata field; it is
attached separately.`

// conflictResolutionSchema constrains the response to the shape resolverResponse expects.
var conflictResolutionSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"entities": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"event":   map[string]any{"type": "string", "enum": []string{"ADD", "UPDATE", "DELETE", "NONE"}},
					"id":      map[string]any{"type": "string"},
					"type":    map[string]any{"type": "string"},
					"content": map[string]any{},
				},
				"required": []string{"event", "id"},
			},
		},
	},
	"required": []string{"entities"},
}

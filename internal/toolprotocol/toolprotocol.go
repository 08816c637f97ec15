// Package toolprotocol adapts the facade's entity-store and tip operations
// to the four tool-protocol handlers named in SPEC_FULL §14: get_guidelines,
// save_trajectory, create_entity, delete_entity. Each handler returns a
// plain map result or an error; the transport (pkg/mcp) sends a returned
// error as a {success:false, error} result, so no exception-style control
// flow crosses the protocol boundary.
package toolprotocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rakunlabs/kaizen/internal/facade"
	"github.com/rakunlabs/kaizen/internal/kschema"
	"github.com/rakunlabs/kaizen/internal/store"
	"github.com/rakunlabs/kaizen/internal/tips"
	"github.com/rakunlabs/kaizen/internal/trajectory"
	"github.com/rakunlabs/kaizen/pkg/mcp"
)

// Tools binds a Facade and tip generator to the namespace tool-protocol
// handlers operate against by default.
type Tools struct {
	facade           *facade.Facade
	tipGen           *tips.Generator
	defaultNamespace string
}

func New(f *facade.Facade, tipGen *tips.Generator, defaultNamespace string) *Tools {
	return &Tools{facade: f, tipGen: tipGen, defaultNamespace: defaultNamespace}
}

// Register adds all four Kaizen tools to m.
func (t *Tools) Register(m *mcp.MCP) {
	m.AddTool(mcp.Tool{
		Name:        "get_guidelines",
		Description: "Retrieve guideline tips relevant to a task, as a markdown list.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task": map[string]any{"type": "string"},
			},
			"required": []string{"task"},
		},
	}, t.handleGetGuidelines)

	m.AddTool(mcp.Tool{
		Name:        "save_trajectory",
		Description: "Persist an agent trajectory and derive guideline tips from it.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"trajectory_data": map[string]any{"type": "string"},
				"task_id":         map[string]any{"type": "string"},
			},
			"required": []string{"trajectory_data"},
		},
	}, t.handleSaveTrajectory)

	m.AddTool(mcp.Tool{
		Name:        "create_entity",
		Description: "Create a single entity, optionally through conflict resolution.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"content":                    map[string]any{},
				"entity_type":                map[string]any{"type": "string"},
				"metadata":                   map[string]any{"type": "string"},
				"enable_conflict_resolution": map[string]any{"type": "boolean"},
			},
			"required": []string{"content", "entity_type"},
		},
	}, t.handleCreateEntity)

	m.AddTool(mcp.Tool{
		Name:        "delete_entity",
		Description: "Delete an entity by id.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"entity_id": map[string]any{"type": "string"},
			},
			"required": []string{"entity_id"},
		},
	}, t.handleDeleteEntity)
}

const guidelinesTopK = 10

func (t *Tools) handleGetGuidelines(args map[string]any) (any, error) {
	task, _ := args["task"].(string)
	if strings.TrimSpace(task) == "" {
		return nil, errors.New("task must be a non-empty string")
	}

	ctx := context.Background()
	entities, err := t.facade.SearchEntities(ctx, t.defaultNamespace, store.Filter{
		Type:  kschema.EntityTypeGuideline,
		Query: task,
		Limit: guidelinesTopK,
	})
	if err != nil {
		var notFound *kschema.NamespaceNotFoundError
		if errors.As(err, &notFound) {
			return map[string]any{"markdown": "No guidelines recorded yet."}, nil
		}
		return nil, err
	}

	if len(entities) == 0 {
		return map[string]any{"markdown": "No guidelines found for this task."}, nil
	}

	var sb strings.Builder
	for _, e := range entities {
		content, _ := e.Content.(string)
		sb.WriteString("- ")
		sb.WriteString(content)
		if rationale, ok := e.Metadata["rationale"].(string); ok && rationale != "" {
			sb.WriteString(" (")
			sb.WriteString(rationale)
			sb.WriteString(")")
		}
		sb.WriteString("\n")
	}

	return map[string]any{"markdown": sb.String()}, nil
}

func (t *Tools) handleSaveTrajectory(args map[string]any) (any, error) {
	raw, _ := args["trajectory_data"].(string)
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("trajectory_data must be a non-empty JSON string")
	}
	taskID, _ := args["task_id"].(string)

	var messages []trajectory.Message
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		return nil, fmt.Errorf("parse trajectory_data: %w", err)
	}

	ctx := context.Background()
	if _, err := t.facade.EnsureNamespace(ctx, t.defaultNamespace); err != nil {
		return nil, err
	}

	metadata := map[string]any{"message_count": len(messages)}
	if taskID != "" {
		metadata["task_id"] = taskID
	}

	updates, err := t.facade.UpdateEntities(ctx, t.defaultNamespace, []kschema.Entity{{
		Type:     kschema.EntityTypeTrajectory,
		Content:  messages,
		Metadata: metadata,
	}}, false)
	if err != nil {
		return nil, fmt.Errorf("persist trajectory: %w", err)
	}

	tipsGenerated := 0
	if t.tipGen != nil {
		result, err := t.tipGen.Generate(ctx, messages)
		if err != nil {
			return nil, fmt.Errorf("generate tips: %w", err)
		}
		if len(result.Tips) > 0 {
			guidelines := make([]kschema.Entity, len(result.Tips))
			for i, tip := range result.Tips {
				guidelines[i] = kschema.Entity{
					Type:    kschema.EntityTypeGuideline,
					Content: tip.Content,
					Metadata: map[string]any{
						"rationale":        tip.Rationale,
						"category":         tip.Category,
						"trigger":          tip.Trigger,
						"task_description": result.TaskDescription,
						"source_task_id":   taskID,
					},
				}
			}
			if _, err := t.facade.UpdateEntities(ctx, t.defaultNamespace, guidelines, true); err != nil {
				return nil, fmt.Errorf("persist tips: %w", err)
			}
			tipsGenerated = len(result.Tips)
		}
	}

	return map[string]any{
		"trajectory":     updates,
		"tips_generated": tipsGenerated,
	}, nil
}

func (t *Tools) handleCreateEntity(args map[string]any) (any, error) {
	content := args["content"]
	entityType, _ := args["entity_type"].(string)
	if entityType == "" {
		return nil, errors.New("entity_type is required")
	}

	var metadata map[string]any
	if metaRaw, ok := args["metadata"].(string); ok && metaRaw != "" {
		if err := json.Unmarshal([]byte(metaRaw), &metadata); err != nil {
			return nil, fmt.Errorf("parse metadata: %w", err)
		}
	}

	enableResolution, _ := args["enable_conflict_resolution"].(bool)

	ctx := context.Background()
	if _, err := t.facade.EnsureNamespace(ctx, t.defaultNamespace); err != nil {
		return nil, err
	}

	updates, err := t.facade.UpdateEntities(ctx, t.defaultNamespace, []kschema.Entity{{
		Type:     entityType,
		Content:  content,
		Metadata: metadata,
	}}, enableResolution)
	if err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return nil, errors.New("conflict resolution produced no event for this entity")
	}

	return updates[0], nil
}

func (t *Tools) handleDeleteEntity(args map[string]any) (any, error) {
	entityID, _ := args["entity_id"].(string)
	if entityID == "" {
		return nil, errors.New("entity_id is required")
	}

	ctx := context.Background()
	if err := t.facade.DeleteEntity(ctx, t.defaultNamespace, entityID); err != nil {
		return map[string]any{
			"success": false,
			"message": err.Error(),
		}, nil
	}

	return map[string]any{
		"success": true,
		"message": "entity deleted",
	}, nil
}

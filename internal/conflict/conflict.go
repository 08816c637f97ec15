// Package conflict implements LLM-mediated conflict resolution (C7): given
// a set of existing entities and a set of newly proposed ones, ask the
// model to decide which existing entities should be added, updated,
// deleted, or left alone.
package conflict

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"text/template"

	"github.com/rakunlabs/kaizen/internal/kschema"
	"github.com/rakunlabs/kaizen/internal/llmgateway"
)

const maxAttempts = 3

// Resolver runs conflict resolution against a configured LLM gateway.
type Resolver struct {
	gateway *llmgateway.Gateway
	model   string
}

func New(gateway *llmgateway.Gateway, model string) *Resolver {
	return &Resolver{gateway: gateway, model: model}
}

var promptTemplate = template.Must(template.New("conflict_resolution").Parse(defaultConflictResolutionPrompt))

type promptInput struct {
	OldEntities string
	NewEntities string
}

type resolverResponse struct {
	Entities []resolverEvent `json:"entities"`
}

type resolverEvent struct {
	Event    kschema.EventType `json:"event"`
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Content  any               `json:"content"`
	Metadata map[string]any    `json:"metadata,omitempty"`
}

// Resolve decides ADD/UPDATE/DELETE/NONE for oldEntities against
// newEntities. newEntities must carry placeholder ids (e.g.
// "Unprocessed_Entity_0") so ADD events can be matched back to the
// original entity's metadata, which the model is never shown.
func (r *Resolver) Resolve(ctx context.Context, oldEntities []kschema.RecordedEntity, newEntities []kschema.RecordedEntity) ([]kschema.EntityUpdate, error) {
	simplifiedOld := simplify(oldEntities)
	simplifiedNew := simplify(newEntities)

	newByID := make(map[string]kschema.RecordedEntity, len(newEntities))
	for _, e := range newEntities {
		newByID[e.ID] = e
	}
	oldByID := make(map[string]kschema.RecordedEntity, len(oldEntities))
	for _, e := range oldEntities {
		oldByID[e.ID] = e
	}

	oldJSON, err := json.MarshalIndent(simplifiedOld, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("marshal old entities: %w", err)
	}
	newJSON, err := json.MarshalIndent(simplifiedNew, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("marshal new entities: %w", err)
	}

	var prompt strings.Builder
	if err := promptTemplate.Execute(&prompt, promptInput{
		OldEntities: string(oldJSON),
		NewEntities: string(newJSON),
	}); err != nil {
		return nil, fmt.Errorf("render conflict resolution prompt: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		raw, err := r.gateway.Call(ctx, r.model, "", prompt.String(), conflictResolutionSchema)
		if err != nil {
			lastErr = err
			continue
		}

		var parsed resolverResponse
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			lastErr = fmt.Errorf("parse conflict resolution response: %w", err)
			continue
		}

		updates := make([]kschema.EntityUpdate, 0, len(parsed.Entities))
		for _, ev := range parsed.Entities {
			update := kschema.EntityUpdate{
				Event:   ev.Event,
				ID:      ev.ID,
				Type:    ev.Type,
				Content: ev.Content,
			}

			if ev.Event == kschema.EventAdd {
				newEntity, ok := newByID[ev.ID]
				if !ok {
					// The model referenced an id we never sent as new; treat
					// as NONE rather than fail the whole batch.
					slog.Warn("conflict resolution: ADD event references unknown new entity id, treating as NONE", "id", ev.ID)
					update.Event = kschema.EventNone
					updates = append(updates, update)
					continue
				}
				update.Metadata = newEntity.Metadata
			} else if ev.Event == kschema.EventUpdate || ev.Event == kschema.EventDelete {
				if _, ok := oldByID[ev.ID]; !ok {
					slog.Warn("conflict resolution: event references unknown existing entity id, treating as NONE", "id", ev.ID, "event", ev.Event)
					update.Event = kschema.EventNone
				}
			}
			if old, ok := oldByID[ev.ID]; ok && update.Event != kschema.EventAdd {
				update.OldEntity = &kschema.SimpleEntity{ID: old.ID, Type: old.Type, Content: old.Content}
			}

			updates = append(updates, update)
		}

		return updates, nil
	}

	return nil, fmt.Errorf("conflict resolution failed after %d attempts: %w", maxAttempts, lastErr)
}

func simplify(entities []kschema.RecordedEntity) []kschema.SimpleEntity {
	out := make([]kschema.SimpleEntity, len(entities))
	for i, e := range entities {
		out[i] = kschema.SimpleEntity{ID: e.ID, Type: e.Type, Content: e.Content}
	}
	return out
}

// PlaceholderID returns the temporary id assigned to the i-th newly
// proposed entity before conflict resolution, matching the convention the
// original implementation uses so prompts/responses stay recognizable.
// Backends call this when building the RecordedEntity slice they pass to
// Resolve as newEntities.
func PlaceholderID(i int) string {
	return "Unprocessed_Entity_" + strconv.Itoa(i)
}

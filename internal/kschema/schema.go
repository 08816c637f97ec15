// Package kschema defines the data model shared by every kaizen component:
// namespaces, entities, their recorded/stored form, the diff events produced
// by conflict resolution, and the typed error taxonomy every backend
// returns.
package kschema

import (
	"time"

	"github.com/worldline-go/types"
)

// Namespace groups a set of entities under one isolated collection/file.
type Namespace struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	// NumEntities is derived from the backend's live entity count and may
	// lag reality slightly on backends that cannot count cheaply.
	NumEntities int64 `json:"num_entities"`
}

// Entity is the unit of storage. Content can be a string, object, or array;
// callers are responsible for interpreting it according to Type.
type Entity struct {
	Type     string         `json:"type"`
	Content  any            `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RecordedEntity is an Entity that has been persisted and assigned an id.
type RecordedEntity struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Content   any            `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Entity type constants used across the store, sync worker, and tip
// pipeline. Any other string is accepted too — these are simply the ones
// the rest of kaizen understands.
const (
	EntityTypeTrajectory = "trajectory"
	EntityTypeGuideline  = "guideline"
	EntityTypePolicy     = "policy"
)

// EventType is the kind of change conflict resolution decided for an entity.
type EventType string

const (
	EventAdd    EventType = "ADD"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
	EventNone   EventType = "NONE"
)

// SimpleEntity is the reduced shape handed to the conflict-resolution LLM:
// no metadata, since the model is never allowed to see or invent it.
type SimpleEntity struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Content any    `json:"content"`
}

// EntityUpdate is one decided change coming back from conflict resolution.
// OldEntity is populated for UPDATE/DELETE/NONE to identify which existing
// entity the event applies to; Metadata is reattached by the caller after
// parsing, for ADD events, from the corresponding new entity's metadata.
type EntityUpdate struct {
	Event     EventType      `json:"event"`
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Content   any            `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	OldEntity *SimpleEntity  `json:"old_entity,omitempty"`
}

// Tip is a single piece of generated guidance.
type Tip struct {
	Content   string `json:"content"`
	Rationale string `json:"rationale"`
	Category  string `json:"category"`
	Trigger   string `json:"trigger"`
}

// TipGenerationResponse is the schema-constrained shape expected back from
// the tip-generation LLM call.
type TipGenerationResponse struct {
	Tips []Tip `json:"tips"`
}

// PolicyType enumerates the kinds of policy kaizen can store.
type PolicyType string

const (
	PolicyPlaybook        PolicyType = "playbook"
	PolicyIntentGuard     PolicyType = "intent_guard"
	PolicyToolGuide       PolicyType = "tool_guide"
	PolicyToolApproval    PolicyType = "tool_approval"
	PolicyOutputFormatter PolicyType = "output_formatter"
)

// TriggerType enumerates how a policy is activated.
type TriggerType string

const (
	TriggerKeyword         TriggerType = "keyword"
	TriggerNaturalLanguage TriggerType = "natural_language"
	TriggerAlways          TriggerType = "always"
)

// PolicyTrigger pairs a trigger mechanism with its matching values. Values
// may arrive from callers as either a single string or a list; types.Slice's
// UnmarshalJSON coerces both shapes into a slice, so callers never need to
// special-case the single-value form.
type PolicyTrigger struct {
	Type   TriggerType         `json:"type"`
	Values types.Slice[string] `json:"values,omitempty"`
}

// Policy is validated and stored as an entity of type "policy"; kaizen does
// not evaluate policies against live trajectories (see SPEC_FULL §4).
type Policy struct {
	Name        string          `json:"name"`
	Type        PolicyType      `json:"type"`
	Description string          `json:"description"`
	Triggers    []PolicyTrigger `json:"triggers"`
	Content     string          `json:"content"`
}

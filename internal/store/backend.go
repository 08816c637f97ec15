// Package store defines the Backend contract every entity store
// implementation (filesystem, vector) satisfies, plus the shared filter and
// search-result types used by callers.
package store

import (
	"context"

	"github.com/rakunlabs/kaizen/internal/kschema"
)

// Filter restricts SearchEntities results. All set fields are ANDed
// together. On the filesystem backend Query is a case-insensitive substring
// match against an entity's content once it has been flattened to a string;
// the vector backend ranks by embedding similarity to Query instead.
type Filter struct {
	Type       string
	Query      string
	Metadata   map[string]any
	Limit      int
}

// Backend is the storage contract implemented once per persistence model.
// Every method that addresses a namespace returns a
// *kschema.NamespaceNotFoundError (via errors.As) when it doesn't exist,
// except where a method's own doc comment says otherwise.
type Backend interface {
	// Ready reports whether the backend's dependencies (disk, Milvus,
	// side database) are reachable.
	Ready(ctx context.Context) error

	CreateNamespace(ctx context.Context, name string) (*kschema.Namespace, error)
	// GetNamespace returns a Namespace with NumEntities populated from the
	// backend's live entity count.
	GetNamespace(ctx context.Context, id string) (*kschema.Namespace, error)
	// ListNamespaces returns up to limit namespaces. limit <= 0 means no cap.
	ListNamespaces(ctx context.Context, limit int) ([]kschema.Namespace, error)

	// DeleteNamespace's idempotency on a missing namespace is
	// backend-specific: the filesystem backend is idempotent (returns nil),
	// the vector backend may return a *kschema.StoreError. Callers that need
	// uniform idempotency (the facade, HTTP, and tool-protocol surfaces)
	// must treat both as success.
	DeleteNamespace(ctx context.Context, id string) error

	// UpdateEntities adds/updates entities in a namespace. All entities in
	// one call must share the same Type. When enableConflictResolution is
	// true, the backend searches for similar existing entities and runs
	// them through conflict resolution (C7) before applying the resulting
	// ADD/UPDATE/DELETE/NONE events; when false, every entity is
	// unconditionally appended as an ADD.
	UpdateEntities(ctx context.Context, namespaceID string, entities []kschema.Entity, enableConflictResolution bool) ([]kschema.EntityUpdate, error)
	SearchEntities(ctx context.Context, namespaceID string, filter Filter) ([]kschema.RecordedEntity, error)
	DeleteEntity(ctx context.Context, namespaceID, entityID string) error
}

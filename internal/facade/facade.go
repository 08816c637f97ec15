// Package facade implements C12: a thin, stateless wrapper exposing every
// store operation plus clustering/consolidation to adapters (HTTP,
// tool-protocol, sync worker). Grounded on
// kaizen/frontend/client/kaizen_client.py's KaizenClient.
package facade

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/rakunlabs/kaizen/internal/clustering"
	"github.com/rakunlabs/kaizen/internal/kschema"
	"github.com/rakunlabs/kaizen/internal/store"
)

// Facade forwards store operations 1:1 and adds the clustering entry
// points. All retries, locking, and LLM calls live inside the components
// it wraps; Facade itself holds no state beyond its dependencies.
type Facade struct {
	backend   store.Backend
	clusterer *clustering.Clusterer
}

func New(backend store.Backend, clusterer *clustering.Clusterer) *Facade {
	return &Facade{backend: backend, clusterer: clusterer}
}

func (f *Facade) Ready(ctx context.Context) error {
	return f.backend.Ready(ctx)
}

func (f *Facade) CreateNamespace(ctx context.Context, name string) (*kschema.Namespace, error) {
	return f.backend.CreateNamespace(ctx, name)
}

func (f *Facade) GetNamespace(ctx context.Context, id string) (*kschema.Namespace, error) {
	return f.backend.GetNamespace(ctx, id)
}

func (f *Facade) ListNamespaces(ctx context.Context, limit int) ([]kschema.Namespace, error) {
	return f.backend.ListNamespaces(ctx, limit)
}

// DeleteNamespace normalizes both backends' idempotency: a missing
// namespace is always success here, even though the vector backend's
// DeleteNamespace may itself return a *kschema.StoreError for it.
func (f *Facade) DeleteNamespace(ctx context.Context, id string) error {
	err := f.backend.DeleteNamespace(ctx, id)
	if err == nil {
		return nil
	}

	var notFound *kschema.NamespaceNotFoundError
	if errors.As(err, &notFound) {
		return nil
	}
	// The vector backend reports a missing namespace as a StoreError; it is
	// success here once the namespace is confirmed absent.
	if _, getErr := f.backend.GetNamespace(ctx, id); errors.As(getErr, &notFound) {
		slog.Debug("delete namespace: namespace already absent", "namespace", id, "error", err)
		return nil
	}
	return err
}

func (f *Facade) UpdateEntities(ctx context.Context, namespaceID string, entities []kschema.Entity, enableConflictResolution bool) ([]kschema.EntityUpdate, error) {
	return f.backend.UpdateEntities(ctx, namespaceID, entities, enableConflictResolution)
}

func (f *Facade) SearchEntities(ctx context.Context, namespaceID string, filter store.Filter) ([]kschema.RecordedEntity, error) {
	return f.backend.SearchEntities(ctx, namespaceID, filter)
}

func (f *Facade) DeleteEntity(ctx context.Context, namespaceID, entityID string) error {
	return f.backend.DeleteEntity(ctx, namespaceID, entityID)
}

// EnsureNamespace fetches namespaceID, creating it first if absent. Used
// by adapters (the sync worker in particular) that must write into a
// namespace without requiring it to have been created up front.
func (f *Facade) EnsureNamespace(ctx context.Context, namespaceID string) (*kschema.Namespace, error) {
	ns, err := f.backend.GetNamespace(ctx, namespaceID)
	if err == nil {
		return ns, nil
	}

	var notFound *kschema.NamespaceNotFoundError
	if !errors.As(err, &notFound) {
		return nil, err
	}

	ns, err = f.backend.CreateNamespace(ctx, namespaceID)
	if err != nil {
		var alreadyExists *kschema.NamespaceAlreadyExistsError
		if errors.As(err, &alreadyExists) {
			// Lost a create race; the namespace exists now, fetch it.
			return f.backend.GetNamespace(ctx, namespaceID)
		}
		return nil, err
	}
	return ns, nil
}

// NamespaceExists reports whether namespaceID exists, without surfacing a
// NamespaceNotFoundError as a Go error.
func (f *Facade) NamespaceExists(ctx context.Context, namespaceID string) (bool, error) {
	_, err := f.backend.GetNamespace(ctx, namespaceID)
	if err == nil {
		return true, nil
	}
	var notFound *kschema.NamespaceNotFoundError
	if errors.As(err, &notFound) {
		return false, nil
	}
	return false, err
}

func (f *Facade) ClusterTips(ctx context.Context, namespaceID string, threshold float64) ([][]kschema.RecordedEntity, error) {
	return f.clusterer.ClusterTips(ctx, namespaceID, threshold)
}

func (f *Facade) ConsolidateTips(ctx context.Context, namespaceID string, threshold float64) (clustering.ConsolidationResult, error) {
	return f.clusterer.ConsolidateTips(ctx, namespaceID, threshold)
}

var (
	singletonOnce sync.Once
	singleton     *Facade
)

// InitSingleton sets the process-wide Facade instance exactly once; later
// calls are no-ops. Adapters that want their own instance should use New
// directly instead.
func InitSingleton(f *Facade) {
	singletonOnce.Do(func() {
		singleton = f
	})
}

// Singleton returns the process-wide Facade set by InitSingleton, or nil
// if it was never called.
func Singleton() *Facade {
	return singleton
}

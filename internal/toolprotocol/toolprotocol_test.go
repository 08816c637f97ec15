package toolprotocol

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/kaizen/internal/facade"
	"github.com/rakunlabs/kaizen/internal/kschema"
	"github.com/rakunlabs/kaizen/internal/store"
)

type fakeBackend struct {
	store.Backend
	namespaces map[string]*kschema.Namespace
	entities   []kschema.RecordedEntity
	updates    []kschema.Entity
	nextID     int
	deleteErr  error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{namespaces: map[string]*kschema.Namespace{}}
}

func (f *fakeBackend) GetNamespace(ctx context.Context, id string) (*kschema.Namespace, error) {
	ns, ok := f.namespaces[id]
	if !ok {
		return nil, &kschema.NamespaceNotFoundError{Namespace: id}
	}
	return ns, nil
}

func (f *fakeBackend) CreateNamespace(ctx context.Context, name string) (*kschema.Namespace, error) {
	ns := &kschema.Namespace{ID: name}
	f.namespaces[name] = ns
	return ns, nil
}

func (f *fakeBackend) UpdateEntities(ctx context.Context, namespaceID string, entities []kschema.Entity, resolve bool) ([]kschema.EntityUpdate, error) {
	updates := make([]kschema.EntityUpdate, len(entities))
	for i, e := range entities {
		f.nextID++
		id := strconv.Itoa(f.nextID)
		f.updates = append(f.updates, e)
		updates[i] = kschema.EntityUpdate{Event: kschema.EventAdd, ID: id, Type: e.Type, Content: e.Content, Metadata: e.Metadata}
	}
	return updates, nil
}

func (f *fakeBackend) SearchEntities(ctx context.Context, namespaceID string, filter store.Filter) ([]kschema.RecordedEntity, error) {
	return f.entities, nil
}

func (f *fakeBackend) DeleteEntity(ctx context.Context, namespaceID, entityID string) error {
	return f.deleteErr
}

func newTestTools(backend *fakeBackend) *Tools {
	f := facade.New(backend, nil)
	return New(f, nil, "default")
}

func TestHandleGetGuidelinesNoEntities(t *testing.T) {
	tools := newTestTools(newFakeBackend())

	result, err := tools.handleGetGuidelines(map[string]any{"task": "fix the bug"})
	require.NoError(t, err)
	require.Contains(t, result.(map[string]any)["markdown"], "No guidelines")
}

func TestHandleGetGuidelinesRejectsEmptyTask(t *testing.T) {
	tools := newTestTools(newFakeBackend())

	_, err := tools.handleGetGuidelines(map[string]any{"task": ""})
	require.Error(t, err)
}

func TestHandleGetGuidelinesRendersMarkdown(t *testing.T) {
	backend := newFakeBackend()
	backend.entities = []kschema.RecordedEntity{
		{ID: "1", Type: kschema.EntityTypeGuideline, Content: "always check for nil", Metadata: map[string]any{"rationale": "avoids panics"}},
	}
	tools := newTestTools(backend)

	result, err := tools.handleGetGuidelines(map[string]any{"task": "fix the bug"})
	require.NoError(t, err)
	md := result.(map[string]any)["markdown"].(string)
	require.Contains(t, md, "always check for nil")
	require.Contains(t, md, "avoids panics")
}

func TestHandleCreateEntityRequiresType(t *testing.T) {
	tools := newTestTools(newFakeBackend())

	_, err := tools.handleCreateEntity(map[string]any{"content": "hello"})
	require.Error(t, err)
}

func TestHandleCreateEntityReturnsUpdate(t *testing.T) {
	backend := newFakeBackend()
	tools := newTestTools(backend)

	result, err := tools.handleCreateEntity(map[string]any{
		"content":     "use type hints",
		"entity_type": kschema.EntityTypeGuideline,
		"metadata":    `{"source":"review"}`,
	})
	require.NoError(t, err)

	update := result.(kschema.EntityUpdate)
	require.Equal(t, kschema.EventAdd, update.Event)
	require.Equal(t, "review", update.Metadata["source"])
}

func TestHandleDeleteEntityReportsFailure(t *testing.T) {
	backend := newFakeBackend()
	backend.deleteErr = &kschema.StoreError{Op: "delete", Err: context.DeadlineExceeded}
	tools := newTestTools(backend)

	result, err := tools.handleDeleteEntity(map[string]any{"entity_id": "1"})
	require.NoError(t, err)

	resp := result.(map[string]any)
	require.Equal(t, false, resp["success"])
}

func TestHandleDeleteEntityRequiresID(t *testing.T) {
	tools := newTestTools(newFakeBackend())

	_, err := tools.handleDeleteEntity(map[string]any{})
	require.Error(t, err)
}

func TestHandleSaveTrajectoryRejectsEmptyPayload(t *testing.T) {
	tools := newTestTools(newFakeBackend())

	_, err := tools.handleSaveTrajectory(map[string]any{"trajectory_data": ""})
	require.Error(t, err)
}

func TestHandleSaveTrajectoryPersistsWithoutTipGenerator(t *testing.T) {
	backend := newFakeBackend()
	tools := newTestTools(backend)

	result, err := tools.handleSaveTrajectory(map[string]any{
		"trajectory_data": `[{"role":"user","content":"do the thing"}]`,
		"task_id":         "task-1",
	})
	require.NoError(t, err)

	resp := result.(map[string]any)
	require.Equal(t, 0, resp["tips_generated"])
	require.Len(t, backend.updates, 1)
	require.Equal(t, kschema.EntityTypeTrajectory, backend.updates[0].Type)
}

package filesystem

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/kaizen/internal/kschema"
	"github.com/rakunlabs/kaizen/internal/store"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New(t.TempDir(), nil)
	require.NoError(t, err)
	return b
}

func TestCreateAndGetNamespace(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	ns, err := b.CreateNamespace(ctx, "")
	require.NoError(t, err)
	require.NotEmpty(t, ns.ID)

	got, err := b.GetNamespace(ctx, ns.ID)
	require.NoError(t, err)
	require.Equal(t, ns.ID, got.ID)
}

func TestCreateNamespaceAlreadyExists(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	_, err := b.CreateNamespace(ctx, "dup")
	require.NoError(t, err)

	_, err = b.CreateNamespace(ctx, "dup")
	var alreadyExists *kschema.NamespaceAlreadyExistsError
	require.ErrorAs(t, err, &alreadyExists)
}

func TestGetNamespaceNotFound(t *testing.T) {
	b := newTestBackend(t)
	_, err := b.GetNamespace(context.Background(), "missing")
	var notFound *kschema.NamespaceNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestDeleteNamespaceIsIdempotent(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	require.NoError(t, b.DeleteNamespace(ctx, "never-existed"))
}

func TestUpdateEntitiesWithoutConflictResolution(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	ns, err := b.CreateNamespace(ctx, "ns1")
	require.NoError(t, err)

	updates, err := b.UpdateEntities(ctx, ns.ID, []kschema.Entity{
		{Type: kschema.EntityTypeGuideline, Content: "always verify input", Metadata: map[string]any{"k": "v"}},
	}, false)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	require.Equal(t, kschema.EventAdd, updates[0].Event)
	require.NotEmpty(t, updates[0].ID)

	results, err := b.SearchEntities(ctx, ns.ID, store.Filter{Query: "verify"})
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestSearchFilterChecksTopLevelBeforeMetadata(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	ns, err := b.CreateNamespace(ctx, "ns2")
	require.NoError(t, err)

	_, err = b.UpdateEntities(ctx, ns.ID, []kschema.Entity{
		{Type: "guideline", Content: "a", Metadata: map[string]any{"type": "metadata-type-value"}},
	}, false)
	require.NoError(t, err)

	results, err := b.SearchEntities(ctx, ns.ID, store.Filter{Type: "guideline"})
	require.NoError(t, err)
	require.Len(t, results, 1)

	// A "type" key in a metadata filter resolves to the top-level field,
	// not the metadata value of the same name.
	results, err = b.SearchEntities(ctx, ns.ID, store.Filter{Metadata: map[string]any{"type": "guideline"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestGetNamespacePopulatesNumEntities(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	ns, err := b.CreateNamespace(ctx, "ns4")
	require.NoError(t, err)

	got, err := b.GetNamespace(ctx, ns.ID)
	require.NoError(t, err)
	require.EqualValues(t, 0, got.NumEntities)

	_, err = b.UpdateEntities(ctx, ns.ID, []kschema.Entity{
		{Type: "guideline", Content: "a"},
		{Type: "guideline", Content: "b"},
	}, false)
	require.NoError(t, err)

	got, err = b.GetNamespace(ctx, ns.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, got.NumEntities)
}

func TestListNamespacesRespectsLimit(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := b.CreateNamespace(ctx, "")
		require.NoError(t, err)
	}

	all, err := b.ListNamespaces(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)

	limited, err := b.ListNamespaces(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
}

func TestDeleteEntityNotFound(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	ns, err := b.CreateNamespace(ctx, "ns3")
	require.NoError(t, err)

	err = b.DeleteEntity(ctx, ns.ID, "999")
	require.Error(t, err)
	var storeErr *kschema.StoreError
	require.True(t, errors.As(err, &storeErr))
}

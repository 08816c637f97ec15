package facade

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/kaizen/internal/kschema"
	"github.com/rakunlabs/kaizen/internal/store"
)

type fakeBackend struct {
	store.Backend
	namespaces     map[string]*kschema.Namespace
	deleteErr      error
	createCalls    int
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
	f.createCalls++
	if _, ok := f.namespaces[name]; ok {
		return nil, &kschema.NamespaceAlreadyExistsError{Namespace: name}
	}
	ns := &kschema.Namespace{ID: name, Name: name}
	f.namespaces[name] = ns
	return ns, nil
}

func (f *fakeBackend) DeleteNamespace(ctx context.Context, id string) error {
	return f.deleteErr
}

func TestEnsureNamespaceCreatesWhenMissing(t *testing.T) {
	backend := newFakeBackend()
	f := New(backend, nil)

	ns, err := f.EnsureNamespace(context.Background(), "ns1")
	require.NoError(t, err)
	require.Equal(t, "ns1", ns.ID)
	require.Equal(t, 1, backend.createCalls)

	ns2, err := f.EnsureNamespace(context.Background(), "ns1")
	require.NoError(t, err)
	require.Equal(t, "ns1", ns2.ID)
	require.Equal(t, 1, backend.createCalls)
}

func TestDeleteNamespaceNormalizesNotFoundToSuccess(t *testing.T) {
	backend := newFakeBackend()
	backend.deleteErr = &kschema.NamespaceNotFoundError{Namespace: "missing"}
	f := New(backend, nil)

	err := f.DeleteNamespace(context.Background(), "missing")
	require.NoError(t, err)
}

func TestNamespaceExists(t *testing.T) {
	backend := newFakeBackend()
	backend.namespaces["ns1"] = &kschema.Namespace{ID: "ns1"}
	f := New(backend, nil)

	exists, err := f.NamespaceExists(context.Background(), "ns1")
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = f.NamespaceExists(context.Background(), "absent")
	require.NoError(t, err)
	require.False(t, exists)
}

package clustering

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/kaizen/internal/kschema"
	"github.com/rakunlabs/kaizen/internal/llmgateway"
	"github.com/rakunlabs/kaizen/internal/store"
)

type fakeBackend struct {
	store.Backend
	entities []kschema.RecordedEntity
	deleted  []string
	inserted []kschema.Entity
}

func (f *fakeBackend) SearchEntities(ctx context.Context, namespaceID string, filter store.Filter) ([]kschema.RecordedEntity, error) {
	return f.entities, nil
}

func (f *fakeBackend) UpdateEntities(ctx context.Context, namespaceID string, entities []kschema.Entity, resolve bool) ([]kschema.EntityUpdate, error) {
	f.inserted = append(f.inserted, entities...)
	return nil, nil
}

func (f *fakeBackend) DeleteEntity(ctx context.Context, namespaceID, entityID string) error {
	f.deleted = append(f.deleted, entityID)
	return nil
}

// fakeEmbedder returns a fixed vector per distinct text so similarity is
// deterministic in tests: texts sharing a vector cluster together.
type fakeEmbedder struct {
	vectors map[string][]float32
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vectors[text], nil
}

func (f *fakeEmbedder) Dimension() int { return 2 }

type fakeProvider struct {
	response string
}

func (f *fakeProvider) Complete(ctx context.Context, model, systemPrompt, userPrompt string, schema map[string]any) (string, error) {
	return f.response, nil
}

func TestClusterTipsGroupsSimilarEntitiesAndExcludesSingletons(t *testing.T) {
	entities := []kschema.RecordedEntity{
		{ID: "1", Type: "guideline", Content: "a", Metadata: map[string]any{"task_description": "book a flight"}},
		{ID: "2", Type: "guideline", Content: "b", Metadata: map[string]any{"task_description": "book a flight to paris"}},
		{ID: "3", Type: "guideline", Content: "c", Metadata: map[string]any{"task_description": "completely unrelated task"}},
		{ID: "4", Type: "guideline", Content: "d", Metadata: map[string]any{}},
	}

	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"book a flight":              {1, 0},
		"book a flight to paris":     {0.99, 0.01},
		"completely unrelated task":  {0, 1},
	}}

	backend := &fakeBackend{entities: entities}
	c := New(backend, embedder, llmgateway.New(&fakeProvider{}, nil), "test-model", 0)

	clusters, err := c.ClusterTips(context.Background(), "ns1", 0.8)
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	require.Len(t, clusters[0], 2)
}

func TestClusterTipsThresholdIsInclusive(t *testing.T) {
	entities := []kschema.RecordedEntity{
		{ID: "1", Type: "guideline", Content: "a", Metadata: map[string]any{"task_description": "same"}},
		{ID: "2", Type: "guideline", Content: "b", Metadata: map[string]any{"task_description": "same"}},
	}

	// Identical vectors give cosine similarity of exactly 1.0; a threshold
	// of 1.0 must still cluster them, not exclude on a strict ">".
	embedder := &fakeEmbedder{vectors: map[string][]float32{"same": {1, 0}}}

	backend := &fakeBackend{entities: entities}
	c := New(backend, embedder, llmgateway.New(&fakeProvider{}, nil), "test-model", 0)

	clusters, err := c.ClusterTips(context.Background(), "ns1", 1.0)
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	require.Len(t, clusters[0], 2)
}

func TestConsolidateTipsTwoPhaseCommit(t *testing.T) {
	entities := []kschema.RecordedEntity{
		{ID: "1", Type: "guideline", Content: "check path", Metadata: map[string]any{"task_description": "rename file", "rationale": "r1", "category": "strategy", "trigger": "always"}},
		{ID: "2", Type: "guideline", Content: "check perms", Metadata: map[string]any{"task_description": "rename file", "rationale": "r2", "category": "strategy", "trigger": "always"}},
	}

	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"rename file": {1, 0},
	}}

	provider := &fakeProvider{response: `{"tips": [{"content": "merged tip", "rationale": "combined", "category": "strategy", "trigger": "always"}]}`}
	backend := &fakeBackend{entities: entities}
	c := New(backend, embedder, llmgateway.New(provider, []string{"test-model"}), "test-model", 0)

	result, err := c.ConsolidateTips(context.Background(), "ns1", 0.8)
	require.NoError(t, err)
	require.Equal(t, 1, result.ClustersFound)
	require.Equal(t, 2, result.TipsBefore)
	require.Equal(t, 1, result.TipsAfter)
	require.Len(t, backend.inserted, 1)
	require.ElementsMatch(t, []string{"1", "2"}, backend.deleted)
}

func TestConsolidateTipsSkipsClusterOnZeroMergedTips(t *testing.T) {
	entities := []kschema.RecordedEntity{
		{ID: "1", Type: "guideline", Content: "a", Metadata: map[string]any{"task_description": "x"}},
		{ID: "2", Type: "guideline", Content: "b", Metadata: map[string]any{"task_description": "x"}},
	}

	embedder := &fakeEmbedder{vectors: map[string][]float32{"x": {1, 0}}}
	provider := &fakeProvider{response: `{"tips": []}`}
	backend := &fakeBackend{entities: entities}
	c := New(backend, embedder, llmgateway.New(provider, []string{"test-model"}), "test-model", 0)

	result, err := c.ConsolidateTips(context.Background(), "ns1", 0.8)
	require.NoError(t, err)
	require.Equal(t, 0, result.ClustersFound)
	require.Empty(t, backend.deleted)
	require.Empty(t, backend.inserted)
}

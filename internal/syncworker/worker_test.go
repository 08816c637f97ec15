package syncworker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/kaizen/internal/config"
	"github.com/rakunlabs/kaizen/internal/facade"
	"github.com/rakunlabs/kaizen/internal/kschema"
	"github.com/rakunlabs/kaizen/internal/llmgateway"
	"github.com/rakunlabs/kaizen/internal/store"
	"github.com/rakunlabs/kaizen/internal/tips"
)

type fakeFetcher struct {
	spans []Span
}

func (f *fakeFetcher) FetchSpans(ctx context.Context, project, cursor string, limit int) ([]Span, string, error) {
	return f.spans, "", nil
}

type fakeBackend struct {
	store.Backend
	namespaces map[string]bool
	entities   []kschema.RecordedEntity
	inserted   []kschema.Entity
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{namespaces: map[string]bool{}}
}

func (f *fakeBackend) GetNamespace(ctx context.Context, id string) (*kschema.Namespace, error) {
	if !f.namespaces[id] {
		return nil, &kschema.NamespaceNotFoundError{Namespace: id}
	}
	return &kschema.Namespace{ID: id}, nil
}

func (f *fakeBackend) CreateNamespace(ctx context.Context, name string) (*kschema.Namespace, error) {
	f.namespaces[name] = true
	return &kschema.Namespace{ID: name}, nil
}

func (f *fakeBackend) SearchEntities(ctx context.Context, namespaceID string, filter store.Filter) ([]kschema.RecordedEntity, error) {
	var out []kschema.RecordedEntity
	for _, e := range f.entities {
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeBackend) UpdateEntities(ctx context.Context, namespaceID string, entities []kschema.Entity, resolve bool) ([]kschema.EntityUpdate, error) {
	f.inserted = append(f.inserted, entities...)
	return nil, nil
}

type fakeProvider struct {
	response string
}

func (f *fakeProvider) Complete(ctx context.Context, model, systemPrompt, userPrompt string, schema map[string]any) (string, error) {
	return f.response, nil
}

func TestWorkerRunProcessesNewSpanAndSkipsAlreadyProcessed(t *testing.T) {
	span := Span{
		SpanID:     "span-1",
		TraceID:    "trace-1",
		Name:       "litellm_request",
		StatusCode: "OK",
		Attributes: map[string]any{
			"gen_ai.prompt.0.role":        "user",
			"gen_ai.prompt.0.content":     "rename the report file",
			"gen_ai.completion.0.role":    "assistant",
			"gen_ai.completion.0.content": "done",
		},
	}

	backend := newFakeBackend()
	provider := &fakeProvider{response: `{"tips": [{"content": "verify path", "rationale": "avoid errors", "category": "strategy", "trigger": "always"}]}`}
	gw := llmgateway.New(provider, []string{"test-model"})
	tipGen := tips.New(gw, "test-model")
	f := facade.New(backend, nil)

	worker := &Worker{
		cfg: testSyncConfig(),
		fetcher: &fakeFetcher{spans: []Span{span}},
		facade:  f,
		tipGen:  tipGen,
	}

	result, err := worker.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Processed)
	require.Equal(t, 1, result.TipsGenerated)
	require.Empty(t, result.Errors)

	// A trajectory entity and a guideline entity were persisted.
	require.Len(t, backend.inserted, 2)
	require.Equal(t, kschema.EntityTypeTrajectory, backend.inserted[0].Type)
	require.Equal(t, kschema.EntityTypeGuideline, backend.inserted[1].Type)

	// Mark the span as already processed and rerun: it should be skipped.
	backend.entities = append(backend.entities, kschema.RecordedEntity{
		Type:     kschema.EntityTypeTrajectory,
		Metadata: map[string]any{"span_id": "span-1"},
	})
	backend.inserted = nil

	result2, err := worker.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, result2.Processed)
	require.Equal(t, 1, result2.Skipped)
	require.Empty(t, backend.inserted)
}

func TestWorkerRunDropsErrorStatusSpans(t *testing.T) {
	span := Span{
		SpanID:     "span-err",
		Name:       "litellm_request",
		StatusCode: "ERROR",
		Attributes: map[string]any{"gen_ai.prompt.0.role": "user", "gen_ai.prompt.0.content": "x"},
	}

	backend := newFakeBackend()
	gw := llmgateway.New(&fakeProvider{}, nil)
	worker := &Worker{
		cfg:     testSyncConfig(),
		fetcher: &fakeFetcher{spans: []Span{span}},
		facade:  facade.New(backend, nil),
		tipGen:  tips.New(gw, "test-model"),
	}

	result, err := worker.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, result.Processed)
	require.Equal(t, 1, result.Skipped)
}

func TestWorkerRunIncludesErrorSpansWhenOptedIn(t *testing.T) {
	span := Span{
		SpanID:     "span-err",
		Name:       "litellm_request",
		StatusCode: "ERROR",
		Attributes: map[string]any{"gen_ai.prompt.0.role": "user", "gen_ai.prompt.0.content": "x"},
	}

	backend := newFakeBackend()
	provider := &fakeProvider{response: `{"tips": []}`}
	gw := llmgateway.New(provider, []string{"test-model"})
	cfg := testSyncConfig()
	cfg.IncludeErrorSpans = true
	worker := &Worker{
		cfg:     cfg,
		fetcher: &fakeFetcher{spans: []Span{span}},
		facade:  facade.New(backend, nil),
		tipGen:  tips.New(gw, "test-model"),
	}

	result, err := worker.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Processed)
	require.Equal(t, 0, result.Skipped)
}

func testSyncConfig() config.Sync {
	return config.Sync{
		Namespace:      "sync-ns",
		Project:        "default",
		SpanName:       "litellm_request",
		PageSize:       100,
		AlertThreshold: 5,
	}
}

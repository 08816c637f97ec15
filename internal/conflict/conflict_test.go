package conflict

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/kaizen/internal/kschema"
	"github.com/rakunlabs/kaizen/internal/llmgateway"
)

type fakeProvider struct {
	responses []string
	calls     int
}

func (f *fakeProvider) Complete(ctx context.Context, model, systemPrompt, userPrompt string, schema map[string]any) (string, error) {
	resp := f.responses[f.calls]
	f.calls++
	return resp, nil
}

func TestResolveReattachesMetadataOnAdd(t *testing.T) {
	fp := &fakeProvider{responses: []string{
		`{"entities": [{"event": "ADD", "id": "Unprocessed_Entity_0", "type": "guideline", "content": "always check x"}]}`,
	}}
	gw := llmgateway.New(fp, []string{"test-model"})
	resolver := New(gw, "test-model")

	newEntities := []kschema.RecordedEntity{
		{ID: PlaceholderID(0), Type: "guideline", Content: "always check x", Metadata: map[string]any{"source": "trace-1"}},
	}

	updates, err := resolver.Resolve(context.Background(), nil, newEntities)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	require.Equal(t, kschema.EventAdd, updates[0].Event)
	require.Equal(t, "trace-1", updates[0].Metadata["source"])
}

func TestResolveUnknownAddIDBecomesNone(t *testing.T) {
	fp := &fakeProvider{responses: []string{
		`{"entities": [{"event": "ADD", "id": "does_not_exist", "type": "guideline", "content": "x"}]}`,
	}}
	gw := llmgateway.New(fp, []string{"test-model"})
	resolver := New(gw, "test-model")

	updates, err := resolver.Resolve(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	require.Equal(t, kschema.EventNone, updates[0].Event)
}

func TestResolveRetriesOnMalformedResponse(t *testing.T) {
	fp := &fakeProvider{responses: []string{
		`not json`,
		`{"entities": []}`,
	}}
	gw := llmgateway.New(fp, []string{"test-model"})
	resolver := New(gw, "test-model")

	updates, err := resolver.Resolve(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Empty(t, updates)
	require.Equal(t, 2, fp.calls)
}

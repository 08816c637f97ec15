package tips

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/kaizen/internal/llmgateway"
	"github.com/rakunlabs/kaizen/internal/trajectory"
)

type fakeProvider struct {
	response string
	err      error
}

func (f *fakeProvider) Complete(ctx context.Context, model, systemPrompt, userPrompt string, schema map[string]any) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func messages() []trajectory.Message {
	return []trajectory.Message{
		{Role: "user", Content: "rename the report file"},
		{Role: "assistant", Content: "I'll find the file first."},
	}
}

func TestGenerateReturnsTips(t *testing.T) {
	fp := &fakeProvider{response: `{"tips": [{"content": "check path exists", "rationale": "avoids ENOENT", "category": "filesystem", "trigger": "always"}]}`}
	gw := llmgateway.New(fp, []string{"test-model"})
	gen := New(gw, "test-model")

	result, err := gen.Generate(context.Background(), messages())
	require.NoError(t, err)
	require.Equal(t, "rename the report file", result.TaskDescription)
	require.Len(t, result.Tips, 1)
	require.Equal(t, "check path exists", result.Tips[0].Content)
}

func TestGenerateMalformedResponseReturnsEmptyTipsNotError(t *testing.T) {
	fp := &fakeProvider{response: "not json at all"}
	gw := llmgateway.New(fp, []string{"test-model"})
	gen := New(gw, "test-model")

	result, err := gen.Generate(context.Background(), messages())
	require.NoError(t, err)
	require.Empty(t, result.Tips)
	require.Equal(t, "rename the report file", result.TaskDescription)
}

func TestGenerateProviderErrorReturnsEmptyTipsNotError(t *testing.T) {
	fp := &fakeProvider{err: context.DeadlineExceeded}
	gw := llmgateway.New(fp, []string{"test-model"})
	gen := New(gw, "test-model")

	result, err := gen.Generate(context.Background(), messages())
	require.NoError(t, err)
	require.Empty(t, result.Tips)
}

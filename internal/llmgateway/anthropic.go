package llmgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/worldline-go/klient"
)

const anthropicDefaultBaseURL = "https://api.anthropic.com"

// AnthropicProvider talks to Anthropic's messages endpoint.
type AnthropicProvider struct {
	client *klient.Client
}

func NewAnthropicProvider(apiKey, baseURL string) (*AnthropicProvider, error) {
	if baseURL == "" {
		baseURL = anthropicDefaultBaseURL
	}

	client, err := klient.New(
		klient.WithBaseURL(baseURL),
		klient.WithLogger(slog.Default()),
		klient.WithHeaderSet(http.Header{
			"X-Api-Key":         []string{apiKey},
			"Anthropic-Version": []string{"2023-06-01"},
			"Content-Type":      []string{"application/json"},
		}),
	)
	if err != nil {
		return nil, err
	}

	return &AnthropicProvider{client: client}, nil
}

type anthropicResponse struct {
	Type    string               `json:"type"`
	Error   anthropicError       `json:"error"`
	Content []anthropicContent   `json:"content"`
}

type anthropicError struct {
	Message string `json:"message"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Complete ignores schema — Anthropic's messages API has no native
// constrained-JSON mode (SanitizeSchema-equivalent prompt injection of the
// schema into the user prompt is the caller's job, same as the
// conflict-resolution/tip-generation prompt templates already do). The
// gateway picks its mode by model name alone, so a model listed in
// SupportsSchema gets this provider's raw text back without Clean.
func (p *AnthropicProvider) Complete(ctx context.Context, model, systemPrompt, userPrompt string, schema map[string]any) (string, error) {
	reqBody := map[string]any{
		"model":      model,
		"max_tokens": 4096,
		"messages": []map[string]any{
			{"role": "user", "content": userPrompt},
		},
	}
	if systemPrompt != "" {
		reqBody["system"] = systemPrompt
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/v1/messages", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", err
	}

	var result anthropicResponse
	if err := p.client.Do(req, func(r *http.Response) error {
		bodyData, err := io.ReadAll(r.Body)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(bodyData, &result); err != nil {
			return fmt.Errorf("failed to decode response: %w (body: %s)", err, string(bodyData))
		}
		return nil
	}); err != nil {
		return "", err
	}

	if result.Type == "error" {
		return "", fmt.Errorf("anthropic error: %s", result.Error.Message)
	}

	var out string
	for _, block := range result.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}

	return out, nil
}

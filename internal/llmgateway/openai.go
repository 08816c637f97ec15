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

const openAIDefaultBaseURL = "https://api.openai.com/v1/chat/completions"

// OpenAIProvider talks to OpenAI's chat completions endpoint, or any
// OpenAI-compatible one, the same way the gateway's conflict-resolution and
// tip-generation prompts are built in the rest of the ecosystem.
type OpenAIProvider struct {
	client *klient.Client
}

func NewOpenAIProvider(apiKey, baseURL string) (*OpenAIProvider, error) {
	if baseURL == "" {
		baseURL = openAIDefaultBaseURL
	}

	headers := http.Header{"Content-Type": []string{"application/json"}}
	if apiKey != "" {
		headers["Authorization"] = []string{"Bearer " + apiKey}
	}

	client, err := klient.New(
		klient.WithBaseURL(baseURL),
		klient.WithLogger(slog.Default()),
		klient.WithHeaderSet(headers),
		klient.WithDisableRetry(true),
		klient.WithDisableEnvValues(true),
	)
	if err != nil {
		return nil, err
	}

	return &OpenAIProvider{client: client}, nil
}

type openAIResponse struct {
	Error   *openAIError    `json:"error,omitempty"`
	Choices []openAIChoice  `json:"choices"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type openAIChoice struct {
	Message openAIChoiceMessage `json:"message"`
}

type openAIChoiceMessage struct {
	Content string `json:"content"`
}

func (p *OpenAIProvider) Complete(ctx context.Context, model, systemPrompt, userPrompt string, schema map[string]any) (string, error) {
	messages := []map[string]any{}
	if systemPrompt != "" {
		messages = append(messages, map[string]any{"role": "system", "content": systemPrompt})
	}
	messages = append(messages, map[string]any{"role": "user", "content": userPrompt})

	reqBody := map[string]any{
		"model":    model,
		"messages": messages,
	}
	if schema != nil {
		reqBody["response_format"] = map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "kaizen_response",
				"schema": schema,
				"strict": true,
			},
		}
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", err
	}

	var result openAIResponse
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

	if result.Error != nil {
		return "", fmt.Errorf("provider error: %s", result.Error.Message)
	}

	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no response choices from provider")
	}

	return result.Choices[0].Message.Content, nil
}

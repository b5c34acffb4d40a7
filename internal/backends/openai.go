package backends

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pelangihq/intentd/pkg/models"
)

// OpenAICompatDriver speaks the generic OpenAI-compatible chat completions
// wire format. It covers hosted OpenAI itself and any proxy or self-hosted
// server exposing the same API.
type OpenAICompatDriver struct {
	client *http.Client
}

// NewOpenAICompatDriver creates the driver. The shared client carries no
// timeout of its own; every call is bounded by the request context.
func NewOpenAICompatDriver(client *http.Client) *OpenAICompatDriver {
	return &OpenAICompatDriver{client: client}
}

func (d *OpenAICompatDriver) Kind() models.BackendKind { return models.KindOpenAICompat }

type chatCompletionsRequest struct {
	Model          string               `json:"model"`
	Messages       []models.ChatMessage `json:"messages"`
	MaxTokens      int                  `json:"max_tokens,omitempty"`
	Temperature    float64              `json:"temperature,omitempty"`
	ResponseFormat *responseFormat      `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionsResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Chat sends one chat completions request and returns the first choice.
func (d *OpenAICompatDriver) Chat(ctx context.Context, backend *models.Backend, messages []models.ChatMessage, params models.GenerateParams) (string, error) {
	endpoint := backend.Endpoint
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1"
	}

	key, ok := backend.ResolveCredential()
	if !ok {
		return "", &CallError{Backend: backend.ID, Err: ErrNoCredential}
	}

	payload := chatCompletionsRequest{
		Model:       backend.Model,
		Messages:    messages,
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
	}
	if params.Structured {
		payload.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", &CallError{Backend: backend.ID, Err: fmt.Errorf("marshal request: %w", err)}
	}

	url := endpoint + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", &CallError{Backend: backend.ID, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", &CallError{Backend: backend.ID, Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", &CallError{
			Backend: backend.ID,
			Status:  resp.StatusCode,
			Err:     fmt.Errorf("%s", truncate(respBody, 512)),
		}
	}

	var out chatCompletionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &CallError{Backend: backend.ID, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return "", &CallError{Backend: backend.ID, Err: ErrEmptyReply}
	}
	return out.Choices[0].Message.Content, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}

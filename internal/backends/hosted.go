package backends

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pelangihq/intentd/pkg/models"
)

// HostedDriver speaks the Anthropic-style messages API used by key-based
// hosted backends. A leading system message is lifted into the top-level
// system field as the wire format requires.
type HostedDriver struct {
	client *http.Client
}

// NewHostedDriver creates the driver.
func NewHostedDriver(client *http.Client) *HostedDriver {
	return &HostedDriver{client: client}
}

func (d *HostedDriver) Kind() models.BackendKind { return models.KindHosted }

type hostedRequest struct {
	Model       string               `json:"model"`
	System      string               `json:"system,omitempty"`
	Messages    []models.ChatMessage `json:"messages"`
	MaxTokens   int                  `json:"max_tokens"`
	Temperature float64              `json:"temperature,omitempty"`
}

type hostedResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Chat sends one messages request and concatenates the text blocks.
func (d *HostedDriver) Chat(ctx context.Context, backend *models.Backend, messages []models.ChatMessage, params models.GenerateParams) (string, error) {
	endpoint := backend.Endpoint
	if endpoint == "" {
		endpoint = "https://api.anthropic.com"
	}

	key, ok := backend.ResolveCredential()
	if !ok || key == "" {
		return "", &CallError{Backend: backend.ID, Err: ErrNoCredential}
	}

	system := ""
	if len(messages) > 0 && messages[0].Role == "system" {
		system = messages[0].Content
		messages = messages[1:]
	}
	if params.Structured {
		system = strings.TrimSpace(system + "\nRespond with a single JSON object and nothing else.")
	}

	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	body, err := json.Marshal(hostedRequest{
		Model:       backend.Model,
		System:      system,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: params.Temperature,
	})
	if err != nil {
		return "", &CallError{Backend: backend.ID, Err: fmt.Errorf("marshal request: %w", err)}
	}

	url := endpoint + "/v1/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", &CallError{Backend: backend.ID, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", key)
	req.Header.Set("anthropic-version", "2023-06-01")

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

	var out hostedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &CallError{Backend: backend.ID, Err: fmt.Errorf("decode response: %w", err)}
	}

	var sb strings.Builder
	for _, c := range out.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	if sb.Len() == 0 {
		return "", &CallError{Backend: backend.ID, Err: ErrEmptyReply}
	}
	return sb.String(), nil
}

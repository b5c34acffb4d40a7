package backends

import (
	"context"
	"net/http"

	"github.com/pelangihq/intentd/pkg/models"
)

// LocalDriver targets a self-hosted Ollama runtime through its
// OpenAI-compatible endpoint. No credential is required.
type LocalDriver struct {
	compat *OpenAICompatDriver
}

// NewLocalDriver creates the driver.
func NewLocalDriver(client *http.Client) *LocalDriver {
	return &LocalDriver{compat: NewOpenAICompatDriver(client)}
}

func (d *LocalDriver) Kind() models.BackendKind { return models.KindLocal }

// Chat sends one request to the local runtime.
func (d *LocalDriver) Chat(ctx context.Context, backend *models.Backend, messages []models.ChatMessage, params models.GenerateParams) (string, error) {
	local := *backend
	if local.Endpoint == "" {
		local.Endpoint = "http://localhost:11434/v1"
	}
	local.Credential = models.CredentialNone
	return d.compat.Chat(ctx, &local, messages, params)
}

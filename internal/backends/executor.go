package backends

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pelangihq/intentd/pkg/contracts"
	"github.com/pelangihq/intentd/pkg/models"
	"github.com/rs/zerolog/log"
)

// DefaultChatTimeout bounds one standard generation call.
const DefaultChatTimeout = 60 * time.Second

// Executor dispatches one chat call to the driver matching the backend's
// kind, bounded by a context deadline. It holds no retry or fallback
// logic and no per-backend state beyond the shared HTTP client.
type Executor struct {
	drivers map[models.BackendKind]contracts.BackendDriver
	timeout time.Duration
}

// ExecutorOption configures the executor.
type ExecutorOption func(*Executor)

// WithTimeout overrides the default per-call timeout.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.timeout = d }
}

// WithDriver registers or replaces the driver for its kind.
func WithDriver(d contracts.BackendDriver) ExecutorOption {
	return func(e *Executor) { e.drivers[d.Kind()] = d }
}

// NewExecutor creates an executor with the three built-in drivers sharing
// one HTTP client. The client itself carries no timeout; deadlines come
// from the per-call context so an expired call aborts the connection.
func NewExecutor(opts ...ExecutorOption) *Executor {
	client := &http.Client{}
	e := &Executor{
		drivers: map[models.BackendKind]contracts.BackendDriver{},
		timeout: DefaultChatTimeout,
	}
	for _, d := range []contracts.BackendDriver{
		NewHostedDriver(client),
		NewLocalDriver(client),
		NewOpenAICompatDriver(client),
	} {
		e.drivers[d.Kind()] = d
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Chat issues exactly one request to the backend and returns the reply
// text. If ctx has no deadline the executor's timeout is applied.
func (e *Executor) Chat(ctx context.Context, backend *models.Backend, messages []models.ChatMessage, params models.GenerateParams) (string, error) {
	driver, ok := e.drivers[backend.Kind]
	if !ok {
		return "", &CallError{Backend: backend.ID, Err: fmt.Errorf("no driver for kind %q", backend.Kind)}
	}

	if _, has := ctx.Deadline(); !has {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	reply, err := driver.Chat(ctx, backend, messages, params)
	elapsed := time.Since(start)

	if err != nil {
		log.Debug().
			Str("backend", backend.ID).
			Str("kind", string(backend.Kind)).
			Dur("elapsed", elapsed).
			Err(err).
			Msg("Chat call failed")
		return "", err
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", &CallError{Backend: backend.ID, Err: ErrEmptyReply}
	}
	return reply, nil
}

// Test sends a minimal one-token request to validate the backend's
// credential and reachability.
func (e *Executor) Test(ctx context.Context, backend *models.Backend) *models.BackendTestResult {
	result := &models.BackendTestResult{ID: backend.ID}

	testCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	start := time.Now()
	reply, err := e.Chat(testCtx, backend, []models.ChatMessage{
		{Role: "user", Content: "Say OK"},
	}, models.GenerateParams{MaxTokens: 8})
	result.Latency = time.Since(start)

	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.OK = true
	result.SampleReply = reply
	return result
}

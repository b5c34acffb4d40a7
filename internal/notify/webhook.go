package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pelangihq/intentd/pkg/models"
)

// WebhookDriver posts events as JSON to a webhook URL with optional
// HMAC-SHA256 signing.
type WebhookDriver struct {
	url    string
	secret string
	client *http.Client
	// sleep is swapped out in tests to avoid real backoff waits.
	sleep func(time.Duration)
}

// NewWebhookDriver creates the webhook channel driver.
func NewWebhookDriver(url, secret string, client *http.Client) *WebhookDriver {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &WebhookDriver{url: url, secret: secret, client: client, sleep: time.Sleep}
}

// Kind returns "webhook".
func (d *WebhookDriver) Kind() string {
	return "webhook"
}

// Send posts the event with up to 3 attempts and linear backoff.
func (d *WebhookDriver) Send(ctx context.Context, event models.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			d.sleep(time.Duration(attempt*2) * time.Second)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "intentd-webhook/1.0")
		req.Header.Set("X-Intentd-Event", string(event.Type))
		if d.secret != "" {
			mac := hmac.New(sha256.New, []byte(d.secret))
			mac.Write(body)
			req.Header.Set("X-Intentd-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))
		}

		resp, err := d.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("webhook HTTP %d from %s", resp.StatusCode, d.url)
	}
	return fmt.Errorf("webhook failed after 3 attempts: %w", lastErr)
}

// Package notify dispatches engine events (rate-limit alerts, circuit
// transitions, repeated-intent escalations, daily reports) to registered
// channel drivers. The built-in driver posts JSON to a webhook URL with
// optional HMAC-SHA256 signing.
package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pelangihq/intentd/pkg/contracts"
	"github.com/pelangihq/intentd/pkg/models"
	"github.com/rs/zerolog/log"
)

// Dispatcher fans events out to every registered channel driver.
type Dispatcher struct {
	drvMu   sync.RWMutex
	drivers map[string]contracts.ChannelDriver
}

// NewDispatcher creates a dispatcher with no channels registered.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{drivers: make(map[string]contracts.ChannelDriver)}
}

// NewWebhookDispatcher creates a dispatcher with the built-in webhook
// driver when a URL is configured, or an empty one otherwise.
func NewWebhookDispatcher(url, secret string) *Dispatcher {
	d := NewDispatcher()
	if url != "" {
		d.RegisterDriver(NewWebhookDriver(url, secret, &http.Client{Timeout: 15 * time.Second}))
	}
	return d
}

// RegisterDriver adds or replaces a channel driver for its kind.
func (d *Dispatcher) RegisterDriver(driver contracts.ChannelDriver) {
	d.drvMu.Lock()
	defer d.drvMu.Unlock()
	d.drivers[driver.Kind()] = driver
	log.Info().Str("kind", driver.Kind()).Msg("Registered notification channel driver")
}

// Dispatch sends the event to every registered channel concurrently.
// Delivery failures are logged, never returned; notification is best
// effort and must not block the request path on errors.
func (d *Dispatcher) Dispatch(ctx context.Context, event models.Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	d.drvMu.RLock()
	drivers := make([]contracts.ChannelDriver, 0, len(d.drivers))
	for _, drv := range d.drivers {
		drivers = append(drivers, drv)
	}
	d.drvMu.RUnlock()

	var wg sync.WaitGroup
	for _, drv := range drivers {
		wg.Add(1)
		go func(drv contracts.ChannelDriver) {
			defer wg.Done()
			if err := drv.Send(ctx, event); err != nil {
				log.Warn().Err(err).
					Str("kind", drv.Kind()).
					Str("event", string(event.Type)).
					Msg("Channel notification failed")
				return
			}
			log.Info().
				Str("kind", drv.Kind()).
				Str("event", string(event.Type)).
				Msg("Notification dispatched")
		}(drv)
	}
	wg.Wait()
}

// Package backends implements the chat drivers for the three supported
// backend kinds and the executor that issues one timed request against one
// backend. Drivers never retry: failures are surfaced as typed errors so
// the resilience layer can tell rate limits from generic faults, and the
// fallback orchestrator decides what to try next.
package backends

import (
	"errors"
	"fmt"
	"net/http"
)

// CallError is a typed failure from one backend call. Status carries the
// upstream HTTP status (0 for transport errors and timeouts) so callers can
// classify rate limits separately from generic failures.
type CallError struct {
	Backend string
	Status  int
	Err     error
}

func (e *CallError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("backend %s: status %d: %v", e.Backend, e.Status, e.Err)
	}
	return fmt.Sprintf("backend %s: %v", e.Backend, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// RateLimited reports whether the failure was an explicit upstream
// throttling signal.
func (e *CallError) RateLimited() bool {
	return e.Status == http.StatusTooManyRequests
}

// IsRateLimited reports whether err is a rate-limit CallError.
func IsRateLimited(err error) bool {
	var ce *CallError
	return errors.As(err, &ce) && ce.RateLimited()
}

// ErrNoCredential is returned when a backend needs a key that cannot be
// resolved.
var ErrNoCredential = errors.New("no resolvable credential")

// ErrEmptyReply is returned when a backend answers successfully but with
// no content.
var ErrEmptyReply = errors.New("empty reply")

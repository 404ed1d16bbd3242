package transport

import (
	"context"

	"github.com/c360/coordinator/pkg/retry"
)

// RetrySender wraps another Sender with exponential backoff on transient
// failures. Invalid and fatal errors are surfaced immediately; only
// transport-level flakiness is retried. This sits below the router, which
// itself never retries a delivery.
type RetrySender struct {
	next Sender
	cfg  retry.Config
}

// NewRetrySender wraps a sender with backoff. A zero config uses the retry
// package defaults.
func NewRetrySender(next Sender, cfg retry.Config) *RetrySender {
	if cfg.MaxAttempts == 0 {
		cfg = retry.DefaultConfig()
	}
	return &RetrySender{next: next, cfg: cfg}
}

// Send delivers with backoff until success, a non-retryable error, or the
// attempt budget runs out. Classification is handled by the retry package:
// invalid and fatal errors fail immediately, everything else backs off.
func (r *RetrySender) Send(ctx context.Context, endpoint string, data []byte) error {
	return retry.Do(ctx, r.cfg, func() error {
		return r.next.Send(ctx, endpoint, data)
	})
}

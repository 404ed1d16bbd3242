package transport

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sony/gobreaker"
)

// BreakerSender wraps another Sender with one circuit breaker per endpoint.
// Repeated delivery failures to a single service open that service's
// circuit, shedding further sends quickly instead of piling up timeouts;
// other services are unaffected.
type BreakerSender struct {
	next     Sender
	logger   *slog.Logger
	settings gobreaker.Settings

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakerSender wraps a sender with per-endpoint circuit breaking
func NewBreakerSender(next Sender, logger *slog.Logger) *BreakerSender {
	if logger == nil {
		logger = slog.Default().With("component", "transport")
	}
	b := &BreakerSender{
		next:     next,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
	b.settings = gobreaker.Settings{
		Name: "delivery",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("delivery circuit state changed",
				"endpoint", name, "from", from.String(), "to", to.String())
		},
	}
	return b
}

func (b *BreakerSender) breaker(endpoint string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()

	cb, ok := b.breakers[endpoint]
	if !ok {
		settings := b.settings
		settings.Name = endpoint
		cb = gobreaker.NewCircuitBreaker(settings)
		b.breakers[endpoint] = cb
	}
	return cb
}

// Send delivers through the endpoint's circuit breaker
func (b *BreakerSender) Send(ctx context.Context, endpoint string, data []byte) error {
	_, err := b.breaker(endpoint).Execute(func() (any, error) {
		return nil, b.next.Send(ctx, endpoint, data)
	})
	return err
}

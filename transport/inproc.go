package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/c360/coordinator/errors"
)

// DefaultInboxSize is the buffer of each in-process inbox
const DefaultInboxSize = 256

// Inproc delivers messages to channel-backed inboxes within the same
// process. It is the default transport for single-process deployments and
// the one the test suites use.
type Inproc struct {
	mu      sync.RWMutex
	inboxes map[string]chan []byte
	size    int
}

// NewInproc creates an in-process transport with the given inbox buffer size
func NewInproc(inboxSize int) *Inproc {
	if inboxSize <= 0 {
		inboxSize = DefaultInboxSize
	}
	return &Inproc{
		inboxes: make(map[string]chan []byte),
		size:    inboxSize,
	}
}

// Subscribe returns the inbound channel for an endpoint, creating it on
// first use. Service processes drain their own inbox.
func (t *Inproc) Subscribe(endpoint string) <-chan []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	inbox, ok := t.inboxes[endpoint]
	if !ok {
		inbox = make(chan []byte, t.size)
		t.inboxes[endpoint] = inbox
	}
	return inbox
}

// Unsubscribe removes an endpoint's inbox. Pending messages are discarded.
func (t *Inproc) Unsubscribe(endpoint string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inboxes, endpoint)
}

// Send places the message in the endpoint's inbox without blocking. An
// unknown endpoint or a full inbox is a delivery failure.
func (t *Inproc) Send(ctx context.Context, endpoint string, data []byte) error {
	t.mu.RLock()
	inbox, ok := t.inboxes[endpoint]
	t.mu.RUnlock()

	if !ok {
		return errors.WrapTransient(
			fmt.Errorf("%w: no inbox for endpoint %s", errors.ErrDeliveryFailed, endpoint),
			"Inproc", "Send", "endpoint lookup")
	}

	select {
	case inbox <- data:
		return nil
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "Inproc", "Send", "context wait")
	default:
		return errors.WrapTransient(
			fmt.Errorf("%w: inbox full for endpoint %s", errors.ErrDeliveryFailed, endpoint),
			"Inproc", "Send", "inbox enqueue")
	}
}

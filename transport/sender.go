// Package transport abstracts "send to service X" behind a pluggable Sender.
// The coordination core never performs network I/O directly: the router
// hands a marshalled message and the target's declared endpoint to whatever
// Sender the process was wired with.
package transport

import "context"

// Sender delivers a marshalled message to a service endpoint. Implementations
// must be safe for concurrent use. A returned error means the delivery
// failed; the router logs and counts it but does not retry.
type Sender interface {
	Send(ctx context.Context, endpoint string, data []byte) error
}

// SenderFunc adapts a function to the Sender interface
type SenderFunc func(ctx context.Context, endpoint string, data []byte) error

// Send implements Sender
func (f SenderFunc) Send(ctx context.Context, endpoint string, data []byte) error {
	return f(ctx, endpoint, data)
}

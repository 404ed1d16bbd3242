package transport

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/c360/coordinator/errors"
)

// NATSSender publishes outbound deliveries onto per-service NATS subjects.
// The service's declared endpoint is used as the subject suffix, so a
// service registered with endpoint "worker-a" receives messages on
// "<prefix>.worker-a".
type NATSSender struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSSender creates a sender publishing through an existing connection
func NewNATSSender(conn *nats.Conn, subjectPrefix string) (*NATSSender, error) {
	if conn == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("nil NATS connection"),
			"NATSSender", "NewNATSSender", "connection validation")
	}
	if subjectPrefix == "" {
		subjectPrefix = "coordinator.svc"
	}
	return &NATSSender{conn: conn, prefix: subjectPrefix}, nil
}

// Subject returns the delivery subject for an endpoint
func (s *NATSSender) Subject(endpoint string) string {
	return s.prefix + "." + endpoint
}

// Send publishes the message to the endpoint's subject
func (s *NATSSender) Send(ctx context.Context, endpoint string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return errors.WrapTransient(err, "NATSSender", "Send", "context check")
	}
	if err := s.conn.Publish(s.Subject(endpoint), data); err != nil {
		return errors.WrapTransient(
			fmt.Errorf("%w: %v", errors.ErrDeliveryFailed, err),
			"NATSSender", "Send", "publish")
	}
	return nil
}

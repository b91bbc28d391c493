// internal/types/interfaces.go
package types

import (
	"context"
)

// SessionProvider is the real-time session collaborator: it reports
// connection state, streams inbound data messages, publishes outbound
// ones and enumerates remote participants.
type SessionProvider interface {
	State() ConnectionState
	Messages() <-chan InboundMessage
	Publish(ctx context.Context, payload []byte, opts PublishOptions) error
	Participants() []Participant
	Close() error
}

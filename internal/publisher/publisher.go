// Package publisher defines the event publisher used to announce completed
// pipeline runs to downstream consumers.
package publisher

import "context"

// Publisher emits a payload to a named topic and returns the message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// NoOp discards every publish.
type NoOp struct{}

// Publish for NoOp does nothing and always succeeds.
func (NoOp) Publish(_ context.Context, _ string, _ any) (string, error) {
	return "", nil
}

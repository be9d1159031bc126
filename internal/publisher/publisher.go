// Package publisher defines the message publishing contract used by the
// notify job. Backends live in subpackages: memory, pubsub and nats.
package publisher

import "context"

// Publisher delivers payload to topic and returns a backend message ID.
// Payloads are JSON-encoded by the backend.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

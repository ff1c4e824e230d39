package interfaces

import "context"

// EventPublisher delivers a serialized event to a broker topic.
type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, event any) error
	Close() error
}

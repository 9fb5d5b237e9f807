// Package pubsub provides a type-safe pub/sub broker used to publish session
// snapshots to viewers.
package pubsub

import (
	"context"
	"time"
)

// EventType represents the type of event.
type EventType string

const (
	EventUpdated   EventType = "updated"
	EventStarted   EventType = "started"
	EventChunk     EventType = "chunk"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
)

// Event is a typed event with metadata. Seq increases by one per publish on
// a broker, so subscribers can detect dropped events.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Seq       uint64
	Timestamp time.Time
}

type Publisher[T any] interface {
	Publish(EventType, T)
}

type Subscriber[T any] interface {
	Subscribe(context.Context) <-chan Event[T]
}

// Package pubsub is a small in-process event bus. A Broker carries one
// payload type; daemon components publish state changes on it and any
// number of listeners receive them, with neither side knowing the other.
package pubsub

import "time"

// EventType distinguishes a first appearance from a mutation of something
// already seen.
type EventType string

const (
	CreatedEvent EventType = "created"
	UpdatedEvent EventType = "updated"
)

// Event is one published occurrence. Timestamp is stamped at publish time.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Package events is the in-process event bus shared by every module.
package events

import (
	"context"
	"time"
)

// Wildcard subscribes a handler to every event name.
const Wildcard = "*"

// Event is published on the bus. EventName doubles as the subscription key.
type Event interface {
	EventName() string
	OccurredAt() time.Time
}

// Scoped is implemented by events that belong to one tenant. Relays use it
// to build routing keys and correlation IDs.
type Scoped interface {
	Event
	Scope() (experienceID string, aggregateID string)
}

// BaseEvent carries the publish timestamp.
type BaseEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// NewBaseEvent stamps an event with the current UTC time.
func NewBaseEvent() BaseEvent {
	return BaseEvent{Timestamp: time.Now().UTC()}
}

type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Bus publishes events to subscribers. Publish is fire-and-forget;
// PublishSync returns the joined handler errors.
type Bus interface {
	Publish(ctx context.Context, event Event)
	PublishSync(ctx context.Context, event Event) error
	Subscribe(eventName string, handler Handler)
}

package relay

import (
	"context"
	"encoding/json"
	"time"

	"funnel_builder_backend/internal/events"
	"funnel_builder_backend/platform/logger"

	"github.com/google/uuid"
)

// Meta identifies one relayed event.
type Meta struct {
	ID            string    `json:"id"`
	Event         string    `json:"event"`
	ExperienceID  string    `json:"experienceId,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// Envelope is the message body on the exchange.
type Envelope struct {
	Meta    Meta            `json:"meta"`
	Payload json.RawMessage `json:"payload"`
}

// Sink publishes envelopes.
type Sink interface {
	Publish(ctx context.Context, key string, env Envelope) error
}

// Relay forwards every bus event to a sink.
type Relay struct {
	sink Sink
	log  *logger.Logger
}

func New(sink Sink, log *logger.Logger) *Relay {
	if log == nil {
		log = logger.Discard()
	}
	return &Relay{sink: sink, log: log}
}

// Register subscribes the relay to all events.
func (r *Relay) Register(bus events.Bus) {
	bus.Subscribe(events.Wildcard, events.HandlerFunc(r.Handle))
}

// Handle publishes one event. The routing key is the event name; scoped
// events carry their experience and aggregate as correlation ID.
func (r *Relay) Handle(ctx context.Context, event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	env := Envelope{
		Meta: Meta{
			ID:         uuid.NewString(),
			Event:      event.EventName(),
			OccurredAt: event.OccurredAt(),
		},
		Payload: payload,
	}
	if scoped, ok := event.(events.Scoped); ok {
		env.Meta.ExperienceID, env.Meta.CorrelationID = scoped.Scope()
	}

	if err := r.sink.Publish(ctx, event.EventName(), env); err != nil {
		r.log.Warn("relay: publish failed", "event", event.EventName(), "error", err)
		return err
	}
	return nil
}

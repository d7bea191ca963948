package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mcdev12/guildloot/go/internal/auction"
	"github.com/mcdev12/guildloot/go/internal/auction/bus"
	"github.com/mcdev12/guildloot/go/internal/auction/events"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// JetStreamPublisher publishes outbox events to the auction event stream.
type JetStreamPublisher struct {
	js     jetstream.JetStream
	stream string
}

// NewJetStreamPublisher makes sure the stream exists before returning.
func NewJetStreamPublisher(ctx context.Context, js jetstream.JetStream, cfg bus.StreamConfig) (*JetStreamPublisher, error) {
	if err := bus.EnsureStream(ctx, js, cfg); err != nil {
		return nil, err
	}
	return &JetStreamPublisher{js: js, stream: cfg.Name}, nil
}

// Publish sends the event with its id as the JetStream message id, so a
// relay retry inside the duplicate window is dropped by the server.
func (p *JetStreamPublisher) Publish(ctx context.Context, event auction.OutboxEvent) error {
	msg, err := newMessage(event)
	if err != nil {
		return err
	}

	ack, err := p.js.PublishMsg(ctx, msg,
		jetstream.WithMsgID(event.ID.String()),
		jetstream.WithExpectStream(p.stream),
	)
	if err != nil {
		return fmt.Errorf("failed to publish to JetStream: %w", err)
	}

	log.Debug().
		Str("event_id", event.ID.String()).
		Str("event_type", event.EventType).
		Str("subject", msg.Subject).
		Uint64("sequence", ack.Sequence).
		Bool("duplicate", ack.Duplicate).
		Msg("published event")
	return nil
}

func newMessage(event auction.OutboxEvent) (*nats.Msg, error) {
	data, err := json.Marshal(events.Envelope{
		EventID:     event.ID.String(),
		EventType:   event.EventType,
		AggregateID: event.AggregateID.String(),
		Timestamp:   event.CreatedAt,
		Payload:     json.RawMessage(event.Payload),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := nats.NewMsg(events.Subject(event.EventType))
	msg.Data = data
	msg.Header.Set(events.HeaderEventID, event.ID.String())
	msg.Header.Set(events.HeaderEventType, event.EventType)
	msg.Header.Set(events.HeaderAggregateID, event.AggregateID.String())
	return msg, nil
}

// LogPublisher only logs events. It stands in for the bus in local runs.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, event auction.OutboxEvent) error {
	log.Info().
		Str("event_id", event.ID.String()).
		Str("event_type", event.EventType).
		Str("aggregate_id", event.AggregateID.String()).
		Msg("publishing event")
	return nil
}

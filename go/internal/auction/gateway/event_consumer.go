package gateway

import (
	"context"
	"fmt"

	"github.com/mcdev12/guildloot/go/internal/auction/bus"
	"github.com/mcdev12/guildloot/go/internal/auction/events"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// EventConsumer follows the auction stream and fans events out to websocket clients.
// Every gateway instance reads the whole stream, so it uses an ordered
// consumer instead of a shared durable one.
type EventConsumer struct {
	connectionManager *ConnectionManager
	js                jetstream.JetStream
	stream            string
}

func NewEventConsumer(cm *ConnectionManager, js jetstream.JetStream, stream string) *EventConsumer {
	return &EventConsumer{connectionManager: cm, js: js, stream: stream}
}

// Start blocks until ctx is cancelled.
func (ec *EventConsumer) Start(ctx context.Context) error {
	log.Info().Str("stream", ec.stream).Msg("starting JetStream event consumer")

	if err := bus.Subscribe(ctx, ec.js, ec.stream, nil, ec.handle); err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	<-ctx.Done()
	log.Info().Msg("event consumer shutting down")
	return nil
}

func (ec *EventConsumer) handle(_ context.Context, env events.Envelope) {
	event, auctionID, ok, err := fromEnvelope(env)
	if err != nil {
		log.Error().Err(err).Str("event_id", env.EventID).Msg("failed to process event")
		return
	}
	if !ok {
		return
	}

	ec.connectionManager.BroadcastToAuction(auctionID, event)
	if endsAuction(env.EventType) {
		ec.connectionManager.CloseAuction(auctionID, env.EventType)
	}
	log.Debug().
		Str("event_id", env.EventID).
		Str("auction_id", env.AggregateID).
		Str("event_type", env.EventType).
		Msg("event queued for WebSocket clients")
}

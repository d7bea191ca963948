package orchestrator

import (
	"context"

	"github.com/mcdev12/guildloot/go/internal/auction/bus"
	"github.com/mcdev12/guildloot/go/internal/auction/events"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// FollowEvents wakes the scheduler whenever any instance starts an item, so
// a scheduler that did not handle the start still arms for the new deadline.
func (o *Orchestrator) FollowEvents(ctx context.Context, js jetstream.JetStream, stream string) error {
	return bus.Subscribe(ctx, js, stream,
		[]string{events.TypeAuctionStarted, events.TypeItemStarted},
		func(_ context.Context, env events.Envelope) {
			log.Debug().
				Str("event_type", env.EventType).
				Str("aggregate_id", env.AggregateID).
				Str("instance", o.instanceID).
				Msg("waking scheduler for event")
			o.Wake()
		})
}

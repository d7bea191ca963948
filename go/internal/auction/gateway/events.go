package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/guildloot/go/internal/auction/events"
)

// AuctionEvent is the frame pushed to websocket clients.
type AuctionEvent struct {
	ID        string          `json:"id"`         // Event UUID
	AuctionID string          `json:"auction_id"` // Auction UUID
	Type      string          `json:"type"`       // Event type
	Timestamp time.Time       `json:"timestamp"`  // Event creation time
	Data      json.RawMessage `json:"data"`       // Event-specific payload
}

// EventTypeAuctionState carries a full snapshot, sent when a client connects.
const EventTypeAuctionState = "AuctionState"

// pushed lists the event types forwarded to auction subscribers.
var pushed = map[string]bool{
	events.TypeAuctionCreated:   true,
	events.TypeAuctionStarted:   true,
	events.TypeItemStarted:      true,
	events.TypeBidPlaced:        true,
	events.TypeItemFinalized:    true,
	events.TypeAuctionFinished:  true,
	events.TypeAuctionCancelled: true,
}

// endsAuction reports whether subscribers of the auction should be let go after this event.
func endsAuction(eventType string) bool {
	return eventType == events.TypeAuctionFinished || eventType == events.TypeAuctionCancelled
}

// fromEnvelope converts a bus event. ok is false for events that do not
// belong to an auction, such as LootFlagReset.
func fromEnvelope(env events.Envelope) (event *AuctionEvent, auctionID uuid.UUID, ok bool, err error) {
	if env.EventType == events.TypeLootFlagReset {
		return nil, uuid.Nil, false, nil
	}
	if !pushed[env.EventType] {
		return nil, uuid.Nil, false, fmt.Errorf("unknown event type: %s", env.EventType)
	}
	auctionID, err = uuid.Parse(env.AggregateID)
	if err != nil {
		return nil, uuid.Nil, false, fmt.Errorf("parse auction ID: %w", err)
	}
	return &AuctionEvent{
		ID:        env.EventID,
		AuctionID: env.AggregateID,
		Type:      env.EventType,
		Timestamp: env.Timestamp,
		Data:      env.Payload,
	}, auctionID, true, nil
}

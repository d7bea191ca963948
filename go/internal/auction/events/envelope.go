package events

import (
	"encoding/json"
	"time"
)

// Bus layout. Every event type is published on SubjectPrefix.<type>.
const (
	StreamName    = "AUCTION_EVENTS"
	SubjectPrefix = "auction.events"
)

// Message headers set on published events.
const (
	HeaderEventID     = "Event-ID"
	HeaderEventType   = "Event-Type"
	HeaderAggregateID = "Aggregate-ID"
)

// Subject returns the bus subject for an event type.
func Subject(eventType string) string {
	return SubjectPrefix + "." + eventType
}

// Envelope wraps an event payload on the bus.
type Envelope struct {
	EventID     string          `json:"event_id"`
	EventType   string          `json:"event_type"`
	AggregateID string          `json:"aggregate_id"`
	Timestamp   time.Time       `json:"timestamp"`
	Payload     json.RawMessage `json:"payload"`
}

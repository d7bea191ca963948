// Package outbox relays auction events from the transactional outbox table to the event bus.
package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/guildloot/go/internal/auction"
)

// ErrNotPending is returned by Source.FetchByID when the event is unknown or already sent.
var ErrNotPending = errors.New("outbox event not found or already sent")

// Source is the outbox table as seen by the relay.
type Source interface {
	// FetchUnsent returns up to limit unsent events, oldest first, skipping
	// events that have already failed maxAttempts times. maxAttempts <= 0
	// returns every unsent event.
	FetchUnsent(ctx context.Context, limit, maxAttempts int) ([]auction.OutboxEvent, error)
	FetchByID(ctx context.Context, id uuid.UUID) (*auction.OutboxEvent, error)
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	CountPending(ctx context.Context) (int, error)
}

// Publisher delivers one event to the bus.
type Publisher interface {
	Publish(ctx context.Context, event auction.OutboxEvent) error
}

type Config struct {
	NotifyChannel    string        // Channel name to LISTEN on
	FallbackInterval time.Duration // How often to poll for missed events
	MaxRetries       int
	RetryDelay       time.Duration
	PingInterval     time.Duration
	BatchSize        int // Max events to fetch per batch
	MaxAttempts      int // Failed deliveries after which sweeps leave an event alone
}

func DefaultConfig() Config {
	return Config{
		NotifyChannel:    "auction_outbox_events",
		FallbackInterval: 30 * time.Second,
		MaxRetries:       5,
		RetryDelay:       200 * time.Millisecond,
		PingInterval:     90 * time.Second,
		BatchSize:        100,
		MaxAttempts:      20,
	}
}

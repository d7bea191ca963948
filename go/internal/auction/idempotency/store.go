package idempotency

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Record is the remembered outcome of a bid submission. Exactly one of BidID
// or Reject is set.
type Record struct {
	BidID   *uuid.UUID `json:"bid_id,omitempty"`
	Reject  string     `json:"reject,omitempty"`
	ItemID  uuid.UUID  `json:"item_id"`
	Status  string     `json:"status,omitempty"`
	Amount  int64      `json:"amount"`
	Minimum int64      `json:"minimum,omitempty"`
}

// Rejection kinds stored in Record.Reject.
const (
	RejectNotInAuction = "not_in_auction"
	RejectTooLow       = "too_low"
	RejectSelfOutbid   = "self_outbid"
)

// Store remembers bid outcomes by request key for a bounded time.
type Store interface {
	Get(ctx context.Context, key string) (Record, bool, error)
	// Put keeps the first record written for a key.
	Put(ctx context.Context, key string, rec Record, ttl time.Duration) error
}

// Tiered reads the local store first and falls back to the shared one,
// writing through to both.
type Tiered struct {
	Local  Store
	Shared Store
}

func (t Tiered) Get(ctx context.Context, key string) (Record, bool, error) {
	if rec, ok, err := t.Local.Get(ctx, key); err == nil && ok {
		return rec, true, nil
	}
	rec, ok, err := t.Shared.Get(ctx, key)
	if err != nil || !ok {
		return rec, ok, err
	}
	_ = t.Local.Put(ctx, key, rec, 0)
	return rec, true, nil
}

func (t Tiered) Put(ctx context.Context, key string, rec Record, ttl time.Duration) error {
	if err := t.Local.Put(ctx, key, rec, ttl); err != nil {
		return err
	}
	return t.Shared.Put(ctx, key, rec, ttl)
}

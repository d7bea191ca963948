package auction

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcdev12/guildloot/go/internal/models"
)

// ErrNotFound is returned by stores when an auction, item or loot record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConcurrencyConflict signals that a conditional write lost a race. It never
// leaves the bid pipeline.
var ErrConcurrencyConflict = errors.New("concurrency conflict")

// ValidationError is a malformed create/start request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// InvalidStateError is an operation against an auction or item whose status does not permit it.
type InvalidStateError struct {
	Op     string
	Entity string
	ID     uuid.UUID
	Status string
	Reason string
}

func (e *InvalidStateError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot %s %s %s: %s", e.Op, e.Entity, e.ID, e.Reason)
	}
	return fmt.Sprintf("cannot %s %s %s in status %s", e.Op, e.Entity, e.ID, e.Status)
}

// ItemNotInAuctionError is a bid targeting an item that is not currently biddable.
type ItemNotInAuctionError struct {
	ItemID uuid.UUID
	Status models.AuctionItemStatus
}

func (e *ItemNotInAuctionError) Error() string {
	return fmt.Sprintf("auction item %s is not in auction (status %s)", e.ItemID, e.Status)
}

// BidTooLowError carries the smallest amount that would have been accepted.
type BidTooLowError struct {
	ItemID  uuid.UUID
	Amount  int64
	Minimum int64
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("bid of %d on item %s is below the minimum of %d", e.Amount, e.ItemID, e.Minimum)
}

// SelfOutbidError is returned when the self-outbid policy forbids the current leader from raising.
type SelfOutbidError struct {
	ItemID uuid.UUID
	UserID uuid.UUID
}

func (e *SelfOutbidError) Error() string {
	return fmt.Sprintf("user %s already holds the high bid on item %s", e.UserID, e.ItemID)
}

func invalidState[S ~string](op, entity string, id uuid.UUID, status S) error {
	return &InvalidStateError{Op: op, Entity: entity, ID: id, Status: string(status)}
}

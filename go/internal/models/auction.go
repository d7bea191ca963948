package models

import (
	"time"

	"github.com/google/uuid"
)

// AuctionStatus defines the lifecycle status of an auction.
type AuctionStatus string

const (
	AuctionStatusPending   AuctionStatus = "PENDING"
	AuctionStatusActive    AuctionStatus = "ACTIVE"
	AuctionStatusFinished  AuctionStatus = "FINISHED"
	AuctionStatusCancelled AuctionStatus = "CANCELLED"
)

// IsTerminal reports whether no further transitions are allowed.
func (s AuctionStatus) IsTerminal() bool {
	return s == AuctionStatusFinished || s == AuctionStatusCancelled
}

// AuctionItemStatus defines the status of a single item in the auction queue.
type AuctionItemStatus string

const (
	AuctionItemStatusWaiting   AuctionItemStatus = "WAITING"
	AuctionItemStatusInAuction AuctionItemStatus = "IN_AUCTION"
	AuctionItemStatusSold      AuctionItemStatus = "SOLD"
	AuctionItemStatusNoBids    AuctionItemStatus = "NO_BIDS"
	AuctionItemStatusCancelled AuctionItemStatus = "CANCELLED"
)

// IsTerminal reports whether the item has been resolved.
func (s AuctionItemStatus) IsTerminal() bool {
	switch s {
	case AuctionItemStatusSold, AuctionItemStatusNoBids, AuctionItemStatusCancelled:
		return true
	default:
		return false
	}
}

// BidStatus defines the status of a bid.
type BidStatus string

const (
	BidStatusActive    BidStatus = "ACTIVE"
	BidStatusOutbid    BidStatus = "OUTBID"
	BidStatusWon       BidStatus = "WON"
	BidStatusCancelled BidStatus = "CANCELLED"
)

// Auction is a batch of loot sold one item at a time.
type Auction struct {
	ID                  uuid.UUID     `json:"id"`
	Status              AuctionStatus `json:"status"`
	DefaultTimerSeconds int           `json:"default_timer_seconds"`
	MinBidIncrement     int64         `json:"min_bid_increment"`
	CreatedBy           uuid.UUID     `json:"created_by"`
	Notes               string        `json:"notes"`
	StartedAt           *time.Time    `json:"started_at,omitempty"`
	FinishedAt          *time.Time    `json:"finished_at,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
	Items               []AuctionItem `json:"items"`
}

// AuctionItem is one lot in the auction queue.
type AuctionItem struct {
	ID              uuid.UUID         `json:"id"`
	AuctionID       uuid.UUID         `json:"auction_id"`
	LootItemID      uuid.UUID         `json:"loot_item_id"`
	Position        int               `json:"position"`
	Status          AuctionItemStatus `json:"status"`
	MinBid          int64             `json:"min_bid"`
	CurrentBid      *int64            `json:"current_bid,omitempty"`
	CurrentWinnerID *uuid.UUID        `json:"current_winner_id,omitempty"`
	StartedAt       *time.Time        `json:"started_at,omitempty"`
	FinishedAt      *time.Time        `json:"finished_at,omitempty"`

	// Read-only loot attributes, joined for display.
	Name     string `json:"name"`
	Category string `json:"category"`
	Grade    string `json:"grade"`

	Bids []Bid `json:"bids"`
}

// Bid is an accepted offer on an auction item.
type Bid struct {
	ID            uuid.UUID `json:"id"`
	AuctionItemID uuid.UUID `json:"auction_item_id"`
	UserID        uuid.UUID `json:"user_id"`
	Amount        int64     `json:"amount"`
	Status        BidStatus `json:"status"`
	RequestKey    string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}

// InProgressItem returns the item currently IN_AUCTION, if any.
func (a *Auction) InProgressItem() *AuctionItem {
	for i := range a.Items {
		if a.Items[i].Status == AuctionItemStatusInAuction {
			return &a.Items[i]
		}
	}
	return nil
}

// Item returns the item with the given ID, if it belongs to this auction.
func (a *Auction) Item(id uuid.UUID) *AuctionItem {
	for i := range a.Items {
		if a.Items[i].ID == id {
			return &a.Items[i]
		}
	}
	return nil
}

// Deadline returns when the item's countdown expires, or nil if it never started.
func (i *AuctionItem) Deadline(timerSeconds int) *time.Time {
	if i.StartedAt == nil {
		return nil
	}
	d := i.StartedAt.Add(time.Duration(timerSeconds) * time.Second)
	return &d
}

// TopBid returns the bid currently holding the item, if any.
func (i *AuctionItem) TopBid() *Bid {
	for j := len(i.Bids) - 1; j >= 0; j-- {
		if i.Bids[j].Status == BidStatusActive || i.Bids[j].Status == BidStatusWon {
			return &i.Bids[j]
		}
	}
	return nil
}

// Clone returns a deep copy of the auction.
func (a *Auction) Clone() *Auction {
	if a == nil {
		return nil
	}
	out := *a
	out.StartedAt = cloneTime(a.StartedAt)
	out.FinishedAt = cloneTime(a.FinishedAt)
	out.Items = make([]AuctionItem, len(a.Items))
	for i := range a.Items {
		out.Items[i] = *a.Items[i].Clone()
	}
	return &out
}

// Clone returns a deep copy of the item and its bids.
func (i *AuctionItem) Clone() *AuctionItem {
	out := *i
	if i.CurrentBid != nil {
		v := *i.CurrentBid
		out.CurrentBid = &v
	}
	if i.CurrentWinnerID != nil {
		v := *i.CurrentWinnerID
		out.CurrentWinnerID = &v
	}
	out.StartedAt = cloneTime(i.StartedAt)
	out.FinishedAt = cloneTime(i.FinishedAt)
	out.Bids = append([]Bid(nil), i.Bids...)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

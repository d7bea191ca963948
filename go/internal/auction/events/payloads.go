package events

import (
	"time"
)

// Event types written to the outbox and published on the bus.
const (
	TypeAuctionCreated   = "AuctionCreated"
	TypeAuctionStarted   = "AuctionStarted"
	TypeItemStarted      = "ItemStarted"
	TypeBidPlaced        = "BidPlaced"
	TypeItemFinalized    = "ItemFinalized"
	TypeAuctionFinished  = "AuctionFinished"
	TypeAuctionCancelled = "AuctionCancelled"
	TypeLootFlagReset    = "LootFlagReset"
)

// Event payload types shared by the engine, the relay and the gateway.

// AuctionCreatedPayload is the payload for an AuctionCreated event
type AuctionCreatedPayload struct {
	AuctionID           string    `json:"auction_id"`
	CreatedBy           string    `json:"created_by"`
	ItemCount           int       `json:"item_count"`
	DefaultTimerSeconds int       `json:"default_timer_seconds"`
	MinBidIncrement     int64     `json:"min_bid_increment"`
	CreatedAt           time.Time `json:"created_at"`
}

// AuctionStartedPayload is the payload for an AuctionStarted event
type AuctionStartedPayload struct {
	AuctionID  string    `json:"auction_id"`
	StartedAt  time.Time `json:"started_at"`
	TotalItems int       `json:"total_items"`
}

// ItemStartedPayload is the payload for an ItemStarted event
type ItemStartedPayload struct {
	AuctionID           string    `json:"auction_id"`
	AuctionItemID       string    `json:"auction_item_id"`
	LootItemID          string    `json:"loot_item_id"`
	Position            int       `json:"position"`
	MinBid              int64     `json:"min_bid"`
	StartedAt           time.Time `json:"started_at"`
	DeadlineAt          time.Time `json:"deadline_at"`
	DefaultTimerSeconds int       `json:"default_timer_seconds"`
}

// BidPlacedPayload is the payload for a BidPlaced event
type BidPlacedPayload struct {
	AuctionID     string    `json:"auction_id"`
	AuctionItemID string    `json:"auction_item_id"`
	BidID         string    `json:"bid_id"`
	UserID        string    `json:"user_id"`
	Amount        int64     `json:"amount"`
	PlacedAt      time.Time `json:"placed_at"`
}

// ItemFinalizedPayload is the payload for an ItemFinalized event
type ItemFinalizedPayload struct {
	AuctionID     string    `json:"auction_id"`
	AuctionItemID string    `json:"auction_item_id"`
	Status        string    `json:"status"`
	WinnerID      string    `json:"winner_id,omitempty"`
	Amount        *int64    `json:"amount,omitempty"`
	FinishedAt    time.Time `json:"finished_at"`
}

// AuctionFinishedPayload is the payload for an AuctionFinished event
type AuctionFinishedPayload struct {
	AuctionID  string    `json:"auction_id"`
	FinishedAt time.Time `json:"finished_at"`
	Duration   string    `json:"duration"`
	ItemsSold  int       `json:"items_sold"`
}

// AuctionCancelledPayload is the payload for an AuctionCancelled event
type AuctionCancelledPayload struct {
	AuctionID      string    `json:"auction_id"`
	CancelledAt    time.Time `json:"cancelled_at"`
	CancelledItems int       `json:"cancelled_items"`
}

// LootFlagResetPayload is the payload for a LootFlagReset event
type LootFlagResetPayload struct {
	LootItemID string    `json:"loot_item_id"`
	Reason     string    `json:"reason,omitempty"`
	ResetBy    string    `json:"reset_by"`
	ResetAt    time.Time `json:"reset_at"`
}

package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// LootItem is an item dropped during a raid. The auction engine only reads it,
// apart from the has_been_auctioned flag.
type LootItem struct {
	ID               uuid.UUID `json:"id"`
	RaidID           uuid.UUID `json:"raid_id"`
	Name             string    `json:"name"`
	Category         string    `json:"category"`
	Grade            string    `json:"grade"`
	MinimumBid       int64     `json:"minimum_bid"`
	HasBeenAuctioned bool      `json:"has_been_auctioned"`
}

// WonItem is a sold auction item seen from the winner's side.
type WonItem struct {
	AuctionItemID uuid.UUID `json:"auction_item_id"`
	AuctionID     uuid.UUID `json:"auction_id"`
	LootItemID    uuid.UUID `json:"loot_item_id"`
	Name          string    `json:"name"`
	Category      string    `json:"category"`
	Grade         string    `json:"grade"`
	UserID        uuid.UUID `json:"user_id"`
	Amount        int64     `json:"amount"`
	WonAt         time.Time `json:"won_at"`
}

// DKPDebit records DKP spent on a won item.
type DKPDebit struct {
	ID            uuid.UUID       `json:"id"`
	UserID        uuid.UUID       `json:"user_id"`
	Amount        int64           `json:"amount"`
	AuctionItemID uuid.UUID       `json:"auction_item_id"`
	Details       json.RawMessage `json:"details,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

package auction

import (
	"time"

	"github.com/mcdev12/guildloot/go/internal/models"
)

// Wire messages of the AuctionService. Identifiers travel as strings.

type CreateAuctionMessage struct {
	LootItemIDs         []string `json:"loot_item_ids"`
	DefaultTimerSeconds int      `json:"default_timer_seconds"`
	MinBidIncrement     int64    `json:"min_bid_increment"`
	Notes               string   `json:"notes,omitempty"`
}

type AuctionIDMessage struct {
	AuctionID string `json:"auction_id"`
}

type AuctionItemIDMessage struct {
	AuctionItemID string `json:"auction_item_id"`
}

type AuctionMessage struct {
	Auction *models.Auction `json:"auction"`
}

type GetActiveAuctionMessage struct{}

// ActiveAuctionMessage is the polling read. TimeRemainingSec is computed on
// the server clock for clients that cannot trust their own.
type ActiveAuctionMessage struct {
	Auction          *models.Auction `json:"auction"`
	ServerTime       time.Time       `json:"server_time"`
	TimeRemainingSec *int            `json:"time_remaining_sec,omitempty"`
}

type PlaceBidMessage struct {
	AuctionItemID string     `json:"auction_item_id"`
	Amount        int64      `json:"amount"`
	RequestID     string     `json:"request_id,omitempty"`
	SubmittedAt   *time.Time `json:"submitted_at,omitempty"`
}

// Rejection codes returned in PlaceBidResultMessage.
const (
	RejectionItemNotInAuction = "ITEM_NOT_IN_AUCTION"
	RejectionBidTooLow        = "BID_TOO_LOW"
	RejectionSelfOutbid       = "SELF_OUTBID"
)

type RejectionMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Minimum *int64 `json:"minimum,omitempty"`
}

type PlaceBidResultMessage struct {
	Accepted  bool              `json:"accepted"`
	Duplicate bool              `json:"duplicate,omitempty"`
	Bid       *models.Bid       `json:"bid,omitempty"`
	Rejection *RejectionMessage `json:"rejection,omitempty"`
	Auction   *models.Auction   `json:"auction"`
}

type ListAuctionsMessage struct {
	Page      int    `json:"page"`
	PageSize  int    `json:"page_size"`
	Status    string `json:"status,omitempty"`
	CreatedBy string `json:"created_by,omitempty"`
}

type AuctionListMessage struct {
	Auctions   []models.Auction `json:"auctions"`
	Pagination Pagination       `json:"pagination"`
}

type WonItemsQueryMessage struct {
	UserID   string     `json:"user_id,omitempty"`
	From     *time.Time `json:"from,omitempty"`
	To       *time.Time `json:"to,omitempty"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
}

type WonItemsMessage struct {
	Items      []models.WonItem `json:"items"`
	Pagination Pagination       `json:"pagination"`
}

type ResetAuctionedFlagMessage struct {
	LootItemID string `json:"loot_item_id"`
	Reason     string `json:"reason,omitempty"`
}

type LootItemMessage struct {
	LootItem *models.LootItem `json:"loot_item"`
}

package auction

import (
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/guildloot/go/internal/models"
)

// CreateAuctionRequest represents the data needed to create a new auction
type CreateAuctionRequest struct {
	LootItemIDs         []uuid.UUID `json:"loot_item_ids"`
	DefaultTimerSeconds int         `json:"default_timer_seconds"`
	MinBidIncrement     int64       `json:"min_bid_increment"`
	Notes               string      `json:"notes"`
	CreatedBy           uuid.UUID   `json:"created_by"`
}

// PlaceBidRequest represents a bid submitted by a guild member.
// RequestID is an optional client token; when empty the submission is
// keyed by item, user, amount and a bucket of SubmittedAt.
type PlaceBidRequest struct {
	AuctionItemID uuid.UUID  `json:"auction_item_id"`
	UserID        uuid.UUID  `json:"user_id"`
	Amount        int64      `json:"amount"`
	RequestID     string     `json:"request_id,omitempty"`
	SubmittedAt   *time.Time `json:"submitted_at,omitempty"`
}

// BidOutcome is the result of a bid submission. Rejection is set when the
// bid was refused; Auction always carries the authoritative snapshot.
type BidOutcome struct {
	Accepted  bool            `json:"accepted"`
	Duplicate bool            `json:"duplicate"`
	Bid       *models.Bid     `json:"bid,omitempty"`
	Rejection error           `json:"-"`
	Auction   *models.Auction `json:"auction,omitempty"`
}

// ListAuctionsFilter narrows ListAuctions.
type ListAuctionsFilter struct {
	Status    *models.AuctionStatus
	CreatedBy *uuid.UUID
	Page      int
	PageSize  int
}

// WonItemsFilter narrows won item history for a user.
type WonItemsFilter struct {
	UserID   uuid.UUID
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

// Pagination describes a page of results.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NextDeadline is the earliest expiring IN_AUCTION item across all auctions.
type NextDeadline struct {
	AuctionItemID uuid.UUID
	AuctionID     uuid.UUID
	Deadline      time.Time
}

// ExpiredItem identifies an IN_AUCTION item whose countdown ran out.
type ExpiredItem struct {
	AuctionItemID uuid.UUID
	AuctionID     uuid.UUID
	Deadline      time.Time
}

// CASBid is a conditional update of an item's leading bid. It only applies
// while the item is IN_AUCTION, its current bid still equals Expected and
// its deadline is after Now.
type CASBid struct {
	ItemID   uuid.UUID
	Expected *int64
	Amount   int64
	UserID   uuid.UUID
	Now      time.Time
}

// OutboxEvent is a domain event written in the same transaction as the state change.
type OutboxEvent struct {
	ID          uuid.UUID
	AggregateID uuid.UUID
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
}

func newPagination(page, pageSize, total int) Pagination {
	pages := 0
	if pageSize > 0 {
		pages = (total + pageSize - 1) / pageSize
	}
	return Pagination{Page: page, PageSize: pageSize, Total: total, TotalPages: pages}
}

func normalizePage(page, pageSize, maxSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > maxSize {
		pageSize = maxSize
	}
	return page, pageSize
}

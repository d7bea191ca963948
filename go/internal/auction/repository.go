package auction

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/guildloot/go/internal/models"
)

// Store opens transactions over the auction tables. Implementations must
// serialize LockAuction callers on the same auction until commit, and hold
// off CompareAndSetBid on that auction's items for the same span.
type Store interface {
	InTx(ctx context.Context, fn func(q Queries) error) error
	Queries() Queries
}

// Queries defines what the auction app layer needs from storage. Reads
// return ErrNotFound for missing rows. Auctions are returned with their items
// ordered by position and each item's bids ordered by creation.
type Queries interface {
	GetLootItems(ctx context.Context, ids []uuid.UUID) ([]models.LootItem, error)
	GetLootItem(ctx context.Context, id uuid.UUID) (*models.LootItem, error)
	// LootInOpenAuction returns the subset of ids referenced by a WAITING or IN_AUCTION item.
	LootInOpenAuction(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error)
	SetLootAuctioned(ctx context.Context, id uuid.UUID, auctioned bool) error

	InsertAuction(ctx context.Context, a *models.Auction) error
	GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error)
	LockAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error)
	GetActiveAuctionID(ctx context.Context) (*uuid.UUID, error)
	UpdateAuctionStatus(ctx context.Context, id uuid.UUID, status models.AuctionStatus, startedAt, finishedAt *time.Time) error
	ListAuctions(ctx context.Context, filter ListAuctionsFilter) ([]models.Auction, int, error)

	GetAuctionItem(ctx context.Context, id uuid.UUID) (*models.AuctionItem, error)
	StartItem(ctx context.Context, id uuid.UUID, startedAt, deadline time.Time) error
	// CloseItem settles an IN_AUCTION item; any other status is ErrConcurrencyConflict.
	CloseItem(ctx context.Context, id uuid.UUID, status models.AuctionItemStatus, finishedAt time.Time) error
	CancelOpenItems(ctx context.Context, auctionID uuid.UUID, finishedAt time.Time) (int, error)
	// CompareAndSetBid reports false when the conditional update matched no row.
	CompareAndSetBid(ctx context.Context, cas CASBid) (bool, error)
	FetchExpiredItems(ctx context.Context, now time.Time, limit int) ([]ExpiredItem, error)
	NextItemDeadline(ctx context.Context) (*NextDeadline, error)

	InsertBid(ctx context.Context, b *models.Bid) error
	// MarkBidsOutbid flips every ACTIVE or WON bid on the item other than except to OUTBID.
	MarkBidsOutbid(ctx context.Context, itemID uuid.UUID, except *uuid.UUID) error
	MarkBidWon(ctx context.Context, bidID uuid.UUID) error
	FindBidByRequestKey(ctx context.Context, itemID, userID uuid.UUID, key string) (*models.Bid, error)
	ListWonItems(ctx context.Context, filter WonItemsFilter) ([]models.WonItem, int, error)

	DebitDKP(ctx context.Context, debit models.DKPDebit) error
	InsertOutbox(ctx context.Context, event OutboxEvent) error
}

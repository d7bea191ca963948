package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/mcdev12/guildloot/go/internal/auction"
	"github.com/mcdev12/guildloot/go/internal/models"
	"github.com/mcdev12/guildloot/go/internal/sqlutil"
	"github.com/sqlc-dev/pqtype"
)

const (
	constraintOneActive  = "auctions_one_active"
	constraintRequestKey = "bids_request_key"
	constraintOpenLoot   = "auction_items_open_loot_unique"
)

type queries struct {
	db dbtx
}

func notFound(err error, what string, id uuid.UUID) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, auction.ErrNotFound)
	}
	return fmt.Errorf("failed to load %s %s: %w", what, id, err)
}

const lootColumns = `id, raid_id, name, category, grade, minimum_bid, has_been_auctioned`

func scanLoot(row pgx.Row) (models.LootItem, error) {
	var l models.LootItem
	err := row.Scan(&l.ID, &l.RaidID, &l.Name, &l.Category, &l.Grade, &l.MinimumBid, &l.HasBeenAuctioned)
	return l, err
}

func (q *queries) GetLootItems(ctx context.Context, ids []uuid.UUID) ([]models.LootItem, error) {
	rows, err := q.db.Query(ctx, `SELECT `+lootColumns+` FROM loot_items WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query loot items: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.LootItem, error) {
		return scanLoot(row)
	})
}

func (q *queries) GetLootItem(ctx context.Context, id uuid.UUID) (*models.LootItem, error) {
	l, err := scanLoot(q.db.QueryRow(ctx, `SELECT `+lootColumns+` FROM loot_items WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "loot item", id)
	}
	return &l, nil
}

func (q *queries) LootInOpenAuction(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	rows, err := q.db.Query(ctx, `
		SELECT DISTINCT loot_item_id FROM auction_items
		WHERE loot_item_id = ANY($1) AND status IN ('WAITING', 'IN_AUCTION')`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query open loot: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (q *queries) SetLootAuctioned(ctx context.Context, id uuid.UUID, auctioned bool) error {
	tag, err := q.db.Exec(ctx, `UPDATE loot_items SET has_been_auctioned = $2 WHERE id = $1`, id, auctioned)
	if err != nil {
		return fmt.Errorf("failed to update loot item %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("loot item %s: %w", id, auction.ErrNotFound)
	}
	return nil
}

func (q *queries) InsertAuction(ctx context.Context, a *models.Auction) error {
	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO auctions (id, status, default_timer_seconds, min_bid_increment, created_by, notes, started_at, finished_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, string(a.Status), a.DefaultTimerSeconds, a.MinBidIncrement, a.CreatedBy, a.Notes, a.StartedAt, a.FinishedAt, a.CreatedAt)
	for _, it := range a.Items {
		batch.Queue(`
			INSERT INTO auction_items (id, auction_id, loot_item_id, position, status, min_bid)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			it.ID, a.ID, it.LootItemID, it.Position, string(it.Status), it.MinBid)
	}

	br := q.db.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			if constraint, ok := sqlutil.UniqueViolation(err); ok && constraint == constraintOpenLoot {
				return &auction.ValidationError{Field: "loot_item_ids", Reason: "already queued in an open auction"}
			}
			return fmt.Errorf("failed to insert auction %s: %w", a.ID, err)
		}
	}
	return nil
}

const auctionColumns = `id, status, default_timer_seconds, min_bid_increment, created_by, notes, started_at, finished_at, created_at`

func scanAuction(row pgx.Row) (*models.Auction, error) {
	var a models.Auction
	var status string
	err := row.Scan(&a.ID, &status, &a.DefaultTimerSeconds, &a.MinBidIncrement, &a.CreatedBy, &a.Notes,
		&a.StartedAt, &a.FinishedAt, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.Status = models.AuctionStatus(status)
	return &a, nil
}

func (q *queries) GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	a, err := scanAuction(q.db.QueryRow(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "auction", id)
	}
	return a, q.loadItems(ctx, a)
}

// LockAuction holds the auction row and its item rows until the transaction
// ends. Bids move an item through CompareAndSetBid without touching the
// auction row, so the item locks are what keep a finalize from reading a
// leading bid that a concurrent bid is about to replace.
func (q *queries) LockAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	a, err := scanAuction(q.db.QueryRow(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "auction", id)
	}
	if _, err := q.db.Exec(ctx, `SELECT id FROM auction_items WHERE auction_id = $1 ORDER BY position FOR UPDATE`, id); err != nil {
		return nil, fmt.Errorf("failed to lock items of auction %s: %w", id, err)
	}
	return a, q.loadItems(ctx, a)
}

const itemColumns = `ai.id, ai.auction_id, ai.loot_item_id, ai.position, ai.status, ai.min_bid, ai.current_bid,
	ai.current_winner_id, ai.started_at, ai.finished_at, li.name, li.category, li.grade`

func scanItem(row pgx.Row) (models.AuctionItem, error) {
	var it models.AuctionItem
	var status string
	err := row.Scan(&it.ID, &it.AuctionID, &it.LootItemID, &it.Position, &status, &it.MinBid, &it.CurrentBid,
		&it.CurrentWinnerID, &it.StartedAt, &it.FinishedAt, &it.Name, &it.Category, &it.Grade)
	it.Status = models.AuctionItemStatus(status)
	return it, err
}

const bidColumns = `b.id, b.auction_item_id, b.user_id, b.amount, b.status, b.request_key, b.created_at`

func scanBid(row pgx.Row) (models.Bid, error) {
	var b models.Bid
	var status string
	var key *string
	err := row.Scan(&b.ID, &b.AuctionItemID, &b.UserID, &b.Amount, &status, &key, &b.CreatedAt)
	b.Status = models.BidStatus(status)
	b.RequestKey = sqlutil.FromNullString(key)
	return b, err
}

// loadItems fills the auction's items in position order, each with its bids by creation.
func (q *queries) loadItems(ctx context.Context, a *models.Auction) error {
	rows, err := q.db.Query(ctx, `
		SELECT `+itemColumns+`
		FROM auction_items ai JOIN loot_items li ON li.id = ai.loot_item_id
		WHERE ai.auction_id = $1
		ORDER BY ai.position`, a.ID)
	if err != nil {
		return fmt.Errorf("failed to query items of auction %s: %w", a.ID, err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.AuctionItem, error) {
		return scanItem(row)
	})
	if err != nil {
		return fmt.Errorf("failed to scan items of auction %s: %w", a.ID, err)
	}

	rows, err = q.db.Query(ctx, `
		SELECT `+bidColumns+`
		FROM bids b JOIN auction_items ai ON ai.id = b.auction_item_id
		WHERE ai.auction_id = $1
		ORDER BY b.created_at, b.amount`, a.ID)
	if err != nil {
		return fmt.Errorf("failed to query bids of auction %s: %w", a.ID, err)
	}
	bids, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Bid, error) {
		return scanBid(row)
	})
	if err != nil {
		return fmt.Errorf("failed to scan bids of auction %s: %w", a.ID, err)
	}

	index := make(map[uuid.UUID]int, len(items))
	for i := range items {
		items[i].Bids = []models.Bid{}
		index[items[i].ID] = i
	}
	for _, b := range bids {
		if i, ok := index[b.AuctionItemID]; ok {
			items[i].Bids = append(items[i].Bids, b)
		}
	}
	a.Items = items
	return nil
}

func (q *queries) GetActiveAuctionID(ctx context.Context) (*uuid.UUID, error) {
	var id uuid.UUID
	err := q.db.QueryRow(ctx, `SELECT id FROM auctions WHERE status = 'ACTIVE' LIMIT 1`).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query active auction: %w", err)
	}
	return &id, nil
}

func (q *queries) UpdateAuctionStatus(ctx context.Context, id uuid.UUID, status models.AuctionStatus, startedAt, finishedAt *time.Time) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE auctions
		SET status = $2,
		    started_at = COALESCE($3, started_at),
		    finished_at = COALESCE($4, finished_at)
		WHERE id = $1`, id, string(status), startedAt, finishedAt)
	if constraint, ok := sqlutil.UniqueViolation(err); ok && constraint == constraintOneActive {
		return &auction.InvalidStateError{Op: "start", Entity: "auction", ID: id,
			Reason: "another auction is already active"}
	}
	if err != nil {
		return fmt.Errorf("failed to update auction %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("auction %s: %w", id, auction.ErrNotFound)
	}
	return nil
}

func (q *queries) ListAuctions(ctx context.Context, filter auction.ListAuctionsFilter) ([]models.Auction, int, error) {
	var status *string
	if filter.Status != nil {
		s := string(*filter.Status)
		status = &s
	}

	var total int
	err := q.db.QueryRow(ctx, `
		SELECT count(*) FROM auctions
		WHERE ($1::text IS NULL OR status = $1) AND ($2::uuid IS NULL OR created_by = $2)`,
		status, filter.CreatedBy).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count auctions: %w", err)
	}

	rows, err := q.db.Query(ctx, `
		SELECT `+auctionColumns+` FROM auctions
		WHERE ($1::text IS NULL OR status = $1) AND ($2::uuid IS NULL OR created_by = $2)
		ORDER BY created_at DESC, id
		LIMIT $3 OFFSET $4`,
		status, filter.CreatedBy, filter.PageSize, (filter.Page-1)*filter.PageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list auctions: %w", err)
	}
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.Auction, error) {
		return scanAuction(row)
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to scan auctions: %w", err)
	}

	out := make([]models.Auction, 0, len(list))
	for _, a := range list {
		if err := q.loadItems(ctx, a); err != nil {
			return nil, 0, err
		}
		out = append(out, *a)
	}
	return out, total, nil
}

func (q *queries) GetAuctionItem(ctx context.Context, id uuid.UUID) (*models.AuctionItem, error) {
	it, err := scanItem(q.db.QueryRow(ctx, `
		SELECT `+itemColumns+`
		FROM auction_items ai JOIN loot_items li ON li.id = ai.loot_item_id
		WHERE ai.id = $1`, id))
	if err != nil {
		return nil, notFound(err, "auction item", id)
	}

	rows, err := q.db.Query(ctx, `
		SELECT `+bidColumns+` FROM bids b WHERE b.auction_item_id = $1 ORDER BY b.created_at, b.amount`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query bids of item %s: %w", id, err)
	}
	it.Bids, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Bid, error) {
		return scanBid(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan bids of item %s: %w", id, err)
	}
	return &it, nil
}

func (q *queries) StartItem(ctx context.Context, id uuid.UUID, startedAt, deadline time.Time) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE auction_items SET status = 'IN_AUCTION', started_at = $2, deadline_at = $3
		WHERE id = $1 AND status = 'WAITING'`, id, startedAt, deadline)
	if err != nil {
		return fmt.Errorf("failed to start item %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %s is not %s", id, models.AuctionItemStatusWaiting)
	}
	return nil
}

func (q *queries) CloseItem(ctx context.Context, id uuid.UUID, status models.AuctionItemStatus, finishedAt time.Time) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE auction_items SET status = $2, finished_at = $3, deadline_at = NULL
		WHERE id = $1 AND status = 'IN_AUCTION'`, id, string(status), finishedAt)
	if err != nil {
		return fmt.Errorf("failed to close item %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("close item %s: %w", id, auction.ErrConcurrencyConflict)
	}
	return nil
}

func (q *queries) CancelOpenItems(ctx context.Context, auctionID uuid.UUID, finishedAt time.Time) (int, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE auction_items SET status = 'CANCELLED', finished_at = $2, deadline_at = NULL
		WHERE auction_id = $1 AND status IN ('WAITING', 'IN_AUCTION')`, auctionID, finishedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel items of auction %s: %w", auctionID, err)
	}
	return int(tag.RowsAffected()), nil
}

// CompareAndSetBid moves the leading bid only if nobody else moved it first.
func (q *queries) CompareAndSetBid(ctx context.Context, cas auction.CASBid) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE auction_items SET current_bid = $3, current_winner_id = $4
		WHERE id = $1
		  AND status = 'IN_AUCTION'
		  AND deadline_at > $5
		  AND current_bid IS NOT DISTINCT FROM $2::bigint`,
		cas.ItemID, cas.Expected, cas.Amount, cas.UserID, cas.Now)
	if err != nil {
		return false, fmt.Errorf("failed to update bid on item %s: %w", cas.ItemID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (q *queries) FetchExpiredItems(ctx context.Context, now time.Time, limit int) ([]auction.ExpiredItem, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, auction_id, deadline_at FROM auction_items
		WHERE status = 'IN_AUCTION' AND deadline_at <= $1
		ORDER BY deadline_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired items: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (auction.ExpiredItem, error) {
		var e auction.ExpiredItem
		err := row.Scan(&e.AuctionItemID, &e.AuctionID, &e.Deadline)
		return e, err
	})
}

func (q *queries) NextItemDeadline(ctx context.Context) (*auction.NextDeadline, error) {
	var next auction.NextDeadline
	err := q.db.QueryRow(ctx, `
		SELECT id, auction_id, deadline_at FROM auction_items
		WHERE status = 'IN_AUCTION' AND deadline_at IS NOT NULL
		ORDER BY deadline_at
		LIMIT 1`).Scan(&next.AuctionItemID, &next.AuctionID, &next.Deadline)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query next deadline: %w", err)
	}
	return &next, nil
}

func (q *queries) InsertBid(ctx context.Context, b *models.Bid) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO bids (id, auction_item_id, user_id, amount, status, request_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		b.ID, b.AuctionItemID, b.UserID, b.Amount, string(b.Status), sqlutil.ToNullString(b.RequestKey), b.CreatedAt)
	if constraint, ok := sqlutil.UniqueViolation(err); ok && constraint == constraintRequestKey {
		return fmt.Errorf("duplicate request key %q: %w", b.RequestKey, auction.ErrConcurrencyConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert bid: %w", err)
	}
	return nil
}

func (q *queries) MarkBidsOutbid(ctx context.Context, itemID uuid.UUID, except *uuid.UUID) error {
	_, err := q.db.Exec(ctx, `
		UPDATE bids SET status = 'OUTBID'
		WHERE auction_item_id = $1
		  AND status IN ('ACTIVE', 'WON')
		  AND ($2::uuid IS NULL OR id <> $2)`, itemID, except)
	if err != nil {
		return fmt.Errorf("failed to mark bids outbid on item %s: %w", itemID, err)
	}
	return nil
}

func (q *queries) MarkBidWon(ctx context.Context, bidID uuid.UUID) error {
	tag, err := q.db.Exec(ctx, `UPDATE bids SET status = 'WON' WHERE id = $1`, bidID)
	if err != nil {
		return fmt.Errorf("failed to mark bid %s won: %w", bidID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("bid %s: %w", bidID, auction.ErrNotFound)
	}
	return nil
}

func (q *queries) FindBidByRequestKey(ctx context.Context, itemID, userID uuid.UUID, key string) (*models.Bid, error) {
	b, err := scanBid(q.db.QueryRow(ctx, `
		SELECT `+bidColumns+` FROM bids b
		WHERE b.auction_item_id = $1 AND b.user_id = $2 AND b.request_key = $3`, itemID, userID, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, auction.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find bid by request key: %w", err)
	}
	return &b, nil
}

func (q *queries) ListWonItems(ctx context.Context, filter auction.WonItemsFilter) ([]models.WonItem, int, error) {
	const where = `
		WHERE ai.status = 'SOLD' AND ai.current_winner_id = $1
		  AND ($2::timestamptz IS NULL OR ai.finished_at >= $2)
		  AND ($3::timestamptz IS NULL OR ai.finished_at <= $3)`

	var total int
	err := q.db.QueryRow(ctx, `SELECT count(*) FROM auction_items ai`+where,
		filter.UserID, filter.From, filter.To).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count won items: %w", err)
	}

	rows, err := q.db.Query(ctx, `
		SELECT ai.id, ai.auction_id, ai.loot_item_id, li.name, li.category, li.grade,
		       ai.current_winner_id, ai.current_bid, ai.finished_at
		FROM auction_items ai JOIN loot_items li ON li.id = ai.loot_item_id`+where+`
		ORDER BY ai.finished_at DESC, ai.id
		LIMIT $4 OFFSET $5`,
		filter.UserID, filter.From, filter.To, filter.PageSize, (filter.Page-1)*filter.PageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list won items: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.WonItem, error) {
		var w models.WonItem
		err := row.Scan(&w.AuctionItemID, &w.AuctionID, &w.LootItemID, &w.Name, &w.Category, &w.Grade,
			&w.UserID, &w.Amount, &w.WonAt)
		return w, err
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to scan won items: %w", err)
	}
	return items, total, nil
}

func (q *queries) DebitDKP(ctx context.Context, debit models.DKPDebit) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO dkp_debits (id, user_id, amount, auction_item_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		debit.ID, debit.UserID, debit.Amount, debit.AuctionItemID, sqlutil.ToNullRawMessage(debit.Details), debit.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to debit %d DKP from %s: %w", debit.Amount, debit.UserID, err)
	}
	return nil
}

// ListDebits returns a user's DKP debits, newest first.
func (s *Store) ListDebits(ctx context.Context, userID uuid.UUID) ([]models.DKPDebit, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, amount, auction_item_id, details, created_at FROM dkp_debits
		WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query debits: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.DKPDebit, error) {
		var d models.DKPDebit
		var details pqtype.NullRawMessage
		err := row.Scan(&d.ID, &d.UserID, &d.Amount, &d.AuctionItemID, &details, &d.CreatedAt)
		d.Details = sqlutil.FromNullRawMessage(details)
		return d, err
	})
}

func (q *queries) InsertOutbox(ctx context.Context, event auction.OutboxEvent) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO auction_outbox (id, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		event.ID, event.AggregateID, event.EventType, event.Payload, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert %s outbox event: %w", event.EventType, err)
	}
	return nil
}

var _ auction.Queries = (*queries)(nil)

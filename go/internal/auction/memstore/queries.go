package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/guildloot/go/internal/auction"
	"github.com/mcdev12/guildloot/go/internal/models"
)

type queries struct {
	store *Store
	tx    *state
}

// acquire returns the state to operate on. Outside a transaction each call
// holds the store lock until release.
func (q *queries) acquire() (*state, func()) {
	if q.tx != nil {
		return q.tx, func() {}
	}
	q.store.mu.Lock()
	return q.store.data, q.store.mu.Unlock
}

func (q *queries) GetLootItems(_ context.Context, ids []uuid.UUID) ([]models.LootItem, error) {
	st, release := q.acquire()
	defer release()

	var out []models.LootItem
	for _, id := range ids {
		if l, ok := st.loot[id]; ok {
			out = append(out, l)
		}
	}
	return out, nil
}

func (q *queries) GetLootItem(_ context.Context, id uuid.UUID) (*models.LootItem, error) {
	st, release := q.acquire()
	defer release()

	l, ok := st.loot[id]
	if !ok {
		return nil, fmt.Errorf("loot item %s: %w", id, auction.ErrNotFound)
	}
	return &l, nil
}

func (q *queries) LootInOpenAuction(_ context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	st, release := q.acquire()
	defer release()

	want := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []uuid.UUID
	for _, a := range sortedAuctions(st) {
		for _, it := range a.Items {
			if want[it.LootItemID] && !it.Status.IsTerminal() {
				out = append(out, it.LootItemID)
				want[it.LootItemID] = false
			}
		}
	}
	return out, nil
}

func (q *queries) SetLootAuctioned(_ context.Context, id uuid.UUID, auctioned bool) error {
	st, release := q.acquire()
	defer release()

	l, ok := st.loot[id]
	if !ok {
		return fmt.Errorf("loot item %s: %w", id, auction.ErrNotFound)
	}
	l.HasBeenAuctioned = auctioned
	st.loot[id] = l
	return nil
}

func (q *queries) InsertAuction(_ context.Context, a *models.Auction) error {
	st, release := q.acquire()
	defer release()

	if _, ok := st.auctions[a.ID]; ok {
		return fmt.Errorf("auction %s already exists", a.ID)
	}
	for _, other := range st.auctions {
		for _, queued := range other.Items {
			if queued.Status.IsTerminal() {
				continue
			}
			for _, it := range a.Items {
				if it.LootItemID == queued.LootItemID {
					return &auction.ValidationError{Field: "loot_item_ids", Reason: "already queued in an open auction"}
				}
			}
		}
	}
	st.auctions[a.ID] = a.Clone()
	for _, it := range a.Items {
		st.itemIndex[it.ID] = a.ID
	}
	return nil
}

func (q *queries) GetAuction(_ context.Context, id uuid.UUID) (*models.Auction, error) {
	st, release := q.acquire()
	defer release()

	a, ok := st.auctions[id]
	if !ok {
		return nil, fmt.Errorf("auction %s: %w", id, auction.ErrNotFound)
	}
	return a.Clone(), nil
}

// LockAuction is GetAuction; the transaction already excludes every other writer.
func (q *queries) LockAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	return q.GetAuction(ctx, id)
}

func (q *queries) GetActiveAuctionID(_ context.Context) (*uuid.UUID, error) {
	st, release := q.acquire()
	defer release()

	for _, a := range st.auctions {
		if a.Status == models.AuctionStatusActive {
			id := a.ID
			return &id, nil
		}
	}
	return nil, nil
}

func (q *queries) UpdateAuctionStatus(_ context.Context, id uuid.UUID, status models.AuctionStatus, startedAt, finishedAt *time.Time) error {
	st, release := q.acquire()
	defer release()

	a, ok := st.auctions[id]
	if !ok {
		return fmt.Errorf("auction %s: %w", id, auction.ErrNotFound)
	}
	if status == models.AuctionStatusActive {
		for _, other := range st.auctions {
			if other.ID != id && other.Status == models.AuctionStatusActive {
				return &auction.InvalidStateError{Op: "start", Entity: "auction", ID: id, Status: string(a.Status),
					Reason: fmt.Sprintf("auction %s is already active", other.ID)}
			}
		}
	}
	a.Status = status
	if startedAt != nil {
		t := *startedAt
		a.StartedAt = &t
	}
	if finishedAt != nil {
		t := *finishedAt
		a.FinishedAt = &t
	}
	return nil
}

func (q *queries) ListAuctions(_ context.Context, filter auction.ListAuctionsFilter) ([]models.Auction, int, error) {
	st, release := q.acquire()
	defer release()

	var matched []models.Auction
	for _, a := range sortedAuctions(st) {
		if filter.Status != nil && a.Status != *filter.Status {
			continue
		}
		if filter.CreatedBy != nil && a.CreatedBy != *filter.CreatedBy {
			continue
		}
		matched = append(matched, *a.Clone())
	}
	return paginate(matched, filter.Page, filter.PageSize), len(matched), nil
}

func (q *queries) GetAuctionItem(_ context.Context, id uuid.UUID) (*models.AuctionItem, error) {
	st, release := q.acquire()
	defer release()

	it, err := st.item(id)
	if err != nil {
		return nil, err
	}
	return it.Clone(), nil
}

func (q *queries) StartItem(_ context.Context, id uuid.UUID, startedAt, deadline time.Time) error {
	st, release := q.acquire()
	defer release()

	it, err := st.item(id)
	if err != nil {
		return err
	}
	if it.Status != models.AuctionItemStatusWaiting {
		return fmt.Errorf("item %s is %s, not %s", id, it.Status, models.AuctionItemStatusWaiting)
	}
	it.Status = models.AuctionItemStatusInAuction
	it.StartedAt = &startedAt
	st.deadlines[id] = deadline
	return nil
}

func (q *queries) CloseItem(_ context.Context, id uuid.UUID, status models.AuctionItemStatus, finishedAt time.Time) error {
	st, release := q.acquire()
	defer release()

	it, err := st.item(id)
	if err != nil {
		return err
	}
	if it.Status != models.AuctionItemStatusInAuction {
		return fmt.Errorf("close item %s: %w", id, auction.ErrConcurrencyConflict)
	}
	it.Status = status
	it.FinishedAt = &finishedAt
	delete(st.deadlines, id)
	return nil
}

func (q *queries) CancelOpenItems(_ context.Context, auctionID uuid.UUID, finishedAt time.Time) (int, error) {
	st, release := q.acquire()
	defer release()

	a, ok := st.auctions[auctionID]
	if !ok {
		return 0, fmt.Errorf("auction %s: %w", auctionID, auction.ErrNotFound)
	}
	n := 0
	for i := range a.Items {
		it := &a.Items[i]
		if it.Status.IsTerminal() {
			continue
		}
		it.Status = models.AuctionItemStatusCancelled
		t := finishedAt
		it.FinishedAt = &t
		delete(st.deadlines, it.ID)
		n++
	}
	return n, nil
}

func (q *queries) CompareAndSetBid(_ context.Context, cas auction.CASBid) (bool, error) {
	st, release := q.acquire()
	defer release()

	it, err := st.item(cas.ItemID)
	if err != nil {
		return false, err
	}
	if it.Status != models.AuctionItemStatusInAuction {
		return false, nil
	}
	if deadline, ok := st.deadlines[it.ID]; !ok || !cas.Now.Before(deadline) {
		return false, nil
	}
	switch {
	case it.CurrentBid == nil && cas.Expected != nil,
		it.CurrentBid != nil && cas.Expected == nil,
		it.CurrentBid != nil && *it.CurrentBid != *cas.Expected:
		return false, nil
	}

	amount := cas.Amount
	winner := cas.UserID
	it.CurrentBid = &amount
	it.CurrentWinnerID = &winner
	return true, nil
}

func (q *queries) FetchExpiredItems(_ context.Context, now time.Time, limit int) ([]auction.ExpiredItem, error) {
	st, release := q.acquire()
	defer release()

	var out []auction.ExpiredItem
	for id, deadline := range st.deadlines {
		if now.Before(deadline) {
			continue
		}
		out = append(out, auction.ExpiredItem{AuctionItemID: id, AuctionID: st.itemIndex[id], Deadline: deadline})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Deadline.Before(out[j].Deadline) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *queries) NextItemDeadline(_ context.Context) (*auction.NextDeadline, error) {
	st, release := q.acquire()
	defer release()

	var next *auction.NextDeadline
	for id, deadline := range st.deadlines {
		if next == nil || deadline.Before(next.Deadline) {
			next = &auction.NextDeadline{AuctionItemID: id, AuctionID: st.itemIndex[id], Deadline: deadline}
		}
	}
	return next, nil
}

func (q *queries) InsertBid(_ context.Context, b *models.Bid) error {
	st, release := q.acquire()
	defer release()

	it, err := st.item(b.AuctionItemID)
	if err != nil {
		return err
	}
	if b.RequestKey != "" {
		for _, existing := range it.Bids {
			if existing.UserID == b.UserID && existing.RequestKey == b.RequestKey {
				return fmt.Errorf("duplicate request key %q: %w", b.RequestKey, auction.ErrConcurrencyConflict)
			}
		}
	}
	it.Bids = append(it.Bids, *b)
	return nil
}

func (q *queries) MarkBidsOutbid(_ context.Context, itemID uuid.UUID, except *uuid.UUID) error {
	st, release := q.acquire()
	defer release()

	it, err := st.item(itemID)
	if err != nil {
		return err
	}
	for i := range it.Bids {
		b := &it.Bids[i]
		if except != nil && b.ID == *except {
			continue
		}
		if b.Status == models.BidStatusActive || b.Status == models.BidStatusWon {
			b.Status = models.BidStatusOutbid
		}
	}
	return nil
}

func (q *queries) MarkBidWon(_ context.Context, bidID uuid.UUID) error {
	st, release := q.acquire()
	defer release()

	for _, a := range st.auctions {
		for i := range a.Items {
			for j := range a.Items[i].Bids {
				if a.Items[i].Bids[j].ID == bidID {
					a.Items[i].Bids[j].Status = models.BidStatusWon
					return nil
				}
			}
		}
	}
	return fmt.Errorf("bid %s: %w", bidID, auction.ErrNotFound)
}

func (q *queries) FindBidByRequestKey(_ context.Context, itemID, userID uuid.UUID, key string) (*models.Bid, error) {
	st, release := q.acquire()
	defer release()

	it, err := st.item(itemID)
	if err != nil {
		return nil, err
	}
	for _, b := range it.Bids {
		if b.UserID == userID && b.RequestKey == key {
			found := b
			return &found, nil
		}
	}
	return nil, auction.ErrNotFound
}

func (q *queries) ListWonItems(_ context.Context, filter auction.WonItemsFilter) ([]models.WonItem, int, error) {
	st, release := q.acquire()
	defer release()

	var won []models.WonItem
	for _, a := range st.auctions {
		for _, it := range a.Items {
			if it.Status != models.AuctionItemStatusSold || it.CurrentWinnerID == nil || *it.CurrentWinnerID != filter.UserID {
				continue
			}
			wonAt := *it.FinishedAt
			if filter.From != nil && wonAt.Before(*filter.From) {
				continue
			}
			if filter.To != nil && wonAt.After(*filter.To) {
				continue
			}
			won = append(won, models.WonItem{
				AuctionItemID: it.ID,
				AuctionID:     a.ID,
				LootItemID:    it.LootItemID,
				Name:          it.Name,
				Category:      it.Category,
				Grade:         it.Grade,
				UserID:        filter.UserID,
				Amount:        *it.CurrentBid,
				WonAt:         wonAt,
			})
		}
	}
	sort.Slice(won, func(i, j int) bool {
		if won[i].WonAt.Equal(won[j].WonAt) {
			return won[i].AuctionItemID.String() < won[j].AuctionItemID.String()
		}
		return won[i].WonAt.After(won[j].WonAt)
	})
	return paginate(won, filter.Page, filter.PageSize), len(won), nil
}

func (q *queries) DebitDKP(_ context.Context, debit models.DKPDebit) error {
	st, release := q.acquire()
	defer release()

	st.debits = append(st.debits, debit)
	return nil
}

func (q *queries) InsertOutbox(_ context.Context, event auction.OutboxEvent) error {
	st, release := q.acquire()
	defer release()

	st.outbox = append(st.outbox, event)
	return nil
}

func (s *state) item(id uuid.UUID) (*models.AuctionItem, error) {
	auctionID, ok := s.itemIndex[id]
	if !ok {
		return nil, fmt.Errorf("auction item %s: %w", id, auction.ErrNotFound)
	}
	it := s.auctions[auctionID].Item(id)
	if it == nil {
		return nil, fmt.Errorf("auction item %s: %w", id, auction.ErrNotFound)
	}
	return it, nil
}

// sortedAuctions orders auctions newest first.
func sortedAuctions(st *state) []*models.Auction {
	out := make([]*models.Auction, 0, len(st.auctions))
	for _, a := range st.auctions {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func paginate[T any](all []T, page, pageSize int) []T {
	if page < 1 || pageSize < 1 {
		return all
	}
	start := (page - 1) * pageSize
	if start >= len(all) {
		return nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end]
}

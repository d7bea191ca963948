package auction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/guildloot/go/internal/auction/events"
	"github.com/mcdev12/guildloot/go/internal/auction/idempotency"
	"github.com/mcdev12/guildloot/go/internal/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Notifier is told when a new item deadline exists so an expiry scheduler can rearm.
type Notifier interface {
	Wake()
}

// App is the single authority over auction and item status transitions.
type App struct {
	store      Store
	clock      clockwork.Clock
	policy     Policy
	selfOutbid SelfOutbidPolicy
	outcomes   idempotency.Store
	flight     singleflight.Group
	notifier   Notifier
}

// Option configures an App.
type Option func(*App)

// WithClock sets the clock used for every timestamp and deadline.
func WithClock(c clockwork.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithPolicy overrides DefaultPolicy.
func WithPolicy(p Policy) Option {
	return func(a *App) { a.policy = p }
}

// WithSelfOutbidPolicy replaces the rule deciding whether the leader may raise.
func WithSelfOutbidPolicy(p SelfOutbidPolicy) Option {
	return func(a *App) { a.selfOutbid = p }
}

// WithOutcomeStore sets where bid outcomes are remembered for retries.
func WithOutcomeStore(s idempotency.Store) Option {
	return func(a *App) { a.outcomes = s }
}

// NewApp creates a new auction App
func NewApp(store Store, opts ...Option) (*App, error) {
	a := &App{
		store:  store,
		clock:  clockwork.NewRealClock(),
		policy: DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if err := a.policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid auction policy: %w", err)
	}
	if a.selfOutbid == nil {
		a.selfOutbid = PermitSelfOutbid
		if !a.policy.AllowSelfOutbid {
			a.selfOutbid = ForbidSelfOutbid
		}
	}
	if a.outcomes == nil {
		lruStore, err := idempotency.NewLRUStore(a.policy.IdempotencyCache, a.policy.IdempotencyTTL, a.clock)
		if err != nil {
			return nil, err
		}
		a.outcomes = lruStore
	}
	return a, nil
}

// SetNotifier registers the component woken whenever an item starts.
func (a *App) SetNotifier(n Notifier) {
	a.notifier = n
}

// Policy returns the active policy.
func (a *App) Policy() Policy {
	return a.policy
}

// CreateAuction creates a PENDING auction with one WAITING item per loot id, in input order.
func (a *App) CreateAuction(ctx context.Context, req CreateAuctionRequest) (*models.Auction, error) {
	if err := a.validateCreateAuctionRequest(req); err != nil {
		return nil, err
	}

	now := a.clock.Now()
	auc := &models.Auction{
		ID:                  uuid.New(),
		Status:              models.AuctionStatusPending,
		DefaultTimerSeconds: req.DefaultTimerSeconds,
		MinBidIncrement:     req.MinBidIncrement,
		CreatedBy:           req.CreatedBy,
		Notes:               req.Notes,
		CreatedAt:           now,
	}

	err := a.store.InTx(ctx, func(q Queries) error {
		loot, err := q.GetLootItems(ctx, req.LootItemIDs)
		if err != nil {
			return fmt.Errorf("failed to load loot items: %w", err)
		}
		byID := make(map[uuid.UUID]models.LootItem, len(loot))
		for _, l := range loot {
			byID[l.ID] = l
		}

		open, err := q.LootInOpenAuction(ctx, req.LootItemIDs)
		if err != nil {
			return fmt.Errorf("failed to check open auctions: %w", err)
		}
		if len(open) > 0 {
			return &ValidationError{Field: "loot_item_ids", Reason: fmt.Sprintf("loot item %s is already queued in another auction", open[0])}
		}

		for i, id := range req.LootItemIDs {
			l, ok := byID[id]
			if !ok {
				return &ValidationError{Field: "loot_item_ids", Reason: fmt.Sprintf("loot item %s does not exist", id)}
			}
			if l.HasBeenAuctioned {
				return &ValidationError{Field: "loot_item_ids", Reason: fmt.Sprintf("loot item %s has already been auctioned", id)}
			}
			auc.Items = append(auc.Items, models.AuctionItem{
				ID:         uuid.New(),
				AuctionID:  auc.ID,
				LootItemID: id,
				Position:   i + 1,
				Status:     models.AuctionItemStatusWaiting,
				MinBid:     l.MinimumBid,
				Name:       l.Name,
				Category:   l.Category,
				Grade:      l.Grade,
			})
		}

		if err := q.InsertAuction(ctx, auc); err != nil {
			return fmt.Errorf("failed to insert auction: %w", err)
		}
		return a.emit(ctx, q, auc.ID, events.TypeAuctionCreated, events.AuctionCreatedPayload{
			AuctionID:           auc.ID.String(),
			CreatedBy:           auc.CreatedBy.String(),
			ItemCount:           len(auc.Items),
			DefaultTimerSeconds: auc.DefaultTimerSeconds,
			MinBidIncrement:     auc.MinBidIncrement,
			CreatedAt:           now,
		})
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("auction_id", auc.ID.String()).
		Int("items", len(auc.Items)).
		Int("timer_seconds", auc.DefaultTimerSeconds).
		Msg("created auction")
	return auc, nil
}

// StartAuction moves a PENDING auction to ACTIVE and puts its first item up.
func (a *App) StartAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	now := a.clock.Now()
	err := a.store.InTx(ctx, func(q Queries) error {
		auc, err := q.LockAuction(ctx, id)
		if err != nil {
			return err
		}
		if auc.Status != models.AuctionStatusPending {
			return invalidState("start", "auction", id, auc.Status)
		}

		activeID, err := q.GetActiveAuctionID(ctx)
		if err != nil {
			return fmt.Errorf("failed to check active auction: %w", err)
		}
		if activeID != nil && *activeID != id {
			return &InvalidStateError{Op: "start", Entity: "auction", ID: id, Status: string(auc.Status),
				Reason: fmt.Sprintf("auction %s is already active", *activeID)}
		}

		if err := q.UpdateAuctionStatus(ctx, id, models.AuctionStatusActive, &now, nil); err != nil {
			return err
		}
		auc.Status = models.AuctionStatusActive
		auc.StartedAt = &now

		if err := a.emit(ctx, q, id, events.TypeAuctionStarted, events.AuctionStartedPayload{
			AuctionID:  id.String(),
			StartedAt:  now,
			TotalItems: len(auc.Items),
		}); err != nil {
			return err
		}
		_, err = a.advance(ctx, q, auc, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("auction_id", id.String()).Msg("started auction")
	a.wake()
	return a.GetAuction(ctx, id)
}

// FinalizeItem closes an IN_AUCTION item as SOLD or NO_BIDS and advances the
// queue. Finalizing an item that is already terminal is a no-op.
func (a *App) FinalizeItem(ctx context.Context, itemID uuid.UUID) (*models.Auction, error) {
	now := a.clock.Now()
	var (
		auctionID uuid.UUID
		changed   bool
	)
	err := a.store.InTx(ctx, func(q Queries) error {
		item, err := q.GetAuctionItem(ctx, itemID)
		if err != nil {
			return err
		}
		auctionID = item.AuctionID

		auc, err := q.LockAuction(ctx, item.AuctionID)
		if err != nil {
			return err
		}
		item = auc.Item(itemID)
		if item == nil {
			return ErrNotFound
		}

		switch {
		case item.Status.IsTerminal():
			return nil
		case item.Status != models.AuctionItemStatusInAuction:
			return invalidState("finalize", "auction item", itemID, item.Status)
		}

		changed = true
		return a.finalizeLocked(ctx, q, auc, item, now)
	})
	if err != nil {
		return nil, err
	}

	if changed {
		a.wake()
	}
	return a.GetAuction(ctx, auctionID)
}

// finalizeLocked settles item and runs the sequencer. The auction row must be locked.
func (a *App) finalizeLocked(ctx context.Context, q Queries, auc *models.Auction, item *models.AuctionItem, now time.Time) error {
	status := models.AuctionItemStatusNoBids
	if item.CurrentBid != nil {
		status = models.AuctionItemStatusSold
	}
	if err := q.CloseItem(ctx, item.ID, status, now); err != nil {
		return fmt.Errorf("failed to close item: %w", err)
	}
	item.Status = status
	item.FinishedAt = &now

	payload := events.ItemFinalizedPayload{
		AuctionID:     auc.ID.String(),
		AuctionItemID: item.ID.String(),
		Status:        string(status),
		FinishedAt:    now,
	}

	if status == models.AuctionItemStatusSold {
		top := item.TopBid()
		if top == nil {
			return fmt.Errorf("item %s has a current bid but no active bid", item.ID)
		}
		if err := q.MarkBidWon(ctx, top.ID); err != nil {
			return fmt.Errorf("failed to mark winning bid: %w", err)
		}
		if err := q.MarkBidsOutbid(ctx, item.ID, &top.ID); err != nil {
			return fmt.Errorf("failed to mark losing bids: %w", err)
		}
		if err := a.debitWinner(ctx, q, auc, item, top, now); err != nil {
			return err
		}
		if err := q.SetLootAuctioned(ctx, item.LootItemID, true); err != nil {
			return fmt.Errorf("failed to flag loot item: %w", err)
		}
		payload.WinnerID = top.UserID.String()
		payload.Amount = item.CurrentBid
	}

	if err := a.emit(ctx, q, auc.ID, events.TypeItemFinalized, payload); err != nil {
		return err
	}

	log.Info().
		Str("auction_id", auc.ID.String()).
		Str("item_id", item.ID.String()).
		Str("status", string(status)).
		Msg("finalized auction item")

	_, err := a.advance(ctx, q, auc, now)
	return err
}

func (a *App) debitWinner(ctx context.Context, q Queries, auc *models.Auction, item *models.AuctionItem, top *models.Bid, now time.Time) error {
	details, err := json.Marshal(map[string]any{
		"auction_id":   auc.ID,
		"loot_item_id": item.LootItemID,
		"item_name":    item.Name,
		"bid_id":       top.ID,
	})
	if err != nil {
		return fmt.Errorf("failed to encode debit details: %w", err)
	}
	err = q.DebitDKP(ctx, models.DKPDebit{
		ID:            uuid.New(),
		UserID:        top.UserID,
		Amount:        top.Amount,
		AuctionItemID: item.ID,
		Details:       details,
		CreatedAt:     now,
	})
	if err != nil {
		return fmt.Errorf("failed to debit winner: %w", err)
	}
	return nil
}

// CancelAuction cancels a PENDING or ACTIVE auction and every unresolved item.
// Bids already placed stay recorded as they are.
func (a *App) CancelAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	now := a.clock.Now()
	err := a.store.InTx(ctx, func(q Queries) error {
		auc, err := q.LockAuction(ctx, id)
		if err != nil {
			return err
		}
		if auc.Status.IsTerminal() {
			return invalidState("cancel", "auction", id, auc.Status)
		}

		if err := q.UpdateAuctionStatus(ctx, id, models.AuctionStatusCancelled, nil, &now); err != nil {
			return err
		}
		n, err := q.CancelOpenItems(ctx, id, now)
		if err != nil {
			return fmt.Errorf("failed to cancel items: %w", err)
		}
		for _, item := range auc.Items {
			if item.Status.IsTerminal() {
				continue
			}
			if err := q.SetLootAuctioned(ctx, item.LootItemID, true); err != nil {
				return fmt.Errorf("failed to flag loot item: %w", err)
			}
		}

		return a.emit(ctx, q, id, events.TypeAuctionCancelled, events.AuctionCancelledPayload{
			AuctionID:      id.String(),
			CancelledAt:    now,
			CancelledItems: n,
		})
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("auction_id", id.String()).Msg("cancelled auction")
	a.wake()
	return a.GetAuction(ctx, id)
}

// GetAuction returns the full auction aggregate, settling an expired item first.
func (a *App) GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	auc, err := a.store.Queries().GetAuction(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}
	return a.settleExpired(ctx, auc)
}

// GetActiveAuction returns the ACTIVE auction, or nil when none is running.
func (a *App) GetActiveAuction(ctx context.Context) (*models.Auction, error) {
	id, err := a.store.Queries().GetActiveAuctionID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get active auction: %w", err)
	}
	if id == nil {
		return nil, nil
	}

	auc, err := a.GetAuction(ctx, *id)
	if err != nil {
		return nil, err
	}
	if auc.Status != models.AuctionStatusActive {
		return nil, nil
	}
	return auc, nil
}

// settleExpired finalizes the in-progress item if its deadline has passed and
// returns the refreshed aggregate.
func (a *App) settleExpired(ctx context.Context, auc *models.Auction) (*models.Auction, error) {
	item := auc.InProgressItem()
	if item == nil || !Expired(item, auc.DefaultTimerSeconds, a.clock.Now()) {
		return auc, nil
	}

	log.Debug().
		Str("auction_id", auc.ID.String()).
		Str("item_id", item.ID.String()).
		Msg("finalizing expired item on read")

	if _, err := a.finalizeNoReload(ctx, item.ID); err != nil {
		return nil, err
	}
	fresh, err := a.store.Queries().GetAuction(ctx, auc.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}
	return fresh, nil
}

// finalizeNoReload runs FinalizeItem without the trailing lazy read, so a
// read path cannot recurse into itself.
func (a *App) finalizeNoReload(ctx context.Context, itemID uuid.UUID) (bool, error) {
	now := a.clock.Now()
	changed := false
	err := a.store.InTx(ctx, func(q Queries) error {
		item, err := q.GetAuctionItem(ctx, itemID)
		if err != nil {
			return err
		}
		auc, err := q.LockAuction(ctx, item.AuctionID)
		if err != nil {
			return err
		}
		item = auc.Item(itemID)
		if item == nil || item.Status != models.AuctionItemStatusInAuction {
			return nil
		}
		if !Expired(item, auc.DefaultTimerSeconds, now) {
			return nil
		}
		changed = true
		return a.finalizeLocked(ctx, q, auc, item, now)
	})
	if err != nil {
		return false, err
	}
	if changed {
		a.wake()
	}
	return changed, nil
}

// ListAuctions returns a page of auctions, newest first.
func (a *App) ListAuctions(ctx context.Context, filter ListAuctionsFilter) ([]models.Auction, Pagination, error) {
	filter.Page, filter.PageSize = normalizePage(filter.Page, filter.PageSize, a.policy.MaxPageSize)
	list, total, err := a.store.Queries().ListAuctions(ctx, filter)
	if err != nil {
		return nil, Pagination{}, fmt.Errorf("failed to list auctions: %w", err)
	}
	return list, newPagination(filter.Page, filter.PageSize, total), nil
}

// GetUserWonItems returns the items a user has won, most recent first.
func (a *App) GetUserWonItems(ctx context.Context, filter WonItemsFilter) ([]models.WonItem, Pagination, error) {
	if filter.UserID == uuid.Nil {
		return nil, Pagination{}, &ValidationError{Field: "user_id", Reason: "is required"}
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, Pagination{}, &ValidationError{Field: "to", Reason: "must not be before from"}
	}
	filter.Page, filter.PageSize = normalizePage(filter.Page, filter.PageSize, a.policy.MaxPageSize)
	items, total, err := a.store.Queries().ListWonItems(ctx, filter)
	if err != nil {
		return nil, Pagination{}, fmt.Errorf("failed to list won items: %w", err)
	}
	return items, newPagination(filter.Page, filter.PageSize, total), nil
}

// ResetAuctionedFlag makes a loot item eligible for auction again.
func (a *App) ResetAuctionedFlag(ctx context.Context, lootItemID, resetBy uuid.UUID, reason string) (*models.LootItem, error) {
	now := a.clock.Now()
	var loot *models.LootItem
	err := a.store.InTx(ctx, func(q Queries) error {
		var err error
		loot, err = q.GetLootItem(ctx, lootItemID)
		if err != nil {
			return err
		}
		open, err := q.LootInOpenAuction(ctx, []uuid.UUID{lootItemID})
		if err != nil {
			return fmt.Errorf("failed to check open auctions: %w", err)
		}
		if len(open) > 0 {
			return &InvalidStateError{Op: "reset", Entity: "loot item", ID: lootItemID,
				Reason: "it is queued in an unfinished auction"}
		}
		if err := q.SetLootAuctioned(ctx, lootItemID, false); err != nil {
			return fmt.Errorf("failed to reset loot flag: %w", err)
		}
		loot.HasBeenAuctioned = false
		return a.emit(ctx, q, lootItemID, events.TypeLootFlagReset, events.LootFlagResetPayload{
			LootItemID: lootItemID.String(),
			Reason:     reason,
			ResetBy:    resetBy.String(),
			ResetAt:    now,
		})
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("loot_item_id", lootItemID.String()).Str("reason", reason).Msg("reset auctioned flag")
	return loot, nil
}

// FetchExpiredItems returns IN_AUCTION items whose deadline has passed.
func (a *App) FetchExpiredItems(ctx context.Context, limit int) ([]ExpiredItem, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than 0")
	}
	items, err := a.store.Queries().FetchExpiredItems(ctx, a.clock.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch expired items: %w", err)
	}
	return items, nil
}

// FinalizeExpired finalizes up to limit expired items and returns how many it settled.
func (a *App) FinalizeExpired(ctx context.Context, limit int) (int, error) {
	items, err := a.FetchExpiredItems(ctx, limit)
	if err != nil {
		return 0, err
	}
	var errs []error
	n := 0
	for _, it := range items {
		changed, err := a.finalizeNoReload(ctx, it.AuctionItemID)
		if err != nil {
			errs = append(errs, fmt.Errorf("item %s: %w", it.AuctionItemID, err))
			continue
		}
		if changed {
			n++
		}
	}
	return n, errors.Join(errs...)
}

// NextDeadline returns the earliest deadline among IN_AUCTION items, or nil.
func (a *App) NextDeadline(ctx context.Context) (*NextDeadline, error) {
	next, err := a.store.Queries().NextItemDeadline(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch next deadline: %w", err)
	}
	return next, nil
}

// FinalizeIfExpired settles a single item when its deadline has passed.
func (a *App) FinalizeIfExpired(ctx context.Context, itemID uuid.UUID) (bool, error) {
	return a.finalizeNoReload(ctx, itemID)
}

func (a *App) emit(ctx context.Context, q Queries, aggregateID uuid.UUID, eventType string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", eventType, err)
	}
	err = q.InsertOutbox(ctx, OutboxEvent{
		ID:          uuid.New(),
		AggregateID: aggregateID,
		EventType:   eventType,
		Payload:     b,
		CreatedAt:   a.clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to write %s event: %w", eventType, err)
	}
	return nil
}

func (a *App) wake() {
	if a.notifier != nil {
		a.notifier.Wake()
	}
}

func (a *App) validateCreateAuctionRequest(req CreateAuctionRequest) error {
	if len(req.LootItemIDs) == 0 {
		return &ValidationError{Field: "loot_item_ids", Reason: "must not be empty"}
	}
	if len(req.LootItemIDs) > a.policy.MaxItemsPerAuction {
		return &ValidationError{Field: "loot_item_ids", Reason: fmt.Sprintf("must not exceed %d items", a.policy.MaxItemsPerAuction)}
	}
	seen := make(map[uuid.UUID]struct{}, len(req.LootItemIDs))
	for _, id := range req.LootItemIDs {
		if id == uuid.Nil {
			return &ValidationError{Field: "loot_item_ids", Reason: "contains an empty id"}
		}
		if _, dup := seen[id]; dup {
			return &ValidationError{Field: "loot_item_ids", Reason: fmt.Sprintf("loot item %s is listed twice", id)}
		}
		seen[id] = struct{}{}
	}
	if req.DefaultTimerSeconds < a.policy.MinTimerSeconds || req.DefaultTimerSeconds > a.policy.MaxTimerSeconds {
		return &ValidationError{Field: "default_timer_seconds",
			Reason: fmt.Sprintf("must be between %d and %d", a.policy.MinTimerSeconds, a.policy.MaxTimerSeconds)}
	}
	if req.MinBidIncrement < a.policy.MinBidIncrement || req.MinBidIncrement > a.policy.MaxBidIncrement {
		return &ValidationError{Field: "min_bid_increment",
			Reason: fmt.Sprintf("must be between %d and %d", a.policy.MinBidIncrement, a.policy.MaxBidIncrement)}
	}
	if req.CreatedBy == uuid.Nil {
		return &ValidationError{Field: "created_by", Reason: "is required"}
	}
	return nil
}

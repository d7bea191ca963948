package auction

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcdev12/guildloot/go/internal/auction/events"
	"github.com/mcdev12/guildloot/go/internal/auction/idempotency"
	"github.com/mcdev12/guildloot/go/internal/models"
	"github.com/rs/zerolog/log"
)

// PlaceBid submits a bid. A refused bid is not an error: the outcome carries
// the rejection and the current auction state. Errors are reserved for
// malformed requests and storage failures.
//
// Retries are recognized by request key. Identical submissions in flight at
// the same time share one execution, and a retry of a finished submission
// replays its outcome against the current state.
func (a *App) PlaceBid(ctx context.Context, req PlaceBidRequest) (*BidOutcome, error) {
	if req.AuctionItemID == uuid.Nil {
		return nil, &ValidationError{Field: "auction_item_id", Reason: "is required"}
	}
	if req.UserID == uuid.Nil {
		return nil, &ValidationError{Field: "user_id", Reason: "is required"}
	}

	key := a.RequestKey(req)
	v, err, _ := a.flight.Do(key, func() (any, error) {
		return a.placeBidOnce(ctx, req, key)
	})
	if err != nil {
		return nil, err
	}
	return v.(*BidOutcome), nil
}

// RequestKey derives the idempotency key of a submission. A client request id
// wins; otherwise the key is item, user, amount and the submission time
// truncated to the policy bucket.
func (a *App) RequestKey(req PlaceBidRequest) string {
	if req.RequestID != "" {
		return fmt.Sprintf("bid:%s:%s:req:%s", req.AuctionItemID, req.UserID, req.RequestID)
	}
	at := a.clock.Now()
	if req.SubmittedAt != nil {
		at = *req.SubmittedAt
	}
	bucket := at.UTC().Truncate(a.policy.IdempotencyBucket).Unix()
	return fmt.Sprintf("bid:%s:%s:%d:%d", req.AuctionItemID, req.UserID, req.Amount, bucket)
}

func (a *App) placeBidOnce(ctx context.Context, req PlaceBidRequest, key string) (*BidOutcome, error) {
	rec, ok, err := a.outcomes.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("idempotency lookup failed")
	}
	if ok {
		return a.replay(ctx, req, rec)
	}

	outcome, err := a.submitBid(ctx, req, key)
	if err != nil {
		return nil, err
	}
	if err := a.outcomes.Put(ctx, key, toRecord(req, outcome), a.policy.IdempotencyTTL); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("failed to remember bid outcome")
	}
	return outcome, nil
}

// submitBid validates and applies a bid, re-reading and re-validating once
// if another writer changed the item in between.
func (a *App) submitBid(ctx context.Context, req PlaceBidRequest, key string) (*BidOutcome, error) {
	outcome, err := a.tryBid(ctx, req, key)
	if !errors.Is(err, ErrConcurrencyConflict) {
		return outcome, err
	}

	log.Debug().Str("item_id", req.AuctionItemID.String()).Int64("amount", req.Amount).Msg("bid lost a race, re-validating")
	outcome, err = a.tryBid(ctx, req, key)
	if !errors.Is(err, ErrConcurrencyConflict) {
		return outcome, err
	}

	// Lost twice: report against the state that beat us.
	auc, item, err := a.loadForBid(ctx, req.AuctionItemID)
	if err != nil {
		return a.reject(ctx, nil, &ItemNotInAuctionError{ItemID: req.AuctionItemID}), nil
	}
	rejection := ValidateBid(auc, item, req.UserID, req.Amount, a.clock.Now(), a.selfOutbid)
	if rejection == nil {
		rejection = &BidTooLowError{ItemID: item.ID, Amount: req.Amount, Minimum: max(MinimumBid(item, auc.MinBidIncrement), addCapped(req.Amount, auc.MinBidIncrement))}
	}
	return a.reject(ctx, auc, rejection), nil
}

func (a *App) tryBid(ctx context.Context, req PlaceBidRequest, key string) (*BidOutcome, error) {
	now := a.clock.Now()

	if prior, err := a.store.Queries().FindBidByRequestKey(ctx, req.AuctionItemID, req.UserID, key); err == nil {
		return a.duplicate(ctx, prior)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to look up prior bid: %w", err)
	}

	auc, item, err := a.loadForBid(ctx, req.AuctionItemID)
	if errors.Is(err, ErrNotFound) {
		return a.reject(ctx, nil, &ItemNotInAuctionError{ItemID: req.AuctionItemID}), nil
	}
	if err != nil {
		return nil, err
	}

	if Expired(item, auc.DefaultTimerSeconds, now) {
		if _, err := a.finalizeNoReload(ctx, item.ID); err != nil {
			return nil, err
		}
		fresh, err := a.store.Queries().GetAuction(ctx, auc.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to get auction: %w", err)
		}
		status := models.AuctionItemStatusInAuction
		if it := fresh.Item(item.ID); it != nil {
			status = it.Status
		}
		return a.reject(ctx, fresh, &ItemNotInAuctionError{ItemID: item.ID, Status: status}), nil
	}

	if rejection := ValidateBid(auc, item, req.UserID, req.Amount, now, a.selfOutbid); rejection != nil {
		return a.reject(ctx, auc, rejection), nil
	}

	bid := &models.Bid{
		ID:            uuid.New(),
		AuctionItemID: item.ID,
		UserID:        req.UserID,
		Amount:        req.Amount,
		Status:        models.BidStatusActive,
		RequestKey:    key,
		CreatedAt:     now,
	}
	var prior *models.Bid

	err = a.store.InTx(ctx, func(q Queries) error {
		existing, err := q.FindBidByRequestKey(ctx, item.ID, req.UserID, key)
		if err == nil {
			prior = existing
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("failed to look up prior bid: %w", err)
		}

		ok, err := q.CompareAndSetBid(ctx, CASBid{
			ItemID:   item.ID,
			Expected: item.CurrentBid,
			Amount:   req.Amount,
			UserID:   req.UserID,
			Now:      now,
		})
		if err != nil {
			return fmt.Errorf("failed to update current bid: %w", err)
		}
		if !ok {
			return ErrConcurrencyConflict
		}

		if err := q.MarkBidsOutbid(ctx, item.ID, nil); err != nil {
			return fmt.Errorf("failed to mark outbid bids: %w", err)
		}
		if err := q.InsertBid(ctx, bid); err != nil {
			return fmt.Errorf("failed to insert bid: %w", err)
		}
		return a.emit(ctx, q, auc.ID, events.TypeBidPlaced, events.BidPlacedPayload{
			AuctionID:     auc.ID.String(),
			AuctionItemID: item.ID.String(),
			BidID:         bid.ID.String(),
			UserID:        req.UserID.String(),
			Amount:        req.Amount,
			PlacedAt:      now,
		})
	})
	if err != nil {
		return nil, err
	}
	if prior != nil {
		return a.duplicate(ctx, prior)
	}

	log.Info().
		Str("auction_id", auc.ID.String()).
		Str("item_id", item.ID.String()).
		Str("user_id", req.UserID.String()).
		Int64("amount", req.Amount).
		Msg("bid accepted")

	fresh, err := a.store.Queries().GetAuction(ctx, auc.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}
	return &BidOutcome{Accepted: true, Bid: bid, Auction: fresh}, nil
}

// loadForBid reads the auction that owns itemID and returns the item within it.
func (a *App) loadForBid(ctx context.Context, itemID uuid.UUID) (*models.Auction, *models.AuctionItem, error) {
	q := a.store.Queries()
	item, err := q.GetAuctionItem(ctx, itemID)
	if err != nil {
		return nil, nil, err
	}
	auc, err := q.GetAuction(ctx, item.AuctionID)
	if err != nil {
		return nil, nil, err
	}
	item = auc.Item(itemID)
	if item == nil {
		return nil, nil, ErrNotFound
	}
	return auc, item, nil
}

// reject builds a refused outcome. When snapshot is nil the active auction is attached instead.
func (a *App) reject(ctx context.Context, snapshot *models.Auction, rejection error) *BidOutcome {
	if snapshot == nil {
		active, err := a.GetActiveAuction(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("failed to load active auction for rejection")
		}
		snapshot = active
	}
	return &BidOutcome{Rejection: rejection, Auction: snapshot}
}

func (a *App) duplicate(ctx context.Context, bid *models.Bid) (*BidOutcome, error) {
	item, err := a.store.Queries().GetAuctionItem(ctx, bid.AuctionItemID)
	if err != nil {
		return nil, fmt.Errorf("failed to get auction item: %w", err)
	}
	auc, err := a.GetAuction(ctx, item.AuctionID)
	if err != nil {
		return nil, err
	}
	if it := auc.Item(bid.AuctionItemID); it != nil {
		for i := range it.Bids {
			if it.Bids[i].ID == bid.ID {
				bid = &it.Bids[i]
				break
			}
		}
	}
	return &BidOutcome{Accepted: true, Duplicate: true, Bid: bid, Auction: auc}, nil
}

// replay rebuilds the outcome of a remembered submission against current state.
func (a *App) replay(ctx context.Context, req PlaceBidRequest, rec idempotency.Record) (*BidOutcome, error) {
	if rec.BidID != nil {
		item, err := a.store.Queries().GetAuctionItem(ctx, req.AuctionItemID)
		if err != nil {
			return nil, fmt.Errorf("failed to get auction item: %w", err)
		}
		for i := range item.Bids {
			if item.Bids[i].ID == *rec.BidID {
				return a.duplicate(ctx, &item.Bids[i])
			}
		}
		return nil, fmt.Errorf("remembered bid %s not found on item %s", *rec.BidID, req.AuctionItemID)
	}

	var snapshot *models.Auction
	if auc, _, err := a.loadForBid(ctx, rec.ItemID); err == nil {
		snapshot, _ = a.settleExpired(ctx, auc)
	}
	return a.reject(ctx, snapshot, fromRecord(rec)), nil
}

func toRecord(req PlaceBidRequest, o *BidOutcome) idempotency.Record {
	rec := idempotency.Record{ItemID: req.AuctionItemID, Amount: req.Amount}
	if o.Accepted {
		id := o.Bid.ID
		rec.BidID = &id
		return rec
	}

	var (
		notIn  *ItemNotInAuctionError
		tooLow *BidTooLowError
		self   *SelfOutbidError
	)
	switch {
	case errors.As(o.Rejection, &tooLow):
		rec.Reject = idempotency.RejectTooLow
		rec.Minimum = tooLow.Minimum
	case errors.As(o.Rejection, &self):
		rec.Reject = idempotency.RejectSelfOutbid
	case errors.As(o.Rejection, &notIn):
		rec.Reject = idempotency.RejectNotInAuction
		rec.Status = string(notIn.Status)
	default:
		rec.Reject = idempotency.RejectNotInAuction
	}
	return rec
}

func fromRecord(rec idempotency.Record) error {
	switch rec.Reject {
	case idempotency.RejectTooLow:
		return &BidTooLowError{ItemID: rec.ItemID, Amount: rec.Amount, Minimum: rec.Minimum}
	case idempotency.RejectSelfOutbid:
		return &SelfOutbidError{ItemID: rec.ItemID}
	default:
		return &ItemNotInAuctionError{ItemID: rec.ItemID, Status: models.AuctionItemStatus(rec.Status)}
	}
}


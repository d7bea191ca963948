package auction

import (
	"context"
	"fmt"
	"time"

	"github.com/mcdev12/guildloot/go/internal/auction/events"
	"github.com/mcdev12/guildloot/go/internal/models"
	"github.com/rs/zerolog/log"
)

// advance puts the lowest-position WAITING item up for bidding, or finishes
// the auction when none is left. It returns the started item, if any. The
// caller holds the auction row lock and auc reflects every change made so far
// in the transaction.
func (a *App) advance(ctx context.Context, q Queries, auc *models.Auction, now time.Time) (*models.AuctionItem, error) {
	if auc.InProgressItem() != nil {
		return nil, nil
	}

	next := nextWaiting(auc)
	if next == nil {
		return nil, a.finish(ctx, q, auc, now)
	}

	deadline := now.Add(time.Duration(auc.DefaultTimerSeconds) * time.Second)
	if err := q.StartItem(ctx, next.ID, now, deadline); err != nil {
		return nil, fmt.Errorf("failed to start item: %w", err)
	}
	next.Status = models.AuctionItemStatusInAuction
	next.StartedAt = &now

	err := a.emit(ctx, q, auc.ID, events.TypeItemStarted, events.ItemStartedPayload{
		AuctionID:           auc.ID.String(),
		AuctionItemID:       next.ID.String(),
		LootItemID:          next.LootItemID.String(),
		Position:            next.Position,
		MinBid:              next.MinBid,
		StartedAt:           now,
		DeadlineAt:          deadline,
		DefaultTimerSeconds: auc.DefaultTimerSeconds,
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("auction_id", auc.ID.String()).
		Str("item_id", next.ID.String()).
		Int("position", next.Position).
		Time("deadline", deadline).
		Msg("item up for auction")
	return next, nil
}

func (a *App) finish(ctx context.Context, q Queries, auc *models.Auction, now time.Time) error {
	if err := q.UpdateAuctionStatus(ctx, auc.ID, models.AuctionStatusFinished, nil, &now); err != nil {
		return fmt.Errorf("failed to finish auction: %w", err)
	}
	auc.Status = models.AuctionStatusFinished
	auc.FinishedAt = &now

	sold := 0
	for _, it := range auc.Items {
		if it.Status == models.AuctionItemStatusSold {
			sold++
		}
	}
	var duration time.Duration
	if auc.StartedAt != nil {
		duration = now.Sub(*auc.StartedAt)
	}

	log.Info().
		Str("auction_id", auc.ID.String()).
		Int("items_sold", sold).
		Dur("duration", duration).
		Msg("auction finished")

	return a.emit(ctx, q, auc.ID, events.TypeAuctionFinished, events.AuctionFinishedPayload{
		AuctionID:  auc.ID.String(),
		FinishedAt: now,
		Duration:   duration.String(),
		ItemsSold:  sold,
	})
}

func nextWaiting(auc *models.Auction) *models.AuctionItem {
	var next *models.AuctionItem
	for i := range auc.Items {
		it := &auc.Items[i]
		if it.Status != models.AuctionItemStatusWaiting {
			continue
		}
		if next == nil || it.Position < next.Position {
			next = it
		}
	}
	return next
}

// Package watch follows the active auction from a member's seat: it polls
// on the adaptive cadence, ticks the local countdown, and optionally keeps a
// standing bid up to a ceiling.
package watch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/guildloot/go/internal/auction"
	"github.com/mcdev12/guildloot/go/internal/auction/clock"
	"github.com/mcdev12/guildloot/go/internal/auction/poller"
	"github.com/mcdev12/guildloot/go/internal/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// API is the part of the auction client the watcher calls.
type API interface {
	GetActiveAuction(ctx context.Context) (*models.Auction, error)
	PlaceBid(ctx context.Context, msg *auction.PlaceBidMessage) (*auction.PlaceBidResultMessage, error)
}

// Bidder raises to the minimum acceptable amount whenever someone else
// leads, as long as that stays within Max.
type Bidder struct {
	UserID uuid.UUID
	Max    int64
}

// Next returns the bid to send for auc at now, or nil when there is nothing
// to do. Bids are checked locally first so hopeless ones never hit the wire.
func (b Bidder) Next(auc *models.Auction, now time.Time) *auction.PlaceBidMessage {
	if auc == nil {
		return nil
	}
	item := auc.InProgressItem()
	if item == nil {
		return nil
	}
	if item.CurrentWinnerID != nil && *item.CurrentWinnerID == b.UserID {
		return nil
	}

	amount := auction.MinimumBid(item, auc.MinBidIncrement)
	if amount > b.Max {
		return nil
	}
	if err := auction.ValidateBid(auc, item, b.UserID, amount, now, auction.PermitSelfOutbid); err != nil {
		return nil
	}

	submitted := now
	return &auction.PlaceBidMessage{
		AuctionItemID: item.ID.String(),
		Amount:        amount,
		// Same item and amount means the same bid, so resends collapse server side.
		RequestID:   fmt.Sprintf("%s-%d", item.ID, amount),
		SubmittedAt: &submitted,
	}
}

// Watcher ties the poller, countdown and optional bidder together.
type Watcher struct {
	api       API
	clock     clockwork.Clock
	bidder    *Bidder
	countdown *clock.Countdown
	poller    *poller.Poller
	bids      chan *auction.PlaceBidMessage

	mu      sync.Mutex
	current *models.Auction
	sent    map[string]bool // request ids already submitted
}

// New creates a Watcher. bidder may be nil to only watch.
func New(api API, c clockwork.Clock, policy poller.Policy, bidder *Bidder) *Watcher {
	w := &Watcher{
		api:       api,
		clock:     c,
		bidder:    bidder,
		countdown: clock.NewCountdown(c, clock.DefaultTick),
		bids:      make(chan *auction.PlaceBidMessage, 1),
		sent:      make(map[string]bool),
	}
	w.poller = poller.New(c, policy, api.GetActiveAuction, w.update)
	return w
}

// Current returns the last auction seen, nil if none is active.
func (w *Watcher) Current() *models.Auction {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run blocks until ctx is done and returns its error. emit receives the countdown value, -1
// when nothing is up for bidding.
func (w *Watcher) Run(ctx context.Context, emit func(remaining int)) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.poller.Run(ctx) })
	g.Go(func() error { return w.countdown.Run(ctx, emit) })
	g.Go(func() error { return w.submitBids(ctx) })
	return g.Wait()
}

func (w *Watcher) update(auc *models.Auction, err error) {
	if err != nil {
		// Already logged by the poller; keep showing the last snapshot.
		return
	}
	w.observe(auc)
}

func (w *Watcher) observe(auc *models.Auction) {
	w.mu.Lock()
	w.current = auc
	w.mu.Unlock()
	w.countdown.SetFromAuction(auc)

	if w.bidder == nil {
		return
	}
	msg := w.bidder.Next(auc, w.clock.Now())
	if msg == nil {
		return
	}

	w.mu.Lock()
	if w.sent[msg.RequestID] {
		w.mu.Unlock()
		return
	}
	w.sent[msg.RequestID] = true
	w.mu.Unlock()

	select {
	case w.bids <- msg:
	default:
		// A bid is already queued; the next poll re-evaluates.
		w.mu.Lock()
		delete(w.sent, msg.RequestID)
		w.mu.Unlock()
	}
}

func (w *Watcher) submitBids(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-w.bids:
			res, err := w.api.PlaceBid(ctx, msg)
			if err != nil {
				log.Error().Err(err).Str("item_id", msg.AuctionItemID).Msg("failed to place bid")
				w.mu.Lock()
				delete(w.sent, msg.RequestID)
				w.mu.Unlock()
				continue
			}
			logResult(msg, res)
			if res.Auction != nil {
				w.observe(res.Auction)
			}
		}
	}
}

func logResult(msg *auction.PlaceBidMessage, res *auction.PlaceBidResultMessage) {
	if res.Accepted {
		log.Info().
			Str("item_id", msg.AuctionItemID).
			Int64("amount", msg.Amount).
			Bool("duplicate", res.Duplicate).
			Msg("bid accepted")
		return
	}
	ev := log.Info().
		Str("item_id", msg.AuctionItemID).
		Int64("amount", msg.Amount)
	if res.Rejection != nil {
		ev = ev.Str("code", res.Rejection.Code).Str("reason", res.Rejection.Message)
	}
	ev.Msg("bid rejected")
}

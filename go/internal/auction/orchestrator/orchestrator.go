// Package orchestrator finalizes auction items when their countdown runs out.
package orchestrator

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/guildloot/go/internal/auction"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// AuctionApp is the part of the engine the scheduler drives.
type AuctionApp interface {
	NextDeadline(ctx context.Context) (*auction.NextDeadline, error)
	FetchExpiredItems(ctx context.Context, limit int) ([]auction.ExpiredItem, error)
	FinalizeIfExpired(ctx context.Context, itemID uuid.UUID) (bool, error)
}

type Config struct {
	BatchSize      int           // how many expired items to claim at once
	NumWorkers     int           // concurrent finalizations per sweep
	IdlePoll       time.Duration // re-check interval when nothing is in auction
	StuckThreshold time.Duration // past-deadline age logged as stuck
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
}

func DefaultConfig() Config {
	return Config{
		BatchSize:      50,
		NumWorkers:     4,
		IdlePoll:       5 * time.Second,
		StuckThreshold: 30 * time.Second,
		BaseBackoff:    250 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
	}
}

type Orchestrator struct {
	app        AuctionApp
	cfg        Config
	clock      clockwork.Clock
	wakeCh     chan struct{}
	instanceID string // short id for logging
}

type Option func(*Orchestrator)

func WithClock(c clockwork.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

func New(app AuctionApp, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		app:        app,
		cfg:        cfg,
		clock:      clockwork.NewRealClock(),
		wakeCh:     make(chan struct{}, 1),
		instanceID: uuid.New().String()[:8],
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Wake makes the scheduler re-read the next deadline. It never blocks.
func (o *Orchestrator) Wake() {
	select {
	case o.wakeCh <- struct{}{}:
	default:
	}
}

// RunScheduler sleeps until the earliest item deadline and finalizes what
// expired. Errors are retried with capped exponential backoff; the loop only
// returns when ctx is cancelled.
func (o *Orchestrator) RunScheduler(ctx context.Context) error {
	log.Info().Str("instance", o.instanceID).Int("workers", o.cfg.NumWorkers).Msg("scheduler started")

	failures := 0
	for {
		select {
		case <-o.wakeCh:
		default:
		}

		nd, err := o.app.NextDeadline(ctx)
		if err != nil {
			failures++
			log.Error().Err(err).Int("retry", failures).Str("instance", o.instanceID).Msg("error fetching next deadline")
			if !o.sleep(ctx, o.backoff(failures)) {
				return nil
			}
			continue
		}

		if nd == nil {
			failures = 0
			log.Debug().Str("instance", o.instanceID).Dur("poll", o.cfg.IdlePoll).Msg("no item in auction; idling")
			if !o.wait(ctx, o.cfg.IdlePoll) {
				log.Info().Str("instance", o.instanceID).Msg("shutdown during idle")
				return nil
			}
			continue
		}

		now := o.clock.Now()
		if wait := nd.Deadline.Sub(now); wait > 0 {
			failures = 0
			if !o.wait(ctx, wait) {
				log.Info().Str("instance", o.instanceID).Msg("shutdown during wait")
				return nil
			}
			continue
		}

		if late := now.Sub(nd.Deadline); late > o.cfg.StuckThreshold {
			log.Error().
				Str("auction_item_id", nd.AuctionItemID.String()).
				Str("auction_id", nd.AuctionID.String()).
				Dur("past_deadline", late).
				Str("instance", o.instanceID).
				Msg("auction item stuck past deadline")
		}

		settled, err := o.sweep(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			failures++
			log.Error().Err(err).Int("retry", failures).Str("instance", o.instanceID).Msg("expiry sweep failed")
			if !o.sleep(ctx, o.backoff(failures)) {
				return nil
			}
			continue
		}
		failures = 0
		if settled == 0 {
			// Settled elsewhere first; re-read after one base interval.
			log.Debug().Str("instance", o.instanceID).Msg("expiry sweep found nothing to settle")
			if !o.wait(ctx, o.cfg.BaseBackoff) {
				return nil
			}
		}
	}
}

// sweep finalizes one batch of expired items and reports how many it settled.
func (o *Orchestrator) sweep(ctx context.Context) (int, error) {
	due, err := o.app.FetchExpiredItems(ctx, o.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}

	log.Info().
		Int("count_due", len(due)).
		Int("batch_size", o.cfg.BatchSize).
		Str("instance", o.instanceID).
		Msg("processing expired items")

	var settled atomic.Int64
	var g errgroup.Group
	g.SetLimit(o.cfg.NumWorkers)
	for _, item := range due {
		g.Go(func() error {
			changed, err := o.app.FinalizeIfExpired(ctx, item.AuctionItemID)
			if err != nil {
				log.Error().
					Err(err).
					Str("auction_item_id", item.AuctionItemID.String()).
					Str("instance", o.instanceID).
					Msg("failed to finalize expired item")
				return err
			}
			if changed {
				settled.Add(1)
				log.Info().
					Str("auction_item_id", item.AuctionItemID.String()).
					Str("auction_id", item.AuctionID.String()).
					Str("instance", o.instanceID).
					Msg("finalized expired item")
			}
			return nil
		})
	}
	err = g.Wait()
	return int(settled.Load()), err
}

func (o *Orchestrator) backoff(failures int) time.Duration {
	d := o.cfg.BaseBackoff
	for i := 1; i < failures && d < o.cfg.MaxBackoff; i++ {
		d *= 2
	}
	return min(d, o.cfg.MaxBackoff)
}

// wait returns false when ctx ended, true when d elapsed or Wake was called.
func (o *Orchestrator) wait(ctx context.Context, d time.Duration) bool {
	timer := o.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.Chan():
		return true
	case <-o.wakeCh:
		log.Debug().Str("instance", o.instanceID).Msg("woken up early")
		return true
	case <-ctx.Done():
		return false
	}
}

// sleep is wait without early wake-ups.
func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) bool {
	timer := o.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.Chan():
		return true
	case <-ctx.Done():
		return false
	}
}

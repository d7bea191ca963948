// Package poller refreshes auction state on an adaptive cadence: slow while
// nothing is about to change, fast near the end of an item's countdown, and
// not at all while the view is hidden.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/guildloot/go/internal/auction/clock"
	"github.com/mcdev12/guildloot/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Policy decides the delay before the next poll.
type Policy struct {
	Slow time.Duration
	Fast time.Duration
	// NearZero is the remaining-seconds threshold at or below which polling goes fast.
	NearZero int
}

// DefaultPolicy polls every 3s, or every second during the last 10s of an item.
func DefaultPolicy() Policy {
	return Policy{Slow: 3 * time.Second, Fast: time.Second, NearZero: 10}
}

// Next returns the delay after a poll that returned auc (nil when no auction
// is active) or failed with err.
func (p Policy) Next(auc *models.Auction, err error, now time.Time) time.Duration {
	if err != nil {
		return p.Slow
	}
	remaining, ok := clock.ItemRemaining(auc, now)
	if !ok {
		return p.Slow
	}
	if remaining <= p.NearZero {
		return p.Fast
	}
	return p.Slow
}

// FetchFunc reads the active auction; nil means none is active.
type FetchFunc func(ctx context.Context) (*models.Auction, error)

// UpdateFunc receives every poll result.
type UpdateFunc func(auc *models.Auction, err error)

// Poller drives FetchFunc on the adaptive cadence.
type Poller struct {
	clock  clockwork.Clock
	policy Policy
	fetch  FetchFunc
	update UpdateFunc

	mu      sync.Mutex
	visible bool
	shown   chan struct{}
}

// New creates a visible Poller.
func New(c clockwork.Clock, policy Policy, fetch FetchFunc, update UpdateFunc) *Poller {
	return &Poller{
		clock:   c,
		policy:  policy,
		fetch:   fetch,
		update:  update,
		visible: true,
		shown:   make(chan struct{}, 1),
	}
}

// SetVisible suspends polling while false. Becoming visible again polls
// immediately rather than waiting out a stale delay.
func (p *Poller) SetVisible(visible bool) {
	p.mu.Lock()
	was := p.visible
	p.visible = visible
	p.mu.Unlock()

	if visible && !was {
		select {
		case p.shown <- struct{}{}:
		default:
		}
	}
}

// Visible reports whether polling is active.
func (p *Poller) Visible() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visible
}

// Run polls until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	var timer clockwork.Timer
	if p.Visible() {
		timer = p.clock.NewTimer(p.poll(ctx))
	} else {
		timer = p.clock.NewTimer(p.policy.Slow)
		timer.Stop()
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-p.shown:
			if !timer.Stop() {
				select {
				case <-timer.Chan():
				default:
				}
			}
			timer.Reset(p.poll(ctx))

		case <-timer.Chan():
			if !p.Visible() {
				log.Debug().Msg("view hidden, suspending polls")
				continue
			}
			select {
			case <-p.shown:
			default:
			}
			timer.Reset(p.poll(ctx))
		}
	}
}

func (p *Poller) poll(ctx context.Context) time.Duration {
	auc, err := p.fetch(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("poll failed")
	}
	if p.update != nil {
		p.update(auc, err)
	}
	return p.policy.Next(auc, err, p.clock.Now())
}

// Package clock derives the on-screen countdown from server timestamps.
//
// Remaining time is computed from the item's server start time and the
// auction's timer against the local wall clock. No offset correction is
// applied; client and server clocks are assumed to be roughly in sync.
package clock

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/guildloot/go/internal/models"
)

// DefaultTick is how often a Countdown recomputes.
const DefaultTick = 250 * time.Millisecond

// Remaining returns whole seconds left on a countdown of timerSeconds that
// began at startedAt. The result is clamped to [0, timerSeconds] so a local
// clock running behind the server never shows more than the full timer.
func Remaining(startedAt time.Time, timerSeconds int, now time.Time) int {
	elapsed := int(math.Floor(now.Sub(startedAt).Seconds()))
	remaining := timerSeconds - elapsed
	if remaining < 0 {
		return 0
	}
	if remaining > timerSeconds {
		return timerSeconds
	}
	return remaining
}

// ItemRemaining returns the seconds left on the auction's in-progress item.
// ok is false when nothing is up for bidding.
func ItemRemaining(auc *models.Auction, now time.Time) (remaining int, ok bool) {
	if auc == nil || auc.Status != models.AuctionStatusActive {
		return 0, false
	}
	item := auc.InProgressItem()
	if item == nil || item.StartedAt == nil {
		return 0, false
	}
	return Remaining(*item.StartedAt, auc.DefaultTimerSeconds, now), true
}

// Countdown ticks a local display value between polls. Set refreshes the
// server anchor; the tick itself never touches the network.
type Countdown struct {
	clock clockwork.Clock
	tick  time.Duration

	mu           sync.Mutex
	startedAt    *time.Time
	timerSeconds int
	changed      chan struct{}
}

// NewCountdown creates a Countdown ticking every tick (DefaultTick if zero).
func NewCountdown(c clockwork.Clock, tick time.Duration) *Countdown {
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Countdown{clock: c, tick: tick, changed: make(chan struct{}, 1)}
}

// Set anchors the countdown to an item start time. A nil startedAt clears it.
func (c *Countdown) Set(startedAt *time.Time, timerSeconds int) {
	c.mu.Lock()
	if startedAt != nil {
		t := *startedAt
		c.startedAt = &t
	} else {
		c.startedAt = nil
	}
	c.timerSeconds = timerSeconds
	c.mu.Unlock()

	select {
	case c.changed <- struct{}{}:
	default:
	}
}

// SetFromAuction anchors the countdown to the auction's in-progress item.
func (c *Countdown) SetFromAuction(auc *models.Auction) {
	if auc == nil || auc.Status != models.AuctionStatusActive {
		c.Set(nil, 0)
		return
	}
	item := auc.InProgressItem()
	if item == nil {
		c.Set(nil, 0)
		return
	}
	c.Set(item.StartedAt, auc.DefaultTimerSeconds)
}

// Remaining returns the current value; ok is false when no countdown is set.
func (c *Countdown) Remaining() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startedAt == nil {
		return 0, false
	}
	return Remaining(*c.startedAt, c.timerSeconds, c.clock.Now()), true
}

// Run calls emit with the remaining seconds whenever the value changes, and
// with -1 when the countdown is cleared. It returns when ctx is done.
func (c *Countdown) Run(ctx context.Context, emit func(remaining int)) error {
	ticker := c.clock.NewTicker(c.tick)
	defer ticker.Stop()

	last := math.MinInt
	publish := func() {
		v, ok := c.Remaining()
		if !ok {
			v = -1
		}
		if v != last {
			last = v
			emit(v)
		}
	}

	publish()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.changed:
			publish()
		case <-ticker.Chan():
			publish()
		}
	}
}

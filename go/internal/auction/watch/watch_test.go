package watch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/guildloot/go/internal/auction"
	"github.com/mcdev12/guildloot/go/internal/auction/poller"
	"github.com/mcdev12/guildloot/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)

func liveAuction(leader *uuid.UUID, current *int64) *models.Auction {
	started := t0
	return &models.Auction{
		ID:                  uuid.New(),
		Status:              models.AuctionStatusActive,
		DefaultTimerSeconds: 20,
		MinBidIncrement:     5,
		Items: []models.AuctionItem{{
			ID:              uuid.New(),
			Status:          models.AuctionItemStatusInAuction,
			MinBid:          100,
			CurrentBid:      current,
			CurrentWinnerID: leader,
			StartedAt:       &started,
		}},
	}
}

func ptr[T any](v T) *T { return &v }

func TestBidderNext(t *testing.T) {
	me, other := uuid.New(), uuid.New()
	b := Bidder{UserID: me, Max: 150}

	tests := []struct {
		name string
		auc  *models.Auction
		now  time.Time
		want int64 // 0 means no bid
	}{
		{"no auction", nil, t0, 0},
		{"opens at the floor", liveAuction(nil, nil), t0.Add(time.Second), 100},
		{"raises by the increment", liveAuction(&other, ptr[int64](120)), t0.Add(time.Second), 125},
		{"already leading", liveAuction(&me, ptr[int64](120)), t0.Add(time.Second), 0},
		{"over the ceiling", liveAuction(&other, ptr[int64](150)), t0.Add(time.Second), 0},
		{"countdown ran out", liveAuction(&other, ptr[int64](120)), t0.Add(20 * time.Second), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := b.Next(tt.auc, tt.now)
			if tt.want == 0 {
				assert.Nil(t, msg)
				return
			}
			require.NotNil(t, msg)
			assert.Equal(t, tt.want, msg.Amount)
			assert.Equal(t, tt.auc.Items[0].ID.String(), msg.AuctionItemID)
			assert.NotEmpty(t, msg.RequestID)
		})
	}
}

func TestBidderRequestIDIsStable(t *testing.T) {
	other := uuid.New()
	auc := liveAuction(&other, ptr[int64](120))
	b := Bidder{UserID: uuid.New(), Max: 500}

	first := b.Next(auc, t0.Add(time.Second))
	again := b.Next(auc, t0.Add(3*time.Second))
	require.NotNil(t, first)
	require.NotNil(t, again)
	assert.Equal(t, first.RequestID, again.RequestID)
}

type fakeAPI struct {
	mu      sync.Mutex
	auction *models.Auction
	bids    []*auction.PlaceBidMessage
	me      uuid.UUID
}

func (f *fakeAPI) GetActiveAuction(context.Context) (*models.Auction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.auction, nil
}

func (f *fakeAPI) PlaceBid(_ context.Context, msg *auction.PlaceBidMessage) (*auction.PlaceBidResultMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bids = append(f.bids, msg)

	next := *f.auction
	next.Items = []models.AuctionItem{f.auction.Items[0]}
	next.Items[0].CurrentBid = ptr(msg.Amount)
	next.Items[0].CurrentWinnerID = ptr(f.me)
	f.auction = &next
	return &auction.PlaceBidResultMessage{Accepted: true, Auction: &next}, nil
}

func (f *fakeAPI) placed() []*auction.PlaceBidMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*auction.PlaceBidMessage(nil), f.bids...)
}

func TestWatcherOutbidsAndShowsCountdown(t *testing.T) {
	me, other := uuid.New(), uuid.New()
	api := &fakeAPI{auction: liveAuction(&other, ptr[int64](100)), me: me}
	clock := clockwork.NewFakeClockAt(t0.Add(5 * time.Second))

	w := New(api, clock, poller.DefaultPolicy(), &Bidder{UserID: me, Max: 300})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var shown []int
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(remaining int) {
			mu.Lock()
			shown = append(shown, remaining)
			mu.Unlock()
		})
	}()

	require.Eventually(t, func() bool {
		return len(api.placed()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(105), api.placed()[0].Amount)

	require.Eventually(t, func() bool {
		cur := w.Current()
		return cur != nil && cur.Items[0].CurrentWinnerID != nil && *cur.Items[0].CurrentWinnerID == me
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(shown) > 0 && shown[len(shown)-1] == 15
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	assert.Len(t, api.placed(), 1)
}

func TestWatcherWithoutBidderOnlyWatches(t *testing.T) {
	other := uuid.New()
	api := &fakeAPI{auction: liveAuction(&other, ptr[int64](100))}
	clock := clockwork.NewFakeClockAt(t0.Add(5 * time.Second))
	w := New(api, clock, poller.DefaultPolicy(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, func(int) {}) }()

	require.Eventually(t, func() bool { return w.Current() != nil }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.Empty(t, api.placed())
}

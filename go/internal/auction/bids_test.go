package auction_test

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/guildloot/go/internal/auction"
	"github.com/mcdev12/guildloot/go/internal/auction/memstore"
	"github.com/mcdev12/guildloot/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBidMinimums(t *testing.T) {
	f := newFixture(t)
	auc := f.createAndStart(20, 5, 100, 100, 100)
	item1 := auc.Items[0].ID

	out := f.bid(item1, uuid.New(), 80)
	require.False(t, out.Accepted)
	var tooLow *auction.BidTooLowError
	require.ErrorAs(t, out.Rejection, &tooLow)
	assert.Equal(t, int64(100), tooLow.Minimum)
	require.NotNil(t, out.Auction)
	assert.Nil(t, out.Auction.Items[0].CurrentBid)

	out = f.bid(item1, uuid.New(), 100)
	require.True(t, out.Accepted)
	assert.Equal(t, int64(100), *out.Auction.Items[0].CurrentBid)

	out = f.bid(item1, uuid.New(), 100)
	require.False(t, out.Accepted)
	require.ErrorAs(t, out.Rejection, &tooLow)
	assert.Equal(t, int64(105), tooLow.Minimum)

	out = f.bid(item1, uuid.New(), 105)
	require.True(t, out.Accepted)
	assert.Equal(t, int64(105), *out.Auction.Items[0].CurrentBid)

	requireInvariants(t, out.Auction)
	bids := out.Auction.Items[0].Bids
	require.Len(t, bids, 2)
	assert.Equal(t, models.BidStatusOutbid, bids[0].Status)
	assert.Equal(t, models.BidStatusActive, bids[1].Status)
}

func TestBidAtInt64Ceiling(t *testing.T) {
	f := newFixture(t)
	auc := f.createAndStart(20, 5, 100)
	item1 := auc.Items[0].ID
	whale := uuid.New()

	out := f.bid(item1, whale, math.MaxInt64)
	require.True(t, out.Accepted)

	var tooLow *auction.BidTooLowError
	for _, amount := range []int64{1, 100, math.MaxInt64} {
		out = f.bid(item1, uuid.New(), amount)
		require.False(t, out.Accepted, "amount %d", amount)
		require.ErrorAs(t, out.Rejection, &tooLow)
		assert.Equal(t, int64(math.MaxInt64), tooLow.Minimum)
	}

	item := f.get(auc.ID).Items[0]
	assert.Equal(t, int64(math.MaxInt64), *item.CurrentBid)
	assert.Equal(t, whale, *item.CurrentWinnerID)
}

func TestBidOnWaitingOrUnknownItem(t *testing.T) {
	f := newFixture(t)
	auc := f.createAndStart(20, 5, 100, 100)

	out := f.bid(auc.Items[1].ID, uuid.New(), 500)
	require.False(t, out.Accepted)
	var notIn *auction.ItemNotInAuctionError
	require.ErrorAs(t, out.Rejection, &notIn)
	assert.Equal(t, models.AuctionItemStatusWaiting, notIn.Status)

	out = f.bid(uuid.New(), uuid.New(), 500)
	require.False(t, out.Accepted)
	require.ErrorAs(t, out.Rejection, &notIn)
	require.NotNil(t, out.Auction)
	assert.Equal(t, auc.ID, out.Auction.ID)
}

func TestBidRequiresIdentifiers(t *testing.T) {
	f := newFixture(t)
	_, err := f.app.PlaceBid(f.ctx, auction.PlaceBidRequest{UserID: uuid.New(), Amount: 10})
	var vErr *auction.ValidationError
	require.ErrorAs(t, err, &vErr)

	_, err = f.app.PlaceBid(f.ctx, auction.PlaceBidRequest{AuctionItemID: uuid.New(), Amount: 10})
	require.ErrorAs(t, err, &vErr)
}

func TestBidAtDeadline(t *testing.T) {
	f := newFixture(t)
	auc := f.createAndStart(20, 5, 100, 100)
	item1 := auc.Items[0].ID
	leader := uuid.New()

	f.clock.Advance(19400 * time.Millisecond)
	require.True(t, f.bid(item1, leader, 100).Accepted)

	f.clock.Advance(600 * time.Millisecond)
	out := f.bid(item1, uuid.New(), 150)
	require.False(t, out.Accepted)
	var notIn *auction.ItemNotInAuctionError
	require.ErrorAs(t, out.Rejection, &notIn)

	it := out.Auction.Items[0]
	assert.Equal(t, models.AuctionItemStatusSold, it.Status)
	assert.Equal(t, leader, *it.CurrentWinnerID)
	assert.Equal(t, int64(100), *it.CurrentBid)
	assert.Equal(t, models.AuctionItemStatusInAuction, out.Auction.Items[1].Status)
	requireInvariants(t, out.Auction)
}

// Two equal raises, with the race forced between validation and commit.
func TestConcurrentEqualBidsRevalidate(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	mem := memstore.New()
	store := &hookStore{Store: mem}
	app, err := auction.NewApp(store, auction.WithClock(clock))
	require.NoError(t, err)
	f := &fixture{t: t, ctx: t.Context(), clock: clock, store: mem, app: app, organizer: uuid.New()}

	auc := f.createAndStart(20, 5, 100)
	item := auc.Items[0].ID
	require.True(t, f.bid(item, uuid.New(), 100).Accepted)

	winner, loser := uuid.New(), uuid.New()
	var first *auction.BidOutcome
	store.arm(func() {
		first = f.bid(item, winner, 110)
	})

	second := f.bid(item, loser, 110)

	require.NotNil(t, first)
	assert.True(t, first.Accepted)
	require.False(t, second.Accepted)
	var tooLow *auction.BidTooLowError
	require.ErrorAs(t, second.Rejection, &tooLow)
	assert.Equal(t, int64(115), tooLow.Minimum)

	final := f.get(auc.ID)
	assert.Equal(t, winner, *final.Items[0].CurrentWinnerID)
	assert.Equal(t, int64(110), *final.Items[0].CurrentBid)
	requireInvariants(t, final)
}

// Equal raises from real goroutines.
func TestParallelEqualBidsAcceptExactlyOne(t *testing.T) {
	f := newFixture(t)
	auc := f.createAndStart(20, 5, 100)
	item := auc.Items[0].ID
	require.True(t, f.bid(item, uuid.New(), 100).Accepted)

	const bidders = 8
	outcomes := make([]*auction.BidOutcome, bidders)
	var wg sync.WaitGroup
	for i := 0; i < bidders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := f.app.PlaceBid(f.ctx, auction.PlaceBidRequest{
				AuctionItemID: item,
				UserID:        uuid.New(),
				Amount:        110,
				RequestID:     uuid.NewString(),
			})
			if err == nil {
				outcomes[i] = out
			}
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, out := range outcomes {
		require.NotNil(t, out)
		if out.Accepted {
			accepted++
			continue
		}
		var tooLow *auction.BidTooLowError
		require.ErrorAs(t, out.Rejection, &tooLow)
		assert.Equal(t, int64(115), tooLow.Minimum)
	}
	assert.Equal(t, 1, accepted)
	requireInvariants(t, f.get(auc.ID))
}

func TestRetryOfAcceptedBidIsDuplicate(t *testing.T) {
	f := newFixture(t)
	auc := f.createAndStart(20, 5, 100)
	item := auc.Items[0].ID
	user := uuid.New()
	submitted := t0.Add(2 * time.Second)

	req := auction.PlaceBidRequest{AuctionItemID: item, UserID: user, Amount: 100, SubmittedAt: &submitted}
	first, err := f.app.PlaceBid(f.ctx, req)
	require.NoError(t, err)
	require.True(t, first.Accepted)
	require.False(t, first.Duplicate)

	require.True(t, f.bid(item, uuid.New(), 105).Accepted)

	f.clock.Advance(3 * time.Second)
	retried := t0.Add(8 * time.Second)
	req.SubmittedAt = &retried
	again, err := f.app.PlaceBid(f.ctx, req)
	require.NoError(t, err)
	assert.True(t, again.Accepted)
	assert.True(t, again.Duplicate)
	assert.Equal(t, first.Bid.ID, again.Bid.ID)
	assert.Equal(t, models.BidStatusOutbid, again.Bid.Status)
	assert.Equal(t, int64(105), *again.Auction.Items[0].CurrentBid)
	assert.Len(t, again.Auction.Items[0].Bids, 2)
}

func TestRetryOutsideBucketIsNewSubmission(t *testing.T) {
	f := newFixture(t)
	auc := f.createAndStart(20, 5, 100)
	item := auc.Items[0].ID
	user := uuid.New()

	submitted := t0.Add(time.Second)
	req := auction.PlaceBidRequest{AuctionItemID: item, UserID: user, Amount: 100, SubmittedAt: &submitted}
	first, err := f.app.PlaceBid(f.ctx, req)
	require.NoError(t, err)
	require.True(t, first.Accepted)

	later := t0.Add(11 * time.Second)
	req.SubmittedAt = &later
	again, err := f.app.PlaceBid(f.ctx, req)
	require.NoError(t, err)
	require.False(t, again.Accepted)
	var tooLow *auction.BidTooLowError
	require.ErrorAs(t, again.Rejection, &tooLow)
	assert.Equal(t, int64(105), tooLow.Minimum)
}

func TestRetryOfRejectedBidFailsIdentically(t *testing.T) {
	f := newFixture(t)
	auc := f.createAndStart(20, 5, 100)
	item := auc.Items[0].ID

	req := auction.PlaceBidRequest{AuctionItemID: item, UserID: uuid.New(), Amount: 90, RequestID: "retry-me"}
	first, err := f.app.PlaceBid(f.ctx, req)
	require.NoError(t, err)
	require.False(t, first.Accepted)

	require.True(t, f.bid(item, uuid.New(), 100).Accepted)

	again, err := f.app.PlaceBid(f.ctx, req)
	require.NoError(t, err)
	require.False(t, again.Accepted)
	assert.Equal(t, first.Rejection, again.Rejection)
	assert.Equal(t, int64(100), *again.Auction.Items[0].CurrentBid)
}

func TestRetryFoundOnBidRowWithoutCache(t *testing.T) {
	f := newFixture(t)
	auc := f.createAndStart(20, 5, 100)
	item := auc.Items[0].ID
	req := auction.PlaceBidRequest{AuctionItemID: item, UserID: uuid.New(), Amount: 100, RequestID: "abc"}

	first, err := f.app.PlaceBid(f.ctx, req)
	require.NoError(t, err)
	require.True(t, first.Accepted)

	// A second engine over the same store has an empty outcome cache.
	other, err := auction.NewApp(f.store, auction.WithClock(f.clock))
	require.NoError(t, err)
	again, err := other.PlaceBid(f.ctx, req)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, first.Bid.ID, again.Bid.ID)
	assert.Len(t, again.Auction.Items[0].Bids, 1)
}

func TestConcurrentIdenticalSubmissionsCollapse(t *testing.T) {
	f := newFixture(t)
	auc := f.createAndStart(20, 5, 100)
	item := auc.Items[0].ID
	req := auction.PlaceBidRequest{AuctionItemID: item, UserID: uuid.New(), Amount: 100, RequestID: "same"}

	var wg sync.WaitGroup
	results := make([]*auction.BidOutcome, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := f.app.PlaceBid(f.ctx, req)
			if err == nil {
				results[i] = out
			}
		}(i)
	}
	wg.Wait()

	for _, out := range results {
		require.NotNil(t, out)
		assert.True(t, out.Accepted)
	}
	assert.Len(t, f.get(auc.ID).Items[0].Bids, 1)
}

func TestSelfOutbidPolicy(t *testing.T) {
	leader := uuid.New()

	f := newFixture(t)
	auc := f.createAndStart(20, 5, 100)
	require.True(t, f.bid(auc.Items[0].ID, leader, 100).Accepted)
	assert.True(t, f.bid(auc.Items[0].ID, leader, 105).Accepted)

	strict := newFixture(t, auction.WithSelfOutbidPolicy(auction.ForbidSelfOutbid))
	auc = strict.createAndStart(20, 5, 100)
	require.True(t, strict.bid(auc.Items[0].ID, leader, 100).Accepted)
	out := strict.bid(auc.Items[0].ID, leader, 105)
	require.False(t, out.Accepted)
	var selfErr *auction.SelfOutbidError
	require.ErrorAs(t, out.Rejection, &selfErr)
	assert.True(t, strict.bid(auc.Items[0].ID, uuid.New(), 105).Accepted)
}

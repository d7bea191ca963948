package auction_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/guildloot/go/internal/auction"
	"github.com/mcdev12/guildloot/go/internal/auction/events"
	"github.com/mcdev12/guildloot/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartAuctionPutsFirstItemUp(t *testing.T) {
	f := newFixture(t)
	auc := f.create(20, 5, 100, 50, 75)

	require.Equal(t, models.AuctionStatusPending, auc.Status)
	require.Len(t, auc.Items, 3)
	for i, it := range auc.Items {
		assert.Equal(t, i+1, it.Position)
		assert.Equal(t, models.AuctionItemStatusWaiting, it.Status)
	}
	assert.Equal(t, int64(100), auc.Items[0].MinBid)
	assert.Equal(t, int64(50), auc.Items[1].MinBid)

	started, err := f.app.StartAuction(f.ctx, auc.ID)
	require.NoError(t, err)

	assert.Equal(t, models.AuctionStatusActive, started.Status)
	require.NotNil(t, started.StartedAt)
	assert.True(t, started.StartedAt.Equal(t0))
	assert.Equal(t, models.AuctionItemStatusInAuction, started.Items[0].Status)
	require.NotNil(t, started.Items[0].StartedAt)
	assert.True(t, started.Items[0].StartedAt.Equal(t0))
	assert.Equal(t, models.AuctionItemStatusWaiting, started.Items[1].Status)
	assert.Equal(t, models.AuctionItemStatusWaiting, started.Items[2].Status)
	requireInvariants(t, started)
}

func TestStartAuctionRequiresPending(t *testing.T) {
	f := newFixture(t)
	auc := f.createAndStart(20, 5, 100)

	_, err := f.app.StartAuction(f.ctx, auc.ID)
	var stateErr *auction.InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, string(models.AuctionStatusActive), stateErr.Status)
}

func TestStartAuctionRejectsSecondActive(t *testing.T) {
	f := newFixture(t)
	f.createAndStart(20, 5, 100)
	second := f.create(20, 5, 100)

	_, err := f.app.StartAuction(f.ctx, second.ID)
	var stateErr *auction.InvalidStateError
	require.ErrorAs(t, err, &stateErr)

	assert.Equal(t, models.AuctionStatusPending, f.get(second.ID).Status)
}

func TestStartAuctionNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.app.StartAuction(f.ctx, uuid.New())
	require.ErrorIs(t, err, auction.ErrNotFound)
}

func TestCreateAuctionValidation(t *testing.T) {
	f := newFixture(t)
	loot := f.seedLoot(10, 20)

	auctioned := f.seedLoot(10)[0]
	require.NoError(t, f.store.Queries().SetLootAuctioned(f.ctx, auctioned, true))

	queued := f.create(20, 5, 10).Items[0].LootItemID

	tests := []struct {
		name  string
		req   auction.CreateAuctionRequest
		field string
	}{
		{"empty", auction.CreateAuctionRequest{DefaultTimerSeconds: 20, MinBidIncrement: 5}, "loot_item_ids"},
		{"duplicate", auction.CreateAuctionRequest{LootItemIDs: []uuid.UUID{loot[0], loot[0]}, DefaultTimerSeconds: 20, MinBidIncrement: 5}, "loot_item_ids"},
		{"unknown", auction.CreateAuctionRequest{LootItemIDs: []uuid.UUID{uuid.New()}, DefaultTimerSeconds: 20, MinBidIncrement: 5}, "loot_item_ids"},
		{"already auctioned", auction.CreateAuctionRequest{LootItemIDs: []uuid.UUID{auctioned}, DefaultTimerSeconds: 20, MinBidIncrement: 5}, "loot_item_ids"},
		{"queued elsewhere", auction.CreateAuctionRequest{LootItemIDs: []uuid.UUID{loot[1], queued}, DefaultTimerSeconds: 20, MinBidIncrement: 5}, "loot_item_ids"},
		{"timer too short", auction.CreateAuctionRequest{LootItemIDs: loot, DefaultTimerSeconds: 9, MinBidIncrement: 5}, "default_timer_seconds"},
		{"timer too long", auction.CreateAuctionRequest{LootItemIDs: loot, DefaultTimerSeconds: 301, MinBidIncrement: 5}, "default_timer_seconds"},
		{"increment zero", auction.CreateAuctionRequest{LootItemIDs: loot, DefaultTimerSeconds: 20, MinBidIncrement: 0}, "min_bid_increment"},
		{"increment too large", auction.CreateAuctionRequest{LootItemIDs: loot, DefaultTimerSeconds: 20, MinBidIncrement: 10001}, "min_bid_increment"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			req.CreatedBy = f.organizer
			_, err := f.app.CreateAuction(f.ctx, req)
			var vErr *auction.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}

	_, err := f.app.CreateAuction(f.ctx, auction.CreateAuctionRequest{
		LootItemIDs: loot, DefaultTimerSeconds: 10, MinBidIncrement: 1, CreatedBy: f.organizer,
	})
	require.NoError(t, err)
}

func TestFinalizeSoldAdvancesToNextItem(t *testing.T) {
	f := newFixture(t)
	auc := f.createAndStart(20, 5, 100, 100, 100)
	item1 := auc.Items[0].ID
	userA, userB := uuid.New(), uuid.New()

	require.True(t, f.bid(item1, userB, 100).Accepted)
	require.True(t, f.bid(item1, userA, 105).Accepted)

	f.clock.Advance(4 * time.Second)
	after, err := f.app.FinalizeItem(f.ctx, item1)
	require.NoError(t, err)

	it := after.Items[0]
	assert.Equal(t, models.AuctionItemStatusSold, it.Status)
	require.NotNil(t, it.FinishedAt)
	assert.True(t, it.FinishedAt.Equal(t0.Add(4*time.Second)))
	require.Len(t, it.Bids, 2)
	assert.Equal(t, models.BidStatusOutbid, it.Bids[0].Status)
	assert.Equal(t, models.BidStatusWon, it.Bids[1].Status)
	assert.Equal(t, userA, it.Bids[1].UserID)

	next := after.Items[1]
	assert.Equal(t, models.AuctionItemStatusInAuction, next.Status)
	require.NotNil(t, next.StartedAt)
	assert.True(t, next.StartedAt.Equal(t0.Add(4*time.Second)))
	assert.Equal(t, models.AuctionItemStatusWaiting, after.Items[2].Status)
	requireInvariants(t, after)

	debits := f.store.Debits()
	require.Len(t, debits, 1)
	assert.Equal(t, userA, debits[0].UserID)
	assert.Equal(t, int64(105), debits[0].Amount)
	assert.Equal(t, item1, debits[0].AuctionItemID)

	loot, err := f.store.Queries().GetLootItem(f.ctx, it.LootItemID)
	require.NoError(t, err)
	assert.True(t, loot.HasBeenAuctioned)
}

func TestFinalizeWithoutBids(t *testing.T) {
	f := newFixture(t)
	auc := f.createAndStart(20, 5, 100, 100)

	after, err := f.app.FinalizeItem(f.ctx, auc.Items[0].ID)
	require.NoError(t, err)

	it := after.Items[0]
	assert.Equal(t, models.AuctionItemStatusNoBids, it.Status)
	assert.Nil(t, it.CurrentWinnerID)
	assert.Nil(t, it.CurrentBid)
	assert.Empty(t, f.store.Debits())

	loot, err := f.store.Queries().GetLootItem(f.ctx, it.LootItemID)
	require.NoError(t, err)
	assert.False(t, loot.HasBeenAuctioned)
}

func TestFinalizeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	auc := f.createAndStart(20, 5, 100, 100)
	item1 := auc.Items[0].ID
	require.True(t, f.bid(item1, uuid.New(), 100).Accepted)

	first, err := f.app.FinalizeItem(f.ctx, item1)
	require.NoError(t, err)
	eventsAfterFirst := len(f.store.Outbox())

	f.clock.Advance(time.Second)
	second, err := f.app.FinalizeItem(f.ctx, item1)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, f.store.Outbox(), eventsAfterFirst)
	assert.Len(t, f.store.Debits(), 1)
}

func TestFinalizeWaitingItemIsInvalid(t *testing.T) {
	f := newFixture(t)
	auc := f.createAndStart(20, 5, 100, 100)

	_, err := f.app.FinalizeItem(f.ctx, auc.Items[1].ID)
	var stateErr *auction.InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, string(models.AuctionItemStatusWaiting), stateErr.Status)
}

func TestFinalizeLastItemFinishesAuction(t *testing.T) {
	f := newFixture(t)
	auc := f.createAndStart(20, 5, 100, 100)

	for i := range auc.Items {
		f.clock.Advance(3 * time.Second)
		after, err := f.app.FinalizeItem(f.ctx, auc.Items[i].ID)
		require.NoError(t, err)
		requireInvariants(t, after)
		if i < len(auc.Items)-1 {
			assert.Equal(t, models.AuctionStatusActive, after.Status)
			assert.Equal(t, models.AuctionItemStatusInAuction, after.Items[i+1].Status)
		}
	}

	final := f.get(auc.ID)
	assert.Equal(t, models.AuctionStatusFinished, final.Status)
	require.NotNil(t, final.FinishedAt)
	assert.True(t, final.FinishedAt.Equal(t0.Add(6*time.Second)))

	active, err := f.app.GetActiveAuction(f.ctx)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestCancelAuctionMidway(t *testing.T) {
	f := newFixture(t)
	auc := f.createAndStart(20, 5, 100, 100, 100)
	_, err := f.app.FinalizeItem(f.ctx, auc.Items[0].ID)
	require.NoError(t, err)

	item2 := auc.Items[1].ID
	bidder := uuid.New()
	require.True(t, f.bid(item2, bidder, 100).Accepted)

	cancelled, err := f.app.CancelAuction(f.ctx, auc.ID)
	require.NoError(t, err)

	assert.Equal(t, models.AuctionStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.FinishedAt)
	assert.Equal(t, models.AuctionItemStatusNoBids, cancelled.Items[0].Status)
	assert.Equal(t, models.AuctionItemStatusCancelled, cancelled.Items[1].Status)
	assert.Equal(t, models.AuctionItemStatusCancelled, cancelled.Items[2].Status)

	require.Len(t, cancelled.Items[1].Bids, 1)
	assert.Equal(t, models.BidStatusActive, cancelled.Items[1].Bids[0].Status)
	assert.Empty(t, f.store.Debits())

	out := f.bid(item2, uuid.New(), 200)
	assert.False(t, out.Accepted)
	var notIn *auction.ItemNotInAuctionError
	require.ErrorAs(t, out.Rejection, &notIn)

	_, err = f.app.FinalizeItem(f.ctx, item2)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionItemStatusCancelled, f.get(auc.ID).Items[1].Status)

	_, err = f.app.CancelAuction(f.ctx, auc.ID)
	var stateErr *auction.InvalidStateError
	require.ErrorAs(t, err, &stateErr)
}

func TestCancelPendingAuction(t *testing.T) {
	f := newFixture(t)
	auc := f.create(20, 5, 100, 100)

	cancelled, err := f.app.CancelAuction(f.ctx, auc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusCancelled, cancelled.Status)
	for _, it := range cancelled.Items {
		assert.Equal(t, models.AuctionItemStatusCancelled, it.Status)
	}

	_, err = f.app.StartAuction(f.ctx, auc.ID)
	var stateErr *auction.InvalidStateError
	require.ErrorAs(t, err, &stateErr)
}

func TestGetActiveAuctionFinalizesExpiredItem(t *testing.T) {
	f := newFixture(t)
	auc := f.createAndStart(20, 5, 100, 100)
	require.True(t, f.bid(auc.Items[0].ID, uuid.New(), 100).Accepted)

	f.clock.Advance(19 * time.Second)
	active, err := f.app.GetActiveAuction(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionItemStatusInAuction, active.Items[0].Status)

	f.clock.Advance(time.Second)
	active, err = f.app.GetActiveAuction(f.ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, models.AuctionItemStatusSold, active.Items[0].Status)
	assert.Equal(t, models.AuctionItemStatusInAuction, active.Items[1].Status)
	assert.True(t, active.Items[1].StartedAt.Equal(t0.Add(20*time.Second)))
}

func TestGetActiveAuctionNone(t *testing.T) {
	f := newFixture(t)
	f.create(20, 5, 100)

	active, err := f.app.GetActiveAuction(f.ctx)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestFinalizeExpiredAndNextDeadline(t *testing.T) {
	f := newFixture(t)
	auc := f.createAndStart(30, 5, 100, 100)

	next, err := f.app.NextDeadline(f.ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, auc.Items[0].ID, next.AuctionItemID)
	assert.True(t, next.Deadline.Equal(t0.Add(30*time.Second)))

	n, err := f.app.FinalizeExpired(f.ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(31 * time.Second)
	n, err = f.app.FinalizeExpired(f.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	next, err = f.app.NextDeadline(f.ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, auc.Items[1].ID, next.AuctionItemID)
	assert.True(t, next.Deadline.Equal(t0.Add(61*time.Second)))

	_, err = f.app.FetchExpiredItems(f.ctx, 0)
	require.Error(t, err)
}

func TestResetAuctionedFlag(t *testing.T) {
	f := newFixture(t)
	auc := f.createAndStart(20, 5, 100, 100)
	lootID := auc.Items[0].LootItemID

	_, err := f.app.ResetAuctionedFlag(f.ctx, lootID, f.organizer, "misclick")
	var stateErr *auction.InvalidStateError
	require.ErrorAs(t, err, &stateErr)

	require.True(t, f.bid(auc.Items[0].ID, uuid.New(), 100).Accepted)
	_, err = f.app.FinalizeItem(f.ctx, auc.Items[0].ID)
	require.NoError(t, err)

	_, err = f.app.CreateAuction(f.ctx, auction.CreateAuctionRequest{
		LootItemIDs: []uuid.UUID{lootID}, DefaultTimerSeconds: 20, MinBidIncrement: 5, CreatedBy: f.organizer,
	})
	require.Error(t, err)

	loot, err := f.app.ResetAuctionedFlag(f.ctx, lootID, f.organizer, "winner left the guild")
	require.NoError(t, err)
	assert.False(t, loot.HasBeenAuctioned)

	_, err = f.app.CreateAuction(f.ctx, auction.CreateAuctionRequest{
		LootItemIDs: []uuid.UUID{lootID}, DefaultTimerSeconds: 20, MinBidIncrement: 5, CreatedBy: f.organizer,
	})
	require.NoError(t, err)
}

func TestListAuctionsFiltersAndPages(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		f.create(20, 5, 100)
		f.clock.Advance(time.Minute)
	}
	started := f.createAndStart(20, 5, 100)

	list, page, err := f.app.ListAuctions(f.ctx, auction.ListAuctionsFilter{Page: 1, PageSize: 4})
	require.NoError(t, err)
	assert.Len(t, list, 4)
	assert.Equal(t, 6, page.Total)
	assert.Equal(t, 2, page.TotalPages)
	assert.Equal(t, started.ID, list[0].ID)

	status := models.AuctionStatusActive
	list, page, err = f.app.ListAuctions(f.ctx, auction.ListAuctionsFilter{Status: &status})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 20, page.PageSize)

	other := uuid.New()
	list, _, err = f.app.ListAuctions(f.ctx, auction.ListAuctionsFilter{CreatedBy: &other})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestGetUserWonItems(t *testing.T) {
	f := newFixture(t)
	auc := f.createAndStart(20, 5, 100, 100, 100)
	winner, loser := uuid.New(), uuid.New()

	require.True(t, f.bid(auc.Items[0].ID, winner, 100).Accepted)
	f.clock.Advance(time.Second)
	_, err := f.app.FinalizeItem(f.ctx, auc.Items[0].ID)
	require.NoError(t, err)

	require.True(t, f.bid(auc.Items[1].ID, winner, 100).Accepted)
	require.True(t, f.bid(auc.Items[1].ID, loser, 150).Accepted)
	f.clock.Advance(time.Hour)
	_, err = f.app.FinalizeItem(f.ctx, auc.Items[1].ID)
	require.NoError(t, err)

	won, page, err := f.app.GetUserWonItems(f.ctx, auction.WonItemsFilter{UserID: winner})
	require.NoError(t, err)
	require.Len(t, won, 1)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, auc.Items[0].ID, won[0].AuctionItemID)
	assert.Equal(t, int64(100), won[0].Amount)

	from := t0.Add(30 * time.Minute)
	won, _, err = f.app.GetUserWonItems(f.ctx, auction.WonItemsFilter{UserID: loser, From: &from})
	require.NoError(t, err)
	require.Len(t, won, 1)
	assert.Equal(t, int64(150), won[0].Amount)

	to := t0.Add(time.Minute)
	won, _, err = f.app.GetUserWonItems(f.ctx, auction.WonItemsFilter{UserID: loser, To: &to})
	require.NoError(t, err)
	assert.Empty(t, won)

	_, _, err = f.app.GetUserWonItems(f.ctx, auction.WonItemsFilter{UserID: loser, From: &from, To: &to})
	var vErr *auction.ValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestLifecycleWritesOutboxEvents(t *testing.T) {
	f := newFixture(t)
	auc := f.createAndStart(20, 5, 100)
	require.True(t, f.bid(auc.Items[0].ID, uuid.New(), 100).Accepted)
	_, err := f.app.FinalizeItem(f.ctx, auc.Items[0].ID)
	require.NoError(t, err)

	var types []string
	for _, e := range f.store.Outbox() {
		types = append(types, e.EventType)
	}
	assert.Equal(t, []string{
		events.TypeAuctionCreated,
		events.TypeAuctionStarted,
		events.TypeItemStarted,
		events.TypeBidPlaced,
		events.TypeItemFinalized,
		events.TypeAuctionFinished,
	}, types)

	var started events.ItemStartedPayload
	require.NoError(t, json.Unmarshal(f.store.Outbox()[2].Payload, &started))
	assert.Equal(t, auc.Items[0].ID.String(), started.AuctionItemID)
	assert.True(t, started.DeadlineAt.Equal(t0.Add(20*time.Second)))
}

type countingNotifier struct{ n int }

func (c *countingNotifier) Wake() { c.n++ }

func TestNotifierWokenOnTransitions(t *testing.T) {
	f := newFixture(t)
	n := &countingNotifier{}
	f.app.SetNotifier(n)

	auc := f.createAndStart(20, 5, 100, 100)
	assert.Equal(t, 1, n.n)

	_, err := f.app.FinalizeItem(f.ctx, auc.Items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n.n)

	_, err = f.app.FinalizeItem(f.ctx, auc.Items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n.n)
}

package auction_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/guildloot/go/internal/auction"
	"github.com/mcdev12/guildloot/go/internal/auction/memstore"
	"github.com/mcdev12/guildloot/go/internal/models"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)

type fixture struct {
	t         *testing.T
	ctx       context.Context
	clock     *clockwork.FakeClock
	store     *memstore.Store
	app       *auction.App
	organizer uuid.UUID
	seq       int
}

func newFixture(t *testing.T, opts ...auction.Option) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(t0)
	store := memstore.New()
	app, err := auction.NewApp(store, append([]auction.Option{auction.WithClock(clock)}, opts...)...)
	require.NoError(t, err)
	return &fixture{
		t:         t,
		ctx:       context.Background(),
		clock:     clock,
		store:     store,
		app:       app,
		organizer: uuid.New(),
	}
}

func (f *fixture) seedLoot(minBids ...int64) []uuid.UUID {
	ids := make([]uuid.UUID, len(minBids))
	for i, min := range minBids {
		f.seq++
		ids[i] = uuid.New()
		f.store.AddLootItems(models.LootItem{
			ID:         ids[i],
			RaidID:     uuid.New(),
			Name:       fmt.Sprintf("Loot %d", f.seq),
			Category:   "weapon",
			Grade:      "epic",
			MinimumBid: min,
		})
	}
	return ids
}

func (f *fixture) create(timer int, increment int64, minBids ...int64) *models.Auction {
	f.t.Helper()
	auc, err := f.app.CreateAuction(f.ctx, auction.CreateAuctionRequest{
		LootItemIDs:         f.seedLoot(minBids...),
		DefaultTimerSeconds: timer,
		MinBidIncrement:     increment,
		Notes:               "raid night",
		CreatedBy:           f.organizer,
	})
	require.NoError(f.t, err)
	return auc
}

func (f *fixture) createAndStart(timer int, increment int64, minBids ...int64) *models.Auction {
	f.t.Helper()
	auc := f.create(timer, increment, minBids...)
	started, err := f.app.StartAuction(f.ctx, auc.ID)
	require.NoError(f.t, err)
	return started
}

// bid submits with a fresh request id so distinct calls never collapse.
func (f *fixture) bid(itemID, userID uuid.UUID, amount int64) *auction.BidOutcome {
	f.t.Helper()
	out, err := f.app.PlaceBid(f.ctx, auction.PlaceBidRequest{
		AuctionItemID: itemID,
		UserID:        userID,
		Amount:        amount,
		RequestID:     uuid.NewString(),
	})
	require.NoError(f.t, err)
	return out
}

func (f *fixture) get(id uuid.UUID) *models.Auction {
	f.t.Helper()
	auc, err := f.app.GetAuction(f.ctx, id)
	require.NoError(f.t, err)
	return auc
}

// requireInvariants checks the structural guarantees every observed auction must hold.
func requireInvariants(t *testing.T, auc *models.Auction) {
	t.Helper()
	inProgress := 0
	for _, it := range auc.Items {
		if it.Status == models.AuctionItemStatusInAuction {
			inProgress++
		}

		var max *int64
		var last int64
		for i, b := range it.Bids {
			if i > 0 {
				require.Greater(t, b.Amount, last, "bids on %s must strictly increase", it.ID)
			}
			last = b.Amount
			if b.Status == models.BidStatusCancelled {
				continue
			}
			if max == nil || b.Amount > *max {
				v := b.Amount
				max = &v
			}
		}
		if max == nil {
			require.Nil(t, it.CurrentBid)
			require.Nil(t, it.CurrentWinnerID)
		} else {
			require.NotNil(t, it.CurrentBid)
			require.Equal(t, *max, *it.CurrentBid)
			require.Equal(t, it.Bids[len(it.Bids)-1].UserID, *it.CurrentWinnerID)
		}
	}
	require.LessOrEqual(t, inProgress, 1)
}

// hookStore runs a hook before the next transaction, once.
type hookStore struct {
	auction.Store
	mu   sync.Mutex
	hook func()
}

func (s *hookStore) arm(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = fn
}

func (s *hookStore) InTx(ctx context.Context, fn func(q auction.Queries) error) error {
	s.mu.Lock()
	hook := s.hook
	s.hook = nil
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return s.Store.InTx(ctx, fn)
}

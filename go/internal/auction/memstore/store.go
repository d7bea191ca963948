// Package memstore is an in-memory auction.Store for tests and local runs.
// Transactions hold a store-wide lock and work on a copy of the data that
// replaces the live copy on commit.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/guildloot/go/internal/auction"
	"github.com/mcdev12/guildloot/go/internal/models"
)

type state struct {
	loot      map[uuid.UUID]models.LootItem
	auctions  map[uuid.UUID]*models.Auction
	itemIndex map[uuid.UUID]uuid.UUID
	deadlines map[uuid.UUID]time.Time
	debits    []models.DKPDebit
	outbox    []auction.OutboxEvent
	sent      map[uuid.UUID]time.Time
	failures  map[uuid.UUID]int
}

func newState() *state {
	return &state{
		loot:      make(map[uuid.UUID]models.LootItem),
		auctions:  make(map[uuid.UUID]*models.Auction),
		itemIndex: make(map[uuid.UUID]uuid.UUID),
		deadlines: make(map[uuid.UUID]time.Time),
		sent:      make(map[uuid.UUID]time.Time),
		failures:  make(map[uuid.UUID]int),
	}
}

func (s *state) clone() *state {
	out := newState()
	for k, v := range s.loot {
		out.loot[k] = v
	}
	for k, v := range s.auctions {
		out.auctions[k] = v.Clone()
	}
	for k, v := range s.itemIndex {
		out.itemIndex[k] = v
	}
	for k, v := range s.deadlines {
		out.deadlines[k] = v
	}
	out.debits = append([]models.DKPDebit(nil), s.debits...)
	out.outbox = append([]auction.OutboxEvent(nil), s.outbox...)
	for k, v := range s.sent {
		out.sent[k] = v
	}
	for k, v := range s.failures {
		out.failures[k] = v
	}
	return out
}

// Store implements auction.Store in memory.
type Store struct {
	mu   sync.Mutex
	data *state
}

var _ auction.Store = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{data: newState()}
}

// InTx runs fn against a private copy of the data and publishes the copy if fn succeeds.
func (s *Store) InTx(ctx context.Context, fn func(q auction.Queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := s.data.clone()
	if err := fn(&queries{store: s, tx: tx}); err != nil {
		return err
	}
	s.data = tx
	return nil
}

// Queries returns queries that each run on their own.
func (s *Store) Queries() auction.Queries {
	return &queries{store: s}
}

// AddLootItems seeds loot records.
func (s *Store) AddLootItems(items ...models.LootItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range items {
		s.data.loot[l.ID] = l
	}
}

// Debits returns every recorded DKP debit.
func (s *Store) Debits() []models.DKPDebit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.DKPDebit(nil), s.data.debits...)
}

// Outbox returns every event written so far, oldest first.
func (s *Store) Outbox() []auction.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]auction.OutboxEvent(nil), s.data.outbox...)
}

// Package postgres is the Postgres-backed auction store.
package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/guildloot/go/internal/auction"
	"github.com/mcdev12/guildloot/go/internal/models"
	"github.com/mcdev12/guildloot/go/internal/sqlutil"
	"github.com/rs/zerolog/log"
)

//go:embed schema.sql
var schema string

// NotifyChannel is the channel the outbox trigger notifies on.
const NotifyChannel = "auction_outbox_events"

// dbtx is the query surface shared by *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Store implements auction.Store on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply auction schema: %w", err)
	}
	log.Info().Msg("auction schema applied")
	return nil
}

func (s *Store) InTx(ctx context.Context, fn func(q auction.Queries) error) error {
	return sqlutil.RunTx(ctx, s.pool, func(tx pgx.Tx) auction.Queries {
		return &queries{db: tx}
	}, fn)
}

func (s *Store) Queries() auction.Queries {
	return &queries{db: s.pool}
}

// Pool exposes the underlying pool for the outbox relay.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

var _ auction.Store = (*Store)(nil)

// UpsertLootItems inserts loot drops, refreshing name and pricing of known ids.
// The auctioned flag is left alone on conflict.
func (s *Store) UpsertLootItems(ctx context.Context, items ...models.LootItem) (int, error) {
	batch := &pgx.Batch{}
	for _, l := range items {
		batch.Queue(`
			INSERT INTO loot_items (id, raid_id, name, category, grade, minimum_bid, has_been_auctioned)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE
			SET name = EXCLUDED.name, category = EXCLUDED.category, grade = EXCLUDED.grade,
			    minimum_bid = EXCLUDED.minimum_bid`,
			l.ID, l.RaidID, l.Name, l.Category, l.Grade, l.MinimumBid, l.HasBeenAuctioned)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	n := 0
	for range items {
		tag, err := br.Exec()
		if err != nil {
			return n, fmt.Errorf("failed to upsert loot item: %w", err)
		}
		n += int(tag.RowsAffected())
	}
	return n, nil
}

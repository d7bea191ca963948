package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/guildloot/go/internal/auction"
	"github.com/mcdev12/guildloot/go/internal/auction/postgres"
	"github.com/mcdev12/guildloot/go/internal/dbconfig"
)

func main() {
	path := "go/internal/assets/loot.yaml"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	// 1) Load the raid's drops
	items, err := auction.LoadLoot(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load loot: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect using shared dbconfig
	cfg, err := dbconfig.NewConfigFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	store := postgres.New(pool)
	if err := store.Migrate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}

	// 3) Upsert and report
	n, err := store.UpsertLootItems(ctx, items...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "upsert loot: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loot seed complete: %d total, %d written\n", len(items), n)
}

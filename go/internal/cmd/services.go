package main

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/guildloot/go/internal/auction"
	"github.com/mcdev12/guildloot/go/internal/auction/bus"
	"github.com/mcdev12/guildloot/go/internal/auction/idempotency"
	"github.com/mcdev12/guildloot/go/internal/auction/memstore"
	"github.com/mcdev12/guildloot/go/internal/auction/orchestrator"
	"github.com/mcdev12/guildloot/go/internal/auction/outbox"
	"github.com/mcdev12/guildloot/go/internal/auction/postgres"
	"github.com/mcdev12/guildloot/go/internal/dbconfig"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type Services struct {
	Auction      *auction.Service
	State        *auction.StateHandler
	Orchestrator *orchestrator.Orchestrator
	Relay        *outbox.Relay
	Health       *outbox.HealthChecker

	// JetStream is nil when NATS_URL is unset.
	JetStream jetstream.JetStream

	closers []func()
}

func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// wakeAll fans an item-started signal out to every local waiter.
type wakeAll []auction.Notifier

func (w wakeAll) Wake() {
	for _, n := range w {
		n.Wake()
	}
}

func setupServices(ctx context.Context, cfg Config, policy auction.Policy) (*Services, error) {
	// Wire up dependency injection chain
	// Store → App → Service, with the scheduler and relay hanging off the App
	s := &Services{}
	clock := clockwork.NewRealClock()

	var (
		store    auction.Store
		source   outbox.Source
		listener outbox.Notifications
		db       outbox.Pinger
		natsConn outbox.Connection
	)

	switch cfg.StoreDriver {
	case driverPostgres:
		dbConfig, err := dbconfig.NewConfigFromEnv()
		if err != nil {
			return nil, err
		}
		pgStore, err := setupDatabase(ctx, dbConfig)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, pgStore.Pool().Close)
		if cfg.LootFile != "" {
			items, err := auction.LoadLoot(cfg.LootFile)
			if err != nil {
				s.Close()
				return nil, err
			}
			n, err := pgStore.UpsertLootItems(ctx, items...)
			if err != nil {
				s.Close()
				return nil, err
			}
			log.Info().Int("count", n).Msg("seeded loot items")
		}

		l, err := outbox.NewListener(dbConfig.DSN(), postgres.NotifyChannel)
		if err != nil {
			s.Close()
			return nil, err
		}
		store = pgStore
		source = outbox.NewRepository(pgStore.Pool())
		listener = l
		db = pgStore.Pool()

	case driverMemory:
		memStore := memstore.New()
		if cfg.LootFile != "" {
			items, err := auction.LoadLoot(cfg.LootFile)
			if err != nil {
				return nil, err
			}
			memStore.AddLootItems(items...)
			log.Info().Int("count", len(items)).Msg("seeded loot items")
		}
		store = memStore
		source = memStore
		log.Warn().Msg("using in-memory store; state is lost on restart")
	}

	opts := []auction.Option{auction.WithClock(clock), auction.WithPolicy(policy)}
	if cfg.RedisAddr != "" {
		local, err := idempotency.NewLRUStore(policy.IdempotencyCache, policy.IdempotencyTTL, clock)
		if err != nil {
			s.Close()
			return nil, err
		}
		shared := idempotency.NewRedisStore(&redis.Options{Addr: cfg.RedisAddr}, "guildloot:bid:")
		s.closers = append(s.closers, func() { _ = shared.Close() })
		opts = append(opts, auction.WithOutcomeStore(idempotency.Tiered{Local: local, Shared: shared}))
		log.Info().Str("addr", cfg.RedisAddr).Msg("sharing bid outcomes through redis")
	}

	app, err := auction.NewApp(store, opts...)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Auction = auction.NewService(app, clock)
	s.State = auction.NewStateHandler(app, clock)

	orchCfg := orchestrator.DefaultConfig()
	orchCfg.BatchSize = policy.SweepBatchSize
	orchCfg.StuckThreshold = policy.StuckThreshold
	s.Orchestrator = orchestrator.New(app, orchCfg, orchestrator.WithClock(clock))

	var publisher outbox.Publisher = outbox.LogPublisher{}
	if cfg.NATSURL != "" {
		nc, js, err := bus.Connect(cfg.NATSURL)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		s.closers = append(s.closers, nc.Close)
		jsPublisher, err := outbox.NewJetStreamPublisher(ctx, js, bus.DefaultStreamConfig())
		if err != nil {
			s.Close()
			return nil, err
		}
		publisher = jsPublisher
		s.JetStream = js
		natsConn = nc
	}

	counters := outbox.NewCounters()
	relayCfg := outbox.DefaultConfig()
	relayCfg.NotifyChannel = postgres.NotifyChannel
	relayCfg.FallbackInterval = cfg.OutboxFallback
	relayCfg.MaxAttempts = cfg.OutboxMaxAttempts
	s.Relay = outbox.NewRelay(
		source,
		outbox.NewMetricPublisher(publisher, counters, clock),
		listener,
		relayCfg,
		outbox.WithClock(clock),
		outbox.WithMetrics(counters),
	)
	s.Health = outbox.NewHealthChecker(s.Relay, source, db, natsConn, counters, cfg.HealthThreshold)

	app.SetNotifier(wakeAll{s.Orchestrator, s.Relay})
	return s, nil
}

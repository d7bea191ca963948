package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/mcdev12/guildloot/go/internal/auction"
)

const (
	driverMemory   = "memory"
	driverPostgres = "postgres"
)

type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`
	NATSURL     string `env:"NATS_URL"`
	RedisAddr   string `env:"REDIS_ADDR"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	PolicyFile string `env:"AUCTION_POLICY_FILE"`
	// LootFile seeds loot drops at startup. Mostly useful with the memory driver.
	LootFile string `env:"LOOT_SEED_FILE"`

	OutboxFallback    time.Duration `env:"OUTBOX_FALLBACK_INTERVAL" envDefault:"30s"`
	OutboxMaxAttempts int           `env:"OUTBOX_MAX_ATTEMPTS" envDefault:"20"`
	HealthThreshold   time.Duration `env:"OUTBOX_HEALTH_THRESHOLD" envDefault:"5m"`
}

func loadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	switch cfg.StoreDriver {
	case driverMemory, driverPostgres:
	default:
		return Config{}, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
	return cfg, nil
}

func loadPolicy(cfg Config) (auction.Policy, error) {
	policy, err := auction.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return auction.Policy{}, fmt.Errorf("failed to load auction policy: %w", err)
	}
	return policy, nil
}

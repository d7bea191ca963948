package auction

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Policy holds the tunable bounds of the auction engine.
type Policy struct {
	MinTimerSeconds    int   `yaml:"min_timer_seconds"`
	MaxTimerSeconds    int   `yaml:"max_timer_seconds"`
	MinBidIncrement    int64 `yaml:"min_bid_increment"`
	MaxBidIncrement    int64 `yaml:"max_bid_increment"`
	MaxItemsPerAuction int   `yaml:"max_items_per_auction"`
	MaxPageSize        int   `yaml:"max_page_size"`
	AllowSelfOutbid    bool  `yaml:"allow_self_outbid"`

	// IdempotencyBucket is the window used to derive a key for bids
	// submitted without a request id.
	IdempotencyBucket time.Duration `yaml:"idempotency_bucket"`
	IdempotencyTTL    time.Duration `yaml:"idempotency_ttl"`
	IdempotencyCache  int           `yaml:"idempotency_cache_size"`

	SweepBatchSize      int           `yaml:"sweep_batch_size"`
	SweepFallbackPeriod time.Duration `yaml:"sweep_fallback_period"`
	StuckThreshold      time.Duration `yaml:"stuck_threshold"`
}

// DefaultPolicy returns the stock bounds.
func DefaultPolicy() Policy {
	return Policy{
		MinTimerSeconds:     10,
		MaxTimerSeconds:     300,
		MinBidIncrement:     1,
		MaxBidIncrement:     10000,
		MaxItemsPerAuction:  200,
		MaxPageSize:         100,
		AllowSelfOutbid:     true,
		IdempotencyBucket:   10 * time.Second,
		IdempotencyTTL:      10 * time.Minute,
		IdempotencyCache:    4096,
		SweepBatchSize:      50,
		SweepFallbackPeriod: 30 * time.Second,
		StuckThreshold:      30 * time.Second,
	}
}

// LoadPolicy reads a YAML policy file on top of DefaultPolicy. Fields absent
// from the file keep their defaults.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("failed to read policy file: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("failed to parse policy file: %w", err)
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

// Validate checks the policy is self-consistent.
func (p Policy) Validate() error {
	switch {
	case p.MinTimerSeconds <= 0 || p.MaxTimerSeconds < p.MinTimerSeconds:
		return fmt.Errorf("invalid timer bounds %d-%d", p.MinTimerSeconds, p.MaxTimerSeconds)
	case p.MinBidIncrement <= 0 || p.MaxBidIncrement < p.MinBidIncrement:
		return fmt.Errorf("invalid increment bounds %d-%d", p.MinBidIncrement, p.MaxBidIncrement)
	case p.IdempotencyBucket <= 0:
		return fmt.Errorf("idempotency bucket must be positive")
	case p.SweepBatchSize <= 0:
		return fmt.Errorf("sweep batch size must be positive")
	}
	return nil
}

package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
	"github.com/mcdev12/guildloot/go/internal/auction"
	"github.com/rs/zerolog/log"
)

// Notifications is the part of *pq.Listener the relay uses.
type Notifications interface {
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

// NewListener opens a LISTEN connection on the outbox notify channel.
func NewListener(dsn, channel string) (*pq.Listener, error) {
	l := pq.NewListener(
		dsn,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(channel); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", channel).
		Msg("listening for notifications")
	return l, nil
}

// Relay moves outbox rows to the publisher. Rows are picked up when Postgres
// notifies about them, when Wake is called, and on a fallback sweep.
type Relay struct {
	source    Source
	publisher Publisher
	listener  Notifications
	cfg       Config
	clock     clockwork.Clock
	metrics   MetricsCollector
	kick      chan struct{}

	mu        sync.Mutex
	running   bool
	processed uint64
	lastEvent time.Time
}

type RelayOption func(*Relay)

func WithClock(c clockwork.Clock) RelayOption {
	return func(r *Relay) { r.clock = c }
}

func WithMetrics(m MetricsCollector) RelayOption {
	return func(r *Relay) { r.metrics = m }
}

// NewRelay builds a relay. listener may be nil, in which case only Wake and
// the fallback sweep trigger delivery.
func NewRelay(source Source, publisher Publisher, listener Notifications, cfg Config, opts ...RelayOption) *Relay {
	r := &Relay{
		source:    source,
		publisher: publisher,
		listener:  listener,
		cfg:       cfg,
		clock:     clockwork.NewRealClock(),
		metrics:   NoOpMetricsCollector{},
		kick:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Wake asks the relay to sweep unsent events soon.
func (r *Relay) Wake() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Stats reports how many events were delivered and when the last one was.
func (r *Relay) Stats() (uint64, time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.processed, r.lastEvent
}

// Running reports whether Run is active.
func (r *Relay) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Relay) setRunning(v bool) {
	r.mu.Lock()
	r.running = v
	r.mu.Unlock()
}

// Run blocks until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	log.Info().
		Str("channel", r.cfg.NotifyChannel).
		Dur("ping_interval", r.cfg.PingInterval).
		Dur("fallback_interval", r.cfg.FallbackInterval).
		Bool("listening", r.listener != nil).
		Msg("outbox relay started")

	r.setRunning(true)
	defer r.setRunning(false)

	var notes <-chan *pq.Notification
	if r.listener != nil {
		notes = r.listener.NotificationChannel()
	}

	pingTicker := r.clock.NewTicker(r.cfg.PingInterval)
	fallbackTicker := r.clock.NewTicker(r.cfg.FallbackInterval)
	defer pingTicker.Stop()
	defer fallbackTicker.Stop()

	// Rows written while nobody was listening.
	if err := r.processUnsent(ctx); err != nil {
		log.Error().Err(err).Msg("failed to process unsent events")
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("outbox relay shutting down")
			return r.close()
		case note := <-notes:
			if note == nil {
				// The listener reconnected and may have missed notifications.
				if err := r.processUnsent(ctx); err != nil {
					log.Error().Err(err).Msg("failed to process unsent events")
				}
				continue
			}
			if err := r.handleNotification(ctx, note.Extra); err != nil {
				log.Error().Err(err).Msg("failed to handle notification")
			}
		case <-r.kick:
			if err := r.processUnsent(ctx); err != nil {
				log.Error().Err(err).Msg("failed to process unsent events")
			}
		case <-fallbackTicker.Chan():
			if err := r.processUnsent(ctx); err != nil {
				log.Error().Err(err).Msg("failed to process unsent events")
			}
		case <-pingTicker.Chan():
			if r.listener == nil {
				continue
			}
			if err := r.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (r *Relay) close() error {
	if r.listener == nil {
		return nil
	}
	return r.listener.Close()
}

// handleNotification publishes the event whose id is the notification payload.
func (r *Relay) handleNotification(ctx context.Context, extra string) error {
	id, err := uuid.Parse(extra)
	if err != nil {
		return fmt.Errorf("invalid event ID in notification: %w", err)
	}

	event, err := r.source.FetchByID(ctx, id)
	if errors.Is(err, ErrNotPending) {
		log.Debug().Str("event_id", id.String()).Msg("event already relayed")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to fetch outbox event: %w", err)
	}

	return r.deliver(ctx, *event)
}

// processUnsent relays one batch of unsent events, oldest first. The batch
// stops at the first event that cannot be delivered; the rest wait for the
// next sweep.
func (r *Relay) processUnsent(ctx context.Context) error {
	start := r.clock.Now()
	unsent, err := r.source.FetchUnsent(ctx, r.cfg.BatchSize, r.cfg.MaxAttempts)
	if err != nil {
		return fmt.Errorf("failed to fetch unsent outbox events: %w", err)
	}

	delivered := 0
	for _, event := range unsent {
		if err := r.deliver(ctx, event); err != nil {
			log.Error().
				Err(err).
				Str("event_id", event.ID.String()).
				Int("deferred", len(unsent)-delivered-1).
				Msg("failed to publish event, deferring rest of batch")
			break
		}
		delivered++
	}
	r.metrics.RecordBatchProcessed(delivered, r.clock.Since(start))
	if len(unsent) > 0 {
		log.Info().
			Int("total", len(unsent)).
			Int("successful", delivered).
			Msg("processed outbox events")
	}
	return nil
}

func (r *Relay) deliver(ctx context.Context, event auction.OutboxEvent) error {
	if err := r.publishWithRetry(ctx, event); err != nil {
		if markErr := r.source.MarkFailed(ctx, event.ID, err.Error()); markErr != nil {
			log.Error().Err(markErr).Str("event_id", event.ID.String()).Msg("failed to record outbox failure")
		}
		return fmt.Errorf("failed to publish event: %w", err)
	}

	now := r.clock.Now()
	if err := r.source.MarkSent(ctx, event.ID, now); err != nil {
		log.Error().Err(err).Str("event_id", event.ID.String()).Msg("failed to mark outbox event as sent")
		return err
	}

	r.mu.Lock()
	r.processed++
	r.lastEvent = now
	r.mu.Unlock()

	log.Debug().Str("event_id", event.ID.String()).Str("event_type", event.EventType).Msg("published and marked event as sent")
	return nil
}

// publishWithRetry backs off linearly between attempts.
func (r *Relay) publishWithRetry(ctx context.Context, event auction.OutboxEvent) error {
	var lastErr error

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.cfg.RetryDelay * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-r.clock.After(delay):
			}
		}

		err := r.publisher.Publish(ctx, event)
		r.metrics.RecordPublishAttempt(event.EventType, attempt+1, err == nil)
		if err != nil {
			lastErr = err
			log.Error().
				Err(err).
				Int("attempt", attempt+1).
				Str("event_id", event.ID.String()).
				Msg("failed to publish, retrying")
			continue
		}

		if attempt > 0 {
			log.Info().
				Int("attempt", attempt+1).
				Str("event_id", event.ID.String()).
				Msg("publish succeeded after retry")
		}
		return nil
	}

	return fmt.Errorf("publish failed after %d attempts: %w", r.cfg.MaxRetries+1, lastErr)
}

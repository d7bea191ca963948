package outbox_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
	"github.com/mcdev12/guildloot/go/internal/auction"
	"github.com/mcdev12/guildloot/go/internal/auction/events"
	"github.com/mcdev12/guildloot/go/internal/auction/memstore"
	"github.com/mcdev12/guildloot/go/internal/auction/outbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu       sync.Mutex
	failNext int
	attempts int
	events   []auction.OutboxEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e auction.OutboxEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	if p.failNext != 0 {
		if p.failNext > 0 {
			p.failNext--
		}
		return errors.New("bus unavailable")
	}
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) setFailures(n int) {
	p.mu.Lock()
	p.failNext = n
	p.mu.Unlock()
}

func (p *recordingPublisher) published() []auction.OutboxEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]auction.OutboxEvent(nil), p.events...)
}

func (p *recordingPublisher) attemptCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

type fakeListener struct {
	ch     chan *pq.Notification
	pings  int
	closed bool
	mu     sync.Mutex
}

func newFakeListener() *fakeListener {
	return &fakeListener{ch: make(chan *pq.Notification, 4)}
}

func (l *fakeListener) NotificationChannel() <-chan *pq.Notification { return l.ch }

func (l *fakeListener) Ping() error {
	l.mu.Lock()
	l.pings++
	l.mu.Unlock()
	return nil
}

func (l *fakeListener) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

func testConfig() outbox.Config {
	cfg := outbox.DefaultConfig()
	cfg.RetryDelay = 0
	cfg.MaxRetries = 2
	return cfg
}

func insertEvent(t *testing.T, store *memstore.Store, eventType string) auction.OutboxEvent {
	t.Helper()
	e := auction.OutboxEvent{
		ID:          uuid.New(),
		AggregateID: uuid.New(),
		EventType:   eventType,
		Payload:     []byte(`{}`),
		CreatedAt:   time.Now(),
	}
	require.NoError(t, store.InTx(context.Background(), func(q auction.Queries) error {
		return q.InsertOutbox(context.Background(), e)
	}))
	return e
}

type relayHarness struct {
	store     *memstore.Store
	publisher *recordingPublisher
	listener  *fakeListener
	clock     *clockwork.FakeClock
	relay     *outbox.Relay
	cancel    context.CancelFunc
	done      chan error
}

func startRelay(t *testing.T, cfg outbox.Config, seed ...string) *relayHarness {
	t.Helper()
	h := &relayHarness{
		store:     memstore.New(),
		publisher: &recordingPublisher{},
		listener:  newFakeListener(),
		clock:     clockwork.NewFakeClock(),
		done:      make(chan error, 1),
	}
	for _, typ := range seed {
		insertEvent(t, h.store, typ)
	}
	h.relay = outbox.NewRelay(h.store, h.publisher, h.listener, cfg, outbox.WithClock(h.clock))

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.relay.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	require.NoError(t, h.clock.BlockUntilContext(waitCtx, 2))
	return h
}

func (h *relayHarness) pending(t *testing.T) int {
	n, err := h.store.CountPending(context.Background())
	require.NoError(t, err)
	return n
}

func TestRelayCatchesUpOnStart(t *testing.T) {
	h := startRelay(t, testConfig(), events.TypeAuctionCreated, events.TypeAuctionStarted)

	require.Eventually(t, func() bool { return len(h.publisher.published()) == 2 }, time.Second, 5*time.Millisecond)
	got := h.publisher.published()
	assert.Equal(t, events.TypeAuctionCreated, got[0].EventType)
	assert.Equal(t, events.TypeAuctionStarted, got[1].EventType)
	assert.Equal(t, 0, h.pending(t))

	processed, last := h.relay.Stats()
	assert.Equal(t, uint64(2), processed)
	assert.Equal(t, h.clock.Now(), last)
}

func TestRelayPublishesNotifiedEventOnce(t *testing.T) {
	h := startRelay(t, testConfig())

	e := insertEvent(t, h.store, events.TypeBidPlaced)
	h.listener.ch <- &pq.Notification{Channel: "auction_outbox_events", Extra: e.ID.String()}
	h.listener.ch <- &pq.Notification{Channel: "auction_outbox_events", Extra: e.ID.String()}
	h.listener.ch <- &pq.Notification{Channel: "auction_outbox_events", Extra: "not-a-uuid"}

	require.Eventually(t, func() bool { return len(h.listener.ch) == 0 && h.pending(t) == 0 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(h.publisher.published()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, e.ID, h.publisher.published()[0].ID)
}

func TestRelayRetriesBeforeGivingUp(t *testing.T) {
	cfg := testConfig()
	pub := &recordingPublisher{failNext: 2}
	store := memstore.New()
	insertEvent(t, store, events.TypeItemFinalized)

	relay := outbox.NewRelay(store, pub, nil, cfg, outbox.WithClock(clockwork.NewFakeClock()))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	require.Eventually(t, func() bool { return len(pub.published()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, pub.attemptCount())

	cancel()
	require.NoError(t, <-done)
	assert.False(t, relay.Running())
}

func TestRelaySweepsFailedEventsLater(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 1
	h := startRelayWithFailures(t, cfg, -1)

	require.Eventually(t, func() bool { return h.publisher.attemptCount() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.pending(t))
	assert.Empty(t, h.publisher.published())

	h.publisher.setFailures(0)
	h.clock.Advance(cfg.FallbackInterval)

	require.Eventually(t, func() bool { return len(h.publisher.published()) == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return h.pending(t) == 0 }, time.Second, 5*time.Millisecond)
}

// startRelayWithFailures seeds one ItemFinalized event unless seed names others.
func startRelayWithFailures(t *testing.T, cfg outbox.Config, failures int, seed ...string) *relayHarness {
	t.Helper()
	h := &relayHarness{
		store:     memstore.New(),
		publisher: &recordingPublisher{failNext: failures},
		listener:  newFakeListener(),
		clock:     clockwork.NewFakeClock(),
		done:      make(chan error, 1),
	}
	if len(seed) == 0 {
		seed = []string{events.TypeItemFinalized}
	}
	for _, typ := range seed {
		insertEvent(t, h.store, typ)
	}
	h.relay = outbox.NewRelay(h.store, h.publisher, h.listener, cfg, outbox.WithClock(h.clock))

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.relay.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

func TestRelayParksEventAfterMaxAttempts(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 0
	cfg.MaxAttempts = 2
	h := startRelayWithFailures(t, cfg, -1)

	require.Eventually(t, func() bool { return h.publisher.attemptCount() == 1 }, time.Second, 5*time.Millisecond)
	h.clock.Advance(cfg.FallbackInterval)
	require.Eventually(t, func() bool { return h.publisher.attemptCount() == 2 }, time.Second, 5*time.Millisecond)

	h.clock.Advance(cfg.FallbackInterval)
	require.Never(t, func() bool { return h.publisher.attemptCount() > 2 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, 1, h.pending(t), "parked events stay in the table")

	unsent, err := h.store.FetchUnsent(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Len(t, unsent, 1)
}

func TestRelayStopsBatchAtFirstFailure(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 0
	h := startRelayWithFailures(t, cfg, 1, events.TypeItemStarted, events.TypeBidPlaced, events.TypeItemFinalized)

	require.Eventually(t, func() bool { return h.publisher.attemptCount() == 1 }, time.Second, 5*time.Millisecond)
	require.Never(t, func() bool { return h.publisher.attemptCount() > 1 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, 3, h.pending(t))

	h.clock.Advance(cfg.FallbackInterval)
	require.Eventually(t, func() bool { return len(h.publisher.published()) == 3 }, time.Second, 5*time.Millisecond)
	got := h.publisher.published()
	assert.Equal(t, events.TypeItemStarted, got[0].EventType)
	assert.Equal(t, events.TypeBidPlaced, got[1].EventType)
	assert.Equal(t, events.TypeItemFinalized, got[2].EventType)
}

func TestRelayWakeAndReconnectSweep(t *testing.T) {
	h := startRelay(t, testConfig())

	insertEvent(t, h.store, events.TypeItemStarted)
	h.relay.Wake()
	require.Eventually(t, func() bool { return len(h.publisher.published()) == 1 }, time.Second, 5*time.Millisecond)

	insertEvent(t, h.store, events.TypeAuctionFinished)
	h.listener.ch <- nil
	require.Eventually(t, func() bool { return len(h.publisher.published()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestRelayPingsAndClosesListener(t *testing.T) {
	cfg := testConfig()
	h := startRelay(t, cfg)

	h.clock.Advance(cfg.PingInterval)
	require.Eventually(t, func() bool {
		h.listener.mu.Lock()
		defer h.listener.mu.Unlock()
		return h.listener.pings == 1
	}, time.Second, 5*time.Millisecond)

	h.cancel()
	require.Eventually(t, func() bool {
		h.listener.mu.Lock()
		defer h.listener.mu.Unlock()
		return h.listener.closed
	}, time.Second, 5*time.Millisecond)
}

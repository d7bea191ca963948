package outbox_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/guildloot/go/internal/auction/events"
	"github.com/mcdev12/guildloot/go/internal/auction/memstore"
	"github.com/mcdev12/guildloot/go/internal/auction/outbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConn bool

func (c stubConn) IsConnected() bool { return bool(c) }

func TestHealthChecker(t *testing.T) {
	store := memstore.New()
	insertEvent(t, store, events.TypeAuctionCreated)
	relay := outbox.NewRelay(store, &recordingPublisher{}, nil, testConfig(), outbox.WithClock(clockwork.NewFakeClock()))

	checker := outbox.NewHealthChecker(relay, store, nil, stubConn(false), outbox.NewCounters(), time.Minute)
	status := checker.Check(context.Background())
	assert.False(t, status.Healthy)
	assert.False(t, status.RelayActive)
	assert.False(t, status.NATSConnected)
	assert.Equal(t, 1, status.PendingEvents)
	assert.Contains(t, status.Errors, "NATS disconnected")
	assert.Contains(t, status.Errors, "relay not active")

	rec := httptest.NewRecorder()
	checker.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/outbox", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"pending_events":1`)

	text := checker.Export(context.Background())
	assert.Contains(t, text, "outbox_pending_events 1")
	assert.Contains(t, text, "outbox_relay_active 0")
}

func TestCountersTrackRetriesAndOutcomes(t *testing.T) {
	c := outbox.NewCounters()
	c.RecordPublishAttempt(events.TypeBidPlaced, 1, false)
	c.RecordPublishAttempt(events.TypeBidPlaced, 2, true)
	c.RecordEventProcessed(events.TypeBidPlaced, true, time.Millisecond)
	c.RecordEventProcessed(events.TypeItemStarted, false, time.Millisecond)
	c.RecordBatchProcessed(0, time.Millisecond)
	c.RecordBatchProcessed(3, time.Millisecond)

	snap := c.Snapshot()
	require.Equal(t, uint64(1), snap.Published[events.TypeBidPlaced])
	assert.Equal(t, uint64(1), snap.Failed[events.TypeItemStarted])
	assert.Equal(t, uint64(1), snap.Retries)
	assert.Equal(t, uint64(1), snap.Batches)
}

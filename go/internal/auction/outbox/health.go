package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Connection is satisfied by *nats.Conn.
type Connection interface {
	IsConnected() bool
}

const highPendingEvents = 1000

type HealthStatus struct {
	Healthy           bool             `json:"healthy"`
	LastEventTime     time.Time        `json:"last_event_time"`
	EventsProcessed   uint64           `json:"events_processed"`
	PendingEvents     int              `json:"pending_events"`
	DatabaseConnected bool             `json:"database_connected"`
	NATSConnected     bool             `json:"nats_connected"`
	RelayActive       bool             `json:"relay_active"`
	Counters          *CounterSnapshot `json:"counters,omitempty"`
	Errors            []string         `json:"errors"`
}

type HealthChecker struct {
	relay     *Relay
	source    Source
	db        Pinger
	nats      Connection
	counters  *Counters
	clock     clockwork.Clock
	threshold time.Duration // How long without events before unhealthy
}

// NewHealthChecker builds a checker. db, nats and counters are optional.
func NewHealthChecker(relay *Relay, source Source, db Pinger, nats Connection, counters *Counters, threshold time.Duration) *HealthChecker {
	return &HealthChecker{
		relay:     relay,
		source:    source,
		db:        db,
		nats:      nats,
		counters:  counters,
		clock:     relay.clock,
		threshold: threshold,
	}
}

func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Healthy:           true,
		DatabaseConnected: true,
		Errors:            []string{},
	}

	status.EventsProcessed, status.LastEventTime = h.relay.Stats()

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			status.DatabaseConnected = false
			status.Healthy = false
			status.Errors = append(status.Errors, fmt.Sprintf("database ping failed: %v", err))
		}
	}

	if h.nats != nil {
		status.NATSConnected = h.nats.IsConnected()
		if !status.NATSConnected {
			status.Healthy = false
			status.Errors = append(status.Errors, "NATS disconnected")
		}
	}

	status.RelayActive = h.relay.Running()
	if !status.RelayActive {
		status.Healthy = false
		status.Errors = append(status.Errors, "relay not active")
	}

	if status.DatabaseConnected {
		pending, err := h.source.CountPending(ctx)
		if err != nil {
			status.Errors = append(status.Errors, fmt.Sprintf("failed to count pending events: %v", err))
		} else {
			status.PendingEvents = pending
			if pending > highPendingEvents {
				status.Errors = append(status.Errors, fmt.Sprintf("high pending event count: %d", pending))
			}
		}
	}

	// Only stale when something is waiting to go out.
	if status.PendingEvents > 0 && !status.LastEventTime.IsZero() {
		since := h.clock.Since(status.LastEventTime)
		if since > h.threshold {
			status.Healthy = false
			status.Errors = append(status.Errors, fmt.Sprintf("no events processed for %s", since))
		}
	}

	if h.counters != nil {
		snap := h.counters.Snapshot()
		status.Counters = &snap
	}
	return status
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}

// Export renders the status in the Prometheus text format.
func (h *HealthChecker) Export(ctx context.Context) string {
	status := h.Check(ctx)

	return fmt.Sprintf(`# HELP outbox_healthy Whether the outbox relay is healthy
# TYPE outbox_healthy gauge
outbox_healthy %d

# HELP outbox_events_processed_total Total number of events processed
# TYPE outbox_events_processed_total counter
outbox_events_processed_total %d

# HELP outbox_pending_events Current number of pending events
# TYPE outbox_pending_events gauge
outbox_pending_events %d

# HELP outbox_relay_active Whether the relay is running
# TYPE outbox_relay_active gauge
outbox_relay_active %d

# HELP outbox_last_event_timestamp Unix timestamp of last processed event
# TYPE outbox_last_event_timestamp gauge
outbox_last_event_timestamp %d
`,
		boolGauge(status.Healthy),
		status.EventsProcessed,
		status.PendingEvents,
		boolGauge(status.RelayActive),
		status.LastEventTime.Unix(),
	)
}

func boolGauge(b bool) int {
	if b {
		return 1
	}
	return 0
}

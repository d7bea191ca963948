package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ConnectionManager keeps the websocket subscribers of each auction. A
// subscriber sees an AuctionState snapshot first, then the auction's events in
// bus order, and is closed when the auction finishes or is cancelled.
type ConnectionManager struct {
	mu       sync.Mutex
	auctions map[uuid.UUID]map[*subscriber]struct{}

	upgrader websocket.Upgrader
	config   ConnectionConfig
	queue    chan delivery
}

type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration // reset by every pong
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int // frames a subscriber may fall behind before it is dropped
	CheckOrigin     func(r *http.Request) bool
}

func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		SendBuffer:      256,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
}

// frame is one outbound message. A non-zero closeCode makes it a close frame.
type frame struct {
	data      []byte
	closeCode int
	closeText string
}

// delivery is an event for one auction, or the end of it when event is nil.
type delivery struct {
	auctionID uuid.UUID
	event     *AuctionEvent
	reason    string
}

type subscriber struct {
	id          string
	userID      string
	auctionID   uuid.UUID
	conn        *websocket.Conn
	send        chan frame
	connectedAt time.Time

	// Guarded by ConnectionManager.mu. Events that arrive before the snapshot
	// is queued wait in held.
	priming bool
	held    []frame
	gone    bool
}

func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	if config.SendBuffer < 2 {
		config.SendBuffer = 2
	}
	return &ConnectionManager{
		auctions: make(map[uuid.UUID]map[*subscriber]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
		queue:  make(chan delivery, 1024),
	}
}

// Start fans queued deliveries out until ctx is cancelled, then closes every subscriber.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case d := <-cm.queue:
			cm.dispatch(d)
		}
	}
}

// Subscribe upgrades the request and attaches it to auctionID. The subscriber
// is registered before snapshot runs, so no event published while the
// snapshot is being built is lost; such events follow the snapshot.
func (cm *ConnectionManager) Subscribe(w http.ResponseWriter, r *http.Request, userID string, auctionID uuid.UUID, snapshot func() (*AuctionEvent, error)) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	sub := &subscriber{
		id:          uuid.NewString(),
		userID:      userID,
		auctionID:   auctionID,
		conn:        conn,
		send:        make(chan frame, cm.config.SendBuffer),
		connectedAt: time.Now(),
		priming:     true,
	}
	cm.add(sub)
	go sub.writePump(cm)

	state, err := snapshot()
	var data []byte
	if err == nil {
		data, err = json.Marshal(state)
	}
	if err != nil {
		cm.mu.Lock()
		cm.end(sub, &frame{closeCode: websocket.CloseInternalServerErr, closeText: "auction state unavailable"})
		cm.mu.Unlock()
		return fmt.Errorf("failed to build auction snapshot: %w", err)
	}
	if !cm.prime(sub, data) {
		// The auction ended while the snapshot was built; the close frame is already queued.
		return nil
	}
	go sub.readPump(cm)

	log.Info().
		Str("connection_id", sub.id).
		Str("user_id", userID).
		Str("auction_id", auctionID.String()).
		Msg("websocket subscriber attached")
	return nil
}

// BroadcastToAuction queues an event for every subscriber of the auction.
func (cm *ConnectionManager) BroadcastToAuction(auctionID uuid.UUID, event *AuctionEvent) {
	cm.enqueue(delivery{auctionID: auctionID, event: event})
}

// CloseAuction closes every subscriber of the auction once the events queued
// before it have been handed over. reason becomes the close frame text.
func (cm *ConnectionManager) CloseAuction(auctionID uuid.UUID, reason string) {
	cm.enqueue(delivery{auctionID: auctionID, reason: reason})
}

func (cm *ConnectionManager) enqueue(d delivery) {
	select {
	case cm.queue <- d:
	default:
		log.Warn().
			Str("auction_id", d.auctionID.String()).
			Bool("close", d.event == nil).
			Msg("gateway queue full, dropping delivery")
	}
}

func (cm *ConnectionManager) dispatch(d delivery) {
	f := frame{closeCode: websocket.CloseNormalClosure, closeText: d.reason}
	if d.event != nil {
		data, err := json.Marshal(d.event)
		if err != nil {
			log.Error().Err(err).Str("event_id", d.event.ID).Msg("failed to encode event")
			return
		}
		f = frame{data: data}
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()
	subs := cm.auctions[d.auctionID]
	n := len(subs)
	for sub := range subs {
		if d.event == nil {
			cm.end(sub, &f)
			continue
		}
		if !cm.offer(sub, f) {
			log.Warn().
				Str("connection_id", sub.id).
				Str("user_id", sub.userID).
				Msg("subscriber fell behind, dropping it")
			cm.end(sub, nil)
		}
	}

	if d.event == nil {
		log.Info().Str("auction_id", d.auctionID.String()).Str("reason", d.reason).Int("connections", n).Msg("closed auction subscribers")
		return
	}
	log.Debug().
		Str("event_type", d.event.Type).
		Str("auction_id", d.auctionID.String()).
		Int("connections", n).
		Msg("event broadcasted")
}

func (cm *ConnectionManager) add(sub *subscriber) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	pool := cm.auctions[sub.auctionID]
	if pool == nil {
		pool = make(map[*subscriber]struct{})
		cm.auctions[sub.auctionID] = pool
	}
	pool[sub] = struct{}{}
}

// prime queues the snapshot ahead of anything held. It reports false when
// the subscriber was dropped in the meantime.
func (cm *ConnectionManager) prime(sub *subscriber, snapshot []byte) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if sub.gone {
		return false
	}
	sub.push(frame{data: snapshot})
	for _, f := range sub.held {
		sub.push(f)
	}
	sub.priming = false
	sub.held = nil
	return true
}

// offer reports false when the subscriber has no room left. Callers hold mu.
func (cm *ConnectionManager) offer(sub *subscriber, f frame) bool {
	if sub.priming {
		if len(sub.held) >= cap(sub.send)-1 {
			return false
		}
		sub.held = append(sub.held, f)
		return true
	}
	return sub.push(f)
}

// end detaches the subscriber and closes its send channel once. final, when
// there is room for it, is the last frame written. Callers hold mu.
func (cm *ConnectionManager) end(sub *subscriber, final *frame) {
	if sub.gone {
		return
	}
	sub.gone = true
	if final != nil {
		sub.held = nil
		sub.push(*final)
	}
	close(sub.send)

	pool := cm.auctions[sub.auctionID]
	delete(pool, sub)
	if len(pool) == 0 {
		delete(cm.auctions, sub.auctionID)
	}
	log.Debug().
		Str("connection_id", sub.id).
		Str("auction_id", sub.auctionID.String()).
		Dur("connected_for", time.Since(sub.connectedAt)).
		Msg("websocket subscriber detached")
}

func (cm *ConnectionManager) remove(sub *subscriber) {
	cm.mu.Lock()
	cm.end(sub, nil)
	cm.mu.Unlock()
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	for _, pool := range cm.auctions {
		for sub := range pool {
			cm.end(sub, &frame{closeCode: websocket.CloseGoingAway, closeText: "gateway shutting down"})
		}
	}
}

func (s *subscriber) push(f frame) bool {
	select {
	case s.send <- f:
		return true
	default:
		return false
	}
}

// ConnectionStats summarizes active connections.
type ConnectionStats struct {
	TotalConnections   int            `json:"total_connections"`
	ActiveAuctions     int            `json:"active_auctions"`
	AuctionConnections map[string]int `json:"auction_connections"`
}

func (cm *ConnectionManager) Stats() ConnectionStats {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	stats := ConnectionStats{
		ActiveAuctions:     len(cm.auctions),
		AuctionConnections: make(map[string]int, len(cm.auctions)),
	}
	for auctionID, pool := range cm.auctions {
		stats.TotalConnections += len(pool)
		stats.AuctionConnections[auctionID.String()] = len(pool)
	}
	return stats
}

func (s *subscriber) writePump(cm *ConnectionManager) {
	ticker := time.NewTicker(cm.config.PingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case f, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(cm.config.WriteTimeout))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if f.closeCode != 0 {
				_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(f.closeCode, f.closeText))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, f.data); err != nil {
				log.Error().Err(err).Str("connection_id", s.id).Msg("failed to write websocket frame")
				cm.remove(s)
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(cm.config.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("connection_id", s.id).Msg("ping failed")
				cm.remove(s)
				return
			}
		}
	}
}

// readPump only watches for the client going away. Bids go through the API.
func (s *subscriber) readPump(cm *ConnectionManager) {
	defer cm.remove(s)

	s.conn.SetReadLimit(cm.config.MaxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(cm.config.ReadTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(cm.config.ReadTimeout))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("connection_id", s.id).Msg("websocket closed unexpectedly")
			}
			return
		}
	}
}

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/guildloot/go/internal/auction"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles WebSocket upgrade requests for auction connections
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	provider          auction.StateProvider
	clock             clockwork.Clock
}

func NewWebSocketHandler(cm *ConnectionManager, provider auction.StateProvider, clock clockwork.Clock) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		provider:          provider,
		clock:             clock,
	}
}

// HandleAuctionConnection handles GET /ws/auction?auction_id=...
func (h *WebSocketHandler) HandleAuctionConnection(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("auction_id")
	if raw == "" {
		http.Error(w, "auction_id is required", http.StatusBadRequest)
		return
	}
	auctionID, err := uuid.Parse(raw)
	if err != nil {
		http.Error(w, "invalid auction_id format", http.StatusBadRequest)
		return
	}

	userID := r.Header.Get(auction.HeaderUserID)
	if userID == "" {
		userID = r.URL.Query().Get("user_id")
	}
	if userID == "" {
		userID = "anonymous"
	}

	if _, err := h.provider.GetAuction(r.Context(), auctionID); errors.Is(err, auction.ErrNotFound) {
		http.Error(w, "auction not found", http.StatusNotFound)
		return
	} else if err != nil {
		log.Error().Err(err).Str("auction_id", auctionID.String()).Msg("failed to load auction state")
		http.Error(w, "failed to load auction state", http.StatusInternalServerError)
		return
	}

	// On failure the upgrader has already written the HTTP error.
	load := func() (*AuctionEvent, error) { return h.snapshot(r.Context(), auctionID) }
	if err := h.connectionManager.Subscribe(w, r, userID, auctionID, load); err != nil {
		log.Error().
			Err(err).
			Str("auction_id", auctionID.String()).
			Str("user_id", userID).
			Msg("failed to upgrade WebSocket connection")
	}
}

// snapshot builds the first frame so a client never waits for the next event to render.
func (h *WebSocketHandler) snapshot(ctx context.Context, auctionID uuid.UUID) (*AuctionEvent, error) {
	auc, err := h.provider.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	now := h.clock.Now()
	data, err := json.Marshal(auction.NewActiveAuctionMessage(auc, now))
	if err != nil {
		return nil, err
	}
	return &AuctionEvent{
		ID:        uuid.NewString(),
		AuctionID: auctionID.String(),
		Type:      EventTypeAuctionState,
		Timestamp: now,
		Data:      data,
	}, nil
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.connectionManager.Stats()); err != nil {
		log.Error().Err(err).Msg("failed to encode connection stats")
	}
}

func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/auction", h.HandleAuctionConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}

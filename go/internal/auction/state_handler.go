package auction

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/guildloot/go/internal/models"
	"github.com/rs/zerolog/log"
)

// StateProvider interface defines methods for retrieving auction state
type StateProvider interface {
	GetActiveAuction(ctx context.Context) (*models.Auction, error)
	GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error)
}

// StateHandler serves plain JSON snapshots for polling clients
type StateHandler struct {
	provider StateProvider
	clock    clockwork.Clock
}

// NewStateHandler creates a new state handler
func NewStateHandler(provider StateProvider, c clockwork.Clock) *StateHandler {
	if c == nil {
		c = clockwork.NewRealClock()
	}
	return &StateHandler{provider: provider, clock: c}
}

// HandleGetActiveAuction handles GET /api/auctions/active
func (h *StateHandler) HandleGetActiveAuction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	auc, err := h.provider.GetActiveAuction(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to get active auction")
		http.Error(w, "Failed to get active auction", http.StatusInternalServerError)
		return
	}

	writeJSON(w, NewActiveAuctionMessage(auc, h.clock.Now()))
}

// HandleGetAuctionState handles GET /api/auctions/{id}/state
func (h *StateHandler) HandleGetAuctionState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	raw := extractAuctionIDFromPath(r.URL.Path)
	if raw == "" {
		http.Error(w, "Auction ID is required", http.StatusBadRequest)
		return
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		http.Error(w, "Invalid auction ID format", http.StatusBadRequest)
		return
	}

	auc, err := h.provider.GetAuction(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		http.Error(w, "Auction not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("auction_id", id.String()).Msg("failed to get auction state")
		http.Error(w, "Failed to get auction state", http.StatusInternalServerError)
		return
	}

	writeJSON(w, NewActiveAuctionMessage(auc, h.clock.Now()))
}

// RegisterStateRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/auctions/active", h.HandleGetActiveAuction)
	mux.HandleFunc("/api/auctions/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/state") {
			h.HandleGetAuctionState(w, r)
			return
		}
		http.NotFound(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode auction state response")
	}
}

// extractAuctionIDFromPath extracts the id from /api/auctions/{id}/state
func extractAuctionIDFromPath(path string) string {
	const prefix = "/api/auctions/"
	const suffix = "/state"
	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		return ""
	}
	if len(path) <= len(prefix)+len(suffix) {
		return ""
	}
	return path[len(prefix) : len(path)-len(suffix)]
}

// Package gateway pushes auction events to websocket clients and proxies
// polling reads to the auction API.
package gateway

import (
	"context"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/guildloot/go/internal/auction"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// Service is the auction gateway: websocket fan-out plus the REST state routes.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	eventConsumer     *EventConsumer
	stateHandler      *auction.StateHandler
}

type Config struct {
	ConnectionConfig ConnectionConfig
	StreamName       string
}

// NewService wires the gateway. js may be nil, in which case no events are pushed.
func NewService(config Config, provider auction.StateProvider, js jetstream.JetStream, clock clockwork.Clock) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	cm := NewConnectionManager(config.ConnectionConfig)
	s := &Service{
		connectionManager: cm,
		wsHandler:         NewWebSocketHandler(cm, provider, clock),
		stateHandler:      auction.NewStateHandler(provider, clock),
	}
	if js != nil {
		s.eventConsumer = NewEventConsumer(cm, js, config.StreamName)
	}
	return s
}

// Start blocks until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting auction gateway service")

	go s.connectionManager.Start(ctx)

	if s.eventConsumer != nil {
		return s.eventConsumer.Start(ctx)
	}
	<-ctx.Done()
	return nil
}

func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterStateRoutes(mux)
}

func (s *Service) GetStats() ConnectionStats {
	return s.connectionManager.Stats()
}

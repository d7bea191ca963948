package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/mcdev12/guildloot/go/internal/auction"
	"github.com/mcdev12/guildloot/go/internal/auction/bus"
	"github.com/mcdev12/guildloot/go/internal/auction/events"
	"github.com/mcdev12/guildloot/go/internal/auction/gateway"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type config struct {
	Port     string `env:"GATEWAY_PORT" envDefault:"8081"`
	NATSURL  string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	APIURL   string `env:"AUCTION_API_URL" envDefault:"http://localhost:8080"`
	UserID   string `env:"GATEWAY_USER_ID"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatal().Err(err).Msg("failed to parse gateway config")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// The gateway reads the API as a plain member.
	caller := auction.Caller{UserID: uuid.New(), Role: auction.RoleMember}
	if cfg.UserID != "" {
		id, err := uuid.Parse(cfg.UserID)
		if err != nil {
			log.Fatal().Err(err).Msg("GATEWAY_USER_ID must be a UUID")
		}
		caller.UserID = id
	}
	client := auction.NewClient(http.DefaultClient, cfg.APIURL,
		connect.WithInterceptors(auction.NewCallerInterceptor(caller)))

	var js jetstream.JetStream
	if cfg.NATSURL != "" {
		nc, stream, err := bus.Connect(cfg.NATSURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		defer nc.Close()
		js = stream
	}

	log.Info().
		Str("api_url", cfg.APIURL).
		Str("nats_url", cfg.NATSURL).
		Str("port", cfg.Port).
		Msg("starting auction gateway")

	svc := gateway.NewService(gateway.Config{
		ConnectionConfig: gateway.DefaultConnectionConfig(),
		StreamName:       events.StreamName,
	}, client, js, nil)

	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"service":"auction-gateway","connections":%d}`, svc.GetStats().TotalConnections)
	})

	server := &http.Server{
		Addr: fmt.Sprintf(":%s", cfg.Port),
		Handler: cors.New(cors.Options{
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedOrigins: []string{"*"},
			AllowedHeaders: []string{"*"},
		}).Handler(mux),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.Start(ctx)
	})
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("gateway stopped with error")
	}
	log.Info().Msg("auction gateway shutdown complete")
}

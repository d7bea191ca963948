package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/guildloot/go/internal/auction"
	"github.com/mcdev12/guildloot/go/internal/auction/poller"
	"github.com/mcdev12/guildloot/go/internal/auction/watch"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type config struct {
	APIURL   string        `env:"AUCTION_API_URL" envDefault:"http://localhost:8080"`
	UserID   string        `env:"WATCH_USER_ID,required"`
	MaxBid   int64         `env:"WATCH_MAX_BID"`
	Slow     time.Duration `env:"WATCH_POLL_SLOW" envDefault:"3s"`
	Fast     time.Duration `env:"WATCH_POLL_FAST" envDefault:"1s"`
	NearZero int           `env:"WATCH_NEAR_ZERO_SECONDS" envDefault:"10"`
	LogLevel string        `env:"LOG_LEVEL" envDefault:"info"`
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatal().Err(err).Msg("failed to parse watch config")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	userID, err := uuid.Parse(cfg.UserID)
	if err != nil {
		log.Fatal().Err(err).Msg("WATCH_USER_ID must be a UUID")
	}

	client := auction.NewClient(http.DefaultClient, cfg.APIURL,
		connect.WithInterceptors(auction.NewCallerInterceptor(auction.Caller{UserID: userID, Role: auction.RoleMember})))

	var bidder *watch.Bidder
	if cfg.MaxBid > 0 {
		bidder = &watch.Bidder{UserID: userID, Max: cfg.MaxBid}
		log.Info().Int64("max_bid", cfg.MaxBid).Msg("auto-bidding enabled")
	}

	policy := poller.Policy{Slow: cfg.Slow, Fast: cfg.Fast, NearZero: cfg.NearZero}
	w := watch.New(client, clockwork.NewRealClock(), policy, bidder)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = w.Run(ctx, func(remaining int) {
		auc := w.Current()
		if remaining < 0 || auc == nil {
			log.Info().Msg("no item up for bidding")
			return
		}
		item := auc.InProgressItem()
		if item == nil {
			return
		}
		ev := log.Info().
			Str("item_id", item.ID.String()).
			Int("remaining_sec", remaining).
			Int64("minimum", auction.MinimumBid(item, auc.MinBidIncrement))
		if item.CurrentBid != nil {
			ev = ev.Int64("current_bid", *item.CurrentBid)
		}
		ev.Msg("countdown")
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("watch stopped")
	}
}

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matchday/livescore/internal/app/matchapi"
	"github.com/matchday/livescore/internal/app/matchsync"
	"github.com/matchday/livescore/internal/app/streamer"
	"github.com/matchday/livescore/internal/match"
	"github.com/matchday/livescore/internal/notify"
	platformauth "github.com/matchday/livescore/internal/platform/auth"
	"github.com/matchday/livescore/internal/platform/config"
	"github.com/matchday/livescore/internal/platform/dbpool"
	"github.com/matchday/livescore/internal/platform/env"
	"github.com/matchday/livescore/internal/platform/logging"
	"github.com/matchday/livescore/internal/platform/natsutil"
	"github.com/matchday/livescore/internal/platform/server"
	"github.com/matchday/livescore/internal/store/memstore"
	"github.com/matchday/livescore/internal/store/postgres"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logging.Setup("match-api", cfg.LogLevel, !cfg.Production())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Database.Memory {
		err = runStandalone(ctx, cfg)
	} else {
		err = run(ctx, cfg)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("match-api stopped")
	}
}

func run(ctx context.Context, cfg config.Config) error {
	pool, err := dbpool.New(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := postgres.New(pool)
	if err := dbpool.WaitReady(ctx, pool, 30*time.Second, store.EnsureSchema); err != nil {
		return err
	}

	client, err := natsutil.ConnectJetStreamWithRetry(cfg.NATS.URL, "match-api", cfg.NATS.ConnectTimeout)
	if err != nil {
		return err
	}
	defer client.Close()

	service := matchsync.NewService(store, store, notify.NewPublisher(client.JS).Publish)
	handler := matchapi.NewHandler(service, platformauth.NewManager(cfg.Auth.Secret, cfg.Auth.TokenTTL), cfg.HTTP.AllowedOrigins)

	ready := func(ctx context.Context) error {
		if err := server.CheckNATS(client.Conn); err != nil {
			return err
		}
		return server.CheckPostgres(ctx, pool)
	}
	srv := server.New(cfg.HTTP.APIAddr, server.WithProbes(handler.Router(), ready), false)
	return server.Serve(ctx, srv, cfg.HTTP.ShutdownTimeout)
}

// runStandalone serves the API, the viewer streams and the HUD from one
// process on the in-memory store, with notices delivered in-process.
func runStandalone(ctx context.Context, cfg config.Config) error {
	log.Warn().Msg("running on the in-memory store; nothing is persisted")

	store := memstore.New()
	demoID := env.String("DEMO_MATCH_ID", "demo")
	if err := store.CreateMatch(ctx, match.Match{
		ID:       demoID,
		Status:   match.StatusLive,
		HomeTeam: match.TeamInfo{Name: env.String("DEMO_HOME_TEAM", "Home XV"), TriCode: "HOM"},
		AwayTeam: match.TeamInfo{Name: env.String("DEMO_AWAY_TEAM", "Away XV"), TriCode: "AWY"},
	}); err != nil {
		return err
	}
	log.Info().Str("match_id", demoID).Msg("demo match created")

	bus := notify.NewLocalBus()
	service := matchsync.NewService(store, store, bus.Publish)
	api := matchapi.NewHandler(service, platformauth.NewManager(cfg.Auth.Secret, cfg.Auth.TokenTTL), cfg.HTTP.AllowedOrigins)

	hub := streamer.NewHub(bus, service.Snapshot)
	hub.Debounce = cfg.Streamer.SnapshotDebounce
	hub.MaxWait = cfg.Streamer.SnapshotMaxWait
	hub.Buffer = cfg.Streamer.SubscriberBuffer
	viewers := streamer.NewHandler(hub, service.Snapshot, cfg.HTTP.AllowedOrigins)
	viewers.PingInterval = cfg.Streamer.PingInterval

	mux := http.NewServeMux()
	mux.Handle("/api/", api.Router())
	mux.Handle("/", viewers.Router())

	srv := server.New(cfg.HTTP.APIAddr, server.WithProbes(mux, nil), true)
	return server.Serve(ctx, srv, cfg.HTTP.ShutdownTimeout)
}

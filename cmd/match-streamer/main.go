package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matchday/livescore/internal/app/matchsync"
	"github.com/matchday/livescore/internal/app/streamer"
	"github.com/matchday/livescore/internal/notify"
	"github.com/matchday/livescore/internal/platform/config"
	"github.com/matchday/livescore/internal/platform/dbpool"
	"github.com/matchday/livescore/internal/platform/logging"
	"github.com/matchday/livescore/internal/platform/natsutil"
	"github.com/matchday/livescore/internal/platform/server"
	"github.com/matchday/livescore/internal/store/postgres"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logging.Setup("match-streamer", cfg.LogLevel, !cfg.Production())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("match-streamer stopped")
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

	client, err := natsutil.ConnectJetStreamWithRetry(cfg.NATS.URL, "match-streamer", cfg.NATS.ConnectTimeout)
	if err != nil {
		return err
	}
	defer client.Close()

	// Read-only: snapshots come straight from the ledger, never from notices.
	reader := matchsync.NewService(store, store, nil)

	hub := streamer.NewHub(notify.NATSSource{JS: client.JS}, reader.Snapshot)
	hub.Debounce = cfg.Streamer.SnapshotDebounce
	hub.MaxWait = cfg.Streamer.SnapshotMaxWait
	hub.Buffer = cfg.Streamer.SubscriberBuffer
	handler := streamer.NewHandler(hub, reader.Snapshot, cfg.HTTP.AllowedOrigins)
	handler.PingInterval = cfg.Streamer.PingInterval

	ready := func(ctx context.Context) error {
		if err := server.CheckNATS(client.Conn); err != nil {
			return err
		}
		return server.CheckPostgres(ctx, pool)
	}
	srv := server.New(cfg.HTTP.StreamerAddr, server.WithProbes(handler.Router(), ready), true)
	return server.Serve(ctx, srv, cfg.HTTP.ShutdownTimeout)
}

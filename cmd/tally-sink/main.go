package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/matchday/livescore/internal/app/matchsync"
	"github.com/matchday/livescore/internal/app/tallysink"
	"github.com/matchday/livescore/internal/platform/config"
	"github.com/matchday/livescore/internal/platform/dbpool"
	"github.com/matchday/livescore/internal/platform/logging"
	"github.com/matchday/livescore/internal/platform/natsutil"
	"github.com/matchday/livescore/internal/platform/server"
	"github.com/matchday/livescore/internal/store/postgres"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logging.Setup("tally-sink", cfg.LogLevel, !cfg.Production())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("tally-sink stopped")
	}
}

func run(ctx context.Context, cfg config.Config) error {
	pool, err := dbpool.New(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := postgres.New(pool)
	repo := tallysink.NewPostgresRepository(pool)
	ensure := func(ctx context.Context) error {
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		return repo.EnsureSchema(ctx)
	}
	if err := dbpool.WaitReady(ctx, pool, 30*time.Second, ensure); err != nil {
		return err
	}

	client, err := natsutil.ConnectJetStreamWithRetry(cfg.NATS.URL, "tally-sink", cfg.NATS.ConnectTimeout)
	if err != nil {
		return err
	}
	defer client.Close()

	ledger := matchsync.NewService(store, store, nil)
	sink := tallysink.NewService(repo, ledger.Tally)
	sub, err := sink.Consume(ctx, client.JS)
	if err != nil {
		return err
	}
	log.Info().Str("subject", sub.Subject).Msg("tally-sink consuming")

	api := chi.NewRouter()
	api.Mount("/api/v1/tallies", tallysink.Routes(repo))
	ready := func(ctx context.Context) error {
		if err := server.CheckNATS(client.Conn); err != nil {
			return err
		}
		return server.CheckPostgres(ctx, pool)
	}
	srv := server.New(cfg.HTTP.SinkAddr, server.WithProbes(api, ready), false)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Serve(gctx, srv, cfg.HTTP.ShutdownTimeout)
	})
	g.Go(func() error {
		<-gctx.Done()
		return sub.Drain()
	})
	return g.Wait()
}

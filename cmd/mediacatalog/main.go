package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"mediacatalog/internal/api"
	"mediacatalog/internal/cache"
	"mediacatalog/internal/catalog"
	"mediacatalog/internal/config"
	"mediacatalog/internal/files"
	"mediacatalog/internal/ingest"
	"mediacatalog/internal/reconcile"
	"mediacatalog/internal/server"
	"mediacatalog/internal/storage"
	"mediacatalog/internal/streaming"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger := setupLogger(cfg.Logging)

	logger.Info().
		Str("version", api.Version).
		Msg("starting media catalog server")

	store, err := storage.Open(cfg.Database.Path, storage.Config{
		BusyTimeout:  cfg.Database.BusyTimeout,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	})
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.Database.Path).Msg("failed to initialize storage")
	}
	defer store.Close()

	fileStore, err := files.New(cfg.Uploads.Dir)
	if err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.Uploads.Dir).Msg("failed to initialize uploads directory")
	}

	svc := catalog.NewService(store, fileStore, logger)
	ingestor := ingest.New(fileStore, svc, cfg.Uploads.MaxUploadBytes, logger)
	blobs := cache.NewBlobCache(cfg.Cache.Capacity, cfg.Cache.MaxSize, cfg.Cache.MaxItemSize)
	streamer := streaming.NewHandler(fileStore, blobs, svc, logger)

	handler := api.NewHandler(svc, ingestor, streamer, cfg.Uploads.MaxUploadBytes, logger)
	srv := server.New(cfg, logger, handler)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(srv.Start)

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("received shutdown signal")
		return srv.Shutdown(context.Background())
	})

	if cfg.Uploads.ReconcileOnStart {
		reconciler := reconcile.New(store, fileStore, cfg.Uploads.OrphanGrace, logger)
		g.Go(func() error {
			if _, err := reconciler.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("startup reconcile failed")
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server error")
	}

	logger.Info().Msg("server stopped")
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)

	if cfg.Pretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().
			Timestamp().
			Logger()
	}

	return zerolog.New(os.Stdout).
		With().
		Timestamp().
		Logger()
}

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"x-clone/config"
	"x-clone/httpapi"
	"x-clone/likes"
	"x-clone/likes/inmemoryimpl"
	"x-clone/likes/mongoimpl"
	"x-clone/likes/redisimpl"

	"github.com/redis/go-redis/v9"
)

func newLogger(cfg *config.Config) *slog.Logger {
	var handler slog.Handler
	if cfg.IsProduction() {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	return slog.New(handler)
}

func newBackend(ctx context.Context, cfg *config.Config) (likes.Backend, func(), error) {
	switch cfg.StorageMode {
	case config.StorageMongo:
		backend, err := mongoimpl.NewMongoBackend(ctx, cfg.MongoURL, cfg.MongoDBName)
		if err != nil {
			return nil, nil, err
		}
		return backend, func() { _ = backend.Close(context.Background()) }, nil
	case config.StorageRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
		return redisimpl.NewRedisBackend(client), func() { _ = client.Close() }, nil
	default:
		return inmemoryimpl.NewInMemoryBackend(), func() {}, nil
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, closeBackend, err := newBackend(ctx, cfg)
	if err != nil {
		logger.Error("failed to open storage", "mode", cfg.StorageMode, "error", err)
		os.Exit(1)
	}
	defer closeBackend()

	opts := []likes.Option{likes.WithLogger(logger)}
	if cfg.AtomicCounters {
		opts = append(opts, likes.WithAtomicCounters())
	}
	store := likes.NewStore(backend, opts...)
	sessions := likes.NewSessions(store, logger)
	defer sessions.Close()
	if cfg.SessionIdleTimeout > 0 {
		go sessions.RunEviction(ctx, cfg.SessionIdleTimeout)
	}

	srv := httpapi.NewServer(store, sessions, httpapi.Options{
		Addr:         cfg.HTTPAddr,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		JWTSecret:    cfg.JWTSecret,
		Logger:       logger,
	})

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("server listening", "addr", cfg.HTTPAddr, "storage", cfg.StorageMode, "atomic_counters", cfg.AtomicCounters)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		return
	}
	<-shutdownDone
}

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"mercato/api/internal/app"
	"mercato/api/internal/config"
	"mercato/api/internal/intent"
	"mercato/api/internal/notify"
	"mercato/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("database connection failed")
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.WithError(err).Fatal("migrations failed")
	}

	dataStore := store.NewPostgresStore(db)

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.WithError(err).Fatal("invalid redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.WithError(err).Fatal("redis connection failed")
	}

	intents := intent.NewRedisStoreWithClient(redisClient)
	emitter := notify.New(dataStore, notify.NewRedisPublisher(redisClient), cfg.NotifyChannel, log)

	service := app.New(cfg, dataStore, intents, emitter, clock.New(), log)
	if err := service.Bootstrap(ctx); err != nil {
		log.WithError(err).Warn("bootstrap error (will retry on next restart)")
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, log)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.Addr).Info("Mercato API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown error")
	}
}

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

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/local/markersplit/internal/api"
	cfgpkg "github.com/local/markersplit/internal/config"
	"github.com/local/markersplit/internal/dispatcher"
	"github.com/local/markersplit/internal/limiter"
	logpkg "github.com/local/markersplit/internal/logger"
	"github.com/local/markersplit/internal/metrics"
	"github.com/local/markersplit/internal/queue"
	"github.com/local/markersplit/internal/splitter"
	"github.com/local/markersplit/internal/statuscheck"
	"github.com/local/markersplit/internal/storage"
	"github.com/local/markersplit/internal/store"
)

func main() {
	// .env is optional; real environment wins.
	_ = godotenv.Load()
	cfg := cfgpkg.FromEnv()

	if err := logpkg.Init(logpkg.OptionsFrom(cfg)); err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
	}
	defer logpkg.Close()
	metrics.Init()

	engine := splitter.New()
	deps := api.Dependencies{
		Engine:         engine,
		Limiter:        limiter.NewLocal(cfg.Server.MaxInflightSplits),
		Defaults:       cfg.Match.Options(),
		MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
		SplitTimeout:   cfg.Server.SplitTimeout,
	}
	checks := statuscheck.Options{}

	// Queue
	rq, err := queue.NewRedisQueue(cfg.Queue.RedisURL, cfg.Queue.Stream, cfg.Queue.Group, cfg.Queue.PollInterval)
	if err != nil {
		log.Warn().Err(err).Msg("redis unavailable; job endpoints disabled")
	} else {
		defer rq.Close()
		checks.Redis = rq

		// Status store shares the queue's connection
		rs := store.NewWithClient(rq.Client())
		deps.Queue = rq
		deps.Status = rs

		var s3c *storage.S3Client
		if cfg.Storage.Bucket != "" {
			s3c, err = storage.NewS3Client(context.Background(), storage.OptionsFrom(cfg.Storage))
			if err != nil {
				log.Fatal().Err(err).Msg("failed to init S3 client")
			}
			checks.Storage = s3c
		}

		// Dispatcher worker (optional)
		if cfg.Worker.Run {
			if s3c == nil {
				log.Fatal().Msg("RUN_DISPATCHER requires S3_BUCKET")
			}
			cooldown := limiter.NewCooldown(rq.Client(), cfg.Worker.CooldownBase, cfg.Worker.CooldownMax)
			disp := dispatcher.New(dispatcher.ConfigFrom(cfg), rq, rs, s3c, engine, cooldown)
			disp.Start()
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := disp.Stop(ctx); err != nil {
					log.Warn().Err(err).Msg("dispatcher did not drain in time")
				}
			}()
		}
	}
	deps.Checker = statuscheck.New(checks)

	mux := http.NewServeMux()
	api.New(deps).RegisterRoutes(mux)

	srv := &http.Server{Addr: ":" + cfg.Server.Port, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Info().Msgf("HTTP server listening on :%s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	log.Info().Msg("shutdown complete")
}

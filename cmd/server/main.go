package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Clark-Hu/movietn/internal/cache"
	"github.com/Clark-Hu/movietn/internal/config"
	"github.com/Clark-Hu/movietn/internal/domain"
	"github.com/Clark-Hu/movietn/internal/events"
	httpserver "github.com/Clark-Hu/movietn/internal/http"
	"github.com/Clark-Hu/movietn/internal/logging"
	"github.com/Clark-Hu/movietn/internal/rating"
	"github.com/Clark-Hu/movietn/internal/recommend"
	"github.com/Clark-Hu/movietn/internal/repository"
	"github.com/Clark-Hu/movietn/internal/review"
	"github.com/Clark-Hu/movietn/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		// The configured logger is not available yet.
		bootLogger := logging.New(logging.Config{Service: "movietn"})
		bootLogger.Fatal().Err(err).Msg("config error")
	}

	logger := logging.New(logging.Config{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: "movietn",
	})

	dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	storeOpts := store.Options{
		MaxConns:               int32(cfg.DBMaxConns),
		MinConns:               int32(cfg.DBMinConns),
		MaxConnIdleTime:        time.Duration(cfg.DBMaxIdleSecs) * time.Second,
		MaxConnLifetime:        time.Duration(cfg.DBMaxLifeSecs) * time.Second,
		ConnTimeout:            time.Duration(cfg.DBConnTimeoutSecs) * time.Second,
		StatementTimeout:       time.Duration(cfg.StoreTimeoutSecs) * time.Second,
		StatementCacheCapacity: cfg.DBStatementCache,
		Logger:                 logger,
	}

	st, err := store.New(dbCtx, cfg.DBURL, storeOpts)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer st.Close()

	repo := repository.New(st)
	stores := domain.Stores{Movies: repo.Movies, Reviews: repo.Reviews}

	agg := rating.NewAggregator(repo.Movies, rating.Options{
		MaxRetries: cfg.AggregateMaxRetries,
		Logger:     logger,
	})

	engineOpts := recommend.Options{Logger: logger}
	svcOpts := review.Options{
		Timeout: time.Duration(cfg.StoreTimeoutSecs) * time.Second,
		Logger:  logger,
	}

	if cfg.RedisAddr != "" {
		client, err := cache.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("connect redis")
		}
		defer client.Close()

		ranking := cache.NewRankingCache(client, repo.Movies, cache.Options{
			TTL:    time.Duration(cfg.RankingCacheTTLSecs) * time.Second,
			Logger: logger,
		})
		engineOpts.Ranking = ranking
		svcOpts.Ranking = ranking
		logger.Info().Str("addr", cfg.RedisAddr).Msg("ranking cache enabled")
	}

	if len(cfg.KafkaBrokers) > 0 {
		publisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Warn().Err(err).Msg("close kafka publisher")
			}
		}()
		svcOpts.Publisher = publisher
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("review events enabled")
	}

	engine := recommend.NewEngine(repo.Reviews, repo.Movies, engineOpts)
	svc := review.NewService(repo, stores, agg, engine, svcOpts)
	server := httpserver.New(cfg, st, svc, logger)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			serverErrCh <- err
			return
		}
		serverErrCh <- nil
	}()

	select {
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("server error")
		}
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("graceful shutdown error")
	}
}

// Package cache keeps the top-rated movie ranking in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Clark-Hu/movietn/internal/domain"
	"github.com/Clark-Hu/movietn/internal/metrics"
)

const (
	// RankingKey prefixes the JSON encoded ranking; entries are stored under
	// RankingKey:<generation>.
	RankingKey = "movies:top-rated"
	// GenerationKey is bumped by Invalidate. A reader that loaded the ranking
	// under an older generation writes to a key nobody reads any more.
	GenerationKey = "movies:top-rated:generation"
)

// DefaultTTL applies when Options.TTL is zero.
const DefaultTTL = 30 * time.Second

// RankingLoader reads the ranking from the system of record.
type RankingLoader interface {
	FindAllSortedByRatingDescending(ctx context.Context) ([]domain.MovieAggregate, error)
}

// Options tunes a RankingCache.
type Options struct {
	TTL    time.Duration
	Logger zerolog.Logger
}

// RankingCache serves FindAllSortedByRatingDescending from Redis and falls
// back to the loader on a miss. Redis failures are logged and never surface to
// callers.
type RankingCache struct {
	client redis.Cmdable
	loader RankingLoader
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRankingCache wraps loader with a Redis cache.
func NewRankingCache(client redis.Cmdable, loader RankingLoader, opts Options) *RankingCache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	return &RankingCache{
		client: client,
		loader: loader,
		ttl:    opts.TTL,
		logger: opts.Logger.With().Str("component", "ranking_cache").Logger(),
	}
}

type cachedMovie struct {
	ID            string          `json:"id"`
	AverageRating decimal.Decimal `json:"averageRating"`
	VoteCount     int64           `json:"voteCount"`
}

// FindAllSortedByRatingDescending returns the cached ranking, loading and
// caching it on a miss.
func (c *RankingCache) FindAllSortedByRatingDescending(ctx context.Context) ([]domain.MovieAggregate, error) {
	gen, err := c.generation(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("ranking cache generation read failed")
		metrics.RankingCacheMisses.Inc()
		return c.loader.FindAllSortedByRatingDescending(ctx)
	}
	key := entryKey(gen)

	cached, err := c.get(ctx, key)
	switch {
	case err == nil:
		metrics.RankingCacheHits.Inc()
		return cached, nil
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn().Err(err).Msg("ranking cache read failed")
	}
	metrics.RankingCacheMisses.Inc()

	ranking, err := c.loader.FindAllSortedByRatingDescending(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.set(ctx, key, ranking); err != nil {
		c.logger.Warn().Err(err).Msg("ranking cache write failed")
	}
	return ranking, nil
}

// Invalidate starts a new generation and drops the previous entry. Call it
// after an aggregate changes.
func (c *RankingCache) Invalidate(ctx context.Context) error {
	gen, err := c.client.Incr(ctx, GenerationKey).Result()
	if err != nil {
		return fmt.Errorf("failed to bump ranking generation: %w", err)
	}
	if err := c.client.Del(ctx, entryKey(gen-1)).Err(); err != nil {
		return fmt.Errorf("failed to delete ranking from cache: %w", err)
	}
	return nil
}

func (c *RankingCache) generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, GenerationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func entryKey(gen int64) string {
	return fmt.Sprintf("%s:%d", RankingKey, gen)
}

func (c *RankingCache) get(ctx context.Context, key string) ([]domain.MovieAggregate, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, err
	}
	var movies []cachedMovie
	if err := json.Unmarshal(data, &movies); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ranking: %w", err)
	}
	out := make([]domain.MovieAggregate, 0, len(movies))
	for _, m := range movies {
		out = append(out, domain.MovieAggregate{ID: m.ID, AverageRating: m.AverageRating, VoteCount: m.VoteCount})
	}
	return out, nil
}

func (c *RankingCache) set(ctx context.Context, key string, ranking []domain.MovieAggregate) error {
	movies := make([]cachedMovie, 0, len(ranking))
	for _, agg := range ranking {
		movies = append(movies, cachedMovie{ID: agg.ID, AverageRating: agg.AverageRating, VoteCount: agg.VoteCount})
	}
	data, err := json.Marshal(movies)
	if err != nil {
		return fmt.Errorf("failed to marshal ranking: %w", err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set ranking in cache: %w", err)
	}
	return nil
}

// NewClient connects to Redis and pings it.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

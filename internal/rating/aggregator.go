// Package rating keeps each movie's average rating and vote count consistent
// with its reviews.
//
// Every read-modify-write on a movie aggregate runs inside a per-movie
// critical section, and the final write is a version compare-and-swap so that
// several processes sharing one database also serialize. Mutations on
// different movies never wait on each other.
package rating

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Clark-Hu/movietn/internal/domain"
	"github.com/Clark-Hu/movietn/internal/metrics"
)

// DefaultMaxRetries bounds how often a lost version race is recomputed.
const DefaultMaxRetries = 3

// Options tunes an Aggregator.
type Options struct {
	MaxRetries int
	Logger     zerolog.Logger
}

// Aggregator applies review mutations to movie aggregates.
type Aggregator struct {
	movies     domain.MovieStore
	locks      *keyedLocker
	maxRetries int
	logger     zerolog.Logger
}

// NewAggregator builds an Aggregator persisting through movies.
func NewAggregator(movies domain.MovieStore, opts Options) *Aggregator {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	return &Aggregator{
		movies:     movies,
		locks:      newKeyedLocker(),
		maxRetries: opts.MaxRetries,
		logger:     opts.Logger.With().Str("component", "rating").Logger(),
	}
}

// ApplyNewReview records a new vote for movieID. A movie without an aggregate
// starts from zero.
func (a *Aggregator) ApplyNewReview(ctx context.Context, movieID string, r decimal.Decimal) (domain.MovieAggregate, error) {
	return a.applyLocked(ctx, movieID, NewReview(r))
}

// ApplyModifiedReview replaces oldRating with newRating in movieID's average.
func (a *Aggregator) ApplyModifiedReview(ctx context.Context, movieID string, oldRating, newRating decimal.Decimal) (domain.MovieAggregate, error) {
	return a.applyLocked(ctx, movieID, ModifiedReview(oldRating, newRating))
}

// ApplyDeletedReview removes a vote of r from movieID. Removing the last vote
// leaves a zero aggregate.
func (a *Aggregator) ApplyDeletedReview(ctx context.Context, movieID string, r decimal.Decimal) (domain.MovieAggregate, error) {
	return a.applyLocked(ctx, movieID, DeletedReview(r))
}

func (a *Aggregator) applyLocked(ctx context.Context, movieID string, m Mutation) (domain.MovieAggregate, error) {
	if err := validate(movieID, m); err != nil {
		return domain.MovieAggregate{}, err
	}
	unlock, err := a.Lock(ctx, movieID)
	if err != nil {
		return domain.MovieAggregate{}, err
	}
	defer unlock()
	return a.Apply(ctx, a.movies, movieID, m)
}

// Lock enters movieID's critical section. The returned func releases it and
// is safe to call more than once.
func (a *Aggregator) Lock(ctx context.Context, movieID string) (func(), error) {
	unlock, err := a.locks.lock(ctx, movieID)
	if err != nil {
		return nil, domain.StoreError("wait for movie "+movieID, err)
	}
	return unlock, nil
}

// Apply runs the read-modify-write for m against movies without taking the
// movie lock. Callers must hold Lock(movieID); the review service uses it to
// run the aggregate update inside its own transaction.
func (a *Aggregator) Apply(ctx context.Context, movies domain.MovieStore, movieID string, m Mutation) (domain.MovieAggregate, error) {
	if err := validate(movieID, m); err != nil {
		return domain.MovieAggregate{}, err
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return domain.MovieAggregate{}, domain.StoreError("apply "+string(m.Kind)+" review", err)
		}

		cur, found, err := movies.FindByID(ctx, movieID)
		if err != nil {
			return domain.MovieAggregate{}, domain.StoreError("find movie "+movieID, err)
		}
		if !found {
			cur = domain.ZeroAggregate(movieID)
		}

		next, err := m.Apply(cur)
		if err != nil {
			return domain.MovieAggregate{}, err
		}

		saved, err := movies.Save(ctx, next)
		if errors.Is(err, domain.ErrVersionConflict) {
			metrics.AggregateRetries.Inc()
			if attempt >= a.maxRetries {
				return domain.MovieAggregate{}, fmt.Errorf("save movie %s after %d attempts: %w: %w", movieID, attempt+1, domain.ErrTransient, err)
			}
			a.logger.Debug().
				Str("movie_id", movieID).
				Int("attempt", attempt+1).
				Msg("aggregate version moved, recomputing")
			continue
		}
		if err != nil {
			return domain.MovieAggregate{}, domain.StoreError("save movie "+movieID, err)
		}

		a.logger.Debug().
			Str("movie_id", movieID).
			Str("kind", string(m.Kind)).
			Str("average", saved.AverageRating.StringFixed(domain.AveragePlaces)).
			Int64("votes", saved.VoteCount).
			Msg("aggregate updated")
		return saved, nil
	}
}

func validate(movieID string, m Mutation) error {
	if strings.TrimSpace(movieID) == "" {
		return fmt.Errorf("%w: movie id is required", domain.ErrInvalidInput)
	}
	return m.Validate()
}

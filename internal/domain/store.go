package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// MovieStore persists movie aggregates.
type MovieStore interface {
	FindByID(ctx context.Context, movieID string) (MovieAggregate, bool, error)
	FindAllByIDs(ctx context.Context, movieIDs []string) ([]MovieAggregate, error)
	// Save inserts the aggregate when Version is 0 and otherwise updates it only
	// if the stored version still equals agg.Version. Either way the returned
	// aggregate carries the new version. A lost race yields ErrVersionConflict.
	Save(ctx context.Context, agg MovieAggregate) (MovieAggregate, error)
	// FindAllSortedByRatingDescending orders by average rating, then vote count
	// descending, then id.
	FindAllSortedByRatingDescending(ctx context.Context) ([]MovieAggregate, error)
}

// ReviewStore persists reviews. Descending queries order by rating, then
// creation time and id ascending.
type ReviewStore interface {
	FindByID(ctx context.Context, reviewID string) (Review, bool, error)
	FindByUserAndMovie(ctx context.Context, userID, movieID string) (Review, bool, error)
	FindAllByMovie(ctx context.Context, movieID string) ([]Review, error)
	FindAllByUser(ctx context.Context, userID string) ([]Review, error)
	FindAllByMovieRatingRangeExcludingUser(ctx context.Context, movieID string, min, max decimal.Decimal, userID string) ([]Review, error)
	FindAllByMovieDescending(ctx context.Context, movieID string) ([]Review, error)
	FindAllByUserExcludingMovie(ctx context.Context, userID, excludedMovieID string, limit int) ([]Review, error)
	Save(ctx context.Context, review Review) (Review, error)
	// DeleteByID returns ErrNotFound when no review has the id.
	DeleteByID(ctx context.Context, reviewID string) error
}

// Stores groups the stores bound to one transaction.
type Stores struct {
	Movies  MovieStore
	Reviews ReviewStore
}

// Transactor runs fn atomically: either every write fn makes through the given
// stores is kept or none is.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context, st Stores) error) error
}

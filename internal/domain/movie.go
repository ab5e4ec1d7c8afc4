package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MovieAggregate is the running average rating and vote count kept per movie.
type MovieAggregate struct {
	ID            string
	AverageRating decimal.Decimal
	VoteCount     int64
	// Version is bumped on every save; 0 means the aggregate was never stored.
	Version   int64
	UpdatedAt time.Time
}

// ZeroAggregate returns the aggregate of a movie nobody has rated.
func ZeroAggregate(movieID string) MovieAggregate {
	return MovieAggregate{ID: movieID, AverageRating: decimal.Zero}
}

// Summary projects the aggregate onto the read model returned to callers.
func (m MovieAggregate) Summary() MovieSummary {
	return MovieSummary{
		ID:            m.ID,
		AverageRating: m.AverageRating,
		VoteCount:     m.VoteCount,
	}
}

// MovieSummary is the public view of a movie aggregate.
type MovieSummary struct {
	ID            string
	AverageRating decimal.Decimal
	VoteCount     int64
}

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Review is a single user's rating and write-up of a movie.
type Review struct {
	ID          string
	MovieID     string
	UserID      string
	Rating      decimal.Decimal
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ReviewResult pairs a stored review with the movie aggregate it produced.
type ReviewResult struct {
	Review Review
	Movie  MovieSummary
}

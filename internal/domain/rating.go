package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// MinRating and MaxRating bound both review ratings and averages.
	MinRating = decimal.Zero
	MaxRating = decimal.NewFromInt(10)
)

const (
	// RatingPlaces is the precision of a review rating.
	RatingPlaces = 1
	// AveragePlaces is the precision of a movie's average rating.
	AveragePlaces = 2
)

const (
	// maxRatingLength caps the raw text handed to the decimal parser.
	maxRatingLength = 32
	// maxRatingExponent bounds the decimal exponent. Comparisons rescale to the
	// smaller exponent, so an unbounded one costs a power of ten that size.
	maxRatingExponent = 32
)

// ValidateRating checks range and precision of a review rating.
func ValidateRating(r decimal.Decimal) error {
	if exp := r.Exponent(); exp < -maxRatingExponent || exp > maxRatingExponent {
		return fmt.Errorf("%w: rating must have at most %d fractional digit", ErrInvalidInput, RatingPlaces)
	}
	if r.LessThan(MinRating) || r.GreaterThan(MaxRating) {
		return fmt.Errorf("%w: rating must be between %s and %s", ErrInvalidInput, MinRating, MaxRating)
	}
	if !r.Equal(r.Truncate(RatingPlaces)) {
		return fmt.Errorf("%w: rating must have at most %d fractional digit", ErrInvalidInput, RatingPlaces)
	}
	return nil
}

// ParseRating parses and validates a textual rating such as "7.5".
func ParseRating(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxRatingLength {
		return decimal.Decimal{}, fmt.Errorf("%w: rating is not a number", ErrInvalidInput)
	}
	r, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: rating is not a number", ErrInvalidInput)
	}
	if err := ValidateRating(r); err != nil {
		return decimal.Decimal{}, err
	}
	return r, nil
}

// ClampRating bounds a value to [MinRating, MaxRating].
func ClampRating(v decimal.Decimal) decimal.Decimal {
	if v.LessThan(MinRating) {
		return MinRating
	}
	if v.GreaterThan(MaxRating) {
		return MaxRating
	}
	return v
}

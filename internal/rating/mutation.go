package rating

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Clark-Hu/movietn/internal/domain"
)

// Kind names the review lifecycle step behind a mutation.
type Kind string

const (
	KindNew      Kind = "new"
	KindModified Kind = "modified"
	KindDeleted  Kind = "deleted"
)

// Mutation is one change to a movie aggregate caused by a review.
type Mutation struct {
	Kind Kind
	// Rating is the rating added (new), the replacement (modified) or the one removed (deleted).
	Rating decimal.Decimal
	// Previous is the replaced rating; only set for KindModified.
	Previous decimal.Decimal
}

// NewReview adds a vote.
func NewReview(r decimal.Decimal) Mutation {
	return Mutation{Kind: KindNew, Rating: r}
}

// ModifiedReview swaps an existing vote's rating.
func ModifiedReview(previous, r decimal.Decimal) Mutation {
	return Mutation{Kind: KindModified, Rating: r, Previous: previous}
}

// DeletedReview removes a vote.
func DeletedReview(r decimal.Decimal) Mutation {
	return Mutation{Kind: KindDeleted, Rating: r}
}

// Validate checks the ratings carried by the mutation.
func (m Mutation) Validate() error {
	switch m.Kind {
	case KindNew, KindDeleted:
		return domain.ValidateRating(m.Rating)
	case KindModified:
		if err := domain.ValidateRating(m.Previous); err != nil {
			return err
		}
		return domain.ValidateRating(m.Rating)
	default:
		return fmt.Errorf("%w: unknown mutation kind %q", domain.ErrInvalidInput, m.Kind)
	}
}

// Apply computes the aggregate that results from applying m to cur. Averages
// are rounded toward positive infinity at two decimals. Modifying or deleting
// a vote on an aggregate without votes fails with ErrNotFound.
func (m Mutation) Apply(cur domain.MovieAggregate) (domain.MovieAggregate, error) {
	next := cur
	votes := cur.VoteCount
	total := cur.AverageRating.Mul(decimal.NewFromInt(votes))

	switch m.Kind {
	case KindNew:
		next.AverageRating = ceil2(total.Add(m.Rating), votes+1)
		next.VoteCount = votes + 1
	case KindModified:
		if votes < 1 {
			return domain.MovieAggregate{}, fmt.Errorf("%w: movie %s has no votes to modify", domain.ErrNotFound, cur.ID)
		}
		next.AverageRating = ceil2(total.Sub(m.Previous).Add(m.Rating), votes)
	case KindDeleted:
		if votes < 1 {
			return domain.MovieAggregate{}, fmt.Errorf("%w: movie %s has no votes to remove", domain.ErrNotFound, cur.ID)
		}
		if votes == 1 {
			next.AverageRating = decimal.Zero
			next.VoteCount = 0
			break
		}
		next.AverageRating = ceil2(total.Sub(m.Rating), votes-1)
		next.VoteCount = votes - 1
	default:
		return domain.MovieAggregate{}, fmt.Errorf("%w: unknown mutation kind %q", domain.ErrInvalidInput, m.Kind)
	}
	return next, nil
}

var cent = decimal.New(1, -domain.AveragePlaces)

// ceil2 divides sum by votes and rounds the quotient up to the next cent.
func ceil2(sum decimal.Decimal, votes int64) decimal.Decimal {
	q, rem := sum.QuoRem(decimal.NewFromInt(votes), domain.AveragePlaces)
	if rem.Sign() > 0 {
		q = q.Add(cent)
	}
	return domain.ClampRating(q)
}

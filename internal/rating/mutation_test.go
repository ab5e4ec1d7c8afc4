package rating

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Clark-Hu/movietn/internal/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func agg(avg string, votes int64) domain.MovieAggregate {
	return domain.MovieAggregate{ID: "m1", AverageRating: dec(avg), VoteCount: votes}
}

func TestMutationApply(t *testing.T) {
	cases := []struct {
		name      string
		cur       domain.MovieAggregate
		m         Mutation
		wantAvg   string
		wantVotes int64
		wantErr   error
	}{
		{"first vote", agg("0", 0), NewReview(dec("7.5")), "7.5", 1, nil},
		{"rounds up", agg("7", 2), NewReview(dec("8")), "7.34", 3, nil},
		{"exact quotient", agg("6", 1), NewReview(dec("9")), "7.5", 2, nil},
		{"smallest rating above zero", agg("0", 2), NewReview(dec("0.1")), "0.04", 3, nil},
		{"stays at ten", agg("10", 4), NewReview(dec("10")), "10", 5, nil},
		{"zero rating", agg("5", 1), NewReview(dec("0")), "2.5", 2, nil},
		{"modify", agg("7.5", 2), ModifiedReview(dec("7"), dec("9")), "8.5", 2, nil},
		{"modify rounds up", agg("5", 3), ModifiedReview(dec("5"), dec("5.1")), "5.04", 3, nil},
		{"modify without votes", agg("0", 0), ModifiedReview(dec("7"), dec("9")), "", 0, domain.ErrNotFound},
		{"delete", agg("7.5", 2), DeletedReview(dec("9")), "6", 1, nil},
		{"delete keeps inflation", agg("7.34", 3), DeletedReview(dec("8")), "7.01", 2, nil},
		{"delete last vote", agg("4.2", 1), DeletedReview(dec("4.2")), "0", 0, nil},
		{"delete without votes", agg("0", 0), DeletedReview(dec("1")), "", 0, domain.ErrNotFound},
		{"unknown kind", agg("1", 1), Mutation{Kind: "merge", Rating: dec("1")}, "", 0, domain.ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.m.Apply(tc.cur)
			if tc.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tc.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.True(t, dec(tc.wantAvg).Equal(got.AverageRating), "average: want %s, got %s", tc.wantAvg, got.AverageRating)
			assert.Equal(t, tc.wantVotes, got.VoteCount)
			assert.Equal(t, tc.cur.ID, got.ID)
			assert.Equal(t, tc.cur.Version, got.Version)
		})
	}
}

func TestMutationValidate(t *testing.T) {
	assert.NoError(t, NewReview(dec("10")).Validate())
	assert.NoError(t, ModifiedReview(dec("0"), dec("9.9")).Validate())

	bad := []Mutation{
		NewReview(dec("10.1")),
		NewReview(dec("-1")),
		NewReview(dec("5.55")),
		ModifiedReview(dec("11"), dec("5")),
		ModifiedReview(dec("5"), dec("5.05")),
		DeletedReview(dec("-0.1")),
		{Kind: "", Rating: dec("5")},
	}
	for _, m := range bad {
		err := m.Validate()
		assert.True(t, errors.Is(err, domain.ErrInvalidInput), "%+v: got %v", m, err)
	}
}

func TestCeil2(t *testing.T) {
	cases := []struct {
		sum   string
		votes int64
		want  string
	}{
		{"22", 3, "7.34"},
		{"21", 3, "7"},
		{"0.1", 3, "0.04"},
		{"20.02", 2, "10"},
		{"0", 5, "0"},
		{"9.99", 1, "9.99"},
		{"19.991", 2, "10"},
	}
	for _, tc := range cases {
		got := ceil2(dec(tc.sum), tc.votes)
		assert.True(t, dec(tc.want).Equal(got), "ceil2(%s/%d): want %s, got %s", tc.sum, tc.votes, tc.want, got)
	}
}

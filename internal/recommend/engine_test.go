package recommend

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Clark-Hu/movietn/internal/domain"
	"github.com/Clark-Hu/movietn/internal/rating"
	"github.com/Clark-Hu/movietn/internal/repository"
)

type catalog struct {
	t    *testing.T
	mem  *repository.Memory
	agg  *rating.Aggregator
	next int
}

func newCatalog(t *testing.T) *catalog {
	t.Helper()
	mem := repository.NewMemory()
	return &catalog{
		t:   t,
		mem: mem,
		agg: rating.NewAggregator(mem.Movies, rating.Options{Logger: zerolog.Nop()}),
	}
}

// review stores a review and folds it into the movie aggregate.
func (c *catalog) review(userID, movieID, value string) {
	c.t.Helper()
	ctx := context.Background()
	r := decimal.RequireFromString(value)
	c.next++
	_, err := c.mem.Reviews.Save(ctx, domain.Review{
		ID:      fmt.Sprintf("r%03d", c.next),
		MovieID: movieID,
		UserID:  userID,
		Rating:  r,
	})
	require.NoError(c.t, err)
	_, err = c.agg.ApplyNewReview(ctx, movieID, r)
	require.NoError(c.t, err)
}

func (c *catalog) engine() *Engine {
	return NewEngine(c.mem.Reviews, c.mem.Movies, Options{Logger: zerolog.Nop()})
}

func ids(movies []domain.MovieSummary) []string {
	out := make([]string, 0, len(movies))
	for _, m := range movies {
		out = append(out, m.ID)
	}
	return out
}

func TestRecommendPeerBandThenFill(t *testing.T) {
	c := newCatalog(t)
	c.review("U", "M", "8.0")
	c.review("P1", "M", "7.5")
	c.review("P1", "N1", "9.0")
	c.review("P2", "M", "6.0")
	c.review("P2", "N2", "8.5")

	res, err := c.engine().Run(context.Background(), "M", "U", 5)
	require.NoError(t, err)

	assert.Equal(t, []string{"N1", "N2"}, ids(res.Movies))
	assert.Equal(t, TierPeerBand, res.PeerTier)
	assert.Equal(t, TierTally, res.Tier)
	assert.True(t, res.Filled)
	assert.True(t, res.Movies[0].AverageRating.Equal(decimal.RequireFromString("9")))
	assert.EqualValues(t, 1, res.Movies[0].VoteCount)
}

func TestRecommendEmptyCatalog(t *testing.T) {
	c := newCatalog(t)
	_, err := c.engine().Recommend(context.Background(), "M", "U", 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRecommendTallyOrdering(t *testing.T) {
	c := newCatalog(t)
	c.review("U", "M", "5.0")
	c.review("P1", "M", "5.0")
	c.review("P2", "M", "5.5")
	c.review("P3", "M", "4.5")
	c.review("P1", "A", "9.0")
	c.review("P1", "B", "7.0")
	c.review("P2", "B", "6.0")
	c.review("P2", "C", "10.0")
	c.review("P3", "C", "4.0")

	res, err := c.engine().Run(context.Background(), "M", "U", 3)
	require.NoError(t, err)

	// B and C have two peers each; C has the higher average.
	assert.Equal(t, []string{"C", "B", "A"}, ids(res.Movies))
	assert.False(t, res.Filled)
}

func TestRecommendTieKeepsFirstSeenOrder(t *testing.T) {
	c := newCatalog(t)
	c.review("U", "M", "7.0")
	c.review("P1", "M", "7.0")
	c.review("P2", "M", "7.0")
	c.review("P1", "X", "8.0")
	c.review("P2", "Y", "8.0")

	res, err := c.engine().Run(context.Background(), "M", "U", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"X", "Y"}, ids(res.Movies))
}

func TestRecommendSkipsReviewedMovies(t *testing.T) {
	c := newCatalog(t)
	c.review("U", "M", "8.0")
	c.review("U", "N1", "3.0")
	c.review("P1", "M", "8.0")
	c.review("P1", "N1", "9.0")
	c.review("P1", "N2", "7.0")

	got, err := c.engine().Recommend(context.Background(), "M", "U", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"N2"}, ids(got))
}

func TestRecommendMovieWideWhenBandEmpty(t *testing.T) {
	c := newCatalog(t)
	c.review("U", "M", "10.0")
	c.review("P1", "M", "2.0")
	c.review("P1", "N1", "6.0")

	res, err := c.engine().Run(context.Background(), "M", "U", 1)
	require.NoError(t, err)
	assert.Equal(t, TierMovieWide, res.PeerTier)
	assert.Equal(t, TierTally, res.Tier)
	assert.Equal(t, []string{"N1"}, ids(res.Movies))
}

func TestRecommendMovieWideWithoutOwnReview(t *testing.T) {
	c := newCatalog(t)
	c.review("P1", "M", "4.0")
	c.review("P1", "N1", "6.0")

	res, err := c.engine().Run(context.Background(), "M", "U", 5)
	require.NoError(t, err)
	assert.Equal(t, TierMovieWide, res.PeerTier)
	assert.Equal(t, []string{"N1"}, ids(res.Movies))
}

func TestRecommendGlobalFallback(t *testing.T) {
	c := newCatalog(t)
	c.review("U", "M", "8.0")
	c.review("X1", "Low", "3.0")
	c.review("X2", "High", "9.5")

	res, err := c.engine().Run(context.Background(), "M", "U", 5)
	require.NoError(t, err)
	assert.Empty(t, res.PeerTier)
	assert.Equal(t, TierGlobal, res.Tier)
	assert.Equal(t, []string{"High", "Low"}, ids(res.Movies))
}

func TestRecommendEverythingReviewed(t *testing.T) {
	c := newCatalog(t)
	c.review("U", "M", "8.0")
	c.review("U", "X", "7.0")

	_, err := c.engine().Recommend(context.Background(), "M", "U", 5)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRecommendIsIdempotent(t *testing.T) {
	c := newCatalog(t)
	c.review("U", "M", "8.0")
	c.review("P1", "M", "7.5")
	c.review("P1", "N1", "9.0")
	c.review("P1", "N3", "8.0")
	c.review("P2", "N2", "8.5")

	e := c.engine()
	first, err := e.Recommend(context.Background(), "M", "U", 5)
	require.NoError(t, err)
	second, err := e.Recommend(context.Background(), "M", "U", 5)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRecommendRespectsAmount(t *testing.T) {
	c := newCatalog(t)
	c.review("U", "M", "8.0")
	for i := 0; i < 6; i++ {
		c.review("P1", fmt.Sprintf("N%d", i), "7.0")
	}
	c.review("P1", "M", "8.0")

	got, err := c.engine().Recommend(context.Background(), "M", "U", 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	for _, m := range got {
		assert.NotEqual(t, "M", m.ID)
	}
}

func TestRecommendInvalidInput(t *testing.T) {
	e := newCatalog(t).engine()
	cases := []struct {
		name    string
		movieID string
		userID  string
		amount  int
	}{
		{"zero amount", "M", "U", 0},
		{"negative amount", "M", "U", -3},
		{"blank movie", " ", "U", 5},
		{"blank user", "M", "", 5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.Recommend(context.Background(), tc.movieID, tc.userID, tc.amount)
			assert.True(t, errors.Is(err, domain.ErrInvalidInput), "got %v", err)
		})
	}
}

type failingReviews struct {
	domain.ReviewStore
	err error
}

func (f failingReviews) FindAllByMovieDescending(context.Context, string) ([]domain.Review, error) {
	return nil, f.err
}

func TestRecommendStoreFailureIsTransient(t *testing.T) {
	c := newCatalog(t)
	c.review("P1", "M", "7.0")
	reviews := failingReviews{ReviewStore: c.mem.Reviews, err: errors.New("connection reset")}
	e := NewEngine(reviews, c.mem.Movies, Options{Logger: zerolog.Nop()})

	_, err := e.Recommend(context.Background(), "M", "U", 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTransient))
}

func TestRecommendCancelledContext(t *testing.T) {
	c := newCatalog(t)
	c.review("U", "M", "8.0")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.engine().Recommend(ctx, "M", "U", 5)
	assert.True(t, errors.Is(err, domain.ErrTransient))
	assert.True(t, errors.Is(err, context.Canceled))
}

type staticRanking []domain.MovieAggregate

func (s staticRanking) FindAllSortedByRatingDescending(context.Context) ([]domain.MovieAggregate, error) {
	return s, nil
}

func TestRecommendUsesRankingSource(t *testing.T) {
	c := newCatalog(t)
	c.review("U", "M", "8.0")
	ranking := staticRanking{
		{ID: "Cached", AverageRating: decimal.RequireFromString("9.9"), VoteCount: 4},
		{ID: "M", AverageRating: decimal.RequireFromString("8"), VoteCount: 1},
	}
	e := NewEngine(c.mem.Reviews, c.mem.Movies, Options{Ranking: ranking, Logger: zerolog.Nop()})

	got, err := e.Recommend(context.Background(), "M", "U", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"Cached"}, ids(got))
}

func TestRanksBefore(t *testing.T) {
	avg := decimal.RequireFromString
	tests := []struct {
		name string
		a, b candidate
		want bool
	}{
		{"more peers first", candidate{movieID: "b", peers: 2, order: 5, average: avg("1")}, candidate{movieID: "a", peers: 1, order: 0, average: avg("9")}, true},
		{"higher average first", candidate{movieID: "b", peers: 1, order: 5, average: avg("8.5")}, candidate{movieID: "a", peers: 1, order: 0, average: avg("8")}, true},
		{"first seen first", candidate{movieID: "b", peers: 1, order: 0, average: avg("8")}, candidate{movieID: "a", peers: 1, order: 1, average: avg("8")}, true},
		{"movie id last", candidate{movieID: "a", peers: 1, order: 0, average: avg("8")}, candidate{movieID: "b", peers: 1, order: 0, average: avg("8")}, true},
		{"equal", candidate{movieID: "a", peers: 1, average: avg("8")}, candidate{movieID: "a", peers: 1, average: avg("8")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ranksBefore(tt.a, tt.b))
			if tt.want {
				assert.False(t, ranksBefore(tt.b, tt.a))
			}
		})
	}
}

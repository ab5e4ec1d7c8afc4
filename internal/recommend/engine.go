package recommend

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Clark-Hu/movietn/internal/domain"
	"github.com/Clark-Hu/movietn/internal/metrics"
)

// Tier identifies a stage of the recommendation chain.
type Tier string

const (
	TierPeerBand  Tier = "peer_band"
	TierMovieWide Tier = "movie_wide"
	TierTally     Tier = "tally"
	TierGlobal    Tier = "global_fallback"
	TierExhausted Tier = "exhausted"
)

// BandWidth is how far a peer's rating may sit from the user's own rating.
var BandWidth = decimal.RequireFromString("1.5")

// RankingSource supplies every movie aggregate ordered by average rating.
// domain.MovieStore satisfies it; the ranking cache wraps one.
type RankingSource interface {
	FindAllSortedByRatingDescending(ctx context.Context) ([]domain.MovieAggregate, error)
}

// Options tunes an Engine.
type Options struct {
	// Ranking overrides where the global fallback reads the top-rated list.
	Ranking RankingSource
	Logger  zerolog.Logger
}

// Engine computes recommendations. It is safe for concurrent use.
type Engine struct {
	reviews domain.ReviewStore
	movies  domain.MovieStore
	ranking RankingSource
	logger  zerolog.Logger
}

// NewEngine builds an Engine reading from the given stores.
func NewEngine(reviews domain.ReviewStore, movies domain.MovieStore, opts Options) *Engine {
	ranking := opts.Ranking
	if ranking == nil {
		ranking = movies
	}
	return &Engine{
		reviews: reviews,
		movies:  movies,
		ranking: ranking,
		logger:  opts.Logger.With().Str("component", "recommend").Logger(),
	}
}

// Result is a recommendation together with how it was reached.
type Result struct {
	Movies []domain.MovieSummary
	// PeerTier is the tier that produced the peer set, empty when there was none.
	PeerTier Tier
	// Tier is the tier that produced the first recommendations.
	Tier Tier
	// Filled reports that the global fallback topped up a short tally.
	Filled bool
}

// Recommend returns up to amount movies other than movieID for userID. The
// result holds each movie once, best ranked first. When nothing can be
// recommended the error wraps domain.ErrNotFound.
func (e *Engine) Recommend(ctx context.Context, movieID, userID string, amount int) ([]domain.MovieSummary, error) {
	res, err := e.Run(ctx, movieID, userID, amount)
	if err != nil {
		return nil, err
	}
	return res.Movies, nil
}

// Run is Recommend with the tier bookkeeping exposed.
func (e *Engine) Run(ctx context.Context, movieID, userID string, amount int) (Result, error) {
	if strings.TrimSpace(movieID) == "" {
		return Result{}, fmt.Errorf("%w: movie id is required", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(userID) == "" {
		return Result{}, fmt.Errorf("%w: user id is required", domain.ErrInvalidInput)
	}
	if amount <= 0 {
		return Result{}, fmt.Errorf("%w: amount must be positive, got %d", domain.ErrInvalidInput, amount)
	}

	r := &run{
		Engine:  e,
		movieID: movieID,
		userID:  userID,
		amount:  amount,
		chosen:  make(map[string]struct{}, amount),
	}
	res, err := r.execute(ctx)
	if err != nil {
		return Result{}, err
	}

	metrics.Recommendations.WithLabelValues(string(res.Tier)).Inc()
	e.logger.Debug().
		Str("movie_id", movieID).
		Str("user_id", userID).
		Int("amount", amount).
		Str("peer_tier", string(res.PeerTier)).
		Str("tier", string(res.Tier)).
		Bool("filled", res.Filled).
		Int("results", len(res.Movies)).
		Msg("recommendations computed")
	return res, nil
}

// run carries the state of one request through the tiers.
type run struct {
	*Engine
	movieID string
	userID  string
	amount  int

	peers    []domain.Review
	reviewed map[string]struct{}
	chosen   map[string]struct{}
	result   Result
}

func (r *run) execute(ctx context.Context) (Result, error) {
	state := TierPeerBand
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, domain.StoreError("recommend", err)
		}

		var (
			next Tier
			err  error
		)
		switch state {
		case TierPeerBand:
			next, err = r.peerBand(ctx)
		case TierMovieWide:
			next, err = r.movieWide(ctx)
		case TierTally:
			next, err = r.tally(ctx)
		case TierGlobal:
			next, err = r.global(ctx)
		case TierExhausted:
			return r.exhausted()
		}
		if err != nil {
			return Result{}, err
		}
		state = next
	}
}

func (r *run) peerBand(ctx context.Context) (Tier, error) {
	own, found, err := r.reviews.FindByUserAndMovie(ctx, r.userID, r.movieID)
	if err != nil {
		return "", domain.StoreError("find user review", err)
	}
	if !found {
		return TierMovieWide, nil
	}

	lo := domain.ClampRating(own.Rating.Sub(BandWidth))
	hi := domain.ClampRating(own.Rating.Add(BandWidth))
	peers, err := r.reviews.FindAllByMovieRatingRangeExcludingUser(ctx, r.movieID, lo, hi, r.userID)
	if err != nil {
		return "", domain.StoreError("find peers in band", err)
	}
	if len(peers) == 0 {
		return TierMovieWide, nil
	}
	r.peers = peers
	r.result.PeerTier = TierPeerBand
	return TierTally, nil
}

func (r *run) movieWide(ctx context.Context) (Tier, error) {
	all, err := r.reviews.FindAllByMovieDescending(ctx, r.movieID)
	if err != nil {
		return "", domain.StoreError("find movie reviews", err)
	}
	peers := make([]domain.Review, 0, len(all))
	for _, rv := range all {
		if rv.UserID != r.userID {
			peers = append(peers, rv)
		}
	}
	if len(peers) == 0 {
		return TierGlobal, nil
	}
	r.peers = peers
	r.result.PeerTier = TierMovieWide
	return TierTally, nil
}

type candidate struct {
	movieID string
	peers   int
	order   int
	average decimal.Decimal
}

// ranksBefore orders tally candidates: more peers, then higher average, then
// first seen, then movie id.
func ranksBefore(a, b candidate) bool {
	if a.peers != b.peers {
		return a.peers > b.peers
	}
	if c := a.average.Cmp(b.average); c != 0 {
		return c > 0
	}
	if a.order != b.order {
		return a.order < b.order
	}
	return a.movieID < b.movieID
}

func (r *run) tally(ctx context.Context) (Tier, error) {
	reviewed, err := r.reviewedByUser(ctx)
	if err != nil {
		return "", err
	}

	byMovie := make(map[string]*candidate)
	ranked := make([]*candidate, 0)
	seenPeers := make(map[string]struct{}, len(r.peers))
	for _, peer := range r.peers {
		if _, dup := seenPeers[peer.UserID]; dup {
			continue
		}
		seenPeers[peer.UserID] = struct{}{}

		if err := ctx.Err(); err != nil {
			return "", domain.StoreError("tally peers", err)
		}
		favourites, err := r.reviews.FindAllByUserExcludingMovie(ctx, peer.UserID, r.movieID, r.amount)
		if err != nil {
			return "", domain.StoreError("find peer favourites", err)
		}
		for _, fav := range favourites {
			if fav.MovieID == r.movieID {
				continue
			}
			if _, ok := reviewed[fav.MovieID]; ok {
				continue
			}
			c, ok := byMovie[fav.MovieID]
			if !ok {
				c = &candidate{movieID: fav.MovieID, order: len(ranked)}
				byMovie[fav.MovieID] = c
				ranked = append(ranked, c)
			}
			c.peers++
		}
	}
	if len(ranked) == 0 {
		return TierGlobal, nil
	}

	ids := make([]string, 0, len(ranked))
	for _, c := range ranked {
		ids = append(ids, c.movieID)
	}
	aggs, err := r.movies.FindAllByIDs(ctx, ids)
	if err != nil {
		return "", domain.StoreError("find candidate movies", err)
	}
	summaries := make(map[string]domain.MovieSummary, len(aggs))
	for _, agg := range aggs {
		c, ok := byMovie[agg.ID]
		if !ok {
			continue
		}
		c.average = agg.AverageRating
		summaries[agg.ID] = agg.Summary()
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranksBefore(*ranked[i], *ranked[j]) })

	for _, c := range ranked {
		if len(r.result.Movies) == r.amount {
			break
		}
		summary, ok := summaries[c.movieID]
		if !ok {
			summary = domain.ZeroAggregate(c.movieID).Summary()
		}
		r.choose(summary)
	}
	r.result.Tier = TierTally

	if len(r.result.Movies) < r.amount {
		return TierGlobal, nil
	}
	return TierExhausted, nil
}

func (r *run) global(ctx context.Context) (Tier, error) {
	reviewed, err := r.reviewedByUser(ctx)
	if err != nil {
		return "", err
	}
	ranking, err := r.ranking.FindAllSortedByRatingDescending(ctx)
	if err != nil {
		return "", domain.StoreError("find top rated movies", err)
	}

	before := len(r.result.Movies)
	for _, agg := range ranking {
		if len(r.result.Movies) == r.amount {
			break
		}
		if _, ok := reviewed[agg.ID]; ok {
			continue
		}
		r.choose(agg.Summary())
	}
	if len(r.result.Movies) > before {
		if r.result.Tier == "" {
			r.result.Tier = TierGlobal
		} else {
			r.result.Filled = true
		}
	}
	return TierExhausted, nil
}

func (r *run) exhausted() (Result, error) {
	if len(r.result.Movies) == 0 {
		metrics.Recommendations.WithLabelValues(string(TierExhausted)).Inc()
		return Result{}, fmt.Errorf("%w: no recommendations available for movie %s", domain.ErrNotFound, r.movieID)
	}
	return r.result, nil
}

// choose appends summary unless it is the target movie or already chosen.
func (r *run) choose(summary domain.MovieSummary) {
	if summary.ID == r.movieID {
		return
	}
	if _, dup := r.chosen[summary.ID]; dup {
		return
	}
	r.chosen[summary.ID] = struct{}{}
	r.result.Movies = append(r.result.Movies, summary)
}

// reviewedByUser loads the movies the requesting user has reviewed, once.
func (r *run) reviewedByUser(ctx context.Context) (map[string]struct{}, error) {
	if r.reviewed != nil {
		return r.reviewed, nil
	}
	own, err := r.reviews.FindAllByUser(ctx, r.userID)
	if err != nil {
		return nil, domain.StoreError("find user reviews", err)
	}
	r.reviewed = make(map[string]struct{}, len(own))
	for _, rv := range own {
		r.reviewed[rv.MovieID] = struct{}{}
	}
	return r.reviewed, nil
}

// Package review exposes the review lifecycle operations. Every review write
// and the movie aggregate update it causes commit together.
package review

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Clark-Hu/movietn/internal/domain"
	"github.com/Clark-Hu/movietn/internal/events"
	"github.com/Clark-Hu/movietn/internal/metrics"
	"github.com/Clark-Hu/movietn/internal/rating"
)

// MaxDescriptionLength bounds a review's free text, in runes.
const MaxDescriptionLength = 5000

const afterCommitTimeout = 5 * time.Second

// Recommender answers recommendation requests.
type Recommender interface {
	Recommend(ctx context.Context, movieID, userID string, amount int) ([]domain.MovieSummary, error)
}

// RankingInvalidator drops a cached top-rated ranking.
type RankingInvalidator interface {
	Invalidate(ctx context.Context) error
}

// Options carries the optional collaborators of a Service.
type Options struct {
	Publisher events.Publisher
	Ranking   RankingInvalidator
	// Timeout bounds each operation's store work; zero disables it.
	Timeout time.Duration
	Logger  zerolog.Logger
	Now     func() time.Time
	NewID   func() string
}

// Service coordinates the stores, the aggregator and the recommendation engine.
type Service struct {
	tx        domain.Transactor
	movies    domain.MovieStore
	reviews   domain.ReviewStore
	agg       *rating.Aggregator
	engine    Recommender
	publisher events.Publisher
	ranking   RankingInvalidator
	timeout   time.Duration
	logger    zerolog.Logger
	now       func() time.Time
	newID     func() string
}

// NewService wires a Service. stores is used for reads outside transactions.
func NewService(tx domain.Transactor, stores domain.Stores, agg *rating.Aggregator, engine Recommender, opts Options) *Service {
	s := &Service{
		tx:        tx,
		movies:    stores.Movies,
		reviews:   stores.Reviews,
		agg:       agg,
		engine:    engine,
		publisher: opts.Publisher,
		ranking:   opts.Ranking,
		timeout:   opts.Timeout,
		logger:    opts.Logger.With().Str("component", "review").Logger(),
		now:       opts.Now,
		newID:     opts.NewID,
	}
	if s.publisher == nil {
		s.publisher = events.NopPublisher{}
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// RecordReviewParams describes a new review.
type RecordReviewParams struct {
	MovieID     string
	UserID      string
	Rating      decimal.Decimal
	Description string
}

func (p RecordReviewParams) validate() error {
	if strings.TrimSpace(p.MovieID) == "" {
		return fmt.Errorf("%w: movie id is required", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(p.UserID) == "" {
		return fmt.Errorf("%w: user id is required", domain.ErrInvalidInput)
	}
	if err := domain.ValidateRating(p.Rating); err != nil {
		return err
	}
	return validateDescription(p.Description)
}

// EditReviewParams describes a change to an existing review. A nil
// Description keeps the stored text. An empty UserID skips the owner check.
type EditReviewParams struct {
	ReviewID    string
	UserID      string
	Rating      decimal.Decimal
	Description *string
}

func (p EditReviewParams) validate() error {
	if strings.TrimSpace(p.ReviewID) == "" {
		return fmt.Errorf("%w: review id is required", domain.ErrInvalidInput)
	}
	if err := domain.ValidateRating(p.Rating); err != nil {
		return err
	}
	if p.Description != nil {
		return validateDescription(*p.Description)
	}
	return nil
}

func validateDescription(d string) error {
	if strings.TrimSpace(d) == "" {
		return fmt.Errorf("%w: description is required", domain.ErrInvalidInput)
	}
	if n := len([]rune(d)); n > MaxDescriptionLength {
		return fmt.Errorf("%w: description has %d characters, at most %d allowed", domain.ErrInvalidInput, n, MaxDescriptionLength)
	}
	return nil
}

// RecordReview stores a new review and counts its vote. A user reviews a movie
// at most once; a second review fails with domain.ErrConflict.
func (s *Service) RecordReview(ctx context.Context, p RecordReviewParams) (res domain.ReviewResult, err error) {
	defer func() { metrics.RecordReviewMutation(string(rating.KindNew), err) }()

	if err := p.validate(); err != nil {
		return domain.ReviewResult{}, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	unlock, err := s.agg.Lock(ctx, p.MovieID)
	if err != nil {
		return domain.ReviewResult{}, err
	}
	defer unlock()

	err = s.tx.InTx(ctx, func(ctx context.Context, st domain.Stores) error {
		_, exists, err := st.Reviews.FindByUserAndMovie(ctx, p.UserID, p.MovieID)
		if err != nil {
			return domain.StoreError("find existing review", err)
		}
		if exists {
			return fmt.Errorf("%w: user %s already reviewed movie %s", domain.ErrConflict, p.UserID, p.MovieID)
		}

		agg, err := s.agg.Apply(ctx, st.Movies, p.MovieID, rating.NewReview(p.Rating))
		if err != nil {
			return err
		}

		saved, err := st.Reviews.Save(ctx, domain.Review{
			ID:          s.newID(),
			MovieID:     p.MovieID,
			UserID:      p.UserID,
			Rating:      p.Rating,
			Description: p.Description,
		})
		if err != nil {
			return domain.StoreError("save review", err)
		}
		res = domain.ReviewResult{Review: saved, Movie: agg.Summary()}
		return nil
	})
	unlock()
	if err != nil {
		return domain.ReviewResult{}, domain.StoreError("record review", err)
	}

	s.afterCommit(ctx, events.TypeReviewCreated, res, nil)
	return res, nil
}

// EditReview replaces the rating and, when given, the description of a review.
// The aggregate is only touched when the rating changes.
func (s *Service) EditReview(ctx context.Context, p EditReviewParams) (res domain.ReviewResult, err error) {
	defer func() { metrics.RecordReviewMutation(string(rating.KindModified), err) }()

	if err := p.validate(); err != nil {
		return domain.ReviewResult{}, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	current, err := s.ownedReview(ctx, s.reviews, p.ReviewID, p.UserID)
	if err != nil {
		return domain.ReviewResult{}, err
	}

	unlock, err := s.agg.Lock(ctx, current.MovieID)
	if err != nil {
		return domain.ReviewResult{}, err
	}
	defer unlock()

	var previous decimal.Decimal
	err = s.tx.InTx(ctx, func(ctx context.Context, st domain.Stores) error {
		// Re-read under the lock: the rating may have changed since.
		current, err := s.ownedReview(ctx, st.Reviews, p.ReviewID, p.UserID)
		if err != nil {
			return err
		}
		previous = current.Rating

		var agg domain.MovieAggregate
		if current.Rating.Equal(p.Rating) {
			var found bool
			agg, found, err = st.Movies.FindByID(ctx, current.MovieID)
			if err != nil {
				return domain.StoreError("find movie", err)
			}
			if !found {
				agg = domain.ZeroAggregate(current.MovieID)
			}
		} else {
			agg, err = s.agg.Apply(ctx, st.Movies, current.MovieID, rating.ModifiedReview(current.Rating, p.Rating))
			if err != nil {
				return err
			}
		}

		updated := current
		updated.Rating = p.Rating
		if p.Description != nil {
			updated.Description = *p.Description
		}
		saved, err := st.Reviews.Save(ctx, updated)
		if err != nil {
			return domain.StoreError("save review", err)
		}
		res = domain.ReviewResult{Review: saved, Movie: agg.Summary()}
		return nil
	})
	unlock()
	if err != nil {
		return domain.ReviewResult{}, domain.StoreError("edit review", err)
	}

	s.afterCommit(ctx, events.TypeReviewUpdated, res, &previous)
	return res, nil
}

// RemoveReview deletes a review and withdraws its vote. An empty userID skips
// the owner check.
func (s *Service) RemoveReview(ctx context.Context, reviewID, userID string) (err error) {
	defer func() { metrics.RecordReviewMutation(string(rating.KindDeleted), err) }()

	if strings.TrimSpace(reviewID) == "" {
		return fmt.Errorf("%w: review id is required", domain.ErrInvalidInput)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	current, err := s.ownedReview(ctx, s.reviews, reviewID, userID)
	if err != nil {
		return err
	}

	unlock, err := s.agg.Lock(ctx, current.MovieID)
	if err != nil {
		return err
	}
	defer unlock()

	var res domain.ReviewResult
	err = s.tx.InTx(ctx, func(ctx context.Context, st domain.Stores) error {
		current, err := s.ownedReview(ctx, st.Reviews, reviewID, userID)
		if err != nil {
			return err
		}
		agg, err := s.agg.Apply(ctx, st.Movies, current.MovieID, rating.DeletedReview(current.Rating))
		if err != nil {
			return err
		}
		if err := st.Reviews.DeleteByID(ctx, reviewID); err != nil {
			return domain.StoreError("delete review", err)
		}
		res = domain.ReviewResult{Review: current, Movie: agg.Summary()}
		return nil
	})
	unlock()
	if err != nil {
		return domain.StoreError("remove review", err)
	}

	s.afterCommit(ctx, events.TypeReviewDeleted, res, nil)
	return nil
}

// Recommend returns up to amount movies for userID based on movieID.
func (s *Service) Recommend(ctx context.Context, movieID, userID string, amount int) ([]domain.MovieSummary, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.engine.Recommend(ctx, movieID, userID, amount)
}

// GetReview returns one review.
func (s *Service) GetReview(ctx context.Context, reviewID string) (domain.Review, error) {
	if strings.TrimSpace(reviewID) == "" {
		return domain.Review{}, fmt.Errorf("%w: review id is required", domain.ErrInvalidInput)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.findReview(ctx, s.reviews, reviewID)
}

// ListMovieReviews returns a movie's reviews, highest rated first.
func (s *Service) ListMovieReviews(ctx context.Context, movieID string) ([]domain.Review, error) {
	if strings.TrimSpace(movieID) == "" {
		return nil, fmt.Errorf("%w: movie id is required", domain.ErrInvalidInput)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	reviews, err := s.reviews.FindAllByMovieDescending(ctx, movieID)
	if err != nil {
		return nil, domain.StoreError("list movie reviews", err)
	}
	if len(reviews) == 0 {
		return nil, fmt.Errorf("%w: no reviews for movie %s", domain.ErrNotFound, movieID)
	}
	return reviews, nil
}

// GetMovie returns a movie's rating summary. A movie nobody reviewed reports
// a zero average and no votes.
func (s *Service) GetMovie(ctx context.Context, movieID string) (domain.MovieSummary, error) {
	if strings.TrimSpace(movieID) == "" {
		return domain.MovieSummary{}, fmt.Errorf("%w: movie id is required", domain.ErrInvalidInput)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	agg, found, err := s.movies.FindByID(ctx, movieID)
	if err != nil {
		return domain.MovieSummary{}, domain.StoreError("find movie", err)
	}
	if !found {
		agg = domain.ZeroAggregate(movieID)
	}
	return agg.Summary(), nil
}

// GetMovies returns the summaries of the known movies among ids, in request
// order. It fails with domain.ErrNotFound when none is known.
func (s *Service) GetMovies(ctx context.Context, ids []string) ([]domain.MovieSummary, error) {
	wanted := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		wanted = append(wanted, id)
	}
	if len(wanted) == 0 {
		return nil, fmt.Errorf("%w: at least one movie id is required", domain.ErrInvalidInput)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	aggs, err := s.movies.FindAllByIDs(ctx, wanted)
	if err != nil {
		return nil, domain.StoreError("find movies", err)
	}
	byID := make(map[string]domain.MovieAggregate, len(aggs))
	for _, agg := range aggs {
		byID[agg.ID] = agg
	}
	out := make([]domain.MovieSummary, 0, len(aggs))
	for _, id := range wanted {
		if agg, ok := byID[id]; ok {
			out = append(out, agg.Summary())
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: none of the %d movies has been reviewed", domain.ErrNotFound, len(wanted))
	}
	return out, nil
}

func (s *Service) findReview(ctx context.Context, reviews domain.ReviewStore, reviewID string) (domain.Review, error) {
	rv, found, err := reviews.FindByID(ctx, reviewID)
	if err != nil {
		return domain.Review{}, domain.StoreError("find review", err)
	}
	if !found {
		return domain.Review{}, fmt.Errorf("%w: review %s", domain.ErrNotFound, reviewID)
	}
	return rv, nil
}

func (s *Service) ownedReview(ctx context.Context, reviews domain.ReviewStore, reviewID, userID string) (domain.Review, error) {
	rv, err := s.findReview(ctx, reviews, reviewID)
	if err != nil {
		return domain.Review{}, err
	}
	if userID != "" && rv.UserID != userID {
		return domain.Review{}, fmt.Errorf("%w: review %s belongs to another user", domain.ErrForbidden, reviewID)
	}
	return rv, nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// afterCommit invalidates the ranking cache and publishes the event. Failures
// are logged; the review is already stored.
func (s *Service) afterCommit(ctx context.Context, eventType string, res domain.ReviewResult, previous *decimal.Decimal) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), afterCommitTimeout)
	defer cancel()

	log := s.logger.With().
		Str("event", eventType).
		Str("review_id", res.Review.ID).
		Str("movie_id", res.Review.MovieID).
		Logger()

	if s.ranking != nil {
		if err := s.ranking.Invalidate(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to invalidate ranking cache")
		}
	}

	event := events.ReviewEvent{
		EventType:      eventType,
		ReviewID:       res.Review.ID,
		MovieID:        res.Review.MovieID,
		UserID:         res.Review.UserID,
		Rating:         res.Review.Rating,
		PreviousRating: previous,
		AverageRating:  res.Movie.AverageRating,
		VoteCount:      res.Movie.VoteCount,
		Timestamp:      s.now(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		log.Error().Err(err).Msg("failed to publish review event")
		return
	}
	log.Info().
		Str("average", res.Movie.AverageRating.StringFixed(domain.AveragePlaces)).
		Int64("votes", res.Movie.VoteCount).
		Msg("review committed")
}

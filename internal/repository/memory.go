package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Clark-Hu/movietn/internal/domain"
)

// Memory is a map-backed implementation of the stores with the same ordering
// and conflict rules as the Postgres repositories. Transactions keep an undo
// log and roll back the writes they made when fn fails.
type Memory struct {
	Movies  *MemoryMovies
	Reviews *MemoryReviews
	state   *memState
}

type memState struct {
	mu      sync.RWMutex
	movies  map[string]domain.MovieAggregate
	reviews map[string]domain.Review
	// order remembers insertion order of reviews for stable tie-breaking.
	order map[string]int64
	next  int64
	now   func() time.Time
}

// undoLog collects compensations; they run with state.mu held.
type undoLog struct {
	mu    sync.Mutex
	steps []func()
}

func (u *undoLog) push(step func()) {
	if u == nil {
		return
	}
	u.mu.Lock()
	u.steps = append(u.steps, step)
	u.mu.Unlock()
}

func (u *undoLog) rollback() {
	u.mu.Lock()
	defer u.mu.Unlock()
	for i := len(u.steps) - 1; i >= 0; i-- {
		u.steps[i]()
	}
	u.steps = nil
}

// NewMemory returns an empty in-memory repository.
func NewMemory() *Memory {
	st := &memState{
		movies:  make(map[string]domain.MovieAggregate),
		reviews: make(map[string]domain.Review),
		order:   make(map[string]int64),
		now:     func() time.Time { return time.Now().UTC() },
	}
	return &Memory{
		Movies:  &MemoryMovies{state: st},
		Reviews: &MemoryReviews{state: st},
		state:   st,
	}
}

// InTx runs fn against transaction-bound stores and undoes its writes if fn
// returns an error.
func (m *Memory) InTx(ctx context.Context, fn func(ctx context.Context, st domain.Stores) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	log := &undoLog{}
	err := fn(ctx, domain.Stores{
		Movies:  &MemoryMovies{state: m.state, undo: log},
		Reviews: &MemoryReviews{state: m.state, undo: log},
	})
	if err != nil {
		m.state.mu.Lock()
		log.rollback()
		m.state.mu.Unlock()
		return err
	}
	return nil
}

// MemoryMovies implements domain.MovieStore.
type MemoryMovies struct {
	state *memState
	undo  *undoLog
}

// FindByID returns the aggregate of movieID and whether it exists.
func (r *MemoryMovies) FindByID(ctx context.Context, movieID string) (domain.MovieAggregate, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.MovieAggregate{}, false, err
	}
	r.state.mu.RLock()
	defer r.state.mu.RUnlock()
	agg, ok := r.state.movies[movieID]
	return agg, ok, nil
}

// FindAllByIDs returns the known aggregates among movieIDs ordered by id.
func (r *MemoryMovies) FindAllByIDs(ctx context.Context, movieIDs []string) ([]domain.MovieAggregate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.state.mu.RLock()
	defer r.state.mu.RUnlock()
	seen := make(map[string]struct{}, len(movieIDs))
	out := make([]domain.MovieAggregate, 0, len(movieIDs))
	for _, id := range movieIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if agg, ok := r.state.movies[id]; ok {
			out = append(out, agg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Save inserts an aggregate at version 0 or updates it when the stored
// version matches, returning domain.ErrVersionConflict otherwise.
func (r *MemoryMovies) Save(ctx context.Context, agg domain.MovieAggregate) (domain.MovieAggregate, error) {
	if err := ctx.Err(); err != nil {
		return domain.MovieAggregate{}, err
	}
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	existing, ok := r.state.movies[agg.ID]
	switch {
	case agg.Version == 0 && ok:
		return domain.MovieAggregate{}, fmt.Errorf("insert movie %s: %w", agg.ID, domain.ErrVersionConflict)
	case agg.Version != 0 && (!ok || existing.Version != agg.Version):
		return domain.MovieAggregate{}, fmt.Errorf("update movie %s at version %d: %w", agg.ID, agg.Version, domain.ErrVersionConflict)
	}

	saved := agg
	saved.Version = agg.Version + 1
	saved.UpdatedAt = r.state.now()
	r.state.movies[agg.ID] = saved

	r.undo.push(func() {
		if ok {
			r.state.movies[agg.ID] = existing
		} else {
			delete(r.state.movies, agg.ID)
		}
	})
	return saved, nil
}

// FindAllSortedByRatingDescending ranks movies by average, then vote count,
// then id.
func (r *MemoryMovies) FindAllSortedByRatingDescending(ctx context.Context) ([]domain.MovieAggregate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.state.mu.RLock()
	out := make([]domain.MovieAggregate, 0, len(r.state.movies))
	for _, agg := range r.state.movies {
		out = append(out, agg)
	}
	r.state.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if c := out[i].AverageRating.Cmp(out[j].AverageRating); c != 0 {
			return c > 0
		}
		if out[i].VoteCount != out[j].VoteCount {
			return out[i].VoteCount > out[j].VoteCount
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// MemoryReviews implements domain.ReviewStore.
type MemoryReviews struct {
	state *memState
	undo  *undoLog
}

// FindByID returns a review by id and whether it exists.
func (r *MemoryReviews) FindByID(ctx context.Context, reviewID string) (domain.Review, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Review{}, false, err
	}
	r.state.mu.RLock()
	defer r.state.mu.RUnlock()
	rv, ok := r.state.reviews[reviewID]
	return rv, ok, nil
}

// FindByUserAndMovie returns the review userID wrote for movieID, if any.
func (r *MemoryReviews) FindByUserAndMovie(ctx context.Context, userID, movieID string) (domain.Review, bool, error) {
	matches, err := r.filter(ctx, func(rv domain.Review) bool {
		return rv.UserID == userID && rv.MovieID == movieID
	})
	if err != nil || len(matches) == 0 {
		return domain.Review{}, false, err
	}
	return matches[0], true, nil
}

// FindAllByMovie returns a movie's reviews in insertion order.
func (r *MemoryReviews) FindAllByMovie(ctx context.Context, movieID string) ([]domain.Review, error) {
	return r.filter(ctx, func(rv domain.Review) bool { return rv.MovieID == movieID })
}

// FindAllByUser returns a user's reviews in insertion order.
func (r *MemoryReviews) FindAllByUser(ctx context.Context, userID string) ([]domain.Review, error) {
	return r.filter(ctx, func(rv domain.Review) bool { return rv.UserID == userID })
}

// FindAllByMovieRatingRangeExcludingUser returns other users' reviews of
// movieID rated within [min, max], highest first.
func (r *MemoryReviews) FindAllByMovieRatingRangeExcludingUser(ctx context.Context, movieID string, min, max decimal.Decimal, userID string) ([]domain.Review, error) {
	out, err := r.filter(ctx, func(rv domain.Review) bool {
		return rv.MovieID == movieID &&
			rv.UserID != userID &&
			rv.Rating.GreaterThanOrEqual(min) &&
			rv.Rating.LessThanOrEqual(max)
	})
	if err != nil {
		return nil, err
	}
	r.sortDescending(out)
	return out, nil
}

// FindAllByMovieDescending returns a movie's reviews, highest rated first.
func (r *MemoryReviews) FindAllByMovieDescending(ctx context.Context, movieID string) ([]domain.Review, error) {
	out, err := r.FindAllByMovie(ctx, movieID)
	if err != nil {
		return nil, err
	}
	r.sortDescending(out)
	return out, nil
}

// FindAllByUserExcludingMovie returns up to limit of a user's reviews on
// other movies, highest rated first. A negative limit means no limit.
func (r *MemoryReviews) FindAllByUserExcludingMovie(ctx context.Context, userID, excludedMovieID string, limit int) ([]domain.Review, error) {
	out, err := r.filter(ctx, func(rv domain.Review) bool {
		return rv.UserID == userID && rv.MovieID != excludedMovieID
	})
	if err != nil {
		return nil, err
	}
	r.sortDescending(out)
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Save inserts or updates a review. A second review by the same user for the
// same movie fails with domain.ErrConflict.
func (r *MemoryReviews) Save(ctx context.Context, review domain.Review) (domain.Review, error) {
	if err := ctx.Err(); err != nil {
		return domain.Review{}, err
	}
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	for id, other := range r.state.reviews {
		if id != review.ID && other.UserID == review.UserID && other.MovieID == review.MovieID {
			return domain.Review{}, fmt.Errorf("user %s already reviewed movie %s: %w", review.UserID, review.MovieID, domain.ErrConflict)
		}
	}

	now := r.state.now()
	existing, ok := r.state.reviews[review.ID]
	saved := review
	saved.UpdatedAt = now
	if ok {
		saved.MovieID = existing.MovieID
		saved.UserID = existing.UserID
		saved.CreatedAt = existing.CreatedAt
	} else {
		saved.CreatedAt = now
		r.state.next++
		r.state.order[review.ID] = r.state.next
	}
	r.state.reviews[review.ID] = saved

	r.undo.push(func() {
		if ok {
			r.state.reviews[review.ID] = existing
			return
		}
		delete(r.state.reviews, review.ID)
		delete(r.state.order, review.ID)
	})
	return saved, nil
}

// DeleteByID removes a review or returns domain.ErrNotFound.
func (r *MemoryReviews) DeleteByID(ctx context.Context, reviewID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	existing, ok := r.state.reviews[reviewID]
	if !ok {
		return fmt.Errorf("review %s: %w", reviewID, domain.ErrNotFound)
	}
	seq := r.state.order[reviewID]
	delete(r.state.reviews, reviewID)
	delete(r.state.order, reviewID)

	r.undo.push(func() {
		r.state.reviews[reviewID] = existing
		r.state.order[reviewID] = seq
	})
	return nil
}

// filter returns matching reviews in insertion order.
func (r *MemoryReviews) filter(ctx context.Context, keep func(domain.Review) bool) ([]domain.Review, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.state.mu.RLock()
	defer r.state.mu.RUnlock()
	out := make([]domain.Review, 0)
	for _, rv := range r.state.reviews {
		if keep(rv) {
			out = append(out, rv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return r.state.order[out[i].ID] < r.state.order[out[j].ID] })
	return out, nil
}

func (r *MemoryReviews) sortDescending(out []domain.Review) {
	r.state.mu.RLock()
	defer r.state.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].Rating.Cmp(out[j].Rating); c != 0 {
			return c > 0
		}
		if oi, oj := r.state.order[out[i].ID], r.state.order[out[j].ID]; oi != oj {
			return oi < oj
		}
		return out[i].ID < out[j].ID
	})
}

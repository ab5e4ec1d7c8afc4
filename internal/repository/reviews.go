package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/Clark-Hu/movietn/internal/domain"
)

// ReviewsRepository persists reviews.
type ReviewsRepository struct {
	db dbtx
}

const (
	reviewColumns = `id, movie_id, user_id, rating::text, description, created_at, updated_at`
	// descending is the ordering shared by every "best first" review query.
	descending = `ORDER BY rating DESC, created_at, id`
)

// FindByID fetches a review by id.
func (r *ReviewsRepository) FindByID(ctx context.Context, reviewID string) (domain.Review, bool, error) {
	query := fmt.Sprintf(`SELECT %s FROM reviews WHERE id = $1`, reviewColumns)
	return r.one(ctx, query, reviewID)
}

// FindByUserAndMovie fetches the review userID left on movieID, if any.
func (r *ReviewsRepository) FindByUserAndMovie(ctx context.Context, userID, movieID string) (domain.Review, bool, error) {
	query := fmt.Sprintf(`SELECT %s FROM reviews WHERE user_id = $1 AND movie_id = $2`, reviewColumns)
	return r.one(ctx, query, userID, movieID)
}

// FindAllByMovie lists a movie's reviews oldest first.
func (r *ReviewsRepository) FindAllByMovie(ctx context.Context, movieID string) ([]domain.Review, error) {
	query := fmt.Sprintf(`SELECT %s FROM reviews WHERE movie_id = $1 ORDER BY created_at, id`, reviewColumns)
	return r.list(ctx, query, movieID)
}

// FindAllByUser lists a user's reviews oldest first.
func (r *ReviewsRepository) FindAllByUser(ctx context.Context, userID string) ([]domain.Review, error) {
	query := fmt.Sprintf(`SELECT %s FROM reviews WHERE user_id = $1 ORDER BY created_at, id`, reviewColumns)
	return r.list(ctx, query, userID)
}

// FindAllByMovieRatingRangeExcludingUser lists reviews of movieID rated within
// [min, max] by anyone but userID, best first.
func (r *ReviewsRepository) FindAllByMovieRatingRangeExcludingUser(ctx context.Context, movieID string, min, max decimal.Decimal, userID string) ([]domain.Review, error) {
	query := fmt.Sprintf(`
        SELECT %s FROM reviews
        WHERE movie_id = $1
          AND rating BETWEEN $2::text::numeric AND $3::text::numeric
          AND user_id <> $4
        %s
    `, reviewColumns, descending)
	return r.list(ctx, query, movieID, min.String(), max.String(), userID)
}

// FindAllByMovieDescending lists reviews of movieID, best first.
func (r *ReviewsRepository) FindAllByMovieDescending(ctx context.Context, movieID string) ([]domain.Review, error) {
	query := fmt.Sprintf(`SELECT %s FROM reviews WHERE movie_id = $1 %s`, reviewColumns, descending)
	return r.list(ctx, query, movieID)
}

// FindAllByUserExcludingMovie lists at most limit of userID's reviews on
// movies other than excludedMovieID, best first.
func (r *ReviewsRepository) FindAllByUserExcludingMovie(ctx context.Context, userID, excludedMovieID string, limit int) ([]domain.Review, error) {
	query := fmt.Sprintf(`
        SELECT %s FROM reviews
        WHERE user_id = $1 AND movie_id <> $2
        %s
        LIMIT $3
    `, reviewColumns, descending)
	return r.list(ctx, query, userID, excludedMovieID, limit)
}

// Save inserts the review or, when the id exists, replaces its rating and
// description. A second review by the same user on the same movie is a
// conflict.
func (r *ReviewsRepository) Save(ctx context.Context, review domain.Review) (domain.Review, error) {
	query := fmt.Sprintf(`
        INSERT INTO reviews (id, movie_id, user_id, rating, description, created_at, updated_at)
        VALUES ($1, $2, $3, $4::text::numeric, $5, now(), now())
        ON CONFLICT (id)
        DO UPDATE SET rating = EXCLUDED.rating, description = EXCLUDED.description, updated_at = now()
        RETURNING %s
    `, reviewColumns)

	row := r.db.QueryRow(ctx, query, review.ID, review.MovieID, review.UserID, review.Rating.String(), review.Description)
	saved, err := scanReview(row)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Review{}, fmt.Errorf("user %s already reviewed movie %s: %w", review.UserID, review.MovieID, domain.ErrConflict)
		}
		return domain.Review{}, fmt.Errorf("save review %s: %w", review.ID, err)
	}
	return saved, nil
}

// DeleteByID removes a review.
func (r *ReviewsRepository) DeleteByID(ctx context.Context, reviewID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM reviews WHERE id = $1`, reviewID)
	if err != nil {
		return fmt.Errorf("delete review %s: %w", reviewID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("review %s: %w", reviewID, domain.ErrNotFound)
	}
	return nil
}

func (r *ReviewsRepository) one(ctx context.Context, query string, args ...any) (domain.Review, bool, error) {
	review, err := scanReview(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Review{}, false, nil
		}
		return domain.Review{}, false, err
	}
	return review, true, nil
}

func (r *ReviewsRepository) list(ctx context.Context, query string, args ...any) ([]domain.Review, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.Review, 0)
	for rows.Next() {
		review, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, review)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func scanReview(row pgx.Row) (domain.Review, error) {
	var (
		review domain.Review
		rating string
	)
	err := row.Scan(
		&review.ID,
		&review.MovieID,
		&review.UserID,
		&rating,
		&review.Description,
		&review.CreatedAt,
		&review.UpdatedAt,
	)
	if err != nil {
		return domain.Review{}, err
	}
	parsed, err := decimal.NewFromString(rating)
	if err != nil {
		return domain.Review{}, fmt.Errorf("parse rating %q: %w", rating, err)
	}
	review.Rating = parsed
	return review, nil
}

package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/Clark-Hu/movietn/internal/domain"
)

// MoviesRepository persists movie aggregates.
type MoviesRepository struct {
	db dbtx
}

const movieColumns = `id, average_rating::text, vote_count, version, updated_at`

// FindByID fetches a movie aggregate by its identifier.
func (r *MoviesRepository) FindByID(ctx context.Context, movieID string) (domain.MovieAggregate, bool, error) {
	query := fmt.Sprintf(`SELECT %s FROM movies WHERE id = $1`, movieColumns)
	agg, err := scanMovie(r.db.QueryRow(ctx, query, movieID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MovieAggregate{}, false, nil
		}
		return domain.MovieAggregate{}, false, fmt.Errorf("find movie %s: %w", movieID, err)
	}
	return agg, true, nil
}

// FindAllByIDs returns the known aggregates among movieIDs ordered by id.
func (r *MoviesRepository) FindAllByIDs(ctx context.Context, movieIDs []string) ([]domain.MovieAggregate, error) {
	if len(movieIDs) == 0 {
		return []domain.MovieAggregate{}, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM movies WHERE id = ANY($1) ORDER BY id`, movieColumns)
	return r.list(ctx, query, movieIDs)
}

// Save inserts a new aggregate (Version 0) or updates one whose stored version
// still matches.
func (r *MoviesRepository) Save(ctx context.Context, agg domain.MovieAggregate) (domain.MovieAggregate, error) {
	avg := agg.AverageRating.StringFixed(domain.AveragePlaces)

	var row pgx.Row
	if agg.Version == 0 {
		query := fmt.Sprintf(`
            INSERT INTO movies (id, average_rating, vote_count, version, updated_at)
            VALUES ($1, $2::text::numeric, $3, 1, now())
            ON CONFLICT (id) DO NOTHING
            RETURNING %s
        `, movieColumns)
		row = r.db.QueryRow(ctx, query, agg.ID, avg, agg.VoteCount)
	} else {
		query := fmt.Sprintf(`
            UPDATE movies
            SET average_rating = $2::text::numeric,
                vote_count = $3,
                version = version + 1,
                updated_at = now()
            WHERE id = $1 AND version = $4
            RETURNING %s
        `, movieColumns)
		row = r.db.QueryRow(ctx, query, agg.ID, avg, agg.VoteCount, agg.Version)
	}

	saved, err := scanMovie(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MovieAggregate{}, fmt.Errorf("save movie %s at version %d: %w", agg.ID, agg.Version, domain.ErrVersionConflict)
		}
		return domain.MovieAggregate{}, fmt.Errorf("save movie %s: %w", agg.ID, err)
	}
	return saved, nil
}

// FindAllSortedByRatingDescending lists every aggregate, best rated first.
func (r *MoviesRepository) FindAllSortedByRatingDescending(ctx context.Context) ([]domain.MovieAggregate, error) {
	query := fmt.Sprintf(`SELECT %s FROM movies ORDER BY average_rating DESC, vote_count DESC, id`, movieColumns)
	return r.list(ctx, query)
}

func (r *MoviesRepository) list(ctx context.Context, query string, args ...any) ([]domain.MovieAggregate, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.MovieAggregate, 0)
	for rows.Next() {
		agg, err := scanMovie(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func scanMovie(row pgx.Row) (domain.MovieAggregate, error) {
	var (
		agg domain.MovieAggregate
		avg string
	)
	if err := row.Scan(&agg.ID, &avg, &agg.VoteCount, &agg.Version, &agg.UpdatedAt); err != nil {
		return domain.MovieAggregate{}, err
	}
	parsed, err := decimal.NewFromString(avg)
	if err != nil {
		return domain.MovieAggregate{}, fmt.Errorf("parse average rating %q: %w", avg, err)
	}
	agg.AverageRating = parsed
	return agg, nil
}

package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/movietn/internal/domain"
	"github.com/Clark-Hu/movietn/internal/store"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx so repositories run the
// same SQL inside and outside transactions.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository aggregates the Postgres-backed stores.
type Repository struct {
	Movies  *MoviesRepository
	Reviews *ReviewsRepository
	pool    *pgxpool.Pool
}

// New constructs a Repository backed by the provided store.
func New(st *store.Store) *Repository {
	return NewWithPool(st.Pool())
}

// NewWithPool allows constructing repositories directly from a pgx pool.
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{
		Movies:  &MoviesRepository{db: pool},
		Reviews: &ReviewsRepository{db: pool},
		pool:    pool,
	}
}

// InTx runs fn in a single database transaction, committing only if fn
// returns nil.
func (r *Repository) InTx(ctx context.Context, fn func(ctx context.Context, st domain.Stores) error) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, domain.Stores{
			Movies:  &MoviesRepository{db: tx},
			Reviews: &ReviewsRepository{db: tx},
		})
	})
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

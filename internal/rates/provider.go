package rates

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoRate is returned when a course has no configured hourly rate. The
// course is simply not bookable; callers must not treat this as a fault.
var ErrNoRate = errors.New("rates: no hourly rate configured")

// Provider resolves the live hourly rate for a course, in cents.
type Provider interface {
	HourlyRate(ctx context.Context, courseID uuid.UUID) (int64, error)
}

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresProvider reads rates from the platform's course_rates table. Course
// identity itself is owned by the catalog service; this core only needs the
// price column.
type PostgresProvider struct {
	db rowQuerier
}

// NewPostgresProvider creates a provider backed by pgx pool.
func NewPostgresProvider(pool *pgxpool.Pool) *PostgresProvider {
	if pool == nil {
		panic("rates: pgx pool required")
	}
	return &PostgresProvider{db: pool}
}

// NewPostgresProviderWithDB allows injecting mocks for tests.
func NewPostgresProviderWithDB(db rowQuerier) *PostgresProvider {
	if db == nil {
		panic("rates: db required")
	}
	return &PostgresProvider{db: db}
}

// HourlyRate returns the hourly rate in cents, or ErrNoRate.
func (p *PostgresProvider) HourlyRate(ctx context.Context, courseID uuid.UUID) (int64, error) {
	query := `SELECT hourly_rate_cents FROM course_rates WHERE course_id = $1`
	var cents int64
	if err := p.db.QueryRow(ctx, query, courseID).Scan(&cents); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNoRate
		}
		return 0, fmt.Errorf("rates: load hourly rate: %w", err)
	}
	if cents <= 0 {
		return 0, ErrNoRate
	}
	return cents, nil
}

// StaticProvider serves a fixed rate table. Used by tests and local dev.
type StaticProvider map[uuid.UUID]int64

// HourlyRate returns the configured rate or ErrNoRate.
func (p StaticProvider) HourlyRate(ctx context.Context, courseID uuid.UUID) (int64, error) {
	cents, ok := p[courseID]
	if !ok || cents <= 0 {
		return 0, ErrNoRate
	}
	return cents, nil
}

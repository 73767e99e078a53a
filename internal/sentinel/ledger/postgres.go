package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	serrors "github.com/project-sentinel/pysentinel/internal/errors"
)

// PostgresLedger implements RunLedger using PostgreSQL, grounded on
// the teacher's persistence.PostgresLedger.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresLedger connects to connString and ensures the
// alert_runtime table exists.
func NewPostgresLedger(ctx context.Context, connString string) (*PostgresLedger, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, serrors.Wrap(serrors.ConfigError, "creating postgres ledger pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, serrors.Wrap(serrors.ConfigError, "pinging postgres ledger", err)
	}

	const createTable = `
	CREATE TABLE IF NOT EXISTS alert_runtime (
		alert_key TEXT PRIMARY KEY,
		last_run  TIMESTAMPTZ NOT NULL
	);
	`
	if _, err := pool.Exec(ctx, createTable); err != nil {
		return nil, serrors.Wrap(serrors.ConfigError, "creating alert_runtime table", err)
	}

	return &PostgresLedger{pool: pool}, nil
}

func (p *PostgresLedger) GetLastRun(ctx context.Context, key string) (time.Time, bool, error) {
	var lastRun time.Time
	err := p.pool.QueryRow(ctx, `SELECT last_run FROM alert_runtime WHERE alert_key = $1`, key).Scan(&lastRun)
	if err == pgx.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("querying last run for %q: %w", key, err)
	}
	return lastRun, true, nil
}

func (p *PostgresLedger) UpdateLastRun(ctx context.Context, key string, at time.Time) error {
	const upsert = `
	INSERT INTO alert_runtime (alert_key, last_run) VALUES ($1, $2)
	ON CONFLICT (alert_key) DO UPDATE SET last_run = excluded.last_run
	`
	if _, err := p.pool.Exec(ctx, upsert, key, at); err != nil {
		return fmt.Errorf("updating last run for %q: %w", key, err)
	}
	return nil
}

func (p *PostgresLedger) Close() error {
	p.pool.Close()
	return nil
}

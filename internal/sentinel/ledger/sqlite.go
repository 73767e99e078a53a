package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	serrors "github.com/project-sentinel/pysentinel/internal/errors"
)

// SQLiteLedger implements RunLedger using SQLite, grounded on the
// teacher's persistence.SQLiteLedger.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLiteLedger opens (creating if necessary) a SQLite-backed
// ledger at dbPath.
func NewSQLiteLedger(dbPath string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, serrors.Wrap(serrors.ConfigError, "opening sqlite ledger", err)
	}

	const createTable = `
	CREATE TABLE IF NOT EXISTS alert_runtime (
		alert_key TEXT PRIMARY KEY,
		last_run  DATETIME NOT NULL
	);
	`
	if _, err := db.Exec(createTable); err != nil {
		return nil, serrors.Wrap(serrors.ConfigError, "creating alert_runtime table", err)
	}

	return &SQLiteLedger{db: db}, nil
}

func (s *SQLiteLedger) GetLastRun(ctx context.Context, key string) (time.Time, bool, error) {
	var lastRun time.Time
	err := s.db.QueryRowContext(ctx, `SELECT last_run FROM alert_runtime WHERE alert_key = ?`, key).Scan(&lastRun)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("querying last run for %q: %w", key, err)
	}
	return lastRun, true, nil
}

func (s *SQLiteLedger) UpdateLastRun(ctx context.Context, key string, at time.Time) error {
	const upsert = `
	INSERT INTO alert_runtime (alert_key, last_run) VALUES (?, ?)
	ON CONFLICT(alert_key) DO UPDATE SET last_run = excluded.last_run
	`
	if _, err := s.db.ExecContext(ctx, upsert, key, at); err != nil {
		return fmt.Errorf("updating last run for %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteLedger) Close() error {
	return s.db.Close()
}

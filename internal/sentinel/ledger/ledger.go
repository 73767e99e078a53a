// Package ledger persists per-alert last-run timestamps so the
// scheduler survives process restarts, adapted from the teacher's
// persistence.Ledger (internal/persistence/sqlite.go, postgres.go).
package ledger

import (
	"context"
	"time"
)

// RunLedger is the contract the scheduler uses to determine whether an
// alert is due (spec.md §4.5).
type RunLedger interface {
	// GetLastRun returns the last recorded run time for key and true,
	// or the zero time and false if no run has ever been recorded.
	GetLastRun(ctx context.Context, key string) (time.Time, bool, error)
	// UpdateLastRun records at as the last run time for key.
	UpdateLastRun(ctx context.Context, key string, at time.Time) error
	// Close releases any held resources.
	Close() error
}

// Package datasource defines the DataSource contract (spec.md §4.1) and
// a name-keyed registry of variants. The interface shape is adapted
// from the teacher's CloudAdapter: a small capability surface
// (connect/fetch/close/health) rather than per-backend method sets.
package datasource

import (
	"context"
	"sync"
	"time"
)

// DataSource is the uniform contract every backend variant implements.
// Fetch is only ever called while the runtime State reports Enabled.
type DataSource interface {
	// Name returns the configured name of this datasource.
	Name() string
	// Fetch issues query against the backend and returns a flat
	// mapping from metric name to value. Errors are returned wrapped
	// as *errors.Error with Code DataSourceError.
	Fetch(ctx context.Context, query string) (map[string]interface{}, error)
	// Connect idempotently establishes a persistent connection if the
	// backend benefits from one. No-op for stateless backends.
	Connect(ctx context.Context) error
	// Close idempotently releases any held connection.
	Close() error
	// HealthCheck reports liveness; it never returns an error, only a
	// boolean, per spec.md §4.1.
	HealthCheck(ctx context.Context) bool
}

// State is the mutable runtime state the Scanner tracks per
// datasource: health bookkeeping, error accounting, and the
// auto-disable threshold. It is distinct from the DataSource interface
// itself so that the executor can mutate bookkeeping without reaching
// into backend internals.
type State struct {
	mu                sync.Mutex
	Name              string
	Enabled           bool
	ErrorCount        int
	MaxErrors         int
	IntervalSeconds   int
	ConnectionTimeout time.Duration
	LastFetchTime     time.Time
}

// NewState builds runtime state for a datasource with the given config
// derived limits.
func NewState(name string, enabled bool, maxErrors, intervalSeconds int, timeout time.Duration) *State {
	return &State{
		Name:              name,
		Enabled:           enabled,
		MaxErrors:         maxErrors,
		IntervalSeconds:   intervalSeconds,
		ConnectionTimeout: timeout,
	}
}

// IsEnabled reports whether the datasource currently participates in
// scans.
func (s *State) IsEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Enabled
}

// RecordSuccess resets the soft-failure counter and timestamps the
// fetch.
func (s *State) RecordSuccess(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ErrorCount = 0
	s.LastFetchTime = at
}

// RecordFailure increments the error counter and auto-disables the
// datasource once it reaches MaxErrors (spec.md §4.6 step f). It
// returns true if this call caused the disable transition.
func (s *State) RecordFailure() (disabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ErrorCount++
	if s.ErrorCount >= s.MaxErrors && s.Enabled {
		s.Enabled = false
		return true
	}
	return false
}

// Snapshot returns a value copy safe to read without holding the lock.
func (s *State) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		Name:              s.Name,
		Enabled:           s.Enabled,
		ErrorCount:        s.ErrorCount,
		MaxErrors:         s.MaxErrors,
		IntervalSeconds:   s.IntervalSeconds,
		ConnectionTimeout: s.ConnectionTimeout,
		LastFetchTime:     s.LastFetchTime,
	}
}

// Enable re-enables a datasource after manual operator intervention
// (spec.md §8 scenario 4: "until manually re-enabled").
func (s *State) Enable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Enabled = true
	s.ErrorCount = 0
}

// Registry is a name-keyed set of constructed DataSource instances plus
// their runtime State, assembled once at Scanner startup (spec.md §9:
// "dispatched by a name-keyed registry populated at config load").
type Registry struct {
	sources map[string]DataSource
	states  map[string]*State
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[string]DataSource),
		states:  make(map[string]*State),
	}
}

// Register adds a constructed datasource and its runtime state.
func (r *Registry) Register(ds DataSource, state *State) {
	r.sources[ds.Name()] = ds
	r.states[ds.Name()] = state
}

// Get returns the datasource and state for name, or ok=false if
// unknown.
func (r *Registry) Get(name string) (DataSource, *State, bool) {
	ds, ok := r.sources[name]
	if !ok {
		return nil, nil, false
	}
	return ds, r.states[name], true
}

// Names returns the registered datasource names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	return names
}

// CloseAll closes every registered datasource, collecting but not
// aborting on individual close errors.
func (r *Registry) CloseAll() []error {
	var errs []error
	for _, ds := range r.sources {
		if err := ds.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

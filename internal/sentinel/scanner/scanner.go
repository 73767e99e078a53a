// Package scanner implements the Scanner orchestrator (spec.md §4.8):
// lifecycle state machine, scan loop, and introspection surface.
// Grounded on the teacher's loop.OODALoop ticker/stopChan shape
// (internal/loop/ooda_integrated.go).
package scanner

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/project-sentinel/pysentinel/internal/monitoring"
	"github.com/project-sentinel/pysentinel/internal/sentinel"
	"github.com/project-sentinel/pysentinel/internal/sentinel/channel"
	"github.com/project-sentinel/pysentinel/internal/sentinel/datasource"
	"github.com/project-sentinel/pysentinel/internal/sentinel/executor"
	"github.com/project-sentinel/pysentinel/internal/sentinel/ledger"
	"github.com/project-sentinel/pysentinel/internal/sentinel/pipeline"
	"github.com/project-sentinel/pysentinel/internal/sentinel/scheduler"
	"github.com/project-sentinel/pysentinel/internal/telemetry"
)

// State is one of the Scanner's lifecycle states (spec.md §4.8).
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
	StatePaused  State = "paused"
	StateError   State = "error"
)

// String implements fmt.Stringer.
func (s State) String() string {
	return string(s)
}

const tickInterval = 1 * time.Second
const errorBackoff = 5 * time.Second
const metricStreamPoll = 5 * time.Second

// Scanner owns the datasource and channel registries, the alert
// definitions, and drives the scheduler/executor/pipeline on each
// tick.
type Scanner struct {
	mu    sync.RWMutex
	state State

	datasources *datasource.Registry
	channels    *channel.Registry
	definitions []*sentinel.AlertDefinition
	ledger      ledger.RunLedger

	scheduler *scheduler.Scheduler
	executor  *executor.Executor
	pipeline  *pipeline.Pipeline

	latestMetrics map[string]*sentinel.MetricData

	startTime    time.Time
	lastScanTime time.Time

	cancel context.CancelFunc
	done   chan struct{}

	prom   *monitoring.ScannerMetrics
	tracer *telemetry.Manager
	log    *zap.Logger
}

// Config bundles the dependencies assembled from configuration needed
// to build a Scanner.
type Config struct {
	Datasources     *datasource.Registry
	Channels        *channel.Registry
	Definitions     []*sentinel.AlertDefinition
	Ledger          ledger.RunLedger
	CooldownMinutes int
	MaxHistory      int
	Metrics         *monitoring.ScannerMetrics
	Tracer          *telemetry.Manager
	Logger          *zap.Logger
}

// New assembles a Scanner from its configuration.
func New(cfg Config) *Scanner {
	s := &Scanner{
		state:         StateStopped,
		datasources:   cfg.Datasources,
		channels:      cfg.Channels,
		definitions:   cfg.Definitions,
		ledger:        cfg.Ledger,
		latestMetrics: make(map[string]*sentinel.MetricData),
		prom:          cfg.Metrics,
		tracer:        cfg.Tracer,
		log:           cfg.Logger,
	}

	pipe := pipeline.New(pipeline.Config{
		CooldownMinutes: cfg.CooldownMinutes,
		MaxHistory:      cfg.MaxHistory,
		Definitions:     cfg.Definitions,
		Channels:        cfg.Channels,
		Metrics:         cfg.Metrics,
		Tracer:          cfg.Tracer,
		Logger:          cfg.Logger,
	})

	s.scheduler = scheduler.New(cfg.Definitions, cfg.Ledger, cfg.Datasources, cfg.Logger)
	s.pipeline = pipe
	s.executor = executor.New(cfg.Datasources, cfg.Ledger, pipe, s, cfg.Metrics, cfg.Tracer, cfg.Logger)
	return s
}

// RecordMetrics stores the latest MetricData for a datasource,
// implementing executor.MetricsSink.
func (s *Scanner) RecordMetrics(datasourceName string, data *sentinel.MetricData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latestMetrics[datasourceName] = data
}

// AddCallback registers a synchronous violation callback invoked by
// the pipeline for every violation that survives the cooldown gate.
func (s *Scanner) AddCallback(cb pipeline.Callback) {
	s.pipeline.AddCallback(cb)
}

// Start transitions STOPPED → RUNNING and launches the scan loop.
// Calling Start while already RUNNING is a no-op that logs a warning.
func (s *Scanner) Start(ctx context.Context) {
	s.mu.Lock()
	if s.state == StateRunning {
		s.mu.Unlock()
		s.log.Warn("scanner start called while already running")
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.state = StateRunning
	s.startTime = time.Now().UTC()
	s.mu.Unlock()

	go s.runLoop(loopCtx)
}

// Stop transitions RUNNING → STOPPED, cancels the scan loop, and
// closes all datasources.
func (s *Scanner) Stop() {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.done
	s.state = StateStopped
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	for _, err := range s.datasources.CloseAll() {
		s.log.Warn("error closing datasource", zap.Error(err))
	}
}

func (s *Scanner) runLoop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runTickSafely(ctx)
		}
	}
}

func (s *Scanner) runTickSafely(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scan loop panic recovered", zap.Any("recover", r))
			s.enterErrorBackoff(ctx)
		}
	}()
	s.runTick(ctx)
}

func (s *Scanner) enterErrorBackoff(ctx context.Context) {
	s.mu.Lock()
	if s.state != StateStopped {
		s.state = StateError
	}
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return
	case <-time.After(errorBackoff):
	}

	s.mu.Lock()
	if s.state == StateError {
		s.state = StateRunning
	}
	s.mu.Unlock()
}

func (s *Scanner) runTick(ctx context.Context) {
	tickStart := time.Now()
	now := tickStart.UTC()

	tickFn := func(spanCtx context.Context) error {
		groups := s.scheduler.DueGroups(spanCtx, now)
		if len(groups) > 0 {
			s.executor.RunTick(spanCtx, groups)
		}
		return nil
	}
	if s.tracer != nil {
		_ = s.tracer.TraceTick(ctx, tickFn)
	} else {
		_ = tickFn(ctx)
	}

	if s.prom != nil {
		s.prom.ScanTickDuration.Observe(time.Since(tickStart).Seconds())
	}

	s.mu.Lock()
	s.lastScanTime = now
	s.mu.Unlock()
}

// GetStatus returns the current lifecycle state.
func (s *Scanner) GetStatus() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsRunning reports whether the scanner is actively scanning.
func (s *Scanner) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateRunning || s.state == StateError
}

// GetUptimeSeconds returns seconds elapsed since Start, or 0 if
// stopped.
func (s *Scanner) GetUptimeSeconds() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == StateStopped {
		return 0
	}
	return time.Since(s.startTime).Seconds()
}

// GetLastScanTime returns the wall-clock time of the most recently
// completed tick.
func (s *Scanner) GetLastScanTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastScanTime
}

// GetLatestMetrics returns a snapshot of the most recent MetricData
// per datasource.
func (s *Scanner) GetLatestMetrics() map[string]*sentinel.MetricData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*sentinel.MetricData, len(s.latestMetrics))
	for k, v := range s.latestMetrics {
		out[k] = v
	}
	return out
}

// GetMetricsBySource returns the latest MetricData for name, if any.
func (s *Scanner) GetMetricsBySource(name string) (*sentinel.MetricData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.latestMetrics[name]
	return m, ok
}

// GetActiveAlerts returns the current active-violation set.
func (s *Scanner) GetActiveAlerts() []*sentinel.Violation {
	return s.pipeline.ActiveViolations()
}

// GetAlertHistory returns up to limit of the most recent history
// entries. limit <= 0 defaults to 100.
func (s *Scanner) GetAlertHistory(limit int) []*sentinel.Violation {
	if limit <= 0 {
		limit = 100
	}
	return s.pipeline.History(limit)
}

// AcknowledgeAlert marks the active violation matching id as
// acknowledged, returning whether one was found.
func (s *Scanner) AcknowledgeAlert(id string) bool {
	return s.pipeline.Acknowledge(id)
}

// GetDatasources returns the names of all registered datasources.
func (s *Scanner) GetDatasources() []string {
	return s.datasources.Names()
}

// StreamAlerts returns a channel emitting each new history entry
// exactly once, in append order, until ctx is cancelled or the
// scanner stops (spec.md §4.8 stream_alerts). A stream opened before
// Start stays open until it has seen the scanner running and then
// stopped.
func (s *Scanner) StreamAlerts(ctx context.Context) <-chan *sentinel.Violation {
	out := make(chan *sentinel.Violation, 16)
	go func() {
		defer close(out)
		var cursor int64
		seenRunning := false
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				running := s.IsRunning()
				if running {
					seenRunning = true
				}
				var entries []*sentinel.Violation
				entries, cursor = s.pipeline.HistorySince(cursor)
				for _, v := range entries {
					select {
					case out <- v:
					case <-ctx.Done():
						return
					}
				}
				if seenRunning && !running {
					return
				}
			}
		}
	}()
	return out
}

// StreamMetrics returns a channel emitting {source: MetricData}
// whenever a source's latest timestamp changes, polled at 5 s
// granularity (spec.md §4.8 stream_metrics).
func (s *Scanner) StreamMetrics(ctx context.Context) <-chan map[string]*sentinel.MetricData {
	out := make(chan map[string]*sentinel.MetricData, 4)
	go func() {
		defer close(out)
		lastSeen := make(map[string]time.Time)
		ticker := time.NewTicker(metricStreamPoll)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				current := s.GetLatestMetrics()
				changed := make(map[string]*sentinel.MetricData)
				for name, data := range current {
					if prev, ok := lastSeen[name]; !ok || !data.Timestamp.Equal(prev) {
						changed[name] = data
						lastSeen[name] = data.Timestamp
					}
				}
				if len(changed) > 0 {
					select {
					case out <- changed:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out
}

// Package executor issues the concurrent per-datasource fetches for a
// scan tick's due alert groups, evaluates thresholds, and hands
// violations to the pipeline (spec.md §4.6). Grounded on the
// teacher's loop.ParallelExecutor worker-pool shape
// (internal/loop/parallel_executor.go) for group concurrency.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	serrors "github.com/project-sentinel/pysentinel/internal/errors"
	"github.com/project-sentinel/pysentinel/internal/monitoring"
	"github.com/project-sentinel/pysentinel/internal/sentinel"
	"github.com/project-sentinel/pysentinel/internal/sentinel/datasource"
	"github.com/project-sentinel/pysentinel/internal/sentinel/ledger"
	"github.com/project-sentinel/pysentinel/internal/telemetry"
)

// ViolationSink receives threshold violations and recoveries from the
// executor; implemented by pipeline.Pipeline.
type ViolationSink interface {
	Submit(ctx context.Context, v *sentinel.Violation) bool
	Recover(key string)
}

// MetricsSink receives the latest fetched metrics per datasource;
// implemented by scanner.Scanner (spec.md §4.6 step b).
type MetricsSink interface {
	RecordMetrics(datasourceName string, data *sentinel.MetricData)
}

// Executor runs one cooperative task per due datasource group per
// tick (spec.md §4.6: "Groups run in parallel across datasources.
// Within a group, queries are serial").
type Executor struct {
	registry *datasource.Registry
	ledger   ledger.RunLedger
	sink     ViolationSink
	metrics  MetricsSink
	prom     *monitoring.ScannerMetrics
	tracer   *telemetry.Manager
	log      *zap.Logger
}

// New builds an Executor over its static collaborators. prom and
// tracer may be nil, in which case Prometheus instrumentation and
// tracing are skipped respectively.
func New(registry *datasource.Registry, runLedger ledger.RunLedger, sink ViolationSink, metrics MetricsSink, prom *monitoring.ScannerMetrics, tracer *telemetry.Manager, log *zap.Logger) *Executor {
	return &Executor{registry: registry, ledger: runLedger, sink: sink, metrics: metrics, prom: prom, tracer: tracer, log: log}
}

// RunTick issues every group's fetches concurrently and blocks until
// all groups complete (bounding one scan tick per spec.md §4.6's
// parallel-across-groups, serial-within-group model).
func (e *Executor) RunTick(ctx context.Context, groups map[string][]*sentinel.AlertDefinition) {
	var wg sync.WaitGroup
	for datasourceName, defs := range groups {
		wg.Add(1)
		go func(name string, defs []*sentinel.AlertDefinition) {
			defer wg.Done()
			e.runGroup(ctx, name, defs)
		}(datasourceName, defs)
	}
	wg.Wait()
}

func (e *Executor) runGroup(ctx context.Context, datasourceName string, defs []*sentinel.AlertDefinition) {
	ds, state, ok := e.registry.Get(datasourceName)
	if !ok || !state.IsEnabled() {
		return
	}

	var groupErr error
	for _, def := range defs {
		if !state.IsEnabled() {
			break
		}
		if err := e.runOne(ctx, ds, state, def); err != nil {
			groupErr = multierr.Append(groupErr, fmt.Errorf("%s: %w", def.Name, err))
		}
	}
	if groupErr != nil {
		e.log.Warn("datasource group completed with errors",
			zap.String("datasource", datasourceName), zap.Error(groupErr))
	}
}

func (e *Executor) runOne(ctx context.Context, ds datasource.DataSource, state *datasource.State, def *sentinel.AlertDefinition) error {
	fetchCtx, cancel := context.WithTimeout(ctx, state.ConnectionTimeout)
	defer cancel()

	var result map[string]interface{}
	fetchStart := time.Now()
	err := e.traceFetch(fetchCtx, def.DatasourceName, def.Name, func(spanCtx context.Context) error {
		var fetchErr error
		result, fetchErr = ds.Fetch(spanCtx, def.Query)
		return fetchErr
	})
	now := time.Now().UTC()

	if e.prom != nil {
		e.prom.FetchDuration.WithLabelValues(def.DatasourceName).Observe(time.Since(fetchStart).Seconds())
	}

	if err != nil {
		disabled := state.RecordFailure()
		if e.prom != nil {
			e.prom.FetchesTotal.WithLabelValues(def.DatasourceName, "error").Inc()
		}
		if disabled {
			e.log.Warn("datasource auto-disabled after repeated failures",
				zap.String("datasource", def.DatasourceName))
			if e.prom != nil {
				e.prom.DatasourceDisabled.WithLabelValues(def.DatasourceName).Set(1)
			}
		}
		return serrors.NewDataSourceError(def.DatasourceName, err)
	}
	if e.prom != nil {
		e.prom.FetchesTotal.WithLabelValues(def.DatasourceName, "success").Inc()
	}

	state.RecordSuccess(now)
	e.metrics.RecordMetrics(def.DatasourceName, &sentinel.MetricData{
		DatasourceName:   def.DatasourceName,
		Metrics:          result,
		Timestamp:        now,
		CollectionTimeMs: time.Since(fetchStart).Milliseconds(),
	})
	if err := e.ledger.UpdateLastRun(ctx, def.Name, now); err != nil {
		e.log.Warn("failed to update run ledger", zap.String("alert", def.Name), zap.Error(err))
	}

	value, present := result[def.MetricKey]
	if !present {
		return nil
	}

	numeric, ok := toFloat64(value)
	key := def.ActiveKey()
	if !ok {
		e.sink.Recover(key)
		return nil
	}

	if !def.Threshold.Evaluate(numeric) {
		e.sink.Recover(key)
		return nil
	}

	violation := sentinel.NewViolation(def, numeric, now)
	e.sink.Submit(ctx, violation)
	return nil
}

func (e *Executor) traceFetch(ctx context.Context, datasourceName, alertName string, fn func(context.Context) error) error {
	if e.tracer == nil {
		return fn(ctx)
	}
	return e.tracer.TraceFetch(ctx, datasourceName, alertName, fn)
}

// toFloat64 mirrors the original's check_threshold predicate
// (threshold.py:89), float(value) > M: numeric strings from JSON
// datasources and pgtype.Numeric from Postgres NUMERIC/avg() columns
// both coerce instead of falling through to the non-numeric path.
func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case pgtype.Numeric:
		f, err := n.Float64Value()
		if err != nil || !f.Valid {
			return 0, false
		}
		return f.Float64, true
	case *pgtype.Numeric:
		if n == nil {
			return 0, false
		}
		f, err := n.Float64Value()
		if err != nil || !f.Valid {
			return 0, false
		}
		return f.Float64, true
	default:
		return 0, false
	}
}

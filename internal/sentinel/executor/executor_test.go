package executor

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/project-sentinel/pysentinel/internal/sentinel"
	"github.com/project-sentinel/pysentinel/internal/sentinel/datasource"
)

type fakeDataSource struct {
	name    string
	result  map[string]interface{}
	err     error
	fetches int
}

func (f *fakeDataSource) Name() string { return f.name }
func (f *fakeDataSource) Connect(ctx context.Context) error { return nil }
func (f *fakeDataSource) Close() error                      { return nil }
func (f *fakeDataSource) HealthCheck(ctx context.Context) bool { return true }
func (f *fakeDataSource) Fetch(ctx context.Context, query string) (map[string]interface{}, error) {
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeSink struct {
	mu        sync.Mutex
	submitted []*sentinel.Violation
	recovered []string
}

func (f *fakeSink) Submit(ctx context.Context, v *sentinel.Violation) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, v)
	return true
}

func (f *fakeSink) Recover(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recovered = append(f.recovered, key)
}

type fakeMetricsSink struct {
	mu      sync.Mutex
	records map[string]*sentinel.MetricData
}

func newFakeMetricsSink() *fakeMetricsSink {
	return &fakeMetricsSink{records: make(map[string]*sentinel.MetricData)}
}

func (f *fakeMetricsSink) RecordMetrics(datasourceName string, data *sentinel.MetricData) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[datasourceName] = data
}

type fakeLedger struct {
	mu        sync.Mutex
	lastRun   map[string]time.Time
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{lastRun: make(map[string]time.Time)}
}

func (f *fakeLedger) GetLastRun(ctx context.Context, key string) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.lastRun[key]
	return t, ok, nil
}

func (f *fakeLedger) UpdateLastRun(ctx context.Context, key string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastRun[key] = at
	return nil
}

func (f *fakeLedger) Close() error { return nil }

func newTestDef(name, metricKey, datasourceName string, max float64) *sentinel.AlertDefinition {
	return &sentinel.AlertDefinition{
		Name:           name,
		MetricKey:      metricKey,
		DatasourceName: datasourceName,
		Threshold:      sentinel.Threshold{Max: &max},
		Severity:       sentinel.SeverityCritical,
		Enabled:        true,
	}
}

func newRegistryWith(ds datasource.DataSource, maxErrors int) (*datasource.Registry, *datasource.State) {
	reg := datasource.NewRegistry()
	state := datasource.NewState(ds.Name(), true, maxErrors, 60, time.Second)
	reg.Register(ds, state)
	return reg, state
}

func TestExecutor_RunTick_SubmitsViolationOnThresholdBreach(t *testing.T) {
	ds := &fakeDataSource{name: "db1", result: map[string]interface{}{"cpu": 95.0}}
	reg, _ := newRegistryWith(ds, 3)
	sink := &fakeSink{}
	metrics := newFakeMetricsSink()
	exec := New(reg, newFakeLedger(), sink, metrics, nil, nil, zap.NewNop())

	def := newTestDef("cpu_high", "cpu", "db1", 90)
	exec.RunTick(context.Background(), map[string][]*sentinel.AlertDefinition{"db1": {def}})

	require.Len(t, sink.submitted, 1)
	assert.Equal(t, 95.0, sink.submitted[0].CurrentValue)
	assert.Empty(t, sink.recovered)
}

func TestExecutor_RunTick_RecoversWhenBelowThreshold(t *testing.T) {
	ds := &fakeDataSource{name: "db1", result: map[string]interface{}{"cpu": 10.0}}
	reg, _ := newRegistryWith(ds, 3)
	sink := &fakeSink{}
	metrics := newFakeMetricsSink()
	exec := New(reg, newFakeLedger(), sink, metrics, nil, nil, zap.NewNop())

	def := newTestDef("cpu_high", "cpu", "db1", 90)
	exec.RunTick(context.Background(), map[string][]*sentinel.AlertDefinition{"db1": {def}})

	assert.Empty(t, sink.submitted)
	require.Len(t, sink.recovered, 1)
	assert.Equal(t, "db1_cpu_high", sink.recovered[0])
}

func TestExecutor_RunTick_MissingMetricKeySkipped(t *testing.T) {
	ds := &fakeDataSource{name: "db1", result: map[string]interface{}{"other": 1.0}}
	reg, _ := newRegistryWith(ds, 3)
	sink := &fakeSink{}
	metrics := newFakeMetricsSink()
	exec := New(reg, newFakeLedger(), sink, metrics, nil, nil, zap.NewNop())

	def := newTestDef("cpu_high", "cpu", "db1", 90)
	exec.RunTick(context.Background(), map[string][]*sentinel.AlertDefinition{"db1": {def}})

	assert.Empty(t, sink.submitted)
	assert.Empty(t, sink.recovered)
}

func TestExecutor_RunOne_FetchFailureAutoDisablesDatasource(t *testing.T) {
	ds := &fakeDataSource{name: "db1", err: assert.AnError}
	reg, state := newRegistryWith(ds, 2)
	sink := &fakeSink{}
	metrics := newFakeMetricsSink()
	exec := New(reg, newFakeLedger(), sink, metrics, nil, nil, zap.NewNop())

	def := newTestDef("cpu_high", "cpu", "db1", 90)
	exec.RunTick(context.Background(), map[string][]*sentinel.AlertDefinition{"db1": {def}})
	assert.True(t, state.IsEnabled())

	exec.RunTick(context.Background(), map[string][]*sentinel.AlertDefinition{"db1": {def}})
	assert.False(t, state.IsEnabled())
}

func TestExecutor_RunTick_SkipsDisabledDatasource(t *testing.T) {
	ds := &fakeDataSource{name: "db1", result: map[string]interface{}{"cpu": 95.0}}
	reg, state := newRegistryWith(ds, 1)
	state.RecordFailure()
	require.False(t, state.IsEnabled())

	sink := &fakeSink{}
	metrics := newFakeMetricsSink()
	exec := New(reg, newFakeLedger(), sink, metrics, nil, nil, zap.NewNop())

	def := newTestDef("cpu_high", "cpu", "db1", 90)
	exec.RunTick(context.Background(), map[string][]*sentinel.AlertDefinition{"db1": {def}})

	assert.Empty(t, sink.submitted)
	assert.Equal(t, 0, ds.fetches)
}

func TestExecutor_RunTick_ParallelGroupsBothRun(t *testing.T) {
	ds1 := &fakeDataSource{name: "db1", result: map[string]interface{}{"cpu": 95.0}}
	ds2 := &fakeDataSource{name: "db2", result: map[string]interface{}{"mem": 99.0}}
	reg := datasource.NewRegistry()
	reg.Register(ds1, datasource.NewState("db1", true, 3, 60, time.Second))
	reg.Register(ds2, datasource.NewState("db2", true, 3, 60, time.Second))

	sink := &fakeSink{}
	metrics := newFakeMetricsSink()
	exec := New(reg, newFakeLedger(), sink, metrics, nil, nil, zap.NewNop())

	def1 := newTestDef("cpu_high", "cpu", "db1", 90)
	def2 := newTestDef("mem_high", "mem", "db2", 90)

	exec.RunTick(context.Background(), map[string][]*sentinel.AlertDefinition{
		"db1": {def1},
		"db2": {def2},
	})

	assert.Len(t, sink.submitted, 2)
	assert.Equal(t, 1, ds1.fetches)
	assert.Equal(t, 1, ds2.fetches)
}

func TestExecutor_RunTick_StringMetricCoercedToFloat(t *testing.T) {
	ds := &fakeDataSource{name: "db1", result: map[string]interface{}{"cpu": "95"}}
	reg, _ := newRegistryWith(ds, 3)
	sink := &fakeSink{}
	metrics := newFakeMetricsSink()
	exec := New(reg, newFakeLedger(), sink, metrics, nil, nil, zap.NewNop())

	def := newTestDef("cpu_high", "cpu", "db1", 90)
	exec.RunTick(context.Background(), map[string][]*sentinel.AlertDefinition{"db1": {def}})

	require.Len(t, sink.submitted, 1)
	assert.Equal(t, 95.0, sink.submitted[0].CurrentValue)
	assert.Empty(t, sink.recovered)
}

func TestToFloat64_ParsesNumericString(t *testing.T) {
	f, ok := toFloat64("95.5")
	assert.True(t, ok)
	assert.Equal(t, 95.5, f)
}

func TestToFloat64_RejectsNonNumericString(t *testing.T) {
	_, ok := toFloat64("not-a-number")
	assert.False(t, ok)
}

func TestToFloat64_ParsesJSONNumber(t *testing.T) {
	f, ok := toFloat64(json.Number("42"))
	assert.True(t, ok)
	assert.Equal(t, 42.0, f)
}

func TestToFloat64_ParsesPgtypeNumeric(t *testing.T) {
	var n pgtype.Numeric
	require.NoError(t, n.Scan("95.25"))

	f, ok := toFloat64(n)
	assert.True(t, ok)
	assert.Equal(t, 95.25, f)
}

func TestToFloat64_RejectsNullPgtypeNumeric(t *testing.T) {
	var n pgtype.Numeric
	require.NoError(t, n.Scan(nil))

	_, ok := toFloat64(n)
	assert.False(t, ok)
}

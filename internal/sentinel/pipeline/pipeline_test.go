package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/project-sentinel/pysentinel/internal/sentinel"
	"github.com/project-sentinel/pysentinel/internal/sentinel/channel"
)

type fakeChannel struct {
	name string
	mu   sync.Mutex
	sent []*sentinel.Violation
	err  error
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(ctx context.Context, v *sentinel.Violation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeChannel) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestDef(name, datasource string, channels ...string) *sentinel.AlertDefinition {
	return &sentinel.AlertDefinition{
		Name:           name,
		DatasourceName: datasource,
		AlertChannels:  channels,
		Severity:       sentinel.SeverityWarning,
		Enabled:        true,
	}
}

func TestPipeline_Submit_FiresOnceAndFansOut(t *testing.T) {
	ch := &fakeChannel{name: "slack1"}
	channels := channel.NewRegistry()
	channels.Register(ch)

	def := newTestDef("cpu_high", "db1", "slack1")
	p := New(Config{CooldownMinutes: 5, MaxHistory: 10, Definitions: []*sentinel.AlertDefinition{def}, Channels: channels, Logger: zap.NewNop()})

	v := sentinel.NewViolation(def, 95, time.Now().UTC())
	fired := p.Submit(context.Background(), v)

	assert.True(t, fired)
	assert.Equal(t, 1, ch.sentCount())
	assert.Len(t, p.ActiveViolations(), 1)
}

func TestPipeline_Submit_CooldownSuppressesDuplicate(t *testing.T) {
	ch := &fakeChannel{name: "slack1"}
	channels := channel.NewRegistry()
	channels.Register(ch)

	def := newTestDef("cpu_high", "db1", "slack1")
	p := New(Config{CooldownMinutes: 5, MaxHistory: 10, Definitions: []*sentinel.AlertDefinition{def}, Channels: channels, Logger: zap.NewNop()})

	now := time.Now().UTC()
	v1 := sentinel.NewViolation(def, 95, now)
	v2 := sentinel.NewViolation(def, 96, now.Add(30*time.Second))

	require.True(t, p.Submit(context.Background(), v1))
	assert.False(t, p.Submit(context.Background(), v2))
	assert.Equal(t, 1, ch.sentCount())
}

func TestPipeline_Submit_FiresAgainAfterCooldownElapses(t *testing.T) {
	ch := &fakeChannel{name: "slack1"}
	channels := channel.NewRegistry()
	channels.Register(ch)

	def := newTestDef("cpu_high", "db1", "slack1")
	p := New(Config{CooldownMinutes: 1, MaxHistory: 10, Definitions: []*sentinel.AlertDefinition{def}, Channels: channels, Logger: zap.NewNop()})

	now := time.Now().UTC()
	v1 := sentinel.NewViolation(def, 95, now)
	v2 := sentinel.NewViolation(def, 96, now.Add(2*time.Minute))

	require.True(t, p.Submit(context.Background(), v1))
	assert.True(t, p.Submit(context.Background(), v2))
	assert.Equal(t, 2, ch.sentCount())
}

func TestPipeline_Recover_ClearsActiveSet(t *testing.T) {
	channels := channel.NewRegistry()
	def := newTestDef("cpu_high", "db1")
	p := New(Config{CooldownMinutes: 5, MaxHistory: 10, Definitions: []*sentinel.AlertDefinition{def}, Channels: channels, Logger: zap.NewNop()})

	v := sentinel.NewViolation(def, 95, time.Now().UTC())
	p.Submit(context.Background(), v)
	require.Len(t, p.ActiveViolations(), 1)

	p.Recover(v.ActiveKey())
	assert.Empty(t, p.ActiveViolations())
}

func TestPipeline_History_BoundedByMaxHistory(t *testing.T) {
	channels := channel.NewRegistry()
	def := newTestDef("cpu_high", "db1")
	p := New(Config{CooldownMinutes: 0, MaxHistory: 2, Definitions: []*sentinel.AlertDefinition{def}, Channels: channels, Logger: zap.NewNop()})

	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		v := sentinel.NewViolation(def, float64(90+i), now.Add(time.Duration(i)*time.Second))
		p.Submit(context.Background(), v)
	}

	history := p.History(0)
	assert.Len(t, history, 2)
}

func TestPipeline_Acknowledge(t *testing.T) {
	channels := channel.NewRegistry()
	def := newTestDef("cpu_high", "db1")
	p := New(Config{CooldownMinutes: 5, MaxHistory: 10, Definitions: []*sentinel.AlertDefinition{def}, Channels: channels, Logger: zap.NewNop()})

	v := sentinel.NewViolation(def, 95, time.Now().UTC())
	p.Submit(context.Background(), v)

	assert.True(t, p.Acknowledge(v.ViolationID))
	assert.False(t, p.Acknowledge("nonexistent"))

	active := p.ActiveViolations()
	require.Len(t, active, 1)
	assert.True(t, active[0].Acknowledged)
}

func TestPipeline_HistorySince_SurvivesEvictionAfterSaturation(t *testing.T) {
	channels := channel.NewRegistry()
	def := newTestDef("cpu_high", "db1")
	p := New(Config{CooldownMinutes: 0, MaxHistory: 2, Definitions: []*sentinel.AlertDefinition{def}, Channels: channels, Logger: zap.NewNop()})

	now := time.Now().UTC()
	var cursor int64
	var seen []*sentinel.Violation
	for i := 0; i < 5; i++ {
		v := sentinel.NewViolation(def, float64(90+i), now.Add(time.Duration(i)*time.Second))
		p.Submit(context.Background(), v)

		var entries []*sentinel.Violation
		entries, cursor = p.HistorySince(cursor)
		seen = append(seen, entries...)
	}

	require.Len(t, seen, 5)
	for i, v := range seen {
		assert.Equal(t, float64(90+i), v.CurrentValue)
	}
}

func TestPipeline_HistorySince_SkipsEntriesEvictedBeforeRead(t *testing.T) {
	channels := channel.NewRegistry()
	def := newTestDef("cpu_high", "db1")
	p := New(Config{CooldownMinutes: 0, MaxHistory: 2, Definitions: []*sentinel.AlertDefinition{def}, Channels: channels, Logger: zap.NewNop()})

	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		v := sentinel.NewViolation(def, float64(90+i), now.Add(time.Duration(i)*time.Second))
		p.Submit(context.Background(), v)
	}

	entries, cursor := p.HistorySince(0)
	require.Len(t, entries, 2)
	assert.Equal(t, 93.0, entries[0].CurrentValue)
	assert.Equal(t, 94.0, entries[1].CurrentValue)
	assert.EqualValues(t, 5, cursor)

	entries, cursor = p.HistorySince(cursor)
	assert.Empty(t, entries)
	assert.EqualValues(t, 5, cursor)
}

func TestPipeline_FanOut_UnknownChannelDoesNotBlockOthers(t *testing.T) {
	known := &fakeChannel{name: "known"}
	channels := channel.NewRegistry()
	channels.Register(known)

	def := newTestDef("cpu_high", "db1", "unknown", "known")
	p := New(Config{CooldownMinutes: 5, MaxHistory: 10, Definitions: []*sentinel.AlertDefinition{def}, Channels: channels, Logger: zap.NewNop()})

	v := sentinel.NewViolation(def, 95, time.Now().UTC())
	fired := p.Submit(context.Background(), v)

	assert.True(t, fired)
	assert.Equal(t, 1, known.sentCount())
}

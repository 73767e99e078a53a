package datasource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct{ name string }

func (s *stubSource) Name() string                         { return s.name }
func (s *stubSource) Connect(ctx context.Context) error     { return nil }
func (s *stubSource) Close() error                          { return nil }
func (s *stubSource) HealthCheck(ctx context.Context) bool  { return true }
func (s *stubSource) Fetch(ctx context.Context, q string) (map[string]interface{}, error) {
	return map[string]interface{}{"value": 1}, nil
}

func TestState_RecordSuccess_ResetsErrorCount(t *testing.T) {
	s := NewState("db1", true, 3, 60, time.Second)
	s.RecordFailure()
	s.RecordFailure()
	s.RecordSuccess(time.Now())

	snap := s.Snapshot()
	assert.Equal(t, 0, snap.ErrorCount)
	assert.True(t, snap.Enabled)
}

func TestState_RecordFailure_AutoDisablesAtMax(t *testing.T) {
	s := NewState("db1", true, 3, 60, time.Second)

	assert.False(t, s.RecordFailure())
	assert.False(t, s.RecordFailure())
	assert.True(t, s.RecordFailure())

	assert.False(t, s.IsEnabled())
}

func TestState_RecordFailure_PastMaxStaysDisabledNoRetrigger(t *testing.T) {
	s := NewState("db1", true, 1, 60, time.Second)

	assert.True(t, s.RecordFailure())
	assert.False(t, s.RecordFailure())
	assert.False(t, s.IsEnabled())
}

func TestState_Enable_ResetsErrorCount(t *testing.T) {
	s := NewState("db1", true, 1, 60, time.Second)
	s.RecordFailure()
	require.False(t, s.IsEnabled())

	s.Enable()
	assert.True(t, s.IsEnabled())
	assert.Equal(t, 0, s.Snapshot().ErrorCount)
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	ds := &stubSource{name: "db1"}
	state := NewState("db1", true, 3, 60, time.Second)
	reg.Register(ds, state)

	got, gotState, ok := reg.Get("db1")
	require.True(t, ok)
	assert.Same(t, ds, got)
	assert.Same(t, state, gotState)

	_, _, ok = reg.Get("missing")
	assert.False(t, ok)
}

func TestRegistry_Names(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubSource{name: "a"}, NewState("a", true, 1, 1, time.Second))
	reg.Register(&stubSource{name: "b"}, NewState("b", true, 1, 1, time.Second))

	assert.ElementsMatch(t, []string{"a", "b"}, reg.Names())
}

func TestRegistry_CloseAll(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubSource{name: "a"}, NewState("a", true, 1, 1, time.Second))
	errs := reg.CloseAll()
	assert.Empty(t, errs)
}

package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_AssignsIDAndTimestamp(t *testing.T) {
	e := New(ConfigError, "bad config")
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, ConfigError, e.Code)
	assert.False(t, e.Timestamp.IsZero())
}

func TestError_MessageFormatting(t *testing.T) {
	e := New(ThresholdError, "malformed threshold")
	assert.Equal(t, "[THRESHOLD_ERROR] malformed threshold", e.Error())

	wrapped := Wrap(DataSourceError, "fetch failed", fmt.Errorf("dial tcp: refused"))
	assert.Contains(t, wrapped.Error(), "[DATASOURCE_ERROR]")
	assert.Contains(t, wrapped.Error(), "dial tcp: refused")
}

func TestError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("underlying failure")
	e := Wrap(ChannelError, "send failed", cause)

	assert.Same(t, cause, errors.Unwrap(e))
	assert.True(t, errors.Is(e, cause))
}

func TestError_WithContext(t *testing.T) {
	e := New(DataSourceError, "fetch failed").WithContext("datasource", "db1")
	assert.Equal(t, "db1", e.Context["datasource"])
}

func TestNewDataSourceError(t *testing.T) {
	e := NewDataSourceError("db1", fmt.Errorf("timeout"))
	assert.Equal(t, DataSourceError, e.Code)
	assert.Equal(t, "db1", e.Context["datasource"])
}

func TestNewChannelError(t *testing.T) {
	e := NewChannelError("slack1", fmt.Errorf("429"))
	assert.Equal(t, ChannelError, e.Code)
	assert.Equal(t, "slack1", e.Context["channel"])
}

func TestNewThresholdError(t *testing.T) {
	e := NewThresholdError("cpu_high", "both max and min set")
	assert.Equal(t, ThresholdError, e.Code)
	assert.Equal(t, "cpu_high", e.Context["alert_name"])
}

func TestIsRetryable(t *testing.T) {
	retryable := New(DataSourceError, "timeout")
	retryable.Retryable = true
	assert.True(t, IsRetryable(retryable))

	nonRetryable := New(ConfigError, "bad yaml")
	assert.False(t, IsRetryable(nonRetryable))

	require.False(t, IsRetryable(fmt.Errorf("plain error")))
}

func TestIsRetryable_UnwrapsWrappedError(t *testing.T) {
	inner := New(DataSourceError, "timeout")
	inner.Retryable = true
	outer := fmt.Errorf("context: %w", inner)

	assert.True(t, IsRetryable(outer))
}

package channel

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/project-sentinel/pysentinel/internal/sentinel"
)

func testViolation() *sentinel.Violation {
	def := &sentinel.AlertDefinition{
		Name:           "cpu_high",
		MetricKey:      "cpu",
		DatasourceName: "db1",
		Severity:       sentinel.SeverityCritical,
	}
	return sentinel.NewViolation(def, 95, time.Now().UTC())
}

func TestSlackChannel_Send_PostsAttachment(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewSlackChannel("slack1", map[string]interface{}{"webhook_url": srv.URL})
	err := ch.Send(context.Background(), testViolation())

	require.NoError(t, err)
	assert.Contains(t, string(gotBody), "cpu_high")
}

func TestSlackChannel_Send_ErrorOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ch := NewSlackChannel("slack1", map[string]interface{}{"webhook_url": srv.URL})
	err := ch.Send(context.Background(), testViolation())
	assert.Error(t, err)
}

func TestWebhookChannel_Send_DeliversOnFirstAttempt(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewWebhookChannel("webhook1", map[string]interface{}{"url": srv.URL}, time.Second)
	err := ch.Send(context.Background(), testViolation())

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWebhookChannel_Send_RetriesThenSucceeds(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewWebhookChannel("webhook1", map[string]interface{}{"url": srv.URL, "retry_count": 3}, time.Second)
	err := ch.Send(context.Background(), testViolation())

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestWebhookChannel_Send_SignsBodyWhenSecretPresent(t *testing.T) {
	var sig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sig = r.Header.Get("X-Sentinel-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewWebhookChannel("webhook1", map[string]interface{}{"url": srv.URL, "secret": "s3cr3t"}, time.Second)
	err := ch.Send(context.Background(), testViolation())

	require.NoError(t, err)
	assert.NotEmpty(t, sig)
}

func TestRegistry_GetAndResolve(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewSlackChannel("slack1", map[string]interface{}{"webhook_url": "http://example.com"}))

	ch, ok := reg.Get("slack1")
	require.True(t, ok)
	assert.Equal(t, "slack1", ch.Name())

	_, ok = reg.Get("missing")
	assert.False(t, ok)

	resolved, err := reg.Resolve([]string{"slack1"})
	require.NoError(t, err)
	assert.Len(t, resolved, 1)

	_, err = reg.Resolve([]string{"bogus"})
	assert.Error(t, err)
}

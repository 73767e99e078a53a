package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/project-sentinel/pysentinel/internal/config"
	serrors "github.com/project-sentinel/pysentinel/internal/errors"
	"github.com/project-sentinel/pysentinel/internal/sentinel"
)

// WebhookChannel POSTs the violation wire format (spec.md §6) to a
// configured URL, optionally signing the body when a secret is
// present. Retries are linear per spec.md §5 ("webhook's retry_count
// default 1, 1s linear backoff between attempts").
type WebhookChannel struct {
	name       string
	url        string
	secret     string
	retryCount int
	client     *http.Client
}

// NewWebhookChannel builds a webhook channel from its config options.
func NewWebhookChannel(name string, opts map[string]interface{}, timeout time.Duration) *WebhookChannel {
	url, _ := opts["url"].(string)
	secret, _ := opts["secret"].(string)
	retryCount := 1
	if v, ok := opts["retry_count"].(int); ok {
		retryCount = v
	}
	return &WebhookChannel{
		name:       name,
		url:        url,
		secret:     secret,
		retryCount: retryCount,
		client:     &http.Client{Timeout: timeout},
	}
}

func (w *WebhookChannel) Name() string { return w.name }

// signingKey derives a per-request-independent HMAC key from the
// configured secret via HKDF-SHA256, so the raw operator-supplied
// secret is never used as the MAC key directly.
func signingKey(secret string) ([]byte, error) {
	key := make([]byte, 32)
	reader := hkdf.New(sha256.New, []byte(secret), nil, []byte("pysentinel-webhook-signature"))
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

func (w *WebhookChannel) Send(ctx context.Context, v *sentinel.Violation) error {
	body, err := json.Marshal(v.ToMap())
	if err != nil {
		return serrors.NewChannelError(w.name, err)
	}

	url := config.ExpandEnv(w.url)
	attempts := w.retryCount
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return serrors.NewChannelError(w.name, ctx.Err())
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		lastErr = w.deliver(ctx, url, body)
		if lastErr == nil {
			return nil
		}
	}

	return serrors.NewChannelError(w.name, lastErr)
}

func (w *WebhookChannel) deliver(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	if w.secret != "" {
		key, err := signingKey(config.ExpandEnv(w.secret))
		if err != nil {
			return err
		}
		mac := hmac.New(sha256.New, key)
		mac.Write(body)
		req.Header.Set("X-Sentinel-Signature", hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

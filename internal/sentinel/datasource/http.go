package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/project-sentinel/pysentinel/internal/config"
	serrors "github.com/project-sentinel/pysentinel/internal/errors"
)

// HTTPConfig is the set of recognized options for the http datasource
// variant (spec.md §4.1 backend-specific options table).
type HTTPConfig struct {
	BaseURL string
	Headers map[string]string
}

// HTTPSource polls a JSON HTTP endpoint. It is stateless: Connect is a
// no-op per spec.md §4.1 ("No-op for stateless HTTP").
type HTTPSource struct {
	name    string
	cfg     HTTPConfig
	client  *http.Client
	timeout time.Duration
}

// NewHTTPSource builds an HTTP datasource from its config options.
func NewHTTPSource(name string, opts map[string]interface{}, timeout time.Duration) *HTTPSource {
	cfg := HTTPConfig{Headers: map[string]string{}}
	if v, ok := opts["base_url"].(string); ok {
		cfg.BaseURL = v
	}
	if h, ok := opts["headers"].(map[string]interface{}); ok {
		for k, v := range h {
			if s, ok := v.(string); ok {
				cfg.Headers[k] = s
			}
		}
	}
	return &HTTPSource{
		name:    name,
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

func (h *HTTPSource) Name() string { return h.name }

func (h *HTTPSource) Connect(ctx context.Context) error { return nil }

func (h *HTTPSource) Close() error { return nil }

func (h *HTTPSource) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.cfg.BaseURL, nil)
	if err != nil {
		return false
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

// Fetch treats query as a path (absolute or relative to BaseURL) and
// expects a JSON object response, which becomes the metric map
// directly.
func (h *HTTPSource) Fetch(ctx context.Context, query string) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	url := query
	if h.cfg.BaseURL != "" {
		url = h.cfg.BaseURL + query
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, serrors.NewDataSourceError(h.name, err)
	}
	for k, v := range h.cfg.Headers {
		req.Header.Set(k, config.ExpandEnv(v))
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, serrors.NewDataSourceError(h.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, serrors.NewDataSourceError(h.name, fmt.Errorf("http status %d", resp.StatusCode))
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, serrors.NewDataSourceError(h.name, fmt.Errorf("decoding response: %w", err))
	}

	return result, nil
}

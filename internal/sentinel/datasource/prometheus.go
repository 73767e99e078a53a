package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	serrors "github.com/project-sentinel/pysentinel/internal/errors"
)

// PrometheusSource issues an instant query against a Prometheus-
// compatible HTTP API. No Prometheus client library is wired here (the
// retrieved corpus carries none) — this is a thin net/http adapter in
// the same vein as the teacher's own connection wrappers, exercising
// only the stable /api/v1/query HTTP contract.
type PrometheusSource struct {
	name    string
	baseURL string
	client  *http.Client
}

// NewPrometheusSource builds a Prometheus datasource from its config
// options.
func NewPrometheusSource(name string, opts map[string]interface{}, timeout time.Duration) *PrometheusSource {
	baseURL, _ := opts["base_url"].(string)
	return &PrometheusSource{
		name:    name,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *PrometheusSource) Name() string { return p.name }

func (p *PrometheusSource) Connect(ctx context.Context) error { return nil }

func (p *PrometheusSource) Close() error { return nil }

func (p *PrometheusSource) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/-/healthy", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// promResponse models the subset of the /api/v1/query response this
// adapter consumes.
type promResponse struct {
	Status string `json:"status"`
	Data   struct {
		ResultType string `json:"resultType"`
		Result     []struct {
			Metric map[string]string `json:"metric"`
			Value  []interface{}     `json:"value"`
		} `json:"result"`
	} `json:"data"`
}

// Fetch treats query as a PromQL expression and returns one metric
// entry per result series, keyed by its "__name__" label (or "value"
// if the series is unlabeled).
func (p *PrometheusSource) Fetch(ctx context.Context, query string) (map[string]interface{}, error) {
	endpoint := p.baseURL + "/api/v1/query?" + url.Values{"query": {query}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, serrors.NewDataSourceError(p.name, err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, serrors.NewDataSourceError(p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, serrors.NewDataSourceError(p.name, fmt.Errorf("prometheus status %d", resp.StatusCode))
	}

	var parsed promResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, serrors.NewDataSourceError(p.name, fmt.Errorf("decoding response: %w", err))
	}
	if parsed.Status != "success" {
		return nil, serrors.NewDataSourceError(p.name, fmt.Errorf("prometheus query status %q", parsed.Status))
	}

	result := make(map[string]interface{}, len(parsed.Data.Result))
	for _, series := range parsed.Data.Result {
		key := "value"
		if name, ok := series.Metric["__name__"]; ok {
			key = name
		}
		if len(series.Value) != 2 {
			continue
		}
		if s, ok := series.Value[1].(string); ok {
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				result[key] = f
				continue
			}
		}
		result[key] = series.Value[1]
	}

	return result, nil
}

package datasource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/project-sentinel/pysentinel/internal/config"
	serrors "github.com/project-sentinel/pysentinel/internal/errors"
)

// ElasticsearchConfig is the set of recognized options for the
// elasticsearch datasource variant.
type ElasticsearchConfig struct {
	BaseURL  string
	Index    string
	Username string
	Password string
}

// ElasticsearchSource runs a query-string search against a single
// index. Like PrometheusSource, no Elasticsearch client is wired (none
// is grounded anywhere in the retrieved corpus) — this is a thin
// net/http adapter over the documented _search HTTP contract, with
// query treated as an opaque query_string expression.
type ElasticsearchSource struct {
	name   string
	cfg    ElasticsearchConfig
	client *http.Client
}

// NewElasticsearchSource builds an Elasticsearch datasource from its
// config options.
func NewElasticsearchSource(name string, opts map[string]interface{}, timeout time.Duration) *ElasticsearchSource {
	cfg := ElasticsearchConfig{}
	if v, ok := opts["base_url"].(string); ok {
		cfg.BaseURL = v
	}
	if v, ok := opts["index"].(string); ok {
		cfg.Index = v
	}
	if v, ok := opts["username"].(string); ok {
		cfg.Username = v
	}
	if v, ok := opts["password"].(string); ok {
		cfg.Password = v
	}
	return &ElasticsearchSource{
		name:   name,
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (e *ElasticsearchSource) Name() string { return e.name }

func (e *ElasticsearchSource) Connect(ctx context.Context) error { return nil }

func (e *ElasticsearchSource) Close() error { return nil }

func (e *ElasticsearchSource) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.BaseURL+"/_cluster/health", nil)
	if err != nil {
		return false
	}
	e.setAuth(req)
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (e *ElasticsearchSource) setAuth(req *http.Request) {
	if e.cfg.Username != "" {
		req.SetBasicAuth(config.ExpandEnv(e.cfg.Username), config.ExpandEnv(e.cfg.Password))
	}
}

type esSearchResponse struct {
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []struct {
			Source map[string]interface{} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
	Aggregations map[string]struct {
		Value interface{} `json:"value"`
	} `json:"aggregations"`
}

// Fetch treats query as a Lucene query_string expression, searches the
// configured index, and returns the hit count plus any aggregation
// values as metrics, along with the first hit's source fields.
func (e *ElasticsearchSource) Fetch(ctx context.Context, query string) (map[string]interface{}, error) {
	body, err := json.Marshal(map[string]interface{}{
		"query": map[string]interface{}{
			"query_string": map[string]interface{}{
				"query": query,
			},
		},
	})
	if err != nil {
		return nil, serrors.NewDataSourceError(e.name, err)
	}

	endpoint := fmt.Sprintf("%s/%s/_search", e.cfg.BaseURL, e.cfg.Index)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, serrors.NewDataSourceError(e.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	e.setAuth(req)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, serrors.NewDataSourceError(e.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, serrors.NewDataSourceError(e.name, fmt.Errorf("elasticsearch status %d", resp.StatusCode))
	}

	var parsed esSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, serrors.NewDataSourceError(e.name, fmt.Errorf("decoding response: %w", err))
	}

	result := map[string]interface{}{
		"hit_count": float64(parsed.Hits.Total.Value),
	}
	for name, agg := range parsed.Aggregations {
		result[name] = agg.Value
	}
	if len(parsed.Hits.Hits) > 0 {
		for k, v := range parsed.Hits.Hits[0].Source {
			result[k] = v
		}
	}

	return result, nil
}

package datasource

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/project-sentinel/pysentinel/internal/config"
	serrors "github.com/project-sentinel/pysentinel/internal/errors"
)

// PostgresConfig is the set of recognized options for the postgresql
// datasource variant.
type PostgresConfig struct {
	DSN string
}

// PostgresSource runs a configured SQL query and expects a single row
// whose columns become the metric map, mirroring the teacher's
// DatabaseManager connection-pool wrapper (internal/database/manager.go)
// adapted to the query-per-fetch shape the spec requires.
type PostgresSource struct {
	name string
	dsn  string

	mu   sync.Mutex
	pool *pgxpool.Pool
}

// NewPostgresSource builds a Postgres datasource from its config
// options. The connection pool is established lazily on first Fetch or
// explicit Connect, per spec.md §4.1 ("lazily opened on first fetch").
func NewPostgresSource(name string, opts map[string]interface{}) *PostgresSource {
	dsn, _ := opts["dsn"].(string)
	return &PostgresSource{name: name, dsn: dsn}
}

func (p *PostgresSource) Name() string { return p.name }

func (p *PostgresSource) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool != nil {
		return nil
	}
	pool, err := pgxpool.New(ctx, config.ExpandEnv(p.dsn))
	if err != nil {
		return serrors.NewDataSourceError(p.name, fmt.Errorf("creating pool: %w", err))
	}
	p.pool = pool
	return nil
}

func (p *PostgresSource) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool != nil {
		p.pool.Close()
		p.pool = nil
	}
	return nil
}

func (p *PostgresSource) HealthCheck(ctx context.Context) bool {
	p.mu.Lock()
	pool := p.pool
	p.mu.Unlock()
	if pool == nil {
		return false
	}
	return pool.Ping(ctx) == nil
}

// Fetch runs query and flattens the first returned row into a
// metric-name→value map using the result's column names.
func (p *PostgresSource) Fetch(ctx context.Context, query string) (map[string]interface{}, error) {
	if err := p.Connect(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	pool := p.pool
	p.mu.Unlock()

	rows, err := pool.Query(ctx, query)
	if err != nil {
		return nil, serrors.NewDataSourceError(p.name, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, serrors.NewDataSourceError(p.name, err)
		}
		return map[string]interface{}{}, nil
	}

	values, err := rows.Values()
	if err != nil {
		return nil, serrors.NewDataSourceError(p.name, err)
	}

	result := make(map[string]interface{}, len(values))
	for i, field := range rows.FieldDescriptions() {
		result[string(field.Name)] = values[i]
	}

	return result, nil
}

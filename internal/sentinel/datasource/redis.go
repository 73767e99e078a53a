package datasource

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/project-sentinel/pysentinel/internal/config"
	serrors "github.com/project-sentinel/pysentinel/internal/errors"
)

// RedisSourceConfig is the set of recognized options for the redis
// datasource variant, adapted from the teacher's cache.RedisCache.
type RedisSourceConfig struct {
	Address  string
	Password string
	DB       int
}

// RedisSource polls a Redis instance. The query string names either a
// single key to GET (numeric values become metric "value") or the
// literal "INFO" to fetch server INFO stats, in which case every
// numeric field in the default section becomes its own metric.
type RedisSource struct {
	name string
	cfg  RedisSourceConfig

	mu     sync.Mutex
	client *redis.Client
}

// NewRedisSource builds a Redis datasource from its config options.
func NewRedisSource(name string, opts map[string]interface{}) *RedisSource {
	cfg := RedisSourceConfig{Address: "localhost:6379"}
	if v, ok := opts["address"].(string); ok {
		cfg.Address = v
	}
	if v, ok := opts["password"].(string); ok {
		cfg.Password = v
	}
	if v, ok := opts["db"].(int); ok {
		cfg.DB = v
	}
	return &RedisSource{name: name, cfg: cfg}
}

func (r *RedisSource) Name() string { return r.name }

func (r *RedisSource) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     r.cfg.Address,
		Password: config.ExpandEnv(r.cfg.Password),
		DB:       r.cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return serrors.NewDataSourceError(r.name, err)
	}
	r.client = client
	return nil
}

func (r *RedisSource) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		err := r.client.Close()
		r.client = nil
		return err
	}
	return nil
}

func (r *RedisSource) HealthCheck(ctx context.Context) bool {
	r.mu.Lock()
	client := r.client
	r.mu.Unlock()
	if client == nil {
		return false
	}
	return client.Ping(ctx).Err() == nil
}

func (r *RedisSource) Fetch(ctx context.Context, query string) (map[string]interface{}, error) {
	if err := r.Connect(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	client := r.client
	r.mu.Unlock()

	if strings.EqualFold(query, "INFO") {
		return r.fetchInfo(ctx, client)
	}

	val, err := client.Get(ctx, query).Result()
	if err == redis.Nil {
		return map[string]interface{}{}, nil
	}
	if err != nil {
		return nil, serrors.NewDataSourceError(r.name, err)
	}

	result := map[string]interface{}{"value": val}
	if f, err := strconv.ParseFloat(val, 64); err == nil {
		result["value"] = f
	}
	return result, nil
}

func (r *RedisSource) fetchInfo(ctx context.Context, client *redis.Client) (map[string]interface{}, error) {
	info, err := client.Info(ctx).Result()
	if err != nil {
		return nil, serrors.NewDataSourceError(r.name, err)
	}

	result := make(map[string]interface{})
	for _, line := range strings.Split(info, "\r\n") {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key, raw := parts[0], parts[1]
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			result[key] = f
		} else {
			result[key] = raw
		}
	}
	return result, nil
}

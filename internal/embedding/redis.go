package embedding

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/gomodule/redigo/redis"

	"github.com/thebtf/clusterd/pkg/models"
)

// RedisKeyPrefix namespaces embedding keys in Redis.
const RedisKeyPrefix = "embedding:"

// RedisProvider reads embeddings from a Redis cache shared with the producer.
// Values are either a JSON array of numbers or a little-endian float32 blob.
type RedisProvider struct {
	pool *redis.Pool
}

// NewRedisProvider connects lazily to the Redis server at url (redis://...).
func NewRedisProvider(url string) *RedisProvider {
	return NewRedisProviderWithPool(&redis.Pool{
		MaxIdle:     4,
		IdleTimeout: 4 * time.Minute,
		Dial: func() (redis.Conn, error) {
			return redis.DialURL(url,
				redis.DialConnectTimeout(5*time.Second),
				redis.DialReadTimeout(5*time.Second),
			)
		},
	})
}

// NewRedisProviderWithPool uses an existing pool.
func NewRedisProviderWithPool(pool *redis.Pool) *RedisProvider {
	return &RedisProvider{pool: pool}
}

// Close releases pooled connections.
func (p *RedisProvider) Close() error {
	return p.pool.Close()
}

func (p *RedisProvider) GetEmbedding(ctx context.Context, sessionID string) (models.Embedding, bool, error) {
	conn, err := p.pool.GetContext(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("redis connection: %w", err)
	}
	defer conn.Close()

	raw, err := redis.Bytes(conn.Do("GET", RedisKeyPrefix+sessionID))
	if errors.Is(err, redis.ErrNil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", sessionID, err)
	}

	vec, err := decodeValue(raw)
	if err != nil {
		return nil, false, fmt.Errorf("session %s: %w", sessionID, err)
	}
	return vec, vec.Available(), nil
}

// GetEmbeddings fetches many keys with one MGET.
func (p *RedisProvider) GetEmbeddings(ctx context.Context, ids []string) (map[string]models.Embedding, error) {
	result := make(map[string]models.Embedding, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	conn, err := p.pool.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("redis connection: %w", err)
	}
	defer conn.Close()

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = RedisKeyPrefix + id
	}
	values, err := redis.ByteSlices(conn.Do("MGET", args...))
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}

	for i, raw := range values {
		if i >= len(ids) || raw == nil {
			continue
		}
		vec, err := decodeValue(raw)
		if err != nil {
			continue
		}
		if vec.Available() {
			result[ids[i]] = vec
		}
	}
	return result, nil
}

// decodeValue accepts a JSON array or a raw float32 blob.
func decodeValue(raw []byte) (models.Embedding, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 1 && trimmed[0] == '[' && trimmed[len(trimmed)-1] == ']' {
		var vec models.Embedding
		if err := json.Unmarshal(trimmed, &vec); err == nil {
			return vec, nil
		}
	}
	return models.DecodeEmbedding(raw)
}

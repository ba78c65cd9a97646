package degrade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares degradation state across a fleet of gateway instances,
// the way the teacher's internal/storage/cache wraps go-redis for the
// token store: a thin adapter satisfying this package's own Store
// interface rather than a general-purpose cache client.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore connects to addr and fails fast if the ping doesn't
// succeed, matching the teacher's NewRedisClient behavior.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("degrade: redis ping failed: %w", err)
	}

	return &RedisStore{rdb: rdb, prefix: "sygnal:degraded:"}, nil
}

func (s *RedisStore) MarkDegraded(ctx context.Context, key string, ttl time.Duration) error {
	return s.rdb.Set(ctx, s.prefix+key, "1", ttl).Err()
}

func (s *RedisStore) IsDegraded(ctx context.Context, key string) (bool, error) {
	err := s.rdb.Get(ctx, s.prefix+key).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

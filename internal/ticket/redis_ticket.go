package ticket

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisSequencer keeps the daily ticket counter in Redis, so numbering
// survives restarts and stays consistent across replicas.
type RedisSequencer struct {
	client *redis.Client
}

func NewRedisSequencer(addr string, password string, db int) *RedisSequencer {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisSequencer{client: client}
}

func (s *RedisSequencer) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisSequencer) Close() error {
	return s.client.Close()
}

func (s *RedisSequencer) Next(ctx context.Context, day time.Time) (int64, error) {
	key := "ticket:" + day.UTC().Format("2006-01-02")

	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	// Keep yesterday's key around briefly for debugging, then let it expire.
	if n == 1 {
		_ = s.client.Expire(ctx, key, 48*time.Hour).Err()
	}
	return n, nil
}

package visit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisCounterTTL = 48 * time.Hour

// RedisCounter uses INCR on one key per day. Keys expire after two days.
// When INCR returns 1 the key was new or lost with Redis data, so the caller
// that created it advances the key past the visits already stored that day.
type RedisCounter struct {
	client redis.Cmdable
	prefix string
	seed   DaySeeder
}

// NewRedisCounter builds a counter; seed may be nil when no visits can
// predate the key.
func NewRedisCounter(client redis.Cmdable, prefix string, seed DaySeeder) *RedisCounter {
	if prefix == "" {
		prefix = "visitflow:visit_number:"
	}
	return &RedisCounter{client: client, prefix: prefix, seed: seed}
}

func (c *RedisCounter) Next(ctx context.Context, day string) (int64, error) {
	key := c.prefix + day
	var incr *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, redisCounterTTL)
		return nil
	})
	if err != nil {
		return 0, err
	}
	seq := incr.Val()
	if seq != 1 || c.seed == nil {
		return seq, nil
	}

	stored, err := c.seed(ctx, day)
	if err != nil {
		return 0, fmt.Errorf("seed visit counter for %s: %w", day, err)
	}
	if stored == 0 {
		return seq, nil
	}
	// INCRBY keeps numbers handed out to concurrent callers meanwhile distinct.
	return c.client.IncrBy(ctx, key, stored).Result()
}

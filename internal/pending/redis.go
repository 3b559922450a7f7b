package pending

import (
	"context"
	"fmt"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/redis/go-redis/v9"
)

var log = logger.GetLogger("wsclient/pending")

// DefaultRedisKey is the list used when no key is configured
const DefaultRedisKey = "wsclient:pending"

// Redis keeps the queue in a Redis list so buffered messages survive a
// process restart. Several clients must not share one key.
type Redis struct {
	client redis.Cmdable
	key    string
}

// NewRedis creates a queue stored under key. An empty key uses
// DefaultRedisKey.
func NewRedis(client redis.Cmdable, key string) *Redis {
	if key == "" {
		key = DefaultRedisKey
	}
	return &Redis{client: client, key: key}
}

// Key returns the Redis list name.
func (r *Redis) Key() string {
	return r.key
}

func (r *Redis) Push(ctx context.Context, buf []byte) error {
	if err := r.client.RPush(ctx, r.key, buf).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", r.key, err)
	}
	return nil
}

// Flush reads and deletes the list in one transaction.
func (r *Redis) Flush(ctx context.Context) ([][]byte, error) {
	var items *redis.StringSliceCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		items = pipe.LRange(ctx, r.key, 0, -1)
		pipe.Del(ctx, r.key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("flush %s: %w", r.key, err)
	}

	vals, err := items.Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", r.key, err)
	}
	if len(vals) == 0 {
		return nil, nil
	}
	log.Debugf("flushed %d messages from %s", len(vals), r.key)
	bufs := make([][]byte, len(vals))
	for i, v := range vals {
		bufs[i] = []byte(v)
	}
	return bufs, nil
}

// Requeue pushes bufs onto the head of the list. LPUSH inserts its values
// one by one, so they are passed last first.
func (r *Redis) Requeue(ctx context.Context, bufs [][]byte) error {
	if len(bufs) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(bufs))
	for i := len(bufs) - 1; i >= 0; i-- {
		values = append(values, bufs[i])
	}
	if err := r.client.LPush(ctx, r.key, values...).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", r.key, err)
	}
	return nil
}

func (r *Redis) Clear(ctx context.Context) error {
	n, err := r.client.Del(ctx, r.key).Result()
	if err != nil {
		return fmt.Errorf("del %s: %w", r.key, err)
	}
	if n > 0 {
		log.Debugf("cleared %s", r.key)
	}
	return nil
}

func (r *Redis) Len(ctx context.Context) (int, error) {
	n, err := r.client.LLen(ctx, r.key).Result()
	if err != nil {
		return 0, fmt.Errorf("llen %s: %w", r.key, err)
	}
	return int(n), nil
}

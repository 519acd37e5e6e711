package usage

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisDeadLetter is a Redis list holding usage entries whose primary write
// failed. Entries are pushed on the left and replayed from the right, so
// replay preserves arrival order.
type RedisDeadLetter struct {
	client *redis.Client
	key    string
}

func NewRedisDeadLetter(client *redis.Client, key string) *RedisDeadLetter {
	if key == "" {
		key = "usage:dlq"
	}
	return &RedisDeadLetter{client: client, key: key}
}

var _ DeadLetter = (*RedisDeadLetter)(nil)

func (d *RedisDeadLetter) Push(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return d.client.LPush(ctx, d.key, data).Err()
}

// Pop returns the oldest buffered entry, or nil when the queue is empty.
func (d *RedisDeadLetter) Pop(ctx context.Context) (*Entry, error) {
	data, err := d.client.RPop(ctx, d.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Len reports how many entries are waiting for replay.
func (d *RedisDeadLetter) Len(ctx context.Context) (int64, error) {
	return d.client.LLen(ctx, d.key).Result()
}

package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockScript deletes the key only if it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Redis is a Locker shared by every process pointing at the same Redis.
// Each key is a SET NX PX entry carrying a per-acquisition token; the TTL
// bounds how long a crashed holder can block others.
type Redis struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

// NewRedis creates and tests a new connection to Redis.
func NewRedis(ctx context.Context, addr string, ttl time.Duration) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Redis{rdb: rdb, prefix: "bankcards:lock:", ttl: ttl, retry: 10 * time.Millisecond}, nil
}

func (r *Redis) Acquire(ctx context.Context, keys ...string) (func(), error) {
	ordered := orderKeys(keys)
	token := uuid.NewString()
	held := make([]string, 0, len(ordered))

	for _, k := range ordered {
		if err := r.acquireOne(ctx, r.prefix+k, token); err != nil {
			r.release(held, token)
			return nil, err
		}
		held = append(held, r.prefix+k)
	}

	var once sync.Once
	return func() {
		once.Do(func() { r.release(held, token) })
	}, nil
}

func (r *Redis) acquireOne(ctx context.Context, key, token string) error {
	for {
		ok, err := r.rdb.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return ErrTimeout
			}
			return fmt.Errorf("redis SETNX failed: %w", err)
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrTimeout
			}
			return ctx.Err()
		case <-time.After(r.retry):
		}
	}
}

func (r *Redis) release(held []string, token string) {
	// the caller's context may already be done; unlocking must still happen
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := len(held) - 1; i >= 0; i-- {
		_ = unlockScript.Run(ctx, r.rdb, []string{held[i]}, token).Err()
	}
}

// Close gracefully closes the Redis connection.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

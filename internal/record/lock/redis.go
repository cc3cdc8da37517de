package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultLeaseTTL = 30 * time.Second
	pollInterval    = 25 * time.Millisecond
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker shared by every process pointed at the same Redis.
type Redis struct {
	client  redis.UniversalClient
	timeout time.Duration
	lease   time.Duration
}

// NewRedis returns a Redis locker. lease bounds how long a crashed holder can
// block others.
func NewRedis(client redis.UniversalClient, timeout, lease time.Duration) *Redis {
	if lease <= 0 {
		lease = defaultLeaseTTL
	}
	return &Redis{client: client, timeout: timeout, lease: lease}
}

func (r *Redis) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return lockAborted(err)
	}
	ctx, cancel := withDefaultTimeout(ctx, r.timeout)
	defer cancel()

	token := uuid.NewString()
	if err := r.acquire(ctx, key, token); err != nil {
		return err
	}
	defer func() {
		// The caller's context may already be done; release regardless.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, r.client, []string{key}, token).Err()
	}()

	return fn(ctx)
}

func (r *Redis) acquire(ctx context.Context, key, token string) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, key, token, r.lease).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return lockAborted(ctx.Err())
			}
			return fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return lockAborted(ctx.Err())
		case <-ticker.C:
		}
	}
}

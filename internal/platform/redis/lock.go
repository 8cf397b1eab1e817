package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock key only if it still holds our token, so a
// lock that expired and was re-acquired by another process is never released
// by the original holder.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// Lock is a best-effort distributed lock keyed by task name. Used to keep
// background tasks single-flight across worker processes.
type Lock struct {
	client *Client
	key    string
	ttl    time.Duration
	token  string
}

// NewLock creates a lock on the given key with the given expiry.
func (c *Client) NewLock(key string, ttl time.Duration) *Lock {
	return &Lock{client: c, key: key, ttl: ttl}
}

// TryAcquire attempts to take the lock without blocking. Returns false when
// another holder owns it.
func (l *Lock) TryAcquire(ctx context.Context) (bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		l.token = token
	}
	return ok, nil
}

// Release gives the lock up if this instance still holds it.
func (l *Lock) Release(ctx context.Context) error {
	if l.token == "" {
		return nil
	}
	err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
	l.token = ""
	if err == redis.Nil {
		return nil
	}
	return err
}

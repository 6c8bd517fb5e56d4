package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultLockTTL        = 5 * time.Second
	defaultLockRetryDelay = 25 * time.Millisecond
	defaultLockWait       = 3 * time.Second
)

// ErrLockTimeout is returned when the user lock could not be acquired in time
var ErrLockTimeout = errors.New("timed out waiting for user lock")

// releaseScript deletes the lock only if it is still owned by the caller
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLockConfig holds Redis user lock settings
type RedisLockConfig struct {
	Prefix     string
	TTL        time.Duration // lock lease; bounds how long a crashed holder blocks others
	RetryDelay time.Duration
	MaxWait    time.Duration
}

// RedisUserLocker serializes per-user work across instances with SET NX leases
type RedisUserLocker struct {
	client redis.UniversalClient
	config RedisLockConfig
}

// NewRedisUserLocker creates a new RedisUserLocker
func NewRedisUserLocker(client redis.UniversalClient, config RedisLockConfig) *RedisUserLocker {
	if config.Prefix == "" {
		config.Prefix = "mfa_lock"
	}
	if config.TTL <= 0 {
		config.TTL = defaultLockTTL
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = defaultLockRetryDelay
	}
	if config.MaxWait <= 0 {
		config.MaxWait = defaultLockWait
	}

	return &RedisUserLocker{
		client: client,
		config: config,
	}
}

func (l *RedisUserLocker) key(userID string) string {
	return l.config.Prefix + ":" + userID
}

// Lock acquires the user's lease, retrying until MaxWait or ctx is done
func (l *RedisUserLocker) Lock(ctx context.Context, userID string) (func(), error) {
	key := l.key(userID)
	owner := uuid.New().String()

	waitCtx, cancel := context.WithTimeout(ctx, l.config.MaxWait)
	defer cancel()

	ticker := time.NewTicker(l.config.RetryDelay)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(waitCtx, key, owner, l.config.TTL).Result()
		if err != nil {
			if waitCtx.Err() != nil && ctx.Err() == nil {
				return nil, ErrLockTimeout
			}
			return nil, fmt.Errorf("failed to acquire user lock: %w", err)
		}
		if ok {
			break
		}

		select {
		case <-ticker.C:
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, ErrLockTimeout
		}
	}

	return func() {
		// Use a fresh context so the lease is released even if the request was cancelled
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.client, []string{key}, owner).Err()
	}, nil
}

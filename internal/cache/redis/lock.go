package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/algomarkets/internal/domain"
)

// unlockScript deletes the key only while it still holds our token, so an
// expired lock taken over by another run is never released by us.
var unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// unlockTimeout bounds the release call, which runs on a fresh context.
const unlockTimeout = 5 * time.Second

// LockManager implements domain.LockManager with SET NX + TTL.
type LockManager struct {
	client *Client
	logger *slog.Logger
}

// NewLockManager creates a LockManager.
func NewLockManager(c *Client, logger *slog.Logger) *LockManager {
	return &LockManager{
		client: c,
		logger: logger.With(slog.String("component", "lock")),
	}
}

// LockKey is the Redis key guarding key within namespace.
func LockKey(namespace, key string) string {
	return namespacedKey(namespace, "lock", key)
}

// Acquire takes the lock or fails with domain.ErrLockHeld. The returned
// unlock func may be called more than once.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	k := LockKey(lm.client.namespace, key)
	rdb := lm.client.rdb

	ok, err := rdb.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire %s: %w", k, err)
	}
	if !ok {
		if left, err := rdb.PTTL(ctx, k).Result(); err == nil && left > 0 {
			return nil, fmt.Errorf("redis: %s expires in %s: %w", k, left.Round(time.Second), domain.ErrLockHeld)
		}
		return nil, fmt.Errorf("redis: %s: %w", k, domain.ErrLockHeld)
	}
	lm.logger.InfoContext(ctx, "lock acquired", slog.String("key", k), slog.Duration("ttl", ttl))

	var once sync.Once
	return func() {
		once.Do(func() {
			uctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
			defer cancel()
			if err := unlockScript.Run(uctx, rdb, []string{k}, token).Err(); err != nil {
				lm.logger.Warn("lock release failed", slog.String("key", k), slog.String("error", err.Error()))
				return
			}
			lm.logger.Info("lock released", slog.String("key", k))
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)

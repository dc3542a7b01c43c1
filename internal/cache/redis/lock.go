package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/tradeideas/internal/domain"
)

// unlockLua deletes a lock key only if it still holds the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager implements domain.LockManager with SET NX + TTL and a
// token-checked Lua unlock. The lifecycle services take one lock per idea
// or transaction id while they promote or sell it.
type LockManager struct {
	rdb      *redis.Client
	unlockSc *redis.Script
	logger   *slog.Logger
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client, logger *slog.Logger) *LockManager {
	return &LockManager{
		rdb:      c.Underlying(),
		unlockSc: redis.NewScript(unlockLua),
		logger:   logger,
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// Acquire obtains the lock for key or returns domain.ErrLockHeld. The
// returned unlock func is idempotent.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: lock %s: %w", key, domain.ErrLockHeld)
	}

	acquired := time.Now()
	var once sync.Once
	unlock := func() {
		once.Do(func() { lm.release(key, token, acquired, ttl) })
	}
	return unlock, nil
}

// release deletes the lock if it still carries token. A lock that expired
// first means the holder ran past its TTL and another caller may have taken
// the same idea or transaction.
func (lm *LockManager) release(key, token string, acquired time.Time, ttl time.Duration) {
	// The caller's context may already be cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	n, err := lm.unlockSc.Run(ctx, lm.rdb, []string{lockKey(key)}, token).Int64()
	switch {
	case err != nil:
		lm.logger.Warn("redis: release lock failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	case n == 0:
		lm.logger.Warn("redis: lock expired before release",
			slog.String("key", key),
			slog.Duration("held", time.Since(acquired)),
			slog.Duration("ttl", ttl),
		)
	}
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)

package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Deletes the key only if the caller still owns it.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// Extends the TTL only if the caller still owns it.
const refreshLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

var (
	unlockScript  = redis.NewScript(unlockLua)
	refreshScript = redis.NewScript(refreshLua)
)

// ErrLost is returned by Refresh once another holder owns the key.
var ErrLost = errors.New("lock: lease lost")

// Redis is a leased lock for deployments that share state through Redis.
// The lease expires after TTL unless refreshed, so a crashed holder frees
// it on its own.
type Redis struct {
	rdb   *redis.Client
	key   string
	token string
	ttl   time.Duration

	once sync.Once
}

// AcquireRedis takes key with SETNX. It returns ErrHeld if another token
// holds it.
func AcquireRedis(ctx context.Context, rdb *redis.Client, key string, ttl time.Duration) (*Redis, error) {
	token := uuid.New().String()
	ok, err := rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (%s)", ErrHeld, key)
	}
	return &Redis{rdb: rdb, key: key, token: token, ttl: ttl}, nil
}

// Refresh pushes the expiry out by another TTL.
func (l *Redis) Refresh(ctx context.Context) error {
	n, err := refreshScript.Run(ctx, l.rdb, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("lock: refresh %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrLost
	}
	return nil
}

// Keep refreshes the lease every TTL/3 until ctx ends. It returns ErrLost
// if the lease was taken over; transient refresh errors are logged.
func (l *Redis) Keep(ctx context.Context, logger *slog.Logger) error {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			err := l.Refresh(ctx)
			if errors.Is(err, ErrLost) {
				return err
			}
			if err != nil && ctx.Err() == nil {
				logger.Warn("lock refresh failed", slog.String("key", l.key), slog.String("error", err.Error()))
			}
		}
	}
}

// Release deletes the key if it is still ours. Safe to call more than once.
func (l *Redis) Release() error {
	var err error
	l.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = unlockScript.Run(ctx, l.rdb, []string{l.key}, l.token).Err()
	})
	return err
}

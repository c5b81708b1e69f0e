package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/rustyeddy/trailguard/exchange"
)

// DefaultRedisPrefix namespaces trailing-state keys.
const DefaultRedisPrefix = "trailguard:trail:"

// Redis stores each key as a JSON string under Prefix+Key.Name.
type Redis struct {
	rdb    *redis.Client
	Prefix string
	Logger *slog.Logger // nil means slog.Default
}

type redisRecord struct {
	Symbol string        `json:"symbol"`
	Side   exchange.Side `json:"side"`
	Trailing
}

// NewRedis wraps an existing client. The caller owns the client unless it
// calls Close on the store.
func NewRedis(rdb *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{rdb: rdb, Prefix: prefix}
}

func (r *Redis) key(k Key) string { return r.Prefix + k.Name() }

func (r *Redis) Get(ctx context.Context, key Key) (Trailing, error) {
	b, err := r.rdb.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Trailing{}, ErrNotFound
	}
	if err != nil {
		return Trailing{}, fmt.Errorf("redis state: get %s: %w", key, err)
	}
	var rec redisRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return Trailing{}, fmt.Errorf("redis state: decode %s: %w", key, err)
	}
	return rec.Trailing, nil
}

func (r *Redis) Put(ctx context.Context, key Key, t Trailing) error {
	if err := key.Validate(); err != nil {
		return err
	}
	b, err := json.Marshal(redisRecord{Symbol: key.Symbol, Side: key.Side, Trailing: t})
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, r.key(key), b, 0).Err(); err != nil {
		return fmt.Errorf("redis state: set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key Key) error {
	if err := r.rdb.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis state: del %s: %w", key, err)
	}
	return nil
}

// List scans every key under Prefix. Corrupt or keyless values are logged and
// skipped like the file backend does.
func (r *Redis) List(ctx context.Context) ([]Record, error) {
	var out []Record
	iter := r.rdb.Scan(ctx, 0, r.Prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		b, err := r.rdb.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			// deleted between SCAN and GET
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis state: get %s: %w", iter.Val(), err)
		}
		if rec, ok := r.decode(iter.Val(), b); ok {
			out = append(out, rec)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis state: scan: %w", err)
	}
	sortRecords(out)
	return out, nil
}

func (r *Redis) decode(name string, b []byte) (Record, bool) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var rec redisRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		logger.Warn("skip corrupt state value", "key", name, "err", err)
		return Record{}, false
	}
	key := Key{Symbol: rec.Symbol, Side: rec.Side}
	if key.Validate() != nil {
		logger.Warn("skip state value without key", "key", name)
		return Record{}, false
	}
	return Record{Key: key, Trailing: rec.Trailing}, true
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}

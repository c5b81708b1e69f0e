package state

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Backend names accepted by Open.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// RedisOptions holds connection parameters for the Redis backend.
type RedisOptions struct {
	Addr       string
	Password   string
	DB         int
	TLSEnabled bool
	Prefix     string
}

// Options selects and configures a backend.
type Options struct {
	Backend string
	Dir     string // file
	DBPath  string // sqlite
	DSN     string // postgres
	Redis   RedisOptions
	Logger  *slog.Logger
}

// Open returns the Store named by opts.Backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case BackendFile, "":
		return NewFile(opts.Dir, opts.Logger)
	case BackendSQLite:
		return OpenSQLite(opts.DBPath)
	case BackendPostgres:
		return OpenPostgres(ctx, opts.DSN)
	case BackendRedis:
		rdb, err := DialRedis(ctx, opts.Redis)
		if err != nil {
			return nil, err
		}
		s := NewRedis(rdb, opts.Redis.Prefix)
		s.Logger = opts.Logger
		return s, nil
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", opts.Backend)
	}
}

// DialRedis creates a client and pings it so misconfiguration fails at
// startup rather than on the first tick.
func DialRedis(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	ro := &redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}
	if opts.TLSEnabled {
		ro.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(ro)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", opts.Addr, err)
	}
	return rdb, nil
}

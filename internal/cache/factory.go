package cache

import (
	"context"
	"fmt"
	"strings"
)

// Options selects and configures a Store backend.
type Options struct {
	Backend   string // bolt, redis or memory
	Path      string
	RedisAddr string
	RedisDB   int
}

// New opens the store named by opts.Backend, defaulting to bolt.
func New(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(opts.Backend) {
	case "", "bolt":
		return OpenBolt(opts.Path, BoltOptions{})
	case "redis":
		return OpenRedis(ctx, RedisOptions{Addr: opts.RedisAddr, DB: opts.RedisDB})
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("cache: unknown backend %q", opts.Backend)
	}
}

package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/convoflow/convoflow/pkg/kv"
	"github.com/convoflow/convoflow/pkg/persistence"
	"github.com/convoflow/convoflow/pkg/persistence/memory"
	"github.com/convoflow/convoflow/pkg/persistence/redis"
)

// NewPersistence creates the store behind a database URL. redis:// URLs get
// the redis implementation; "memory" keeps everything in process.
func NewPersistence(ctx context.Context, databaseURL string) (persistence.Persistence, error) {
	switch {
	case strings.HasPrefix(databaseURL, "redis://"), strings.HasPrefix(databaseURL, "rediss://"):
		return redis.NewPersistence(ctx, databaseURL)
	case databaseURL == "memory" || databaseURL == "":
		return memory.NewPersistence(), nil
	default:
		return nil, fmt.Errorf("unsupported database url %q", databaseURL)
	}
}

// NewKVStore creates the TTL lock/flag store behind the same kind of URL.
func NewKVStore(ctx context.Context, databaseURL string) (kv.Store, error) {
	switch {
	case strings.HasPrefix(databaseURL, "redis://"), strings.HasPrefix(databaseURL, "rediss://"):
		return kv.NewRedisStore(ctx, databaseURL)
	case databaseURL == "memory" || databaseURL == "":
		return kv.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported kv url %q", databaseURL)
	}
}

package export

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ErrExportNotAllowed is returned when the usage gate denies an export.
var ErrExportNotAllowed = errors.New("export limit reached")

// UsageGate decides whether an export may proceed. TryConsume burns one
// use; once exhausted it keeps returning ErrExportNotAllowed.
type UsageGate interface {
	TryConsume(ctx context.Context) error
}

// NopGate allows every export.
type NopGate struct{}

func (NopGate) TryConsume(context.Context) error { return nil }

// MemoryGate is a process-local gate with a fixed number of uses.
type MemoryGate struct {
	mu        sync.Mutex
	remaining int
}

// NewMemoryGate creates a gate allowing uses exports.
func NewMemoryGate(uses int) *MemoryGate {
	return &MemoryGate{remaining: uses}
}

func (g *MemoryGate) TryConsume(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.remaining <= 0 {
		return ErrExportNotAllowed
	}
	g.remaining--
	return nil
}

// RedisGate persists the demo flag in Redis: the first TryConsume on a key
// wins, every later one is denied, across restarts.
type RedisGate struct {
	client *redis.Client
	key    string
}

// NewRedisGate creates a gate backed by the given key.
func NewRedisGate(client *redis.Client, key string) *RedisGate {
	return &RedisGate{client: client, key: key}
}

func (g *RedisGate) TryConsume(ctx context.Context) error {
	ok, err := g.client.SetNX(ctx, g.key, "used", 0).Result()
	if err != nil {
		return fmt.Errorf("consume export use: %w", err)
	}
	if !ok {
		return ErrExportNotAllowed
	}
	return nil
}

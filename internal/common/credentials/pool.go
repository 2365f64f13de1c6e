// internal/common/credentials/pool.go
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"pet-health-workers/internal/common/config"

	"github.com/redis/go-redis/v9"
)

var (
	ErrEmptyPool    = errors.New("CREDENTIAL_POOL_EMPTY")
	ErrUnknownStore = errors.New("CREDENTIAL_STORE_UNKNOWN")
)

// Rotator hands out the active credential and advances to the next one.
// Implementations must be safe for concurrent use.
//
// Rotate is compare-and-advance: the cursor moves to from+1 only while it
// still points at from, so callers that failed on the same credential
// advance the pool once between them. The returned index is the cursor after
// the call, whether or not this caller moved it.
type Rotator interface {
	Current(ctx context.Context) (index int, key string, err error)
	Rotate(ctx context.Context, from int) (index int, err error)
	Size() int
}

// Pool keeps the cursor in process memory.
type Pool struct {
	mu     sync.Mutex
	keys   []string
	cursor int
}

func NewPool(keys []string) (*Pool, error) {
	cleaned := normalize(keys)
	if len(cleaned) == 0 {
		return nil, ErrEmptyPool
	}
	return &Pool{keys: cleaned}, nil
}

func (p *Pool) Current(_ context.Context) (int, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor, p.keys[p.cursor], nil
}

// Rotate advances the cursor past from, wrapping at the end of the pool.
// It is a no-op when another caller already moved the cursor.
func (p *Pool) Rotate(_ context.Context, from int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cursor == from {
		p.cursor = (p.cursor + 1) % len(p.keys)
	}
	return p.cursor, nil
}

func (p *Pool) Size() int {
	return len(p.keys)
}

// New builds the rotator selected by cfg.Rotation.Store.
func New(cfg config.GenAIConfig, client redis.Cmdable) (Rotator, error) {
	switch strings.ToLower(cfg.Rotation.Store) {
	case "", "memory":
		return NewPool(cfg.APIKeys)
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("%w: redis rotation requires a redis client", ErrUnknownStore)
		}
		return NewRedisPool(client, cfg.Rotation.RedisKey, cfg.APIKeys)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownStore, cfg.Rotation.Store)
	}
}

// Mask hides all but the last four characters of a credential.
func Mask(key string) string {
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}

func normalize(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

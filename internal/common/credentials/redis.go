// internal/common/credentials/redis.go
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const DefaultRedisKey = "genai:credential:cursor"

// rotateScript increments the counter only while it still maps to the
// caller's credential. KEYS[1] is the counter, ARGV[1] the pool size and
// ARGV[2] the index the caller failed on. It returns the resulting counter.
var rotateScript = redis.NewScript(`
local n = tonumber(redis.call("GET", KEYS[1]) or "0")
local size = tonumber(ARGV[1])
if n % size == tonumber(ARGV[2]) then
	n = redis.call("INCR", KEYS[1])
end
return n
`)

// RedisPool shares the cursor between worker replicas through a Redis counter.
// The counter grows monotonically and is reduced modulo the pool size on read.
type RedisPool struct {
	client redis.Cmdable
	key    string
	keys   []string
}

func NewRedisPool(client redis.Cmdable, key string, keys []string) (*RedisPool, error) {
	cleaned := normalize(keys)
	if len(cleaned) == 0 {
		return nil, ErrEmptyPool
	}
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisPool{client: client, key: key, keys: cleaned}, nil
}

func (p *RedisPool) Current(ctx context.Context) (int, string, error) {
	raw, err := p.client.Get(ctx, p.key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, p.keys[0], nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("read credential cursor: %w", err)
	}

	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("parse credential cursor %q: %w", raw, err)
	}
	idx := p.index(n)
	return idx, p.keys[idx], nil
}

// Rotate advances the shared counter past from in a single script call, so
// replicas racing on the same failed credential advance it once.
func (p *RedisPool) Rotate(ctx context.Context, from int) (int, error) {
	n, err := rotateScript.Run(ctx, p.client, []string{p.key}, len(p.keys), from).Int64()
	if err != nil {
		return 0, fmt.Errorf("advance credential cursor: %w", err)
	}
	return p.index(n), nil
}

func (p *RedisPool) Size() int {
	return len(p.keys)
}

func (p *RedisPool) index(n int64) int {
	size := int64(len(p.keys))
	idx := n % size
	if idx < 0 {
		idx += size
	}
	return int(idx)
}

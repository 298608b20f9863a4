package lock

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Deletes the key only while it still holds our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker shared by every process using the same Redis
type Redis struct {
	rdb    *goredis.Client
	ttl    time.Duration
	prefix string
}

// NewRedis connects to addr and verifies the connection
func NewRedis(ctx context.Context, addr string, ttl time.Duration) (*Redis, error) {
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{rdb: rdb, ttl: ttl, prefix: "conceptd:lock:"}, nil
}

// TryAcquire sets the key with NX and the lease TTL
func (r *Redis) TryAcquire(ctx context.Context, key string) (*Lease, error) {
	token := newToken()
	ok, err := r.rdb.SetNX(ctx, r.prefix+key, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return &Lease{Key: key, token: token, release: r.release}, nil
}

func (r *Redis) release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, r.rdb, []string{r.prefix + key}, token).Err(); err != nil {
		return fmt.Errorf("redis unlock %s: %w", key, err)
	}
	return nil
}

// Close closes the Redis client
func (r *Redis) Close() error {
	return r.rdb.Close()
}

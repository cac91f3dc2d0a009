package keylock

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

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Redis implements Locker on top of SET NX PX so that several API and worker
// processes share one lock space.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	poll   time.Duration
	logger *slog.Logger
}

// RedisOptions tunes the Redis locker.
type RedisOptions struct {
	Prefix string
	TTL    time.Duration
	Poll   time.Duration
	Logger *slog.Logger
}

// NewRedis constructs a Redis-backed Locker.
func NewRedis(client redis.UniversalClient, opts RedisOptions) *Redis {
	if opts.Prefix == "" {
		opts.Prefix = "stockledger:lock:"
	}
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Second
	}
	if opts.Poll <= 0 {
		opts.Poll = 10 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Redis{client: client, prefix: opts.Prefix, ttl: opts.TTL, poll: opts.Poll, logger: opts.Logger}
}

// Acquire polls until the key is set by this caller or ctx is done.
func (r *Redis) Acquire(ctx context.Context, key string) (Release, error) {
	if r == nil || r.client == nil {
		return nil, errors.New("keylock: redis client not configured")
	}
	redisKey := r.prefix + key
	token := uuid.NewString()
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, notAcquired(ctx)
			}
			return nil, fmt.Errorf("keylock: set %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, notAcquired(ctx)
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, r.client, []string{redisKey}, token).Err(); err != nil {
				r.logger.Warn("keylock release", slog.String("key", key), slog.Any("error", err))
			}
		})
	}, nil
}

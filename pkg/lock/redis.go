package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const (
	defaultLockTTL      = 30 * time.Second
	defaultPollInterval = 50 * time.Millisecond
)

// ErrLockLost is returned when a lease expired or was taken over before release.
var ErrLockLost = errors.New("lock lost")

// releaseScript deletes the key only while it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker shares instance locks between API replicas with SET NX PX.
type RedisLocker struct {
	client       redis.UniversalClient
	logger       *slog.Logger
	ttl          time.Duration
	pollInterval time.Duration
}

// NewRedisLocker connects to the Redis server at redisURL (redis://host:port/db).
func NewRedisLocker(ctx context.Context, logger *slog.Logger, redisURL string, ttl time.Duration) (*RedisLocker, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	err = client.Ping(ctx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisLockerWithClient(logger, client, ttl), nil
}

func NewRedisLockerWithClient(logger *slog.Logger, client redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}

	return &RedisLocker{
		client:       client,
		logger:       logger.With("module", "redis_locker"),
		ttl:          ttl,
		pollInterval: defaultPollInterval,
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (Lease, error) {
	token := uuid.NewString()

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}

		if ok {
			l.logger.DebugContext(ctx, "lock acquired", "key", key)

			return &redisLease{locker: l, key: key, token: token}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", ErrNotAcquired, key, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *RedisLocker) Close() error {
	return l.client.Close()
}

type redisLease struct {
	locker *RedisLocker
	key    string
	token  string
}

func (r *redisLease) Release(ctx context.Context) error {
	deleted, err := releaseScript.Run(ctx, r.locker.client, []string{r.key}, r.token).Int()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", r.key, err)
	}

	if deleted == 0 {
		r.locker.logger.WarnContext(ctx, "lock expired before release", "key", r.key)

		return fmt.Errorf("%w: %s", ErrLockLost, r.key)
	}

	return nil
}

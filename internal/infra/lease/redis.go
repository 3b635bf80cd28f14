package lease

import (
	"context"
	"errors"
	"time"

	"decertify/internal/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "decertify:lease:"

var redisReleaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker shared by every replica. Leases are not renewed, so the
// TTL must outlive the longest orchestrator run (see
// usecase.Orchestrator.MaxRunDuration).
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(addr, password string, db int, ttl time.Duration) (*Redis, error) {
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	if ttl <= 0 {
		return nil, errors.New("lease ttl must be positive")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Redis{client: client, ttl: ttl}, nil
}

func (r *Redis) TryLock(ctx context.Context, key string) (domain.Unlock, error) {
	if key == "" {
		return nil, errors.New("lease key is required")
	}
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, keyPrefix+key, token, r.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrAlreadyInProgress
	}
	return func(ctx context.Context) error {
		return redisReleaseScript.Run(ctx, r.client, []string{keyPrefix + key}, token).Err()
	}, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

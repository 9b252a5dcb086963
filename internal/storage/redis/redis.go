package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const codeKeyPrefix = "invite:code:"

type RedisRepo struct {
	client *redis.Client
	now    func() time.Time
}

func New(ctx context.Context, addr, pass string, db int) (*RedisRepo, error) {
	const op = "storage.redis.New"

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     pass,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &RedisRepo{
		client: client,
		now:    time.Now,
	}, nil
}

// * ReserveCode claims an invite code until the given time (atomically through SETNX).
// Returns false when a live reservation already holds the code.
// A zero until keeps the key without expiry.
func (r *RedisRepo) ReserveCode(ctx context.Context, code string, until time.Time) (bool, error) {
	const op = "storage.redis.ReserveCode"

	var ttl time.Duration
	if !until.IsZero() {
		ttl = until.Sub(r.now())
		if ttl <= 0 {
			// already stale, nothing to hold
			return true, nil
		}
	}

	success, err := r.client.SetNX(ctx, codeKeyPrefix+code, "reserved", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return success, nil
}

func (r *RedisRepo) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// * Close closes the connection pool.
func (r *RedisRepo) Close() {
	r.client.Close()
}

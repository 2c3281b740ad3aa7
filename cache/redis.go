package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fenwicklabs/reservoir/errors"
)

// RedisStore is a Store backed by Redis, the account cache's production
// backend (spec.md §6: "KV service (get/set with TTL)").
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an existing Redis client. prefix namespaces keys so
// the account cache can share a Redis instance with other consumers.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) key(uuid string) string {
	return r.prefix + uuid
}

func (r *RedisStore) Get(ctx context.Context, uuid string) (Account, error) {
	b, err := r.client.Get(ctx, r.key(uuid)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Account{}, ErrMiss
	}
	if err != nil {
		return Account{}, errors.Wrapf(err, "redis get %s", uuid)
	}
	return unmarshalAccount(b)
}

func (r *RedisStore) Set(ctx context.Context, uuid string, account Account, ttl time.Duration) error {
	b, err := marshalAccount(account)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(uuid), b, ttl).Err(); err != nil {
		return errors.Wrapf(err, "redis set %s", uuid)
	}
	return nil
}

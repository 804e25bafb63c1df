package credstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	rdb "github.com/redis/go-redis/v9"

	apperrors "github.com/alexjbarnes/authgate/internal/errors"
)

// redisOpTimeout bounds every store operation. The Store interface is
// synchronous, so a hung redis must not wedge the request path.
const redisOpTimeout = 3 * time.Second

// Redis is a Store backed by a redis instance. Useful when several
// processes on one host share a session (the single-flight guarantee
// still only holds per gateway instance).
type Redis struct {
	client *rdb.Client
	prefix string
}

// NewRedis creates a redis-backed store. Keys are namespaced under
// prefix to keep credentials apart from other tenants of the instance.
func NewRedis(addr string, db int, prefix string) *Redis {
	return &Redis{
		client: rdb.NewClient(&rdb.Options{Addr: addr, DB: db}),
		prefix: prefix,
	}
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Ping verifies the connection. Called once at startup so a bad address
// fails fast instead of on the first 401.
func (r *Redis) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("pinging redis: %w", err)
	}

	return nil
}

func (r *Redis) key(key string) string {
	return r.prefix + ":" + key
}

// Get returns the value for key, or ErrKeyNotFound.
func (r *Redis) Get(key string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	v, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, rdb.Nil) {
		return "", apperrors.ErrKeyNotFound
	}

	if err != nil {
		return "", fmt.Errorf("reading credential: %w", err)
	}

	return v, nil
}

// Set stores the value for key with no expiry; credential lifetime is
// managed by the refresh protocol, not by the store.
func (r *Redis) Set(key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("writing credential: %w", err)
	}

	return nil
}

// Remove deletes the value for key.
func (r *Redis) Remove(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("removing credential: %w", err)
	}

	return nil
}

package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

const redisKeyPrefix = "platter:session:"

// RedisRegistry stores JSON session snapshots in Redis with a TTL, so
// status polls survive a restart and can be served by any replica.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRegistry wraps an existing client.
func NewRedisRegistry(client *redis.Client, ttl time.Duration) *RedisRegistry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisRegistry{client: client, ttl: ttl}
}

// DialRedis connects and pings before returning a registry.
func DialRedis(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisRegistry, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close() //nolint:errcheck
		return nil, eris.Wrapf(err, "session: redis ping %s", addr)
	}
	return NewRedisRegistry(client, ttl), nil
}

func redisKey(id string) string { return redisKeyPrefix + id }

// Save implements Registry.
func (r *RedisRegistry) Save(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return eris.Wrap(err, "session: marshal")
	}
	if err := r.client.Set(ctx, redisKey(s.ID), data, r.ttl).Err(); err != nil {
		return eris.Wrapf(err, "session: save %s", s.ID)
	}
	return nil
}

// Get implements Registry.
func (r *RedisRegistry) Get(ctx context.Context, id string) (*Session, error) {
	data, err := r.client.Get(ctx, redisKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "session: get %s", id)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, eris.Wrapf(err, "session: unmarshal %s", id)
	}
	return &s, nil
}

// Close closes the underlying client.
func (r *RedisRegistry) Close() error {
	return r.client.Close()
}

package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionTTL bounds how long a session's fresh-load flag is remembered.
const SessionTTL = 24 * time.Hour

// RedisBackend stores entries under a namespace and tracks written keys in
// an index set so DeleteAll only touches this cache's keys.
type RedisBackend struct {
	client    *redis.Client
	namespace string
	retention time.Duration
}

// NewRedisBackend builds a backend. retention of 0 keeps entries until overwritten.
func NewRedisBackend(client *redis.Client, namespace string, retention time.Duration) *RedisBackend {
	if namespace == "" {
		namespace = "vms_monitor"
	}
	return &RedisBackend{client: client, namespace: namespace, retention: retention}
}

func (r *RedisBackend) key(k string) string {
	return fmt.Sprintf("%s:cache:%s", r.namespace, k)
}

func (r *RedisBackend) indexKey() string {
	return fmt.Sprintf("%s:cache_index", r.namespace)
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (r *RedisBackend) Set(ctx context.Context, key string, value []byte) error {
	pipe := r.client.Pipeline()
	pipe.Set(ctx, r.key(key), value, r.retention)
	pipe.SAdd(ctx, r.indexKey(), key)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisBackend) Delete(ctx context.Context, keys ...string) error {
	pipe := r.client.Pipeline()
	for _, k := range keys {
		pipe.Del(ctx, r.key(k))
		pipe.SRem(ctx, r.indexKey(), k)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisBackend) DeleteAll(ctx context.Context) error {
	members, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	pipe := r.client.Pipeline()
	for _, k := range members {
		pipe.Del(ctx, r.key(k))
	}
	pipe.Del(ctx, r.indexKey())
	_, err = pipe.Exec(ctx)
	return err
}

// RedisFlags keys the fresh-load flag by session id, so a restart that
// keeps its session id is not treated as a hard reload.
type RedisFlags struct {
	client    *redis.Client
	namespace string
	sessionID string
}

func NewRedisFlags(client *redis.Client, namespace, sessionID string) *RedisFlags {
	if namespace == "" {
		namespace = "vms_monitor"
	}
	return &RedisFlags{client: client, namespace: namespace, sessionID: sessionID}
}

func (f *RedisFlags) ConsumeFresh(ctx context.Context) (bool, error) {
	key := fmt.Sprintf("%s:session:%s:loaded", f.namespace, f.sessionID)
	return f.client.SetNX(ctx, key, time.Now().Unix(), SessionTTL).Result()
}

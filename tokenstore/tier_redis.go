package tokenstore

import (
	"context"
	"time"

	storeerrors "github.com/jrsteele09/go-auth-session/internal/errors"
	goRedis "github.com/redis/go-redis/v9"
)

const defaultRedisTTL = 30 * 24 * time.Hour

var _ Tier = (*RedisTier)(nil)

// RedisTier is a long-lived tier shared between processes, for deployments
// where several workers act on behalf of the same signed in user.
type RedisTier struct {
	client *goRedis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisTier wraps an existing client. Keys are stored under
// "session:<namespace>:" and expire after ttl (30 days when ttl <= 0).
func NewRedisTier(client *goRedis.Client, namespace string, ttl time.Duration) *RedisTier {
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	if namespace == "" {
		namespace = "default"
	}
	return &RedisTier{
		client: client,
		prefix: "session:" + namespace + ":",
		ttl:    ttl,
	}
}

// OpenRedisTier connects to redisURL and performs a health check.
func OpenRedisTier(ctx context.Context, redisURL, namespace string) (*RedisTier, error) {
	opts, err := goRedis.ParseURL(redisURL)
	if err != nil {
		return nil, storeerrors.Wrapf(err, "parse redis url")
	}

	client := goRedis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, storeerrors.Wrapf(storeerrors.ErrStorageUnavailable, "redis ping: %v", err)
	}

	return NewRedisTier(client, namespace, 0), nil
}

func (r *RedisTier) Get(ctx context.Context, key string) (string, error) {
	result, err := r.client.Get(ctx, r.key(key)).Result()
	if err != nil {
		if err == goRedis.Nil {
			return "", storeerrors.ErrNotFound
		}
		return "", err
	}
	return result, nil
}

func (r *RedisTier) SetMany(ctx context.Context, values map[string]string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe goRedis.Pipeliner) error {
		for k, v := range values {
			pipe.Set(ctx, r.key(k), v, r.ttl)
		}
		return nil
	})
	return err
}

func (r *RedisTier) DeleteMany(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, 0, len(keys))
	for _, k := range keys {
		prefixed = append(prefixed, r.key(k))
	}
	return r.client.Del(ctx, prefixed...).Err()
}

func (r *RedisTier) Close() error {
	return r.client.Close()
}

func (r *RedisTier) key(k string) string {
	return r.prefix + k
}

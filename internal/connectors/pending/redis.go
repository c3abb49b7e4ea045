package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "connectorhub:pending:"

// RedisStore shares pending authorizations between processes. Nonces are
// consumed with GETDEL so exactly one Take succeeds.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// OpenRedis connects using a redis:// URL and checks the connection.
func OpenRedis(ctx context.Context, rawURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisStore(client), nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Put(ctx context.Context, a Authorization, ttl time.Duration) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode pending authorization: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, nonceKey(a.Nonce), payload, ttl)
		pipe.Set(ctx, userKey(a.UserID, a.Connector), a.Nonce, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store pending authorization: %w", err)
	}
	return nil
}

func (s *RedisStore) Take(ctx context.Context, nonce string) (Authorization, error) {
	payload, err := s.client.GetDel(ctx, nonceKey(nonce)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Authorization{}, ErrNotFound
	}
	if err != nil {
		return Authorization{}, fmt.Errorf("take pending authorization: %w", err)
	}
	var a Authorization
	if err := json.Unmarshal(payload, &a); err != nil {
		return Authorization{}, fmt.Errorf("decode pending authorization: %w", err)
	}

	// The marker may already point at a newer attempt by the same user.
	key := userKey(a.UserID, a.Connector)
	current, err := s.client.Get(ctx, key).Result()
	if err == nil && current == nonce {
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return Authorization{}, fmt.Errorf("clear pending marker: %w", err)
		}
	} else if err != nil && !errors.Is(err, redis.Nil) {
		return Authorization{}, fmt.Errorf("read pending marker: %w", err)
	}
	return a, nil
}

func (s *RedisStore) Pending(ctx context.Context, userID, connector string) (bool, error) {
	n, err := s.client.Exists(ctx, userKey(userID, connector)).Result()
	if err != nil {
		return false, fmt.Errorf("check pending authorization: %w", err)
	}
	return n > 0, nil
}

func nonceKey(nonce string) string {
	return redisKeyPrefix + "nonce:" + url.PathEscape(nonce)
}

func userKey(userID, connector string) string {
	return redisKeyPrefix + "user:" + url.PathEscape(markerKey(userID, connector))
}

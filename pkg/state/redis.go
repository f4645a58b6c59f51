package state

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces bookmark keys.
const DefaultRedisPrefix = "tap-messagebird:bookmark:"

// RedisStore keeps one JSON bookmark per key.
type RedisStore struct {
	redis  *redis.Client
	prefix string
}

// NewRedisStore wraps an existing client.
func NewRedisStore(redisClient *redis.Client, prefix string) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{redis: redisClient, prefix: prefix}
}

// OpenRedis connects and pings the server.
func OpenRedis(ctx context.Context, addr, password string, db int, prefix string) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisStore(client, prefix), nil
}

func (s *RedisStore) key(resource string) string {
	return s.prefix + resource
}

func (s *RedisStore) Get(ctx context.Context, resource string) (Bookmark, error) {
	data, err := s.redis.Get(ctx, s.key(resource)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Bookmark{}, ErrNoBookmark
		}
		return Bookmark{}, fmt.Errorf("redis get: %w", err)
	}

	var b Bookmark
	if err := json.Unmarshal(data, &b); err != nil {
		return Bookmark{}, fmt.Errorf("decode bookmark %s: %w", resource, err)
	}
	return b, nil
}

// Set stores the bookmark without expiry.
func (s *RedisStore) Set(ctx context.Context, resource string, bookmark Bookmark) error {
	data, err := json.Marshal(bookmark)
	if err != nil {
		return fmt.Errorf("marshal bookmark: %w", err)
	}
	if err := s.redis.Set(ctx, s.key(resource), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) All(ctx context.Context) (map[string]Bookmark, error) {
	out := make(map[string]Bookmark)
	iter := s.redis.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		resource := strings.TrimPrefix(iter.Val(), s.prefix)
		b, err := s.Get(ctx, resource)
		if errors.Is(err, ErrNoBookmark) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[resource] = b
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return out, nil
}

// Delete removes a resource's bookmark, forcing a full resync.
func (s *RedisStore) Delete(ctx context.Context, resource string) error {
	if err := s.redis.Del(ctx, s.key(resource)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.redis.Close()
}

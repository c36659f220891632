package ledger

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisSeenSet stores the seen-set as a Redis set. SADD is atomic and
// idempotent, so Add needs no read-modify-write.
type RedisSeenSet struct {
	client *redis.Client
	key    string
}

// NewRedisSeenSet creates a RedisSeenSet on key and verifies the connection.
func NewRedisSeenSet(ctx context.Context, client *redis.Client, key string) (*RedisSeenSet, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisSeenSet{client: client, key: key}, nil
}

func (s *RedisSeenSet) Contains(ctx context.Context, target string) (bool, error) {
	return s.client.SIsMember(ctx, s.key, target).Result()
}

func (s *RedisSeenSet) Add(ctx context.Context, target string) error {
	return s.client.SAdd(ctx, s.key, target).Err()
}

func (s *RedisSeenSet) Members(ctx context.Context) ([]string, error) {
	return s.client.SMembers(ctx, s.key).Result()
}

func (s *RedisSeenSet) Close() error { return s.client.Close() }

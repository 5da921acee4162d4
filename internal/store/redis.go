package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/deskchat/internal/metrics"
)

const (
	presenceKey   = "presence:online"
	eventsChannel = "deskchat:events"
)

// RedisStore handles Redis operations: shared presence, cross-instance
// event fan-out and revoked session tokens.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Client exposes the underlying client for the rate limiter.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func observeRedis(start time.Time) {
	metrics.RedisLatency.Observe(time.Since(start).Seconds())
}

// SetOnline adds or removes userID from the shared online set.
func (s *RedisStore) SetOnline(ctx context.Context, userID string, online bool) error {
	defer observeRedis(time.Now())
	if online {
		return s.client.SAdd(ctx, presenceKey, userID).Err()
	}
	return s.client.SRem(ctx, presenceKey, userID).Err()
}

// IsOnline reports whether userID is in the shared online set.
func (s *RedisStore) IsOnline(ctx context.Context, userID string) (bool, error) {
	defer observeRedis(time.Now())
	return s.client.SIsMember(ctx, presenceKey, userID).Result()
}

// OnlineUsers returns the ids in the shared online set.
func (s *RedisStore) OnlineUsers(ctx context.Context) ([]string, error) {
	defer observeRedis(time.Now())
	return s.client.SMembers(ctx, presenceKey).Result()
}

// PublishEvent sends an encoded event to every instance.
func (s *RedisStore) PublishEvent(ctx context.Context, payload []byte) error {
	defer observeRedis(time.Now())
	return s.client.Publish(ctx, eventsChannel, payload).Err()
}

// SubscribeEvents delivers every published event until ctx is done. The
// subscription is confirmed before it returns, so no event published after
// the call is missed.
func (s *RedisStore) SubscribeEvents(ctx context.Context) (<-chan []byte, error) {
	sub := s.client.Subscribe(ctx, eventsChannel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, err
	}

	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// revokedKey returns the key marking a token id as revoked.
func revokedKey(tokenID string) string {
	return fmt.Sprintf("revoked:%s", tokenID)
}

// RevokeToken marks a session token as unusable until it would have expired.
func (s *RedisStore) RevokeToken(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return s.client.Set(ctx, revokedKey(tokenID), "1", ttl).Err()
}

// IsTokenRevoked checks whether a token id was revoked.
func (s *RedisStore) IsTokenRevoked(ctx context.Context, tokenID string) bool {
	exists, _ := s.client.Exists(ctx, revokedKey(tokenID)).Result()
	return exists > 0
}

package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStoreFromClient(client), mr
}

func TestPresenceSet(t *testing.T) {
	s, _ := newTestRedis(t)
	ctx := context.Background()

	if err := s.SetOnline(ctx, "u1", true); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.IsOnline(ctx, "u1"); !ok {
		t.Fatal("u1 should be online")
	}
	s.SetOnline(ctx, "u2", true)
	s.SetOnline(ctx, "u1", false)

	users, err := s.OnlineUsers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 || users[0] != "u2" {
		t.Fatalf("unexpected online users %v", users)
	}
}

func TestPublishSubscribe(t *testing.T) {
	s, _ := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := s.SubscribeEvents(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.PublishEvent(ctx, []byte(`{"type":"new_chat"}`)); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-events:
		if string(got) != `{"type":"new_chat"}` {
			t.Fatalf("unexpected payload %s", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}

	cancel()
	for range events {
	}
}

func TestRevokedTokens(t *testing.T) {
	s, mr := newTestRedis(t)
	ctx := context.Background()

	if s.IsTokenRevoked(ctx, "jti") {
		t.Fatal("token should not start revoked")
	}
	if err := s.RevokeToken(ctx, "jti", time.Minute); err != nil {
		t.Fatal(err)
	}
	if !s.IsTokenRevoked(ctx, "jti") {
		t.Fatal("token should be revoked")
	}

	mr.FastForward(2 * time.Minute)
	if s.IsTokenRevoked(ctx, "jti") {
		t.Fatal("revocation should expire with the token")
	}
}

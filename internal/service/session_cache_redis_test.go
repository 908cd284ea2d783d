package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gitjhb/luna-sub003/internal/domain"
)

type mockRedisKVClient struct {
	values map[string]string

	lastSetKey string
	lastSetTTL time.Duration
	lastDel    []string

	getErr error
	setErr error
}

func newMockRedisKVClient() *mockRedisKVClient {
	return &mockRedisKVClient{values: make(map[string]string)}
}

func (m *mockRedisKVClient) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	if m.getErr != nil {
		cmd.SetErr(m.getErr)
		return cmd
	}
	v, ok := m.values[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(v)
	return cmd
}

func (m *mockRedisKVClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	m.lastSetKey = key
	m.lastSetTTL = expiration
	cmd := redis.NewStatusCmd(ctx)
	if m.setErr != nil {
		cmd.SetErr(m.setErr)
		return cmd
	}
	switch v := value.(type) {
	case []byte:
		m.values[key] = string(v)
	case string:
		m.values[key] = v
	}
	cmd.SetVal("OK")
	return cmd
}

func (m *mockRedisKVClient) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	m.lastDel = keys
	cmd := redis.NewIntCmd(ctx)
	for _, k := range keys {
		delete(m.values, k)
	}
	cmd.SetVal(int64(len(keys)))
	return cmd
}

func TestRedisSessionCache_RoundTrip(t *testing.T) {
	client := newMockRedisKVClient()
	cache := &redisSessionCache{client: client, ttl: 5 * time.Minute, prefix: "chat:session:participant:"}
	ctx := context.Background()

	s := domain.Session{ID: "s1", ParticipantID: "char-1", Name: "Luna"}
	if err := cache.Set(ctx, s); err != nil {
		t.Fatalf("set: %v", err)
	}
	if client.lastSetKey != "chat:session:participant:char-1" || client.lastSetTTL != 5*time.Minute {
		t.Fatalf("unexpected key/ttl %s %v", client.lastSetKey, client.lastSetTTL)
	}
	var stored domain.Session
	if err := json.Unmarshal([]byte(client.values[client.lastSetKey]), &stored); err != nil || stored.ID != "s1" {
		t.Fatalf("expected json payload, got %q err=%v", client.values[client.lastSetKey], err)
	}

	got, ok, err := cache.Get(ctx, "char-1")
	if err != nil || !ok || got.Name != "Luna" {
		t.Fatalf("unexpected get result %+v ok=%v err=%v", got, ok, err)
	}

	if err := cache.Delete(ctx, "char-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := cache.Get(ctx, "char-1"); ok {
		t.Fatalf("expected miss after delete")
	}
}

func TestRedisSessionCache_MissAndErrors(t *testing.T) {
	client := newMockRedisKVClient()
	cache := &redisSessionCache{client: client, ttl: time.Minute, prefix: "p:"}
	ctx := context.Background()

	if _, ok, err := cache.Get(ctx, "unknown"); ok || err != nil {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}
	if _, ok, err := cache.Get(ctx, "  "); ok || err != nil {
		t.Fatalf("expected empty key ignored, got ok=%v err=%v", ok, err)
	}

	client.getErr = errors.New("conn refused")
	if _, _, err := cache.Get(ctx, "char-1"); err == nil {
		t.Fatalf("expected redis error surfaced to caller")
	}

	client.values["p:bad"] = "{not json"
	client.getErr = nil
	if _, _, err := cache.Get(ctx, "bad"); err == nil {
		t.Fatalf("expected decode error")
	}

	if err := cache.Set(ctx, domain.Session{ID: "s1"}); err != nil || client.lastSetKey != "" {
		t.Fatalf("expected session without participant skipped")
	}
}

func TestNewRedisSessionCache_NilClient(t *testing.T) {
	if NewRedisSessionCache(nil, time.Minute) != nil {
		t.Fatalf("expected nil cache for nil client")
	}
}

func TestMemorySessionCache_Expiry(t *testing.T) {
	cache := NewMemorySessionCache(30 * time.Millisecond)
	ctx := context.Background()
	_ = cache.Set(ctx, domain.Session{ID: "s1", ParticipantID: "char-1"})

	if _, ok, _ := cache.Get(ctx, "char-1"); !ok {
		t.Fatalf("expected hit")
	}
	time.Sleep(50 * time.Millisecond)
	if _, ok, _ := cache.Get(ctx, "char-1"); ok {
		t.Fatalf("expected entry expired")
	}
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gitjhb/luna-sub003/internal/domain"
)

// SessionLookupCache acelera participant -> sesión. Es una caché de lectura:
// los errores nunca bloquean la resolución, sólo se pierde el atajo.
type SessionLookupCache interface {
	Get(ctx context.Context, participantID string) (domain.Session, bool, error)
	Set(ctx context.Context, session domain.Session) error
	Delete(ctx context.Context, participantID string) error
}

type redisKVClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type redisSessionCache struct {
	client redisKVClient
	ttl    time.Duration
	prefix string
}

func NewRedisSessionCache(client *redis.Client, ttl time.Duration) SessionLookupCache {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &redisSessionCache{
		client: client,
		ttl:    ttl,
		prefix: "chat:session:participant:",
	}
}

func (c *redisSessionCache) Get(ctx context.Context, participantID string) (domain.Session, bool, error) {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return domain.Session{}, false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	raw, err := c.client.Get(ctx, c.prefix+participantID).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Session{}, false, nil
	}
	if err != nil {
		return domain.Session{}, false, err
	}
	var s domain.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return domain.Session{}, false, err
	}
	return s, true, nil
}

func (c *redisSessionCache) Set(ctx context.Context, session domain.Session) error {
	if strings.TrimSpace(session.ParticipantID) == "" {
		return nil
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	return c.client.Set(ctx, c.prefix+session.ParticipantID, payload, c.ttl).Err()
}

func (c *redisSessionCache) Delete(ctx context.Context, participantID string) error {
	if strings.TrimSpace(participantID) == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	return c.client.Del(ctx, c.prefix+participantID).Err()
}

type memorySessionCache struct {
	mu    sync.Mutex
	ttl   time.Duration
	items map[string]memorySessionEntry
}

type memorySessionEntry struct {
	session domain.Session
	expires time.Time
}

// NewMemorySessionCache es el reemplazo en proceso cuando no hay redis.
func NewMemorySessionCache(ttl time.Duration) SessionLookupCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &memorySessionCache{ttl: ttl, items: make(map[string]memorySessionEntry)}
}

func (c *memorySessionCache) Get(_ context.Context, participantID string) (domain.Session, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.items[participantID]
	if !ok {
		return domain.Session{}, false, nil
	}
	if time.Now().After(entry.expires) {
		delete(c.items, participantID)
		return domain.Session{}, false, nil
	}
	return entry.session, true, nil
}

func (c *memorySessionCache) Set(_ context.Context, session domain.Session) error {
	if strings.TrimSpace(session.ParticipantID) == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[session.ParticipantID] = memorySessionEntry{session: session, expires: time.Now().Add(c.ttl)}
	return nil
}

func (c *memorySessionCache) Delete(_ context.Context, participantID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, participantID)
	return nil
}

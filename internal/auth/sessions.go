package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/caseledger/custody-server/internal/apperr"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// Sessions maps opaque session ids to user ids.
type Sessions interface {
	Create(ctx context.Context, userID string) (string, error)
	// Lookup returns UNAUTHORIZED for unknown or expired sessions.
	Lookup(ctx context.Context, sid string) (string, error)
	Delete(ctx context.Context, sid string) error
	Ping(ctx context.Context) error
}

var errNoSession = apperr.ErrUnauthorized.WithMessage("session expired or invalid")

// ==================== REDIS ====================

const sessionKeyPrefix = "custody:session:"

// RedisSessions stores sessions in Redis with a TTL, so they survive
// restarts and are shared between replicas.
type RedisSessions struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSessions connects to redisURL (redis://host:port/db).
func NewRedisSessions(ctx context.Context, redisURL string, ttl time.Duration) (*RedisSessions, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisSessions{client: client, ttl: ttl}, nil
}

func (s *RedisSessions) Create(ctx context.Context, userID string) (string, error) {
	sid := uuid.NewString()
	if err := s.client.Set(ctx, sessionKeyPrefix+sid, userID, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return sid, nil
}

func (s *RedisSessions) Lookup(ctx context.Context, sid string) (string, error) {
	userID, err := s.client.Get(ctx, sessionKeyPrefix+sid).Result()
	if errors.Is(err, redis.Nil) {
		return "", errNoSession
	}
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	return userID, nil
}

func (s *RedisSessions) Delete(ctx context.Context, sid string) error {
	if err := s.client.Del(ctx, sessionKeyPrefix+sid).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *RedisSessions) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the Redis connection pool.
func (s *RedisSessions) Close() error {
	return s.client.Close()
}

// ==================== IN-PROCESS ====================

// MemorySessions keeps sessions in a go-cache TTL map. Sessions are lost on
// restart; suitable for development and single-instance deployments.
type MemorySessions struct {
	cache *cache.Cache
}

// NewMemorySessions creates an in-process session store.
func NewMemorySessions(ttl time.Duration) *MemorySessions {
	return &MemorySessions{cache: cache.New(ttl, ttl/2+time.Minute)}
}

func (s *MemorySessions) Create(_ context.Context, userID string) (string, error) {
	sid := uuid.NewString()
	s.cache.Set(sid, userID, cache.DefaultExpiration)
	return sid, nil
}

func (s *MemorySessions) Lookup(_ context.Context, sid string) (string, error) {
	v, ok := s.cache.Get(sid)
	if !ok {
		return "", errNoSession
	}
	userID, ok := v.(string)
	if !ok {
		return "", errNoSession
	}
	return userID, nil
}

func (s *MemorySessions) Delete(_ context.Context, sid string) error {
	s.cache.Delete(sid)
	return nil
}

func (s *MemorySessions) Ping(context.Context) error { return nil }

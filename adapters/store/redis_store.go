package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/IsSlashy/Protocol-01-sub006/core"
	"github.com/IsSlashy/Protocol-01-sub006/ports"
)

const (
	// DefaultRetention keeps finished sessions readable for a while after expiry
	DefaultRetention = time.Hour

	maxUpdateAttempts = 16
)

// RedisStore is a Redis implementation of the SessionStore interface
type RedisStore struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
	now       func() time.Time
}

var _ ports.SessionStore = (*RedisStore)(nil)

// RedisOption configures a RedisStore
type RedisOption func(*RedisStore)

// WithRetention sets how long a session outlives its expiry in Redis
func WithRetention(d time.Duration) RedisOption {
	return func(s *RedisStore) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithPrefix sets the key prefix
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithRedisClock overrides the clock used to compute key TTLs
func WithRedisClock(now func() time.Time) RedisOption {
	return func(s *RedisStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewRedisStore creates a new Redis store
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:    client,
		prefix:    "p01auth:session:",
		retention: DefaultRetention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

// ttl keeps the key until retention has passed after expiry
func (s *RedisStore) ttl(session core.AuthSession) time.Duration {
	ttl := session.ExpiresAt.Add(s.retention).Sub(s.now())
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

// Get retrieves a session
func (s *RedisStore) Get(ctx context.Context, id string) (core.AuthSession, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return core.AuthSession{}, core.ErrSessionNotFound
		}
		return core.AuthSession{}, fmt.Errorf("failed to get session: %w", err)
	}
	return decodeSession(raw)
}

// Create stores a new session with SETNX so two writers racing on the same
// id cannot both succeed.
func (s *RedisStore) Create(ctx context.Context, session core.AuthSession) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.key(session.ID), raw, s.ttl(session)).Result()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	if !ok {
		return core.ErrSessionExists
	}
	return nil
}

// Set stores a session with a TTL derived from its expiry
func (s *RedisStore) Set(ctx context.Context, session core.AuthSession) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.client.Set(ctx, s.key(session.ID), raw, s.ttl(session)).Err(); err != nil {
		return fmt.Errorf("failed to set session: %w", err)
	}
	return nil
}

// Delete removes a session
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Update performs an optimistic WATCH/MULTI read-modify-write, retrying when
// another writer touched the key in between.
func (s *RedisStore) Update(ctx context.Context, id string, fn func(*core.AuthSession) error) (core.AuthSession, error) {
	key := s.key(id)
	var (
		updated core.AuthSession
		fnErr   error
	)

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return core.ErrSessionNotFound
			}
			return err
		}
		session, err := decodeSession(raw)
		if err != nil {
			return err
		}
		if fnErr = fn(&session); fnErr != nil {
			return fnErr
		}
		session.ID = id

		next, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, s.ttl(session))
			return nil
		})
		if err == nil {
			updated = session
		}
		return err
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		fnErr = nil
		err := s.client.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return updated, nil
		case fnErr != nil:
			return core.AuthSession{}, fnErr
		case errors.Is(err, core.ErrSessionNotFound):
			return core.AuthSession{}, err
		case errors.Is(err, redis.TxFailedErr):
			continue
		}
		return core.AuthSession{}, fmt.Errorf("failed to update session: %w", err)
	}
	return core.AuthSession{}, fmt.Errorf("failed to update session %s: too much contention", id)
}

// Client returns the Redis client
// This is used by the main application to share the Redis client with the Watermill publisher
func (s *RedisStore) Client() redis.UniversalClient {
	return s.client
}

func decodeSession(raw []byte) (core.AuthSession, error) {
	var session core.AuthSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return core.AuthSession{}, fmt.Errorf("failed to decode session: %w", err)
	}
	return session, nil
}

// README: Key-value session stores: in-process map and Redis.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Store is the key-value surface the session layer needs. Set and Delete
// apply all keys together.
type Store interface {
	Get(ctx context.Context, keys ...string) (map[string]string, error)
	Set(ctx context.Context, kv map[string]string) error
	Delete(ctx context.Context, keys ...string) error
}

type MemoryStore struct {
	mu sync.RWMutex
	m  map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string]string)}
}

func (s *MemoryStore) Get(_ context.Context, keys ...string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := s.m[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (s *MemoryStore) Set(_ context.Context, kv map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range kv {
		s.m[k] = v
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.m, k)
	}
	return nil
}

// RedisStore keeps the session under prefix+key so several devices can share
// one Redis.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) key(k string) string { return s.prefix + k }

func (s *RedisStore) Get(ctx context.Context, keys ...string) (map[string]string, error) {
	if len(keys) == 0 {
		return map[string]string{}, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	vals, err := s.rdb.MGet(ctx, full...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	out := make(map[string]string, len(keys))
	for i, v := range vals {
		if str, ok := v.(string); ok {
			out[keys[i]] = str
		}
	}
	return out, nil
}

func (s *RedisStore) Set(ctx context.Context, kv map[string]string) error {
	if len(kv) == 0 {
		return nil
	}
	pairs := make([]any, 0, 2*len(kv))
	for k, v := range kv {
		pairs = append(pairs, s.key(k), v)
	}
	if err := s.rdb.MSet(ctx, pairs...).Err(); err != nil {
		return fmt.Errorf("redis mset: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	if err := s.rdb.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Save writes token and user together.
func Save(ctx context.Context, store Store, s Session) error {
	if s.Token == "" {
		return fmt.Errorf("%w: empty token", ErrMalformedUser)
	}
	if s.User.ID == "" {
		return fmt.Errorf("%w: missing id", ErrMalformedUser)
	}
	u, err := s.User.encode()
	if err != nil {
		return err
	}
	return store.Set(ctx, map[string]string{KeyToken: s.Token, KeyUser: u})
}

// Clear removes token and user together.
func Clear(ctx context.Context, store Store) error {
	return store.Delete(ctx, KeyToken, KeyUser)
}

// Load reads the stored session. It returns (nil, nil) when signed out and
// ErrMalformedUser when the user record cannot be used.
func Load(ctx context.Context, store Store) (*Session, error) {
	kv, err := store.Get(ctx, KeyToken, KeyUser)
	if err != nil {
		return nil, err
	}
	token := kv[KeyToken]
	if token == "" {
		return nil, nil
	}
	raw, ok := kv[KeyUser]
	if !ok || raw == "" {
		return nil, fmt.Errorf("%w: token without user", ErrMalformedUser)
	}
	u, err := ParseUser(raw)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, User: u}, nil
}

// TokenSource returns a function reading the current token from store on each
// call, suitable for restclient.Client.Token.
func TokenSource(store Store) func(ctx context.Context) string {
	return func(ctx context.Context) string {
		kv, err := store.Get(ctx, KeyToken)
		if err != nil {
			return ""
		}
		return kv[KeyToken]
	}
}

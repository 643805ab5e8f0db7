package appstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("session not found")

// Store persists session state and the order -> session links used to clear
// a cart once its order is confirmed.
type Store interface {
	Load(ctx context.Context, id string) (*State, error)
	Save(ctx context.Context, st *State) error
	Delete(ctx context.Context, id string) error
	LinkOrder(ctx context.Context, orderID uuid.UUID, sessionID string) error
	SessionForOrder(ctx context.Context, orderID uuid.UUID) (string, error)
}

type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) sessionKey(id string) string {
	return fmt.Sprintf("%s:session:%s", s.prefix, id)
}

func (s *RedisStore) orderKey(id uuid.UUID) string {
	return fmt.Sprintf("%s:order-session:%s", s.prefix, id)
}

func (s *RedisStore) Load(ctx context.Context, id string) (*State, error) {
	raw, err := s.client.Get(ctx, s.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &st, nil
}

// Save refreshes the session's expiry.
func (s *RedisStore) Save(ctx context.Context, st *State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.sessionKey(st.ID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.sessionKey(id)).Err()
}

func (s *RedisStore) LinkOrder(ctx context.Context, orderID uuid.UUID, sessionID string) error {
	if err := s.client.Set(ctx, s.orderKey(orderID), sessionID, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to link order: %w", err)
	}
	return nil
}

func (s *RedisStore) SessionForOrder(ctx context.Context, orderID uuid.UUID) (string, error) {
	id, err := s.client.Get(ctx, s.orderKey(orderID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to find order session: %w", err)
	}
	return id, nil
}

// MemoryStore keeps sessions in process. States are copied through JSON so
// callers never share a value with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]byte
	orders   map[uuid.UUID]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string][]byte),
		orders:   make(map[uuid.UUID]string),
	}
}

func (s *MemoryStore) Load(_ context.Context, id string) (*State, error) {
	s.mu.RLock()
	raw, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *MemoryStore) Save(_ context.Context, st *State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[st.ID] = raw
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *MemoryStore) LinkOrder(_ context.Context, orderID uuid.UUID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[orderID] = sessionID
	return nil
}

func (s *MemoryStore) SessionForOrder(_ context.Context, orderID uuid.UUID) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.orders[orderID]
	if !ok {
		return "", ErrNotFound
	}
	return id, nil
}

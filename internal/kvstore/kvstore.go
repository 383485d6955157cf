// Package kvstore persists small per-user values such as the read tracker map.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrNotFound = errors.New("kvstore: key not found")

// Store is a flat byte-oriented key-value store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open builds the backend named by backend: "memory", "pebble" (dir) or "redis" (redisURL).
func Open(ctx context.Context, backend, dir, redisURL string) (Store, error) {
	switch backend {
	case "memory":
		return NewMemory(), nil
	case "pebble":
		return OpenPebble(dir, nil)
	case "redis":
		return OpenRedis(ctx, redisURL)
	default:
		return nil, fmt.Errorf("unknown state backend %q", backend)
	}
}

type Memory struct {
	mu sync.RWMutex
	m  map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{m: make(map[string][]byte)}
}

func (s *Memory) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *Memory) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = append([]byte(nil), value...)
	return nil
}

func (s *Memory) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

func (s *Memory) Close() error { return nil }

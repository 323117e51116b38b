// Package tokenstore holds backend sessions between polls.
package tokenstore

import (
	"context"
	"time"

	"streamguard/internal/core/domain"
	"streamguard/internal/core/ports"
	"streamguard/pkg/cache"
)

// Memory keeps tokens in process memory.
type Memory struct {
	cache *cache.Cache
}

func NewMemory(defaultTTL time.Duration) *Memory {
	return &Memory{cache: cache.NewCache(defaultTTL)}
}

func (m *Memory) Get(_ context.Context, key string) (domain.TokenPair, bool, error) {
	v, ok := m.cache.Get(key)
	if !ok {
		return domain.TokenPair{}, false, nil
	}
	tokens, ok := v.(domain.TokenPair)
	return tokens, ok, nil
}

func (m *Memory) Set(_ context.Context, key string, tokens domain.TokenPair, ttl time.Duration) error {
	if ttl <= 0 {
		m.cache.Set(key, tokens)
		return nil
	}
	m.cache.SetWithTTL(key, tokens, ttl)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.cache.Delete(key)
	return nil
}

// Close stops the background expiry sweep.
func (m *Memory) Close() {
	m.cache.Stop()
}

var _ ports.TokenStore = (*Memory)(nil)

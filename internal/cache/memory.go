package cache

import (
	"context"
	"path"
	"sync"
	"time"
)

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

func (it memoryItem) expired(now time.Time) bool {
	return !it.expiresAt.IsZero() && now.After(it.expiresAt)
}

// MemoryProvider is the default single-process cache backend. Expiry is
// lazy: expired entries are dropped when touched or during DelPattern.
type MemoryProvider struct {
	mu   sync.Mutex
	data map[string]memoryItem
	now  func() time.Time
}

// NewMemoryProvider creates an empty in-memory cache.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		data: make(map[string]memoryItem),
		now:  time.Now,
	}
}

// Get returns the value for key or ErrCacheMiss.
func (p *MemoryProvider) Get(_ context.Context, key string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	it, ok := p.data[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	if it.expired(p.now()) {
		delete(p.data, key)
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), it.value...), nil
}

// Set stores the value with the given TTL; ttl <= 0 means no expiry.
func (p *MemoryProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data[key] = p.item(value, ttl)
	return nil
}

// SetNX stores the value only if the key is absent (or expired), reporting
// whether the write happened. The check and write are a single critical
// section, which is what makes the lock token acquisition atomic.
func (p *MemoryProvider) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if it, ok := p.data[key]; ok && !it.expired(p.now()) {
		return false, nil
	}
	p.data[key] = p.item(value, ttl)
	return true, nil
}

// Del removes a key.
func (p *MemoryProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.data, key)
	return nil
}

// DelPattern removes every live key matching the glob pattern.
func (p *MemoryProvider) DelPattern(_ context.Context, pattern string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	deleted := 0
	for key, it := range p.data {
		if it.expired(now) {
			delete(p.data, key)
			continue
		}
		if ok, err := path.Match(pattern, key); err != nil {
			return deleted, err
		} else if ok {
			delete(p.data, key)
			deleted++
		}
	}
	return deleted, nil
}

// Close is a no-op for the memory backend.
func (p *MemoryProvider) Close() error { return nil }

func (p *MemoryProvider) item(value []byte, ttl time.Duration) memoryItem {
	it := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		it.expiresAt = p.now().Add(ttl)
	}
	return it
}

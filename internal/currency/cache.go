package currency

import (
	"context"
	"sync"
	"time"

	"github.com/ama3639/telegram-bot-os-sub000/internal/clock"
)

// DefaultCacheTTL is how long a resolved rate is served from cache.
const DefaultCacheTTL = time.Hour

// RateCache holds resolved pairs for a bounded time. Implementations treat
// backend failures as misses.
type RateCache interface {
	Get(ctx context.Context, key string) (*CurrencyPair, bool)
	Set(ctx context.Context, key string, pair *CurrencyPair)
	Clear(ctx context.Context)
}

type memoryEntry struct {
	pair      CurrencyPair
	expiresAt time.Time
}

// MemoryCache is an in-process RateCache with a fixed TTL.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   clock.Clock
	entries map[string]memoryEntry
}

func NewMemoryCache(ttl time.Duration, c clock.Clock) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &MemoryCache{
		ttl:     ttl,
		clock:   c,
		entries: make(map[string]memoryEntry),
	}
}

func (m *MemoryCache) Get(_ context.Context, key string) (*CurrencyPair, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if !m.clock.Now().Before(e.expiresAt) {
		delete(m.entries, key)
		return nil, false
	}
	pair := e.pair
	return &pair, true
}

func (m *MemoryCache) Set(_ context.Context, key string, pair *CurrencyPair) {
	if pair == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{pair: *pair, expiresAt: m.clock.Now().Add(m.ttl)}
}

func (m *MemoryCache) Clear(_ context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]memoryEntry)
}

// Len reports the number of entries, expired or not.
func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

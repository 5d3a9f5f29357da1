package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync"
)

// MemoryCache is a bounded in-process Backend. Expired entries are dropped on
// read and by a periodic sweep, which also enforces the size bound.
type MemoryCache struct {
	entries  *xsync.MapOf[string, memoryEntry]
	maxSize  int
	interval time.Duration
	now      func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryCache starts a cache holding at most maxSize entries (0 means
// unbounded) swept every cleanupInterval.
func NewMemoryCache(maxSize int, cleanupInterval time.Duration) *MemoryCache {
	mc := &MemoryCache{
		entries:  xsync.NewMapOf[memoryEntry](),
		maxSize:  maxSize,
		interval: cleanupInterval,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go mc.sweepLoop()
	return mc
}

// SetClock replaces the time source used for expiry.
func (m *MemoryCache) SetClock(now func() time.Time) { m.now = now }

// Len returns the number of stored entries, expired ones included.
func (m *MemoryCache) Len() int { return m.entries.Size() }

func (m *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	e, ok := m.entries.Load(key)
	if !ok {
		return nil, false, nil
	}
	if !m.now().Before(e.expiresAt) {
		m.entries.Delete(key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.entries.Store(key, memoryEntry{value: value, expiresAt: m.now().Add(ttl)})
	return nil
}

func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	m.entries.Delete(key)
	return nil
}

func (m *MemoryCache) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	return nil
}

func (m *MemoryCache) sweepLoop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep removes expired entries, then evicts the entries closest to expiry
// until the cache fits maxSize.
func (m *MemoryCache) sweep() {
	now := m.now()
	type live struct {
		key       string
		expiresAt time.Time
	}
	var keep []live

	m.entries.Range(func(key string, e memoryEntry) bool {
		if !now.Before(e.expiresAt) {
			m.entries.Delete(key)
		} else {
			keep = append(keep, live{key, e.expiresAt})
		}
		return true
	})

	if m.maxSize <= 0 || len(keep) <= m.maxSize {
		return
	}
	sort.Slice(keep, func(i, j int) bool { return keep[i].expiresAt.Before(keep[j].expiresAt) })
	for _, e := range keep[:len(keep)-m.maxSize] {
		m.entries.Delete(e.key)
	}
}

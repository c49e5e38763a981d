package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

type entry struct {
	data      []byte
	size      int64
	expiresAt time.Time
}

// memoryCache is the in-process tier. simplelru is not safe for concurrent
// use, so every access holds mu.
type memoryCache struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[string, *entry]
	strategy Strategy
	maxBytes int64
	bytes    int64
	now      func() time.Time

	// reason labels the next eviction callback; an empty reason means the
	// removal was an invalidation and is not counted as an eviction.
	reason string
	onEvict func(reason string)
}

func newMemoryCache(cfg Config, onEvict func(reason string)) (*memoryCache, error) {
	m := &memoryCache{
		strategy: cfg.Strategy,
		maxBytes: cfg.MaxMemoryBytes,
		now:      time.Now,
		reason:   reasonCapacity,
		onEvict:  onEvict,
	}
	lru, err := simplelru.NewLRU[string, *entry](cfg.Capacity, m.evicted)
	if err != nil {
		return nil, err
	}
	m.lru = lru
	return m, nil
}

// evicted runs under mu for every removal.
func (m *memoryCache) evicted(_ string, e *entry) {
	m.bytes -= e.size
	if m.reason != "" && m.onEvict != nil {
		m.onEvict(m.reason)
	}
}

func (m *memoryCache) get(key string) ([]byte, bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		e  *entry
		ok bool
	)
	if m.strategy == StrategyFIFO {
		e, ok = m.lru.Peek(key)
	} else {
		e, ok = m.lru.Get(key)
	}
	if !ok {
		return nil, false, false
	}
	if !m.now().Before(e.expiresAt) {
		m.removeLocked(key, reasonExpired)
		return nil, false, true
	}
	return e.data, true, false
}

func (m *memoryCache) set(key string, data []byte, ttl time.Duration) {
	size := int64(len(key) + len(data))

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxBytes > 0 && size > m.maxBytes {
		m.removeLocked(key, "")
		return
	}
	if old, ok := m.lru.Peek(key); ok {
		m.bytes -= old.size
		old.size = 0
	}
	m.reason = reasonCapacity
	m.lru.Add(key, &entry{data: data, size: size, expiresAt: m.now().Add(ttl)})
	m.bytes += size

	if m.maxBytes <= 0 {
		return
	}
	m.reason = reasonMemory
	for m.bytes > m.maxBytes {
		if _, _, ok := m.lru.RemoveOldest(); !ok {
			break
		}
	}
	m.reason = reasonCapacity
}

func (m *memoryCache) removeLocked(key, reason string) {
	m.reason = reason
	m.lru.Remove(key)
	m.reason = reasonCapacity
}

func (m *memoryCache) remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(key, "")
}

// deletePrefix removes every key starting with prefix and reports how many
// were removed.
func (m *memoryCache) deletePrefix(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, key := range m.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			m.removeLocked(key, "")
			removed++
		}
	}
	return removed
}

// sweep drops expired entries.
func (m *memoryCache) sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	expired := 0
	for _, key := range m.lru.Keys() {
		e, ok := m.lru.Peek(key)
		if ok && !now.Before(e.expiresAt) {
			m.removeLocked(key, reasonExpired)
			expired++
		}
	}
	return expired
}

func (m *memoryCache) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Keys()
}

func (m *memoryCache) purge() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reason = ""
	m.lru.Purge()
	m.reason = reasonCapacity
	m.bytes = 0
}

func (m *memoryCache) usage() (entries int, bytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Len(), m.bytes
}

package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	key     string
	value   []byte
	expires time.Time
}

type memoryPool struct {
	mutex   sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front is most recently used
	config  PoolConfiguration
}

// Memory is the in-process cache adapter. Each pool is an LRU map with
// TTL expiry. Expired entries are dropped lazily on access and by a
// background sweep.
type Memory struct {
	pools map[Pool]*memoryPool
	done  chan struct{}
	once  sync.Once
}

// NewMemory creates an in-process cache from the configuration. Pools
// missing from the configuration get defaults.
func NewMemory(config Configuration) *Memory {
	m := &Memory{
		pools: make(map[Pool]*memoryPool),
		done:  make(chan struct{}),
	}
	for _, pool := range Pools() {
		m.pools[pool] = &memoryPool{
			entries: make(map[string]*list.Element),
			order:   list.New(),
			config:  config.Pools[pool],
		}
	}
	go m.sweep()
	return m
}

func (m *Memory) sweep() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case now := <-ticker.C:
			for _, p := range m.pools {
				p.mutex.Lock()
				for key, elem := range p.entries {
					if now.After(elem.Value.(*memoryEntry).expires) {
						p.order.Remove(elem)
						delete(p.entries, key)
					}
				}
				p.mutex.Unlock()
			}
		}
	}
}

// Get returns the cached value for key, if present and not expired.
func (m *Memory) Get(ctx context.Context, pool Pool, key string) ([]byte, bool) {
	p, ok := m.pools[pool]
	if !ok {
		return nil, false
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()
	elem, ok := p.entries[key]
	if !ok {
		return nil, false
	}
	entry := elem.Value.(*memoryEntry)
	if time.Now().After(entry.expires) {
		p.order.Remove(elem)
		delete(p.entries, key)
		return nil, false
	}
	p.order.MoveToFront(elem)
	return entry.value, true
}

// Set stores value under key. Values larger than the pool's item size cap
// bypass the cache. When the pool is full, the least recently used entry
// is evicted.
func (m *Memory) Set(ctx context.Context, pool Pool, key string, value []byte) {
	p, ok := m.pools[pool]
	if !ok || len(value) > p.config.maxItemSize() {
		return
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if elem, ok := p.entries[key]; ok {
		entry := elem.Value.(*memoryEntry)
		entry.value = value
		entry.expires = time.Now().Add(p.config.ttl())
		p.order.MoveToFront(elem)
		return
	}
	for p.order.Len() >= p.config.maxEntries() {
		oldest := p.order.Back()
		if oldest == nil {
			break
		}
		p.order.Remove(oldest)
		delete(p.entries, oldest.Value.(*memoryEntry).key)
	}
	entry := &memoryEntry{key: key, value: value, expires: time.Now().Add(p.config.ttl())}
	p.entries[key] = p.order.PushFront(entry)
}

// Delete removes the entry for key.
func (m *Memory) Delete(ctx context.Context, pool Pool, key string) {
	p, ok := m.pools[pool]
	if !ok {
		return
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if elem, ok := p.entries[key]; ok {
		p.order.Remove(elem)
		delete(p.entries, key)
	}
}

// Clear removes all entries of the pool matching pattern.
func (m *Memory) Clear(ctx context.Context, pool Pool, pattern string) error {
	p, ok := m.pools[pool]
	if !ok {
		return nil
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()
	for key, elem := range p.entries {
		if matchesPattern(key, pattern) {
			p.order.Remove(elem)
			delete(p.entries, key)
		}
	}
	return nil
}

// Shutdown stops the background sweep.
func (m *Memory) Shutdown() {
	m.once.Do(func() { close(m.done) })
}

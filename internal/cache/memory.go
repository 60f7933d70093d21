package cache

import (
	"container/list"
	"context"
	"sync"

	"llm-ensemble/internal/ensemble"
)

type memoryKey struct {
	query    string
	strategy ensemble.Strategy
}

type memoryEntry struct {
	key    memoryKey
	result *ensemble.Result
}

// Memory is an in-process FIFO cache. When a new key would exceed the capacity the oldest-inserted
// entry is evicted; reads never change eviction order.
type Memory struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	entries  map[memoryKey]*list.Element

	hits, misses, evictions int64
}

// NewMemory creates a FIFO cache. A non-positive capacity means DefaultCapacity.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Memory{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[memoryKey]*list.Element, capacity),
	}
}

func (m *Memory) Get(_ context.Context, query string, strategy ensemble.Strategy) (*ensemble.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.entries[memoryKey{query, strategy}]
	if !ok {
		m.misses++
		return nil, nil
	}
	m.hits++
	return el.Value.(*memoryEntry).result, nil
}

// Put stores result. Re-putting an existing key replaces the value and keeps its original position.
func (m *Memory) Put(_ context.Context, query string, strategy ensemble.Strategy, result *ensemble.Result) error {
	k := memoryKey{query, strategy}
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.entries[k]; ok {
		el.Value.(*memoryEntry).result = result
		return nil
	}
	if m.order.Len() >= m.capacity {
		oldest := m.order.Front()
		m.order.Remove(oldest)
		delete(m.entries, oldest.Value.(*memoryEntry).key)
		m.evictions++
	}
	m.entries[k] = m.order.PushBack(&memoryEntry{key: k, result: result})
	return nil
}

func (m *Memory) Stats(context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Entries:   m.order.Len(),
		Capacity:  m.capacity,
		Hits:      m.hits,
		Misses:    m.misses,
		Evictions: m.evictions,
	}, nil
}

func (m *Memory) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order.Init()
	clear(m.entries)
	return nil
}

func (m *Memory) Close() error { return nil }

package store

import (
	"bytes"
	"sync"
)

// Memory is an in-memory Store implementation. It is safe for concurrent
// use and is the default binding in tests and credential-less deployments.
type Memory struct {
	mu      sync.RWMutex
	buckets map[string]*memBucket
	closed  bool
}

type memBucket struct {
	values map[string][]byte
	order  []string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{buckets: make(map[string]*memBucket)}
}

func (m *Memory) bucket(name string) *memBucket {
	b, ok := m.buckets[name]
	if !ok {
		b = &memBucket{values: make(map[string][]byte)}
		m.buckets[name] = b
	}
	return b
}

// Get implements Store.
func (m *Memory) Get(bucket, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	b, ok := m.buckets[bucket]
	if !ok {
		return nil, false, nil
	}
	v, ok := b.values[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

// Put implements Store.
func (m *Memory) Put(bucket, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	b := m.bucket(bucket)
	if _, exists := b.values[key]; !exists {
		b.order = append(b.order, key)
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	b.values[key] = stored
	return nil
}

// Delete implements Store.
func (m *Memory) Delete(bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	b, ok := m.buckets[bucket]
	if !ok {
		return nil
	}
	if _, exists := b.values[key]; !exists {
		return nil
	}
	delete(b.values, key)
	for i, k := range b.order {
		if k == key {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	return nil
}

// CompareAndSwap implements Store.
func (m *Memory) CompareAndSwap(bucket, key string, old, new []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	b := m.bucket(bucket)
	current, exists := b.values[key]

	if old == nil {
		if exists {
			return false, nil
		}
	} else {
		if !exists || !bytes.Equal(current, old) {
			return false, nil
		}
	}

	if !exists {
		b.order = append(b.order, key)
	}
	stored := make([]byte, len(new))
	copy(stored, new)
	b.values[key] = stored
	return true, nil
}

// Keys implements Store.
func (m *Memory) Keys(bucket string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	b, ok := m.buckets[bucket]
	if !ok {
		return nil, nil
	}
	out := make([]string, len(b.order))
	copy(out, b.order)
	return out, nil
}

// Close implements Store.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.buckets = nil
	return nil
}

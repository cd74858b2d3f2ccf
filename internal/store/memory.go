package store

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process Store. Transactions buffer their writes and apply
// them atomically on success.
type Memory struct {
	Locker

	mu   sync.RWMutex
	data map[Key][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[Key][]byte)}
}

var _ Store = (*Memory)(nil)

// Get returns a copy of the stored value, or nil if absent.
func (m *Memory) Get(_ context.Context, key Key) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	return clone(v), nil
}

// Set stores a copy of value.
func (m *Memory) Set(_ context.Context, key Key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = clone(value)
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (m *Memory) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Update runs fn against a write buffer and commits it if fn succeeds.
func (m *Memory) Update(ctx context.Context, fn func(tx KV) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memoryTx{
		parent:  m,
		writes:  make(map[Key][]byte),
		deletes: make(map[Key]bool),
	}
	if err := fn(tx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range tx.deletes {
		delete(m.data, k)
	}
	for k, v := range tx.writes {
		m.data[k] = v
	}
	return nil
}

// List returns the keys of namespace in stable order.
func (m *Memory) List(_ context.Context, namespace string) ([]Key, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []Key
	for k := range m.data {
		if k.Namespace == namespace {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].UserID != keys[j].UserID {
			return keys[i].UserID < keys[j].UserID
		}
		return keys[i].ID < keys[j].ID
	})
	return keys, nil
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *Memory) Close() error { return nil }

// Lock serializes operations for one user.
func (m *Memory) Lock(userID string) func() {
	return m.Locker.Lock(userID)
}

type memoryTx struct {
	parent  *Memory
	writes  map[Key][]byte
	deletes map[Key]bool
}

func (t *memoryTx) Get(ctx context.Context, key Key) ([]byte, error) {
	if t.deletes[key] {
		return nil, nil
	}
	if v, ok := t.writes[key]; ok {
		return clone(v), nil
	}
	return t.parent.Get(ctx, key)
}

func (t *memoryTx) Set(_ context.Context, key Key, value []byte) error {
	delete(t.deletes, key)
	t.writes[key] = clone(value)
	return nil
}

func (t *memoryTx) Delete(_ context.Context, key Key) error {
	delete(t.writes, key)
	t.deletes[key] = true
	return nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

package storage

import (
	"context"
	"errors"
	"sync"
)

// ErrVersionConflict is returned by CompareAndSwap when the stored version no
// longer matches the expected one.
var ErrVersionConflict = errors.New("storage: version conflict")

// Versioned pairs a stored value with its monotonically increasing version.
type Versioned struct {
	Value   []byte
	Version uint64
}

// KV is the durable store the engine writes booking and offer snapshots to.
// Implementations must make Put and CompareAndSwap atomic per key.
type KV interface {
	Get(ctx context.Context, key string) (Versioned, bool, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	CompareAndSwap(ctx context.Context, key string, value []byte, expect uint64) (uint64, error)
}

type MemoryKV struct {
	mu   sync.RWMutex
	data map[string]Versioned
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]Versioned)}
}

func (m *MemoryKV) Get(_ context.Context, key string) (Versioned, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryKV) Put(_ context.Context, key string, value []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.data[key].Version + 1
	m.data[key] = Versioned{Value: clone(value), Version: next}
	return next, nil
}

func (m *MemoryKV) CompareAndSwap(_ context.Context, key string, value []byte, expect uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.data[key]
	if cur.Version != expect {
		return cur.Version, ErrVersionConflict
	}
	next := expect + 1
	m.data[key] = Versioned{Value: clone(value), Version: next}
	return next, nil
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

package kv

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type memEntry struct {
	Entry
	expires time.Time
}

type MemStore struct {
	clock clockwork.Clock

	mu   sync.Mutex
	rev  uint64
	data map[string]memEntry
}

func NewMemStore() *MemStore {
	return NewMemStoreWithClock(clockwork.NewRealClock())
}

func NewMemStoreWithClock(clock clockwork.Clock) *MemStore {
	return &MemStore{clock: clock, data: map[string]memEntry{}}
}

func (m *MemStore) Put(_ context.Context, key string, data []byte, opts PutOptions) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.lookup(key)
	if opts.Create && exists {
		return 0, ErrExists
	}
	if opts.Revision != 0 && (!exists || current.Revision != opts.Revision) {
		return 0, ErrRevisionMismatch
	}

	m.rev++
	e := memEntry{Entry: Entry{Data: append([]byte(nil), data...), Revision: m.rev}}
	if opts.TTL > 0 {
		e.expires = m.clock.Now().Add(opts.TTL)
	}
	m.data[key] = e
	return m.rev, nil
}

func (m *MemStore) Get(_ context.Context, key string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(key)
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e.Entry, nil
}

func (m *MemStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// lookup drops expired entries. Callers hold m.mu.
func (m *MemStore) lookup(key string) (memEntry, bool) {
	e, ok := m.data[key]
	if !ok {
		return e, false
	}
	if !e.expires.IsZero() && !m.clock.Now().Before(e.expires) {
		delete(m.data, key)
		return memEntry{}, false
	}
	return e, true
}

var _ Store = (*MemStore)(nil)

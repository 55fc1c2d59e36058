package kv

import (
	"context"
	"sync"
	"time"
)

type memoryValue struct {
	data      []byte
	expiresAt time.Time
}

type memorySet struct {
	members   map[string]struct{}
	expiresAt time.Time
}

// Memory is an in-process Store used as the fallback when Redis is
// unreachable, and as the default backend in tests. Expired entries are
// dropped on access; there is no background sweeper.
type Memory struct {
	mu     sync.Mutex
	values map[string]memoryValue
	sets   map[string]*memorySet
	now    func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		values: make(map[string]memoryValue),
		sets:   make(map[string]*memorySet),
		now:    time.Now,
	}
}

// WithClock overrides the store clock. Intended for tests.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	return m
}

// sweep drops every expired entry. Called with the lock held on each
// access, mirroring the expiry-on-read discipline of the Redis backend.
func (m *Memory) sweep() {
	now := m.now()
	for key, v := range m.values {
		if now.After(v.expiresAt) {
			delete(m.values, key)
		}
	}
	for key, s := range m.sets {
		if now.After(s.expiresAt) {
			delete(m.sets, key)
		}
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep()

	v, ok := m.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v.data))
	copy(out, v.data)
	return out, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep()

	stored := make([]byte, len(value))
	copy(stored, value)
	m.values[key] = memoryValue{data: stored, expiresAt: m.now().Add(ttl)}
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *Memory) AddToSet(_ context.Context, set, member string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep()

	s, ok := m.sets[set]
	if !ok {
		s = &memorySet{members: make(map[string]struct{})}
		m.sets[set] = s
	}
	s.members[member] = struct{}{}
	if ttl > 0 {
		s.expiresAt = m.now().Add(ttl)
	}
	return nil
}

func (m *Memory) RemoveFromSet(_ context.Context, set, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep()

	if s, ok := m.sets[set]; ok {
		delete(s.members, member)
		if len(s.members) == 0 {
			delete(m.sets, set)
		}
	}
	return nil
}

func (m *Memory) SetMembers(_ context.Context, set string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep()

	s, ok := m.sets[set]
	if !ok {
		return nil, nil
	}
	members := make([]string, 0, len(s.members))
	for member := range s.members {
		members = append(members, member)
	}
	return members, nil
}

func (m *Memory) DeleteSet(_ context.Context, set string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sets, set)
	return nil
}

// Len reports the number of live value entries. Intended for tests.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep()
	return len(m.values)
}

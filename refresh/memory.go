package refresh

import (
	"context"
	"sync"
	"time"
)

type memoryRecord struct {
	rec       Record
	expiresAt time.Time
}

// MemoryStore is the in-process TokenStore. Default for tests and
// single-node deployments; expired entries are dropped on access.
type MemoryStore struct {
	mu       sync.Mutex
	records  map[string]memoryRecord
	families map[string]map[string]struct{}
	users    map[string]map[string]struct{}
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory token store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[string]memoryRecord),
		families: make(map[string]map[string]struct{}),
		users:    make(map[string]map[string]struct{}),
		now:      time.Now,
	}
}

// WithClock overrides the store clock. Intended for tests.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	return m
}

// sweep drops expired records and their index entries. Called with the
// lock held on each access.
func (m *MemoryStore) sweep() {
	now := m.now()
	for id, entry := range m.records {
		if now.After(entry.expiresAt) {
			m.dropLocked(id, entry.rec)
		}
	}
}

func (m *MemoryStore) dropLocked(id string, rec Record) {
	delete(m.records, id)
	if fam := m.families[rec.Family]; fam != nil {
		delete(fam, id)
		if len(fam) == 0 {
			delete(m.families, rec.Family)
		}
	}
	if usr := m.users[rec.UserID]; usr != nil {
		delete(usr, rec.Family)
	}
}

func (m *MemoryStore) Save(_ context.Context, rec *Record, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep()

	m.records[rec.ID] = memoryRecord{rec: *rec, expiresAt: m.now().Add(ttl)}
	fam, ok := m.families[rec.Family]
	if !ok {
		fam = make(map[string]struct{})
		m.families[rec.Family] = fam
	}
	fam[rec.ID] = struct{}{}

	usr, ok := m.users[rec.UserID]
	if !ok {
		usr = make(map[string]struct{})
		m.users[rec.UserID] = usr
	}
	usr[rec.Family] = struct{}{}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep()

	entry, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	rec := entry.rec
	return &rec, nil
}

func (m *MemoryStore) Consume(_ context.Context, id, replacedBy string, at time.Time) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep()

	entry, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	if entry.rec.Revoked {
		return nil, ErrRevoked
	}

	updated := entry.rec
	updated.Revoked = true
	updated.RevokedAt = at
	updated.ReplacedBy = replacedBy
	m.records[id] = memoryRecord{rec: updated, expiresAt: entry.expiresAt}
	return &updated, nil
}

func (m *MemoryStore) RevokeFamily(_ context.Context, family string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep()
	return m.revokeFamilyLocked(family, at), nil
}

func (m *MemoryStore) revokeFamilyLocked(family string, at time.Time) int {
	revoked := 0
	for id := range m.families[family] {
		entry, ok := m.records[id]
		if !ok || entry.rec.Revoked {
			continue
		}
		updated := entry.rec
		updated.Revoked = true
		updated.RevokedAt = at
		m.records[id] = memoryRecord{rec: updated, expiresAt: entry.expiresAt}
		revoked++
	}
	return revoked
}

func (m *MemoryStore) RevokeUser(_ context.Context, userID string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep()

	revoked := 0
	for family := range m.users[userID] {
		revoked += m.revokeFamilyLocked(family, at)
	}
	return revoked, nil
}

func (m *MemoryStore) FamilyRecords(_ context.Context, family string) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep()

	ids := m.families[family]
	records := make([]*Record, 0, len(ids))
	for id := range ids {
		if entry, ok := m.records[id]; ok {
			rec := entry.rec
			records = append(records, &rec)
		}
	}
	return records, nil
}

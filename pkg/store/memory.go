package store

import (
	"context"
	"sync"
	"time"

	"safevoice/internal/models"
	"safevoice/pkg/sig"
)

// MemoryStore mirrors the gorm store for tests and embedded runs. Same
// invariants, same notifications, no persistence.
type MemoryStore struct {
	mu          sync.RWMutex
	users       map[string]models.UserProfile
	contacts    []models.Contact
	emergencies map[string]models.EmergencyRecord
	locations   map[string][]models.LocationSample
	hub         *sig.Hub
}

func NewMemoryStore(hub *sig.Hub) *MemoryStore {
	if hub == nil {
		hub = sig.NewHub()
	}
	return &MemoryStore{
		users:       make(map[string]models.UserProfile),
		emergencies: make(map[string]models.EmergencyRecord),
		locations:   make(map[string][]models.LocationSample),
		hub:         hub,
	}
}

func (m *MemoryStore) Notifier() *sig.Hub { return m.hub }

func (m *MemoryStore) CreateUser(_ context.Context, u *models.UserProfile) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	m.mu.Lock()
	m.users[u.ID] = *u
	m.mu.Unlock()
	m.hub.Emit(models.SigUserUpdated, u)
	return nil
}

func (m *MemoryStore) SaveUser(_ context.Context, u *models.UserProfile) error {
	m.mu.Lock()
	m.users[u.ID] = *u
	m.mu.Unlock()
	m.hub.Emit(models.SigUserUpdated, u)
	return nil
}

func (m *MemoryStore) GetUser(_ context.Context, id string) (*models.UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (m *MemoryStore) AddContact(_ context.Context, c *models.Contact) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	m.mu.Lock()
	m.contacts = append(m.contacts, *c)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) ContactsFor(_ context.Context, userID string) ([]models.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Contact
	for _, c := range m.contacts {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MemoryStore) CreateEmergency(_ context.Context, rec *models.EmergencyRecord) error {
	m.mu.Lock()
	m.emergencies[rec.ID] = *rec
	m.mu.Unlock()
	m.hub.Emit(models.SigEmergencyTriggered, rec)
	return nil
}

func (m *MemoryStore) GetEmergency(_ context.Context, id string) (*models.EmergencyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.emergencies[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (m *MemoryStore) UpdateEmergency(_ context.Context, rec *models.EmergencyRecord) error {
	m.mu.Lock()
	if _, ok := m.emergencies[rec.ID]; !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	m.emergencies[rec.ID] = *rec
	m.mu.Unlock()
	if rec.Status == models.StatusSafe {
		m.hub.Emit(models.SigEmergencyResolved, rec)
	} else {
		m.hub.Emit(models.SigEmergencyTriggered, rec)
	}
	return nil
}

func (m *MemoryStore) ActiveEmergencyFor(_ context.Context, userID string) (*models.EmergencyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.emergencies {
		if rec.UserID == userID && rec.Active() {
			r := rec
			return &r, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) ActiveEmergencies(_ context.Context) ([]models.EmergencyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.EmergencyRecord
	for _, rec := range m.emergencies {
		if rec.Active() {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *MemoryStore) AppendLocation(_ context.Context, s *models.LocationSample) error {
	m.mu.Lock()
	rec, ok := m.emergencies[s.EmergencyID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if !rec.Active() {
		m.mu.Unlock()
		return ErrEmergencyClosed
	}
	seq := m.locations[s.EmergencyID]
	if n := len(seq); n > 0 && s.Timestamp.Before(seq[n-1].Timestamp) {
		m.mu.Unlock()
		return ErrStaleSample
	}
	s.ID = uint(len(seq) + 1)
	m.locations[s.EmergencyID] = append(seq, *s)
	m.mu.Unlock()
	m.hub.Emit(models.SigLocationAppended, s)
	return nil
}

func (m *MemoryStore) LastLocation(_ context.Context, emergencyID string) (*models.LocationSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seq := m.locations[emergencyID]
	if len(seq) == 0 {
		return nil, nil
	}
	last := seq[len(seq)-1]
	return &last, nil
}

func (m *MemoryStore) LocationsFor(_ context.Context, emergencyID string) ([]models.LocationSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.LocationSample, len(m.locations[emergencyID]))
	copy(out, m.locations[emergencyID])
	return out, nil
}

func (m *MemoryStore) PurgeResolvedLocations(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var purged int64
	for id, rec := range m.emergencies {
		if rec.Status == models.StatusSafe && rec.ResolvedAt != nil && rec.ResolvedAt.Before(before) {
			purged += int64(len(m.locations[id]))
			delete(m.locations, id)
		}
	}
	return purged, nil
}

func (m *MemoryStore) Close() error { return nil }

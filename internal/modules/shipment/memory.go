package shipment

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"haul/internal/modules/location"
	"haul/internal/types"
)

type memoryData struct {
	mu   sync.Mutex
	rows map[types.ID]*Shipment
}

// MemoryStore is an in-process Repository. Transactions hold the store lock
// for their whole duration and restore a snapshot when fn fails.
type MemoryStore struct {
	data *memoryData
	inTx bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: &memoryData{rows: make(map[types.ID]*Shipment)}}
}

func (m *MemoryStore) lock() func() {
	if m.inTx {
		return func() {}
	}
	m.data.mu.Lock()
	return m.data.mu.Unlock
}

func (m *MemoryStore) Create(ctx context.Context, s *Shipment) error {
	defer m.lock()()
	if _, ok := m.data.rows[s.ID]; ok {
		return fmt.Errorf("%w: shipment %s already exists", types.ErrConflict, s.ID)
	}
	m.data.rows[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id types.ID) (*Shipment, error) {
	defer m.lock()()
	s, ok := m.data.rows[id]
	if !ok {
		return nil, fmt.Errorf("shipment %s: %w", id, types.ErrNotFound)
	}
	return s.Clone(), nil
}

func (m *MemoryStore) GetForUpdate(ctx context.Context, id types.ID) (*Shipment, error) {
	return m.Get(ctx, id)
}

func (m *MemoryStore) FindPendingNear(ctx context.Context, p types.Point, radiusKm float64) ([]*Shipment, error) {
	return m.filter(func(s *Shipment) bool {
		return s.Status == StatusPending && location.WithinKm(p, s.Pickup, radiusKm)
	}), nil
}

func (m *MemoryStore) ListPending(ctx context.Context) ([]*Shipment, error) {
	return m.filter(func(s *Shipment) bool { return s.Status == StatusPending }), nil
}

func (m *MemoryStore) ListExpired(ctx context.Context, now time.Time) ([]*Shipment, error) {
	return m.filter(func(s *Shipment) bool {
		return s.Status == StatusPending && !s.ExpiresAt.After(now)
	}), nil
}

func (m *MemoryStore) List(ctx context.Context, f ListFilter) ([]*Shipment, error) {
	return m.filter(f.matches), nil
}

func (m *MemoryStore) filter(keep func(*Shipment) bool) []*Shipment {
	defer m.lock()()
	var out []*Shipment
	for _, s := range m.data.rows {
		if keep(s) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *MemoryStore) UpdatePrice(ctx context.Context, id types.ID, version int, price float64) (bool, error) {
	defer m.lock()()
	s, ok := m.data.rows[id]
	if !ok || s.Version != version || s.Status != StatusPending {
		return false, nil
	}
	s.Price = price
	s.Version++
	return true, nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, driverID *types.ID, at time.Time) (bool, error) {
	defer m.lock()()
	s, ok := m.data.rows[id]
	if !ok || s.Version != version || s.Status != from {
		return false, nil
	}
	s.Status = to
	s.Version++
	if driverID != nil {
		d := *driverID
		s.DriverID = &d
	}
	if to == StatusCompleted {
		s.CompletedAt = &at
	}
	return true, nil
}

func (m *MemoryStore) SaveCombined(ctx context.Context, sh *Shipment, expectedVersion int) (bool, error) {
	defer m.lock()()
	cur, ok := m.data.rows[sh.ID]
	if !ok || cur.Version != expectedVersion || cur.Status != StatusPending {
		return false, nil
	}
	next := sh.Clone()
	next.Version = expectedVersion + 1
	m.data.rows[sh.ID] = next
	sh.Version = next.Version
	return true, nil
}

func (m *MemoryStore) Delete(ctx context.Context, id types.ID, version int) (bool, error) {
	defer m.lock()()
	s, ok := m.data.rows[id]
	if !ok || s.Version != version || s.Status != StatusPending {
		return false, nil
	}
	delete(m.data.rows, id)
	return true, nil
}

func (m *MemoryStore) WithinTx(ctx context.Context, fn func(tx Repository) error) error {
	if m.inTx {
		return fn(m)
	}
	m.data.mu.Lock()
	defer m.data.mu.Unlock()

	snapshot := make(map[types.ID]*Shipment, len(m.data.rows))
	for id, s := range m.data.rows {
		snapshot[id] = s.Clone()
	}
	if err := fn(&MemoryStore{data: m.data, inTx: true}); err != nil {
		m.data.rows = snapshot
		return err
	}
	return nil
}

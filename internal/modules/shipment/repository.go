package shipment

import (
	"context"
	"time"

	"haul/internal/types"
)

// Repository persists shipments. Writes that take a version are compare-and-swap:
// they report false when the row moved on (or left Pending) since it was read.
type Repository interface {
	Get(ctx context.Context, id types.ID) (*Shipment, error)
	// GetForUpdate locks the row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id types.ID) (*Shipment, error)
	Create(ctx context.Context, s *Shipment) error
	// FindPendingNear returns Pending shipments whose pickup lies within radiusKm of p.
	// The caller owns the returned slice.
	FindPendingNear(ctx context.Context, p types.Point, radiusKm float64) ([]*Shipment, error)
	ListPending(ctx context.Context) ([]*Shipment, error)
	ListExpired(ctx context.Context, now time.Time) ([]*Shipment, error)
	// List returns shipments matching every non-empty field of f, oldest first.
	List(ctx context.Context, f ListFilter) ([]*Shipment, error)
	UpdatePrice(ctx context.Context, id types.ID, version int, price float64) (bool, error)
	// UpdateStatus stamps CompletedAt with at when moving to Completed.
	UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, driverID *types.ID, at time.Time) (bool, error)
	SaveCombined(ctx context.Context, s *Shipment, expectedVersion int) (bool, error)
	Delete(ctx context.Context, id types.ID, version int) (bool, error)
	// WithinTx runs fn against a transaction-bound repository. fn's error rolls
	// everything back. Nested calls join the outer transaction.
	WithinTx(ctx context.Context, fn func(tx Repository) error) error
}

type ListFilter struct {
	ShipperID types.ID
	Status    Status
}

func (f ListFilter) matches(s *Shipment) bool {
	return (f.ShipperID == "" || s.ShipperID == f.ShipperID) &&
		(f.Status == "" || s.Status == f.Status)
}

var (
	_ Repository = (*Store)(nil)
	_ Repository = (*MemoryStore)(nil)
)

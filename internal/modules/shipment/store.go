// README: Shipment store backed by PostgreSQL with version compare-and-swap writes.
package shipment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"haul/internal/modules/location"
	"haul/internal/types"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	db   *pgxpool.Pool
	q    querier
	inTx bool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db, q: db}
}

const selectColumns = `
	id, shipper_id, company_name,
	pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
	material, quantity_tonnes, fragile, refrigeration_required, insurance_requested, vehicle_class,
	created_at, expires_at, distance_km, price, status, version, driver_id,
	is_combined_route, combined_booking_ids, route_order, combined_price, combined_route_km,
	completed_at`

func (s *Store) Create(ctx context.Context, sh *Shipment) error {
	route, err := encodeRoute(sh.RouteOrder)
	if err != nil {
		return err
	}
	_, err = s.q.Exec(ctx, `
		INSERT INTO shipments (
			id, shipper_id, company_name,
			pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
			material, quantity_tonnes, fragile, refrigeration_required, insurance_requested, vehicle_class,
			created_at, expires_at, distance_km, price, status, version, driver_id,
			is_combined_route, combined_booking_ids, route_order, combined_price, combined_route_km,
			completed_at
		) VALUES (
			$1, $2, $3,
			$4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25,
			$26
		)`,
		string(sh.ID), string(sh.ShipperID), sh.CompanyName,
		sh.Pickup.Lat, sh.Pickup.Lng, sh.Dropoff.Lat, sh.Dropoff.Lng,
		sh.Material, sh.QuantityTonnes, sh.Fragile, sh.RefrigerationRequired, sh.InsuranceRequested, sh.VehicleClass,
		sh.CreatedAt, sh.ExpiresAt, sh.DistanceKm, sh.Price, string(sh.Status), sh.Version, toStringPtr(sh.DriverID),
		sh.IsCombinedRoute, idsToStrings(sh.CombinedBookingIDs), route, sh.CombinedPrice, sh.CombinedRouteKm,
		sh.CompletedAt,
	)
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Shipment, error) {
	return s.getOne(ctx, `SELECT `+selectColumns+` FROM shipments WHERE id = $1`, id)
}

func (s *Store) GetForUpdate(ctx context.Context, id types.ID) (*Shipment, error) {
	return s.getOne(ctx, `SELECT `+selectColumns+` FROM shipments WHERE id = $1 FOR UPDATE`, id)
}

func (s *Store) getOne(ctx context.Context, query string, id types.ID) (*Shipment, error) {
	sh, err := scanShipment(s.q.QueryRow(ctx, query, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("shipment %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return sh, nil
}

// FindPendingNear prefilters with a bounding box so the pickup index is usable,
// then applies the exact haversine radius. Inside a transaction the rows are locked
// in id order, the same order Combine locks its pair in.
func (s *Store) FindPendingNear(ctx context.Context, p types.Point, radiusKm float64) ([]*Shipment, error) {
	minLat, maxLat, minLng, maxLng := boundingBox(p, radiusKm)
	query := `SELECT ` + selectColumns + ` FROM shipments
		WHERE status = 'pending'
		  AND pickup_lat BETWEEN $1 AND $2
		  AND pickup_lng BETWEEN $3 AND $4
		ORDER BY id`
	if s.inTx {
		query += ` FOR UPDATE`
	}
	all, err := s.list(ctx, query, minLat, maxLat, minLng, maxLng)
	if err != nil {
		return nil, err
	}
	out := make([]*Shipment, 0, len(all))
	for _, sh := range all {
		if location.WithinKm(p, sh.Pickup, radiusKm) {
			out = append(out, sh)
		}
	}
	return out, nil
}

func (s *Store) ListPending(ctx context.Context) ([]*Shipment, error) {
	return s.list(ctx, `SELECT `+selectColumns+` FROM shipments WHERE status = 'pending' ORDER BY created_at, id`)
}

func (s *Store) ListExpired(ctx context.Context, now time.Time) ([]*Shipment, error) {
	return s.list(ctx, `SELECT `+selectColumns+` FROM shipments
		WHERE status = 'pending' AND expires_at <= $1
		ORDER BY expires_at, id`, now)
}

func (s *Store) List(ctx context.Context, f ListFilter) ([]*Shipment, error) {
	return s.list(ctx, `SELECT `+selectColumns+` FROM shipments
		WHERE ($1 = '' OR shipper_id = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at, id`, string(f.ShipperID), string(f.Status))
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]*Shipment, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Shipment
	for rows.Next() {
		sh, err := scanShipment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sh)
	}
	return out, rows.Err()
}

func (s *Store) UpdatePrice(ctx context.Context, id types.ID, version int, price float64) (bool, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE shipments
		SET price = $1,
		    version = version + 1
		WHERE id = $2 AND version = $3 AND status = 'pending'`,
		price, string(id), version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, driverID *types.ID, at time.Time) (bool, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE shipments
		SET status = $1,
		    version = version + 1,
		    driver_id = COALESCE($2, driver_id),
		    completed_at = CASE WHEN $1 = 'completed' THEN $6 ELSE completed_at END
		WHERE id = $3 AND status = $4 AND version = $5`,
		string(to),
		toStringPtr(driverID),
		string(id),
		string(from),
		version,
		at,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) SaveCombined(ctx context.Context, sh *Shipment, expectedVersion int) (bool, error) {
	route, err := encodeRoute(sh.RouteOrder)
	if err != nil {
		return false, err
	}
	tag, err := s.q.Exec(ctx, `
		UPDATE shipments
		SET company_name = $1,
		    distance_km = $2,
		    price = $3,
		    status = $4,
		    is_combined_route = $5,
		    combined_booking_ids = $6,
		    route_order = $7,
		    combined_price = $8,
		    combined_route_km = $9,
		    version = version + 1
		WHERE id = $10 AND version = $11 AND status = 'pending'`,
		sh.CompanyName, sh.DistanceKm, sh.Price, string(sh.Status),
		sh.IsCombinedRoute, idsToStrings(sh.CombinedBookingIDs), route, sh.CombinedPrice, sh.CombinedRouteKm,
		string(sh.ID), expectedVersion,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	sh.Version = expectedVersion + 1
	return true, nil
}

func (s *Store) Delete(ctx context.Context, id types.ID, version int) (bool, error) {
	tag, err := s.q.Exec(ctx, `
		DELETE FROM shipments
		WHERE id = $1 AND version = $2 AND status = 'pending'`,
		string(id), version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx Repository) error) error {
	if s.inTx {
		return fn(s)
	}
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		return fn(&Store{db: s.db, q: tx, inTx: true})
	})
	return mapTxError(err)
}

const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

// mapTxError reports transactions postgres aborted because of a concurrent
// writer as ErrConflict. The caller may retry the whole operation.
func mapTxError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateSerializationFailure, sqlStateDeadlockDetected:
			return fmt.Errorf("%w: %w", types.ErrConflict, err)
		}
	}
	return err
}

func scanShipment(row pgx.Row) (*Shipment, error) {
	var sh Shipment
	var status string
	var driverID *string
	var combinedIDs []string
	var route []byte

	err := row.Scan(
		&sh.ID, &sh.ShipperID, &sh.CompanyName,
		&sh.Pickup.Lat, &sh.Pickup.Lng, &sh.Dropoff.Lat, &sh.Dropoff.Lng,
		&sh.Material, &sh.QuantityTonnes, &sh.Fragile, &sh.RefrigerationRequired, &sh.InsuranceRequested, &sh.VehicleClass,
		&sh.CreatedAt, &sh.ExpiresAt, &sh.DistanceKm, &sh.Price, &status, &sh.Version, &driverID,
		&sh.IsCombinedRoute, &combinedIDs, &route, &sh.CombinedPrice, &sh.CombinedRouteKm,
		&sh.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	sh.Status = Status(status)
	if driverID != nil {
		d := types.ID(*driverID)
		sh.DriverID = &d
	}
	for _, id := range combinedIDs {
		sh.CombinedBookingIDs = append(sh.CombinedBookingIDs, types.ID(id))
	}
	if len(route) > 0 {
		if err := json.Unmarshal(route, &sh.RouteOrder); err != nil {
			return nil, fmt.Errorf("decode route_order for %s: %w", sh.ID, err)
		}
	}
	return &sh, nil
}

func encodeRoute(stops []RouteStop) ([]byte, error) {
	if len(stops) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(stops)
	if err != nil {
		return nil, fmt.Errorf("encode route_order: %w", err)
	}
	return b, nil
}

// boundingBox returns a lat/lng box that contains every point within radiusKm of p.
func boundingBox(p types.Point, radiusKm float64) (minLat, maxLat, minLng, maxLng float64) {
	const kmPerDegree = 6371.0 * math.Pi / 180
	// 1% slack keeps points right on the radius inside the box.
	dLat := radiusKm * 1.01 / kmPerDegree
	minLat, maxLat = math.Max(-90, p.Lat-dLat), math.Min(90, p.Lat+dLat)
	if maxLat >= 90 || minLat <= -90 {
		return minLat, maxLat, -180, 180
	}

	// the box is widest at its edge nearest a pole
	cos := math.Cos(math.Max(math.Abs(minLat), math.Abs(maxLat)) * math.Pi / 180)
	dLng := radiusKm * 1.01 / (kmPerDegree * cos)
	if dLng >= 180 || p.Lng-dLng < -180 || p.Lng+dLng > 180 {
		// wraps the antimeridian; fall back to the latitude band
		return minLat, maxLat, -180, 180
	}
	return minLat, maxLat, p.Lng - dLng, p.Lng + dLng
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func idsToStrings(ids []types.ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

package booking

import (
	"sort"
	"time"

	"github.com/samber/lo"

	"haul/internal/modules/shipment"
	"haul/internal/types"
)

type DriverStats struct {
	DriverID       types.ID
	TripsCompleted int
	TotalEarnings  float64
}

type TripStats struct {
	CompletedTrips int
	// AverageTripTime runs from booking to completion. Zero when no trip has
	// a completion time.
	AverageTripTime time.Duration
	Drivers         []DriverStats
}

// SummarizeTrips aggregates completed shipments. Other statuses are ignored and
// trips without a driver only count towards the totals.
func SummarizeTrips(list []*shipment.Shipment) TripStats {
	completed := lo.Filter(list, func(s *shipment.Shipment, _ int) bool {
		return s.Status == shipment.StatusCompleted
	})
	stats := TripStats{CompletedTrips: len(completed)}

	timed := lo.Filter(completed, func(s *shipment.Shipment, _ int) bool { return s.CompletedAt != nil })
	if len(timed) > 0 {
		total := lo.SumBy(timed, func(s *shipment.Shipment) time.Duration { return s.CompletedAt.Sub(s.CreatedAt) })
		stats.AverageTripTime = total / time.Duration(len(timed))
	}

	driven := lo.Filter(completed, func(s *shipment.Shipment, _ int) bool { return s.DriverID != nil })
	byDriver := lo.GroupBy(driven, func(s *shipment.Shipment) types.ID { return *s.DriverID })
	stats.Drivers = lo.MapToSlice(byDriver, func(id types.ID, trips []*shipment.Shipment) DriverStats {
		return DriverStats{
			DriverID:       id,
			TripsCompleted: len(trips),
			TotalEarnings:  lo.SumBy(trips, func(s *shipment.Shipment) float64 { return s.Price }),
		}
	})
	sort.Slice(stats.Drivers, func(i, j int) bool {
		a, b := stats.Drivers[i], stats.Drivers[j]
		if a.TripsCompleted != b.TripsCompleted {
			return a.TripsCompleted > b.TripsCompleted
		}
		return a.DriverID < b.DriverID
	})
	return stats
}

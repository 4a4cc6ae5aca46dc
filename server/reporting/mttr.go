// Package reporting computes the projections over the downtime log and
// production history: MTTR/MTBF, OEE and calendar roll-ups.
package reporting

import (
	"sort"
	"time"

	"github.com/itskum47/shopfloor/server/store"
)

// MachinePerformance is the repair/failure profile of one machine.
// MTTR is normalized by repair count and MTBF by interval count,
// independently; Failures is the number of MTBF intervals, not the number
// of downtimes.
type MachinePerformance struct {
	MachineID   int64   `json:"machine_id"`
	MTTRMinutes float64 `json:"mttr_minutes"`
	MTBFMinutes float64 `json:"mtbf_minutes"`
	Repairs     int     `json:"repairs"`
	Failures    int     `json:"failures"`
}

// ShopPerformance aggregates over all machines. Total repair time over
// total repairs; total up-time over total intervals.
type ShopPerformance struct {
	MTTRMinutes float64              `json:"mttr_minutes"`
	MTBFMinutes float64              `json:"mtbf_minutes"`
	Repairs     int                  `json:"repairs"`
	Failures    int                  `json:"failures"`
	Machines    []MachinePerformance `json:"machines"`
}

// MachineMetrics computes MTTR/MTBF for one machine's downtime log at the
// given instant. Open tickets contribute to neither metric.
func MachineMetrics(machineID int64, downtimes []*store.Downtime, now time.Time) MachinePerformance {
	var closed []*store.Downtime
	for _, d := range downtimes {
		if d.MachineID == machineID && d.ClosedAt != nil {
			closed = append(closed, d)
		}
	}
	sort.Slice(closed, func(i, j int) bool { return closed[i].OpenAt.Before(closed[j].OpenAt) })

	perf := MachinePerformance{MachineID: machineID}
	if len(closed) == 0 {
		return perf
	}

	var repairTotal time.Duration
	for _, d := range closed {
		repairTotal += d.ClosedAt.Sub(d.OpenAt)
	}
	perf.Repairs = len(closed)
	perf.MTTRMinutes = repairTotal.Minutes() / float64(len(closed))

	// Up-time intervals: closed_at[i] -> open_at[i+1], plus a final
	// interval to now after the last closure.
	var upTotal time.Duration
	intervals := 0
	for i := 0; i < len(closed)-1; i++ {
		gap := closed[i+1].OpenAt.Sub(*closed[i].ClosedAt)
		if gap > 0 {
			upTotal += gap
			intervals++
		}
	}
	if last := closed[len(closed)-1]; now.After(*last.ClosedAt) {
		upTotal += now.Sub(*last.ClosedAt)
		intervals++
	}
	perf.Failures = intervals
	if intervals > 0 {
		perf.MTBFMinutes = upTotal.Minutes() / float64(intervals)
	}
	return perf
}

// ShopMetrics aggregates per-machine metrics into the shop totals.
func ShopMetrics(downtimes []*store.Downtime, now time.Time) ShopPerformance {
	machineIDs := make(map[int64]bool)
	for _, d := range downtimes {
		machineIDs[d.MachineID] = true
	}
	ids := make([]int64, 0, len(machineIDs))
	for id := range machineIDs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var shop ShopPerformance
	var repairMinutes, upMinutes float64
	for _, id := range ids {
		perf := MachineMetrics(id, downtimes, now)
		shop.Machines = append(shop.Machines, perf)
		repairMinutes += perf.MTTRMinutes * float64(perf.Repairs)
		upMinutes += perf.MTBFMinutes * float64(perf.Failures)
		shop.Repairs += perf.Repairs
		shop.Failures += perf.Failures
	}
	if shop.Repairs > 0 {
		shop.MTTRMinutes = repairMinutes / float64(shop.Repairs)
	}
	if shop.Failures > 0 {
		shop.MTBFMinutes = upMinutes / float64(shop.Failures)
	}
	return shop
}

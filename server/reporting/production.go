package reporting

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/itskum47/shopfloor/server/scheduler"
	"github.com/itskum47/shopfloor/server/store"
)

// Granularity of a production roll-up.
type Granularity string

const (
	Daily   Granularity = "daily"
	Weekly  Granularity = "weekly"
	Monthly Granularity = "monthly"
)

// Bucket is one roll-up row.
type Bucket struct {
	PeriodStart time.Time `json:"period_start"`
	PartNumber  string    `json:"part_number"`
	GoodQty     int       `json:"good_qty"`
	BadQty      int       `json:"bad_qty"`
	TotalQty    int       `json:"total_qty"`
	Runs        int       `json:"runs"`
}

// Reporter builds roll-ups and shift OEE from the store.
type Reporter struct {
	store  store.Store
	window scheduler.Window
	logger *zap.Logger

	// IdealCycleMinutes is the OEE performance reference when the routing
	// does not supply one.
	IdealCycleMinutes float64
}

// NewReporter wires the projections.
func NewReporter(s store.Store, window scheduler.Window, logger *zap.Logger) *Reporter {
	return &Reporter{store: s, window: window, logger: logger, IdealCycleMinutes: 1}
}

// periodStart truncates t to its bucket opening.
func periodStart(t time.Time, g Granularity) time.Time {
	y, m, d := t.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	switch g {
	case Weekly:
		// ISO-ish week starting Monday.
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case Monthly:
		return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
	default:
		return day
	}
}

// Production rolls production logs between from and to into buckets of the
// given granularity, optionally filtered to one part.
func (r *Reporter) Production(ctx context.Context, g Granularity, from, to time.Time, partNumber string) ([]Bucket, error) {
	logs, err := r.store.ListProductionLogs(ctx, from, to, partNumber)
	if err != nil {
		return nil, err
	}

	// Resolve PSI -> part number once.
	parts := make(map[int64]string)
	type key struct {
		period time.Time
		part   string
	}
	buckets := make(map[key]*Bucket)
	for _, pl := range logs {
		part, ok := parts[pl.PSIID]
		if !ok {
			psi, err := r.store.GetPSI(ctx, pl.PSIID)
			if err != nil {
				return nil, err
			}
			order, err := r.store.GetOrder(ctx, psi.OrderID)
			if err != nil {
				return nil, err
			}
			part = order.PartNumber
			parts[pl.PSIID] = part
		}

		k := key{period: periodStart(pl.StartedAt, g), part: part}
		b, ok := buckets[k]
		if !ok {
			b = &Bucket{PeriodStart: k.period, PartNumber: part}
			buckets[k] = b
		}
		b.GoodQty += pl.GoodQty
		b.BadQty += pl.BadQty
		b.TotalQty += pl.GoodQty + pl.BadQty
		b.Runs++
	}

	out := make([]Bucket, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PeriodStart.Equal(out[j].PeriodStart) {
			return out[i].PeriodStart.Before(out[j].PeriodStart)
		}
		return out[i].PartNumber < out[j].PartNumber
	})
	return out, nil
}

// ShiftOEE computes the OEE of one machine for the working window of one
// calendar day. Planned production time is the shift length; run time is
// planned time minus closed downtime overlapping the shift; parts come
// from that day's production logs on the machine.
func (r *Reporter) ShiftOEE(ctx context.Context, machineID int64, day time.Time) (OEE, error) {
	shiftStart := r.window.DayStart(day)
	shiftEnd := r.window.DayEnd(day)
	planned := shiftEnd.Sub(shiftStart).Minutes()

	downtimes, err := r.store.ListDowntimesByMachine(ctx, machineID)
	if err != nil {
		return OEE{}, err
	}
	down := 0.0
	for _, d := range downtimes {
		end := d.ClosedAt
		if end == nil {
			continue
		}
		start := d.OpenAt
		if start.Before(shiftStart) {
			start = shiftStart
		}
		stop := *end
		if stop.After(shiftEnd) {
			stop = shiftEnd
		}
		if stop.After(start) {
			down += stop.Sub(start).Minutes()
		}
	}
	run := planned - down
	if run < 0 {
		run = 0
	}

	logs, err := r.store.ListProductionLogs(ctx, shiftStart, shiftEnd, "")
	if err != nil {
		return OEE{}, err
	}
	good, total := 0, 0
	ideal := r.IdealCycleMinutes
	for _, pl := range logs {
		psi, err := r.store.GetPSI(ctx, pl.PSIID)
		if err != nil {
			return OEE{}, err
		}
		if psi.MachineID != machineID {
			continue
		}
		good += pl.GoodQty
		total += pl.GoodQty + pl.BadQty
	}

	return ComputeOEE(planned, run, ideal, total, good), nil
}

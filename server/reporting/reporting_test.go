package reporting

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/itskum47/shopfloor/server/scheduler"
	"github.com/itskum47/shopfloor/server/store"
)

func closedDowntime(id string, machineID int64, open time.Time, repair time.Duration) *store.Downtime {
	closed := open.Add(repair)
	return &store.Downtime{
		ID:        id,
		MachineID: machineID,
		OpenAt:    open,
		ClosedAt:  &closed,
	}
}

func TestMachineMetricsMTTR(t *testing.T) {
	base := time.Date(2024, 12, 1, 8, 0, 0, 0, time.UTC)
	// Repairs of 30, 60 and 90 minutes, well separated.
	downtimes := []*store.Downtime{
		closedDowntime("a", 1, base, 30*time.Minute),
		closedDowntime("b", 1, base.Add(24*time.Hour), 60*time.Minute),
		closedDowntime("c", 1, base.Add(48*time.Hour), 90*time.Minute),
	}
	now := base.Add(72 * time.Hour)

	perf := MachineMetrics(1, downtimes, now)
	if perf.Repairs != 3 {
		t.Fatalf("Repairs = %d, want 3", perf.Repairs)
	}
	if math.Abs(perf.MTTRMinutes-60) > 1e-9 {
		t.Errorf("MTTR = %v, want 60", perf.MTTRMinutes)
	}
}

func TestMachineMetricsMTBFIntervals(t *testing.T) {
	base := time.Date(2024, 12, 1, 8, 0, 0, 0, time.UTC)
	downtimes := []*store.Downtime{
		closedDowntime("a", 1, base, 60*time.Minute),                    // closes 09:00
		closedDowntime("b", 1, base.Add(5*time.Hour), 60*time.Minute),  // opens 13:00, up 4h
		closedDowntime("c", 1, base.Add(10*time.Hour), 30*time.Minute), // opens 18:00, up 4h
	}
	// 18:30 close, now 20:30: final up interval 2h.
	now := base.Add(12*time.Hour + 30*time.Minute)

	perf := MachineMetrics(1, downtimes, now)
	if perf.Failures != 3 {
		t.Fatalf("Failures = %d, want 3 up-time intervals", perf.Failures)
	}
	// (240 + 240 + 120) / 3 = 200 minutes.
	if math.Abs(perf.MTBFMinutes-200) > 1e-9 {
		t.Errorf("MTBF = %v, want 200", perf.MTBFMinutes)
	}
}

func TestMachineMetricsMTTRRoundTrip(t *testing.T) {
	// Synthesize repairs from a chosen mean and verify the metric recovers
	// it regardless of count.
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	durations := []time.Duration{
		12 * time.Minute, 48 * time.Minute, 25 * time.Minute, 35 * time.Minute,
	}
	var downtimes []*store.Downtime
	var total time.Duration
	for i, d := range durations {
		downtimes = append(downtimes, closedDowntime(fmt.Sprintf("d%d", i), 2, base.Add(time.Duration(i)*6*time.Hour), d))
		total += d
	}
	want := total.Minutes() / float64(len(durations))

	perf := MachineMetrics(2, downtimes, base.Add(48*time.Hour))
	if math.Abs(perf.MTTRMinutes-want) > 1e-9 {
		t.Errorf("MTTR = %v, want %v", perf.MTTRMinutes, want)
	}
}

func TestMachineMetricsIgnoresOpenTickets(t *testing.T) {
	base := time.Date(2024, 12, 1, 8, 0, 0, 0, time.UTC)
	open := &store.Downtime{ID: "open", MachineID: 1, OpenAt: base}
	perf := MachineMetrics(1, []*store.Downtime{open}, base.Add(time.Hour))
	if perf.Repairs != 0 || perf.MTTRMinutes != 0 || perf.Failures != 0 {
		t.Fatalf("open ticket contributed: %+v", perf)
	}
}

func TestShopMetricsAggregation(t *testing.T) {
	base := time.Date(2024, 12, 1, 8, 0, 0, 0, time.UTC)
	downtimes := []*store.Downtime{
		closedDowntime("a", 1, base, 30*time.Minute),
		closedDowntime("b", 2, base, 90*time.Minute),
	}
	shop := ShopMetrics(downtimes, base.Add(4*time.Hour))
	if shop.Repairs != 2 {
		t.Fatalf("Repairs = %d, want 2", shop.Repairs)
	}
	// Total repair 120 minutes over 2 repairs.
	if math.Abs(shop.MTTRMinutes-60) > 1e-9 {
		t.Errorf("shop MTTR = %v, want 60", shop.MTTRMinutes)
	}
	if len(shop.Machines) != 2 {
		t.Fatalf("Machines = %d, want 2", len(shop.Machines))
	}
}

func TestComputeOEE(t *testing.T) {
	tests := []struct {
		name                string
		planned, run, ideal float64
		total, good         int
		wantA, wantP, wantQ float64
	}{
		{"nominal", 480, 420, 1, 420, 400, 420.0 / 480, 1, 400.0 / 420},
		{"zero planned", 0, 0, 1, 0, 0, 0, 0, 0},
		{"clamped performance", 480, 100, 1, 200, 200, 100.0 / 480, 1, 1},
		{"no parts", 480, 480, 1, 0, 0, 1, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := ComputeOEE(tt.planned, tt.run, tt.ideal, tt.total, tt.good)
			if math.Abs(o.Availability-tt.wantA) > 1e-9 {
				t.Errorf("A = %v, want %v", o.Availability, tt.wantA)
			}
			if math.Abs(o.Performance-tt.wantP) > 1e-9 {
				t.Errorf("P = %v, want %v", o.Performance, tt.wantP)
			}
			if math.Abs(o.Quality-tt.wantQ) > 1e-9 {
				t.Errorf("Q = %v, want %v", o.Quality, tt.wantQ)
			}
			want := tt.wantA * tt.wantP * tt.wantQ
			if math.Abs(o.OEE-want) > 1e-9 {
				t.Errorf("OEE = %v, want %v", o.OEE, want)
			}
		})
	}
}

func seedOrderWithPSI(t *testing.T, s *store.MemoryStore, part string, machineID int64) *store.PlannedScheduleItem {
	t.Helper()
	ctx := context.Background()
	p := &store.Project{Name: "proj-" + part, Priority: int(machineID), DeliveryDate: time.Now().AddDate(0, 1, 0)}
	if err := s.CreateProject(ctx, p); err != nil {
		t.Fatal(err)
	}
	o := &store.Order{ProductionOrder: "PO-" + part, PartNumber: part, RequiredQty: 100, ProjectID: p.ID}
	if err := s.CreateOrder(ctx, o); err != nil {
		t.Fatal(err)
	}
	psi, err := s.GetOrCreatePSI(ctx, &store.PlannedScheduleItem{
		OrderID: o.ID, OperationID: o.ID*100 + 10, MachineID: machineID, TotalQuantity: 100,
	})
	if err != nil {
		t.Fatal(err)
	}
	return psi
}

func TestProductionRollup(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	psi := seedOrderWithPSI(t, s, "PN-R", 1)

	// Two runs on Monday, one on Tuesday, one the following month.
	mon := time.Date(2024, 12, 2, 10, 0, 0, 0, time.UTC)
	logs := []*store.ProductionLog{
		{PSIID: psi.ID, StartedAt: mon, GoodQty: 10, BadQty: 1},
		{PSIID: psi.ID, StartedAt: mon.Add(3 * time.Hour), GoodQty: 5, BadQty: 0},
		{PSIID: psi.ID, StartedAt: mon.AddDate(0, 0, 1), GoodQty: 7, BadQty: 2},
		{PSIID: psi.ID, StartedAt: mon.AddDate(0, 1, 0), GoodQty: 4, BadQty: 0},
	}
	for _, pl := range logs {
		if err := s.AppendProductionLog(ctx, pl); err != nil {
			t.Fatal(err)
		}
	}

	r := NewReporter(s, scheduler.DefaultWindow(), zap.NewNop())
	from := mon.AddDate(0, 0, -1)
	to := mon.AddDate(0, 2, 0)

	daily, err := r.Production(ctx, Daily, from, to, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(daily) != 3 {
		t.Fatalf("daily buckets = %d, want 3", len(daily))
	}
	if daily[0].GoodQty != 15 || daily[0].BadQty != 1 || daily[0].TotalQty != 16 || daily[0].Runs != 2 {
		t.Errorf("monday bucket = %+v", daily[0])
	}

	weekly, err := r.Production(ctx, Weekly, from, to, "")
	if err != nil {
		t.Fatal(err)
	}
	// Monday and Tuesday fold into one week bucket.
	if len(weekly) != 2 {
		t.Fatalf("weekly buckets = %d, want 2", len(weekly))
	}
	if !weekly[0].PeriodStart.Equal(time.Date(2024, 12, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("week start = %v, want Monday 2024-12-02", weekly[0].PeriodStart)
	}
	if weekly[0].TotalQty != 25 {
		t.Errorf("week total = %d, want 25", weekly[0].TotalQty)
	}

	monthly, err := r.Production(ctx, Monthly, from, to, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(monthly) != 2 {
		t.Fatalf("monthly buckets = %d, want 2", len(monthly))
	}
	if !monthly[0].PeriodStart.Equal(time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("month start = %v", monthly[0].PeriodStart)
	}
}

func TestProductionPartFilter(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	a := seedOrderWithPSI(t, s, "PN-A", 1)
	b := seedOrderWithPSI(t, s, "PN-B", 2)

	day := time.Date(2024, 12, 2, 10, 0, 0, 0, time.UTC)
	s.AppendProductionLog(ctx, &store.ProductionLog{PSIID: a.ID, StartedAt: day, GoodQty: 3})
	s.AppendProductionLog(ctx, &store.ProductionLog{PSIID: b.ID, StartedAt: day, GoodQty: 9})

	r := NewReporter(s, scheduler.DefaultWindow(), zap.NewNop())
	buckets, err := r.Production(ctx, Daily, day.AddDate(0, 0, -1), day.AddDate(0, 0, 1), "PN-B")
	if err != nil {
		t.Fatal(err)
	}
	if len(buckets) != 1 || buckets[0].PartNumber != "PN-B" || buckets[0].GoodQty != 9 {
		t.Fatalf("buckets = %+v, want single PN-B row", buckets)
	}
}

func TestShiftOEE(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	psi := seedOrderWithPSI(t, s, "PN-O", 5)

	day := time.Date(2024, 12, 2, 0, 0, 0, 0, time.UTC)
	// One hour of closed downtime inside the shift.
	dt := closedDowntime("dt-1", 5, day.Add(10*time.Hour), time.Hour)
	if err := s.CreateDowntime(ctx, dt); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendProductionLog(ctx, &store.ProductionLog{
		PSIID: psi.ID, StartedAt: day.Add(11 * time.Hour), GoodQty: 400, BadQty: 20,
	}); err != nil {
		t.Fatal(err)
	}

	r := NewReporter(s, scheduler.DefaultWindow(), zap.NewNop())
	oee, err := r.ShiftOEE(ctx, 5, day)
	if err != nil {
		t.Fatal(err)
	}
	if oee.PlannedMinutes != 480 {
		t.Fatalf("planned = %v, want 480", oee.PlannedMinutes)
	}
	if oee.RunMinutes != 420 {
		t.Fatalf("run = %v, want 420 after one hour of downtime", oee.RunMinutes)
	}
	if math.Abs(oee.Availability-420.0/480) > 1e-9 {
		t.Errorf("A = %v", oee.Availability)
	}
	if math.Abs(oee.Quality-400.0/420) > 1e-9 {
		t.Errorf("Q = %v", oee.Quality)
	}
	if oee.Performance != 1 {
		t.Errorf("P = %v, want 1 (420 ideal minutes over 420 run minutes)", oee.Performance)
	}
}

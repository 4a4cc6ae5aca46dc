package store

import (
	"context"
	"testing"
	"time"

	"github.com/itskum47/shopfloor/server/apperr"
)

func TestCreateOrderDuplicatePO(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.CreateOrder(ctx, &Order{ProductionOrder: "PO-1", PartNumber: "PN-1", RequiredQty: 5}); err != nil {
		t.Fatal(err)
	}
	err := s.CreateOrder(ctx, &Order{ProductionOrder: "PO-1", PartNumber: "PN-2", RequiredQty: 5})
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
}

func TestApplyPrioritiesRejectsNonDense(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	var ids []int64
	for i := 1; i <= 3; i++ {
		p := &Project{Name: "p", Priority: i, DeliveryDate: time.Now()}
		if err := s.CreateProject(ctx, p); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, p.ID)
	}

	tests := []struct {
		name        string
		assignments map[int64]int
	}{
		{"gap", map[int64]int{ids[0]: 1, ids[1]: 3, ids[2]: 4}},
		{"duplicate", map[int64]int{ids[0]: 1, ids[1]: 1, ids[2]: 2}},
		{"zero", map[int64]int{ids[0]: 0, ids[1]: 1, ids[2]: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.ApplyPriorities(ctx, tt.assignments)
			if !apperr.Is(err, apperr.KindInvariant) {
				t.Fatalf("err = %v, want invariant violation", err)
			}
		})
	}

	// A valid permutation goes through.
	if err := s.ApplyPriorities(ctx, map[int64]int{ids[0]: 3, ids[1]: 1, ids[2]: 2}); err != nil {
		t.Fatalf("valid permutation rejected: %v", err)
	}
	p, err := s.GetProject(ctx, ids[0])
	if err != nil {
		t.Fatal(err)
	}
	if p.Priority != 3 {
		t.Fatalf("priority = %d, want 3", p.Priority)
	}
}

func TestOpenDowntimePerMachine(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	if err := s.CreateDowntime(ctx, &Downtime{ID: "d1", MachineID: 1, OpenAt: now}); err != nil {
		t.Fatal(err)
	}
	// Second open ticket on the same machine is refused.
	err := s.CreateDowntime(ctx, &Downtime{ID: "d2", MachineID: 1, OpenAt: now})
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
	// A different machine is unaffected.
	if err := s.CreateDowntime(ctx, &Downtime{ID: "d3", MachineID: 2, OpenAt: now}); err != nil {
		t.Fatalf("machine 2 open: %v", err)
	}

	// Closing the first ticket frees the machine.
	d1, err := s.GetDowntime(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	closed := now.Add(time.Hour)
	d1.ClosedAt = &closed
	if err := s.UpdateDowntime(ctx, d1); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateDowntime(ctx, &Downtime{ID: "d4", MachineID: 1, OpenAt: closed}); err != nil {
		t.Fatalf("reopen after close: %v", err)
	}
}

func TestActivateScheduleVersionDisplaces(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.CreateOrder(ctx, &Order{ProductionOrder: "PO-1", PartNumber: "PN-1", RequiredQty: 10}); err != nil {
		t.Fatal(err)
	}
	order, _ := s.GetOrderByPO(ctx, "PO-1")
	psi, err := s.GetOrCreatePSI(ctx, &PlannedScheduleItem{
		OrderID: order.ID, OperationID: 10, MachineID: 1, TotalQuantity: 10,
	})
	if err != nil {
		t.Fatal(err)
	}

	start := time.Date(2024, 12, 2, 9, 0, 0, 0, time.UTC)
	first, displaced, err := s.ActivateScheduleVersion(ctx, &ScheduleVersion{
		PSIID: psi.ID, PlannedStart: start, PlannedEnd: start.Add(time.Hour), PlannedQuantity: 10, RemainingQuantity: 10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if displaced != 0 {
		t.Fatalf("displaced = %d, want 0 on first activation", displaced)
	}
	if first.VersionNo != 1 || !first.IsActive {
		t.Fatalf("first = %+v", first)
	}

	second, displaced, err := s.ActivateScheduleVersion(ctx, &ScheduleVersion{
		PSIID: psi.ID, PlannedStart: start.Add(2 * time.Hour), PlannedEnd: start.Add(3 * time.Hour), PlannedQuantity: 10, RemainingQuantity: 10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if displaced != first.ID {
		t.Fatalf("displaced = %d, want %d", displaced, first.ID)
	}
	if second.VersionNo != 2 {
		t.Fatalf("version = %d, want 2", second.VersionNo)
	}

	// Exactly one active version per item.
	versions, err := s.ListScheduleVersionsByPSI(ctx, psi.ID)
	if err != nil {
		t.Fatal(err)
	}
	active := 0
	for _, sv := range versions {
		if sv.IsActive {
			active++
			if sv.ID != second.ID {
				t.Errorf("active version is %d, want %d", sv.ID, second.ID)
			}
		}
	}
	if active != 1 {
		t.Fatalf("active versions = %d, want 1", active)
	}
}

func TestApplyScheduleRunBatch(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.CreateOrder(ctx, &Order{ProductionOrder: "PO-1", PartNumber: "PN-1", RequiredQty: 10}); err != nil {
		t.Fatal(err)
	}
	order, _ := s.GetOrderByPO(ctx, "PO-1")
	start := time.Date(2024, 12, 2, 9, 0, 0, 0, time.UTC)
	placements := []SchedulePlacement{
		{OrderID: order.ID, OperationID: 10, MachineID: 1, Quantity: 10, Start: start, End: start.Add(time.Hour)},
		{OrderID: order.ID, OperationID: 20, MachineID: 2, Quantity: 10, Start: start.Add(time.Hour), End: start.Add(2 * time.Hour)},
	}

	rec := &RescheduleRecord{ID: "run-1", Trigger: TriggerAdmin, TriggeredBy: "tester", Timestamp: start}
	activated, displaced, err := s.ApplyScheduleRun(ctx, placements, rec)
	if err != nil {
		t.Fatal(err)
	}
	if len(activated) != 2 || len(displaced) != 0 {
		t.Fatalf("activated = %v, displaced = %v", activated, displaced)
	}

	records, err := s.ListRescheduleRecords(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || len(records[0].Successors) != 2 || len(records[0].Predecessors) != 0 {
		t.Fatalf("records = %+v", records)
	}

	// A second run displaces exactly the versions the first activated.
	rec2 := &RescheduleRecord{ID: "run-2", Trigger: TriggerAdmin, TriggeredBy: "tester", Timestamp: start.Add(time.Hour)}
	activated2, displaced2, err := s.ApplyScheduleRun(ctx, placements, rec2)
	if err != nil {
		t.Fatal(err)
	}
	if len(activated2) != 2 || len(displaced2) != 2 {
		t.Fatalf("activated = %v, displaced = %v, want both prior versions displaced", activated2, displaced2)
	}
	seen := map[int64]bool{activated[0]: true, activated[1]: true}
	for _, id := range displaced2 {
		if !seen[id] {
			t.Errorf("displaced unknown version %d", id)
		}
	}

	active, err := s.ListActiveScheduleVersions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 2 {
		t.Fatalf("active = %d, want 2", len(active))
	}
	for _, sv := range active {
		if sv.VersionNo != 2 {
			t.Errorf("version = %d, want 2", sv.VersionNo)
		}
	}
}

func TestApplyScheduleRunCancelledContextWritesNothing(t *testing.T) {
	s := NewMemoryStore()
	if err := s.CreateOrder(context.Background(), &Order{ProductionOrder: "PO-1", PartNumber: "PN-1", RequiredQty: 5}); err != nil {
		t.Fatal(err)
	}
	order, _ := s.GetOrderByPO(context.Background(), "PO-1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Date(2024, 12, 2, 9, 0, 0, 0, time.UTC)
	_, _, err := s.ApplyScheduleRun(ctx, []SchedulePlacement{
		{OrderID: order.ID, OperationID: 10, MachineID: 1, Quantity: 5, Start: start, End: start.Add(time.Hour)},
	}, &RescheduleRecord{ID: "run-x", Trigger: TriggerAdmin, Timestamp: start})
	if err == nil {
		t.Fatal("want error for cancelled context")
	}

	active, err := s.ListActiveScheduleVersions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	records, _ := s.ListRescheduleRecords(context.Background(), 10)
	if len(active) != 0 || len(records) != 0 {
		t.Fatalf("active = %d, records = %d, want nothing written", len(active), len(records))
	}
}

func TestGetOrCreatePSIIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	a, err := s.GetOrCreatePSI(ctx, &PlannedScheduleItem{OrderID: 1, OperationID: 10, MachineID: 3, TotalQuantity: 5})
	if err != nil {
		t.Fatal(err)
	}
	// Same order+operation resolves to the same item, refreshed in place.
	b, err := s.GetOrCreatePSI(ctx, &PlannedScheduleItem{OrderID: 1, OperationID: 10, MachineID: 4, TotalQuantity: 8})
	if err != nil {
		t.Fatal(err)
	}
	if a.ID != b.ID {
		t.Fatalf("ids differ: %d vs %d", a.ID, b.ID)
	}
	got, err := s.GetPSI(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.MachineID != 4 || got.TotalQuantity != 8 {
		t.Fatalf("psi not refreshed: %+v", got)
	}
}

func TestAddCompletedQuantityClampsRemaining(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	psi, err := s.GetOrCreatePSI(ctx, &PlannedScheduleItem{OrderID: 1, OperationID: 10, MachineID: 1, TotalQuantity: 10})
	if err != nil {
		t.Fatal(err)
	}
	sv, _, err := s.ActivateScheduleVersion(ctx, &ScheduleVersion{PSIID: psi.ID, PlannedQuantity: 10, RemainingQuantity: 10})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.AddCompletedQuantity(ctx, sv.ID, 7); err != nil {
		t.Fatal(err)
	}
	if err := s.AddCompletedQuantity(ctx, sv.ID, 7); err != nil {
		t.Fatal(err)
	}
	versions, _ := s.ListScheduleVersionsByPSI(ctx, psi.ID)
	if versions[0].CompletedQuantity != 14 || versions[0].RemainingQuantity != 0 {
		t.Fatalf("sv = %+v, want completed 14 and remaining clamped to 0", versions[0])
	}
}

func TestUpdateOrderKeepsImmutableFields(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	o := &Order{ProductionOrder: "PO-9", PartNumber: "PN-9", RequiredQty: 10}
	if err := s.CreateOrder(ctx, o); err != nil {
		t.Fatal(err)
	}
	patch := *o
	patch.ProductionOrder = "PO-TAMPERED"
	patch.RequiredQty = 25
	if err := s.UpdateOrder(ctx, &patch); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ProductionOrder != "PO-9" {
		t.Errorf("production order rewritten to %q", got.ProductionOrder)
	}
	if got.RequiredQty != 25 {
		t.Errorf("required qty = %d, want 25", got.RequiredQty)
	}
}

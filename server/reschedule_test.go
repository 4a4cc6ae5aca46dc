package main

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/itskum47/shopfloor/server/apperr"
	"github.com/itskum47/shopfloor/server/scheduler"
	"github.com/itskum47/shopfloor/server/store"
)

// seedFloor plants one schedulable work center, one running machine and one
// active order with a single routing step.
func seedFloor(t *testing.T, s *store.MemoryStore) *store.Order {
	t.Helper()
	ctx := context.Background()

	wc := s.AddWorkCenter(&store.WorkCenter{Code: "CNC", IsSchedulable: true})
	m := s.AddMachine(&store.Machine{Name: "VMC-1", WorkCenterID: wc.ID})
	if err := s.SetMachineStatus(ctx, &store.MachineStatus{MachineID: m.ID, StatusCode: store.MachineStatusOn}); err != nil {
		t.Fatal(err)
	}

	p := &store.Project{Name: "housing", Priority: 1, DeliveryDate: time.Now().AddDate(0, 1, 0)}
	if err := s.CreateProject(ctx, p); err != nil {
		t.Fatal(err)
	}
	o := &store.Order{ProductionOrder: "PO-100", PartNumber: "PN-100", RequiredQty: 2, ProjectID: p.ID}
	if err := s.CreateOrder(ctx, o); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertOperation(ctx, &store.Operation{
		OrderID: o.ID, OpNumber: 10, WorkCenterID: wc.ID, MachineID: m.ID,
		SetupHours: 0.5, CycleHours: 1,
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetPartScheduleStatus(ctx, &store.PartScheduleStatus{
		PartNumber: o.PartNumber, ProductionOrder: o.ProductionOrder, Active: true,
	}); err != nil {
		t.Fatal(err)
	}
	return o
}

func testController(s *store.MemoryStore, now time.Time) *Controller {
	c := NewController(s, scheduler.NewEngine(zap.NewNop()), scheduler.DefaultWindow(), 30*time.Second, zap.NewNop())
	c.now = func() time.Time { return now }
	return c
}

func TestControllerRunPersistsPlan(t *testing.T) {
	s := store.NewMemoryStore()
	order := seedFloor(t, s)
	now := time.Date(2024, 12, 2, 8, 0, 0, 0, time.UTC)
	c := testController(s, now)
	ctx := context.Background()

	summary, err := c.Run(ctx, store.TriggerAdmin, "tester")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.RecordID == "" {
		t.Error("missing audit record id")
	}
	if len(summary.Parts) != 1 || summary.Parts[0].Status != scheduler.PartCompleted {
		t.Fatalf("parts = %+v", summary.Parts)
	}
	if len(summary.Activated) != 1 || len(summary.Displaced) != 0 {
		t.Fatalf("activated = %v, displaced = %v", summary.Activated, summary.Displaced)
	}

	// Setup 30 min + 2 pieces at 1h, from the shift opening.
	active, err := s.ListActiveScheduleVersions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 {
		t.Fatalf("active versions = %d, want 1", len(active))
	}
	sv := active[0]
	if !sv.PlannedStart.Equal(time.Date(2024, 12, 2, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("planned start = %v", sv.PlannedStart)
	}
	if !sv.PlannedEnd.Equal(time.Date(2024, 12, 2, 11, 30, 0, 0, time.UTC)) {
		t.Errorf("planned end = %v", sv.PlannedEnd)
	}
	if sv.PlannedQuantity != 2 || sv.RemainingQuantity != 2 {
		t.Errorf("quantities = %d/%d", sv.PlannedQuantity, sv.RemainingQuantity)
	}

	psis, err := s.ListPSIsByOrder(ctx, order.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(psis) != 1 {
		t.Fatalf("psis = %d, want 1", len(psis))
	}

	records, err := s.ListRescheduleRecords(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Trigger != store.TriggerAdmin || records[0].TriggeredBy != "tester" {
		t.Fatalf("records = %+v", records)
	}
}

func TestControllerRerunDisplacesActiveVersion(t *testing.T) {
	s := store.NewMemoryStore()
	seedFloor(t, s)
	now := time.Date(2024, 12, 2, 8, 0, 0, 0, time.UTC)
	c := testController(s, now)
	ctx := context.Background()

	first, err := c.Run(ctx, store.TriggerAdmin, "tester")
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.Run(ctx, store.TriggerPriorityChange, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if len(second.Displaced) != 1 || second.Displaced[0] != first.Activated[0] {
		t.Fatalf("displaced = %v, want %v", second.Displaced, first.Activated)
	}

	active, err := s.ListActiveScheduleVersions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].ID != second.Activated[0] {
		t.Fatalf("active = %+v", active)
	}
	if active[0].VersionNo != 2 {
		t.Errorf("version = %d, want 2", active[0].VersionNo)
	}
}

func TestControllerPinsInProgressOperation(t *testing.T) {
	s := store.NewMemoryStore()
	seedFloor(t, s)
	c := testController(s, time.Date(2024, 12, 2, 8, 0, 0, 0, time.UTC))
	ctx := context.Background()

	first, err := c.Run(ctx, store.TriggerAdmin, "tester")
	if err != nil {
		t.Fatal(err)
	}

	// 10:00 falls inside the planned 09:00-11:30 window: the operation is
	// running on the floor and a rerun must leave it where it is.
	c.now = func() time.Time { return time.Date(2024, 12, 2, 10, 0, 0, 0, time.UTC) }
	second, err := c.Run(ctx, store.TriggerPriorityChange, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if len(second.Activated) != 0 || len(second.Displaced) != 0 {
		t.Fatalf("activated = %v, displaced = %v, want the running operation untouched",
			second.Activated, second.Displaced)
	}
	if len(second.Parts) != 1 || second.Parts[0].Status != scheduler.PartCompleted {
		t.Fatalf("parts = %+v", second.Parts)
	}

	active, err := s.ListActiveScheduleVersions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].ID != first.Activated[0] {
		t.Fatalf("active = %+v, want the original version %d", active, first.Activated[0])
	}
	if !active[0].PlannedStart.Equal(time.Date(2024, 12, 2, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("planned start = %v, want immovable 09:00", active[0].PlannedStart)
	}
}

func TestControllerPlansAroundPinnedWork(t *testing.T) {
	s := store.NewMemoryStore()
	seedFloor(t, s)
	ctx := context.Background()

	machines, err := s.ListMachines(ctx)
	if err != nil {
		t.Fatal(err)
	}
	m := machines[0]
	wcID := m.WorkCenterID

	p := &store.Project{Name: "bracket", Priority: 2, DeliveryDate: time.Now().AddDate(0, 1, 0)}
	if err := s.CreateProject(ctx, p); err != nil {
		t.Fatal(err)
	}
	o := &store.Order{ProductionOrder: "PO-101", PartNumber: "PN-101", RequiredQty: 1, ProjectID: p.ID}
	if err := s.CreateOrder(ctx, o); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertOperation(ctx, &store.Operation{
		OrderID: o.ID, OpNumber: 10, WorkCenterID: wcID, MachineID: m.ID, CycleHours: 1,
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetPartScheduleStatus(ctx, &store.PartScheduleStatus{
		PartNumber: o.PartNumber, ProductionOrder: o.ProductionOrder, Active: true,
	}); err != nil {
		t.Fatal(err)
	}
	// Gate the second order off the first run so only PO-100 occupies the
	// machine when the rerun hits mid-window.
	if err := s.SetPartScheduleStatus(ctx, &store.PartScheduleStatus{
		PartNumber: o.PartNumber, ProductionOrder: o.ProductionOrder, Active: false,
	}); err != nil {
		t.Fatal(err)
	}

	c := testController(s, time.Date(2024, 12, 2, 8, 0, 0, 0, time.UTC))
	first, err := c.Run(ctx, store.TriggerAdmin, "tester")
	if err != nil {
		t.Fatal(err)
	}

	if err := s.SetPartScheduleStatus(ctx, &store.PartScheduleStatus{
		PartNumber: o.PartNumber, ProductionOrder: o.ProductionOrder, Active: true,
	}); err != nil {
		t.Fatal(err)
	}
	c.now = func() time.Time { return time.Date(2024, 12, 2, 10, 0, 0, 0, time.UTC) }
	second, err := c.Run(ctx, store.TriggerAdmin, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if len(second.Activated) != 1 || len(second.Displaced) != 0 {
		t.Fatalf("activated = %v, displaced = %v", second.Activated, second.Displaced)
	}

	active, err := s.ListActiveScheduleVersions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 2 {
		t.Fatalf("active versions = %d, want 2", len(active))
	}
	for _, sv := range active {
		switch sv.ID {
		case first.Activated[0]:
			if !sv.PlannedStart.Equal(time.Date(2024, 12, 2, 9, 0, 0, 0, time.UTC)) {
				t.Errorf("running operation moved to %v", sv.PlannedStart)
			}
		case second.Activated[0]:
			// The new order waits for the machine to free up at 11:30.
			if !sv.PlannedStart.Equal(time.Date(2024, 12, 2, 11, 30, 0, 0, time.UTC)) {
				t.Errorf("new order start = %v, want 11:30", sv.PlannedStart)
			}
		default:
			t.Errorf("unexpected active version %d", sv.ID)
		}
	}
}

func TestControllerBudgetAbortWritesNothing(t *testing.T) {
	s := store.NewMemoryStore()
	seedFloor(t, s)
	ctx := context.Background()

	c := testController(s, time.Date(2024, 12, 2, 8, 0, 0, 0, time.UTC))
	c.budget = -time.Second

	_, err := c.Run(ctx, store.TriggerAdmin, "tester")
	if !apperr.Is(err, apperr.KindBudget) {
		t.Fatalf("err = %v, want budget kind", err)
	}

	active, err := s.ListActiveScheduleVersions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 0 {
		t.Fatalf("active = %+v, want nothing persisted", active)
	}
	records, err := s.ListRescheduleRecords(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Fatalf("records = %+v, want no audit entry for an aborted run", records)
	}
}

func TestControllerMissingStatusRowMeansOff(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	wc := s.AddWorkCenter(&store.WorkCenter{Code: "CNC", IsSchedulable: true})
	m := s.AddMachine(&store.Machine{Name: "VMC-1", WorkCenterID: wc.ID})
	// No status row reported for the machine.

	p := &store.Project{Name: "housing", Priority: 1, DeliveryDate: time.Now().AddDate(0, 1, 0)}
	if err := s.CreateProject(ctx, p); err != nil {
		t.Fatal(err)
	}
	o := &store.Order{ProductionOrder: "PO-200", PartNumber: "PN-200", RequiredQty: 1, ProjectID: p.ID}
	if err := s.CreateOrder(ctx, o); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertOperation(ctx, &store.Operation{
		OrderID: o.ID, OpNumber: 10, WorkCenterID: wc.ID, MachineID: m.ID, CycleHours: 1,
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetPartScheduleStatus(ctx, &store.PartScheduleStatus{
		PartNumber: o.PartNumber, ProductionOrder: o.ProductionOrder, Active: true,
	}); err != nil {
		t.Fatal(err)
	}

	c := testController(s, time.Date(2024, 12, 2, 8, 0, 0, 0, time.UTC))
	summary, err := c.Run(ctx, store.TriggerAdmin, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if len(summary.Activated) != 0 {
		t.Fatalf("activated = %v, machine without status must count as OFF", summary.Activated)
	}
	if len(summary.Parts) != 1 || summary.Parts[0].PlacedOps != 0 {
		t.Fatalf("parts = %+v", summary.Parts)
	}
}

func TestControllerSkipsUnavailableMaterial(t *testing.T) {
	s := store.NewMemoryStore()
	order := seedFloor(t, s)
	ctx := context.Background()

	if err := s.UpsertRawMaterial(ctx, &store.RawMaterial{
		ID: 77, Part: order.PartNumber, Status: store.RawMaterialUnavailable,
	}); err != nil {
		t.Fatal(err)
	}
	order.RawMaterialID = 77
	if err := s.UpdateOrder(ctx, order); err != nil {
		t.Fatal(err)
	}

	c := testController(s, time.Date(2024, 12, 2, 8, 0, 0, 0, time.UTC))
	summary, err := c.Run(ctx, store.TriggerRawMaterialEvent, "collector")
	if err != nil {
		t.Fatal(err)
	}
	if len(summary.Activated) != 0 {
		t.Fatalf("activated = %v, want none for gated material", summary.Activated)
	}
	if len(summary.Parts) != 1 || summary.Parts[0].Status != scheduler.PartSkipped {
		t.Fatalf("parts = %+v", summary.Parts)
	}
}

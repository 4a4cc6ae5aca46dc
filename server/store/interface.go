package store

import (
	"context"
	"time"
)

// Store is the durable backend for catalog, scheduling and telemetry
// state. Postgres is the production implementation; MemoryStore backs
// tests and single-node dev mode.
type Store interface {
	// Projects & priorities
	ListProjects(ctx context.Context) ([]*Project, error)
	GetProject(ctx context.Context, id int64) (*Project, error)
	CreateProject(ctx context.Context, p *Project) error
	// ApplyPriorities writes a full set of project->priority assignments in
	// one transaction. The store rejects non-dense sequences.
	ApplyPriorities(ctx context.Context, assignments map[int64]int) error

	// Orders
	CreateOrder(ctx context.Context, o *Order) error
	GetOrder(ctx context.Context, id int64) (*Order, error)
	GetOrderByPO(ctx context.Context, productionOrder string) (*Order, error)
	ListOrders(ctx context.Context) ([]*Order, error)
	ListOrdersByPart(ctx context.Context, partNumber string) ([]*Order, error)
	UpdateOrder(ctx context.Context, o *Order) error
	DeleteOrder(ctx context.Context, id int64) error

	// Routings
	ListOperations(ctx context.Context, orderID int64) ([]*Operation, error)
	GetOperation(ctx context.Context, orderID int64, opNumber int) (*Operation, error)
	UpsertOperation(ctx context.Context, op *Operation) error

	// Work centers & machines
	ListWorkCenters(ctx context.Context) ([]*WorkCenter, error)
	GetWorkCenter(ctx context.Context, id int64) (*WorkCenter, error)
	ListMachines(ctx context.Context) ([]*Machine, error)
	GetMachine(ctx context.Context, id int64) (*Machine, error)

	// Raw materials
	GetRawMaterial(ctx context.Context, id int64) (*RawMaterial, error)
	UpsertRawMaterial(ctx context.Context, rm *RawMaterial) error

	// Machine status catalog
	ListMachineStatuses(ctx context.Context) ([]*MachineStatus, error)
	GetMachineStatus(ctx context.Context, machineID int64) (*MachineStatus, error)
	SetMachineStatus(ctx context.Context, st *MachineStatus) error

	// Downtime log. CreateDowntime fails with a Conflict when the machine
	// already has an open ticket.
	CreateDowntime(ctx context.Context, d *Downtime) error
	GetDowntime(ctx context.Context, id string) (*Downtime, error)
	ListDowntimes(ctx context.Context, openOnly bool) ([]*Downtime, error)
	ListDowntimesByMachine(ctx context.Context, machineID int64) ([]*Downtime, error)
	UpdateDowntime(ctx context.Context, d *Downtime) error

	// Part schedule gating
	ListActiveParts(ctx context.Context) ([]*PartScheduleStatus, error)
	SetPartScheduleStatus(ctx context.Context, st *PartScheduleStatus) error

	// Planned schedule items & versions
	GetOrCreatePSI(ctx context.Context, psi *PlannedScheduleItem) (*PlannedScheduleItem, error)
	GetPSI(ctx context.Context, id int64) (*PlannedScheduleItem, error)
	ListPSIsByOrder(ctx context.Context, orderID int64) ([]*PlannedScheduleItem, error)
	// ActivateScheduleVersion inserts a new version with
	// version_no = max(existing)+1 and is_active = true, flipping any prior
	// active version of the same PSI to inactive in the same transaction.
	// It returns the inserted version and the id of the displaced one (0 if
	// none).
	ActivateScheduleVersion(ctx context.Context, sv *ScheduleVersion) (*ScheduleVersion, int64, error)
	// ApplyScheduleRun persists one whole scheduling run atomically: each
	// placement upserts its PSI and activates the next schedule version,
	// displacing the prior active one, and the audit record is written with
	// predecessors/successors filled in. Everything commits or nothing
	// does; a failure leaves every previously active version untouched.
	ApplyScheduleRun(ctx context.Context, placements []SchedulePlacement, record *RescheduleRecord) (activated, displaced []int64, err error)
	ListActiveScheduleVersions(ctx context.Context) ([]*ScheduleVersion, error)
	ListScheduleVersionsByPSI(ctx context.Context, psiID int64) ([]*ScheduleVersion, error)

	// Production logs
	AppendProductionLog(ctx context.Context, pl *ProductionLog) error
	ListProductionLogs(ctx context.Context, from, to time.Time, partNumber string) ([]*ProductionLog, error)
	// AddCompletedQuantity feeds operator-reported good quantity back into
	// the schedule version.
	AddCompletedQuantity(ctx context.Context, svID int64, goodQty int) error

	// Telemetry: live row per machine plus append-only history.
	UpsertTelemetryLive(ctx context.Context, row *TelemetryRow) error
	AppendTelemetryHistory(ctx context.Context, row *TelemetryRow) error
	ListTelemetryLive(ctx context.Context) ([]*TelemetryRow, error)
	TelemetryHistoryRange(ctx context.Context, machineID int64, from, to time.Time) ([]*TelemetryRow, error)
	LatestTelemetryHistory(ctx context.Context, machineID int64) (*TelemetryRow, error)

	// Shiftwise energy: same live + history shape.
	UpsertShiftwiseLive(ctx context.Context, e *ShiftwiseEnergy) error
	AppendShiftwiseHistory(ctx context.Context, e *ShiftwiseEnergy) error
	ListShiftwiseLive(ctx context.Context) ([]*ShiftwiseEnergy, error)

	// Reschedule audit
	AppendRescheduleRecord(ctx context.Context, r *RescheduleRecord) error
	ListRescheduleRecords(ctx context.Context, limit int) ([]*RescheduleRecord, error)

	Close()
}

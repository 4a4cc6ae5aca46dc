package store

import (
	"time"

	"github.com/shopspring/decimal"
)

// Project groups production orders under one delivery and one priority.
// Priorities of live projects are always a dense permutation of 1..N.
type Project struct {
	ID           int64     `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Priority     int       `json:"priority" db:"priority"`
	DeliveryDate time.Time `json:"delivery_date" db:"delivery_date"`
}

// Order is one production order for a part.
type Order struct {
	ID              int64     `json:"id" db:"id"`
	ProductionOrder string    `json:"production_order" db:"production_order"` // unique
	PartNumber      string    `json:"part_number" db:"part_number"`
	RequiredQty     int       `json:"required_qty" db:"required_qty"`
	LaunchedQty     int       `json:"launched_qty" db:"launched_qty"`
	ProjectID       int64     `json:"project_id" db:"project_id"`
	RawMaterialID   int64     `json:"raw_material_id" db:"raw_material_id"`
	TotalOperations int       `json:"total_operations" db:"total_operations"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// Operation is one step of a part's routing. (OrderID, OpNumber) is unique
// and operations of one order form a strict sequence by OpNumber.
type Operation struct {
	ID           int64   `json:"id" db:"id"`
	OrderID      int64   `json:"order_id" db:"order_id"`
	OpNumber     int     `json:"op_number" db:"op_number"`
	WorkCenterID int64   `json:"work_center_id" db:"work_center_id"`
	MachineID    int64   `json:"machine_id" db:"machine_id"` // primary machine
	SetupHours   float64 `json:"setup_hours" db:"setup_hours"`
	CycleHours   float64 `json:"cycle_hours" db:"cycle_hours"` // per piece
}

// WorkCenter groups machines. Non-schedulable work centers are skipped by
// the scheduler and carried as external gates.
type WorkCenter struct {
	ID            int64  `json:"id" db:"id"`
	Code          string `json:"code" db:"code"`
	IsSchedulable bool   `json:"is_schedulable" db:"is_schedulable"`
}

// Machine is a physical asset on the floor.
type Machine struct {
	ID              int64      `json:"id" db:"id"`
	Name            string     `json:"name" db:"name"`
	WorkCenterID    int64      `json:"work_center_id" db:"work_center_id"`
	LastCalibration *time.Time `json:"last_calibration,omitempty" db:"last_calibration"`
	CalibrationDue  *time.Time `json:"calibration_due,omitempty" db:"calibration_due"`
}

// Raw material status values. Status changes are external events.
const (
	RawMaterialAvailable   = "Available"
	RawMaterialReserved    = "Reserved"
	RawMaterialUnavailable = "Unavailable"
)

// RawMaterial gates the start of an order.
type RawMaterial struct {
	ID            int64           `json:"id" db:"id"`
	Part          string          `json:"part" db:"part"`
	Qty           decimal.Decimal `json:"qty" db:"qty"`
	AvailableQty  decimal.Decimal `json:"available_qty" db:"available_qty"`
	Unit          string          `json:"unit" db:"unit"`
	Status        string          `json:"status" db:"status"`
	AvailableFrom time.Time       `json:"available_from" db:"available_from"`
}

// Machine status codes as reported by the status catalog.
const (
	MachineStatusOn   = "ON"
	MachineStatusOff  = "OFF"
	MachineStatusIdle = "IDLE"
)

// MachineStatus is the single effective status row per machine. OFF means
// unavailable indefinitely.
type MachineStatus struct {
	MachineID     int64     `json:"machine_id" db:"machine_id"`
	StatusCode    string    `json:"status_code" db:"status_code"`
	AvailableFrom time.Time `json:"available_from" db:"available_from"`
}

// Downtime lifecycle: open -> in_progress -> closed. At most one open
// downtime per machine.
type Downtime struct {
	ID           string     `json:"id" db:"id"`
	MachineID    int64      `json:"machine_id" db:"machine_id"`
	OpenAt       time.Time  `json:"open_at" db:"open_at"`
	InProgressAt *time.Time `json:"in_progress_at,omitempty" db:"in_progress_at"`
	ClosedAt     *time.Time `json:"closed_at,omitempty" db:"closed_at"`
	Description  string     `json:"description" db:"description"`
	ActionTaken  string     `json:"action_taken" db:"action_taken"`
	Priority     int        `json:"priority" db:"priority"`
	ReportedBy   string     `json:"reported_by" db:"reported_by"`
}

// IsOpen reports whether the ticket has not been closed yet.
func (d *Downtime) IsOpen() bool { return d.ClosedAt == nil }

// PartScheduleStatus activates or deactivates a (part, production order)
// pair for scheduling.
type PartScheduleStatus struct {
	PartNumber      string `json:"part_number" db:"part_number"`
	ProductionOrder string `json:"production_order" db:"production_order"`
	Active          bool   `json:"active" db:"active"`
}

// PlannedScheduleItem is the durable plan entry for one operation of one
// order. Created on the first scheduling run, persists across reschedules.
type PlannedScheduleItem struct {
	ID            int64     `json:"id" db:"id"`
	OrderID       int64     `json:"order_id" db:"order_id"`
	OperationID   int64     `json:"operation_id" db:"operation_id"`
	MachineID     int64     `json:"machine_id" db:"machine_id"`
	TotalQuantity int       `json:"total_quantity" db:"total_quantity"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// ScheduleVersion is one versioned planned window for a PSI. Exactly one
// version per PSI is active at any instant.
type ScheduleVersion struct {
	ID                int64     `json:"id" db:"id"`
	PSIID             int64     `json:"psi_id" db:"psi_id"`
	VersionNo         int       `json:"version_no" db:"version_no"`
	IsActive          bool      `json:"is_active" db:"is_active"`
	PlannedStart      time.Time `json:"planned_start" db:"planned_start"`
	PlannedEnd        time.Time `json:"planned_end" db:"planned_end"`
	PlannedQuantity   int       `json:"planned_quantity" db:"planned_quantity"`
	CompletedQuantity int       `json:"completed_quantity" db:"completed_quantity"`
	RemainingQuantity int       `json:"remaining_quantity" db:"remaining_quantity"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

// ProductionLog is an operator-reported run against a schedule version.
// Good quantities feed back into SV completed_quantity.
type ProductionLog struct {
	ID          int64      `json:"id" db:"id"`
	PSIID       int64      `json:"psi_id" db:"psi_id"`
	SVID        int64      `json:"sv_id" db:"sv_id"`
	Operator    string     `json:"operator" db:"operator"`
	StartedAt   time.Time  `json:"started_at" db:"started_at"`
	StoppedAt   *time.Time `json:"stopped_at,omitempty" db:"stopped_at"`
	GoodQty     int        `json:"good_qty" db:"good_qty"`
	BadQty      int        `json:"bad_qty" db:"bad_qty"`
	ReasonCodes []string   `json:"reason_codes" db:"reason_codes"`
}

// TelemetryRow is one live snapshot for one machine, as pushed by the
// external collector. The live table keeps one row per machine; history is
// append-only.
type TelemetryRow struct {
	MachineID  int64     `json:"machine_id" db:"machine_id"`
	Timestamp  time.Time `json:"timestamp" db:"timestamp"`
	VoltageL1  *float64  `json:"voltage_l1,omitempty" db:"voltage_l1"`
	VoltageL2  *float64  `json:"voltage_l2,omitempty" db:"voltage_l2"`
	VoltageL3  *float64  `json:"voltage_l3,omitempty" db:"voltage_l3"`
	CurrentL1  *float64  `json:"current_l1,omitempty" db:"current_l1"`
	CurrentL2  *float64  `json:"current_l2,omitempty" db:"current_l2"`
	CurrentL3  *float64  `json:"current_l3,omitempty" db:"current_l3"`
	PowerKW    *float64  `json:"power_kw,omitempty" db:"power_kw"`
	EnergyKWH  *float64  `json:"energy_kwh,omitempty" db:"energy_kwh"`
	PowerFct   *float64  `json:"power_factor,omitempty" db:"power_factor"`
	Frequency  *float64  `json:"frequency,omitempty" db:"frequency"`
	OpMode     *string   `json:"op_mode,omitempty" db:"op_mode"`
	ProgStatus *string   `json:"prog_status,omitempty" db:"prog_status"`
	PartCount  *int64    `json:"part_count,omitempty" db:"part_count"`
	JobStatus  *string   `json:"job_status,omitempty" db:"job_status"`
}

// ShiftwiseEnergy is the per-shift energy split for one machine. Live table
// plus append-only history, same as TelemetryRow.
type ShiftwiseEnergy struct {
	MachineID int64     `json:"machine_id" db:"machine_id"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	Shift1    float64   `json:"shift1" db:"shift1"`
	Shift2    float64   `json:"shift2" db:"shift2"`
	Shift3    float64   `json:"shift3" db:"shift3"`
	Total     float64   `json:"total" db:"total"`
}

// SchedulePlacement is one operation window produced by a scheduling run,
// in store terms. ApplyScheduleRun persists a batch of these atomically.
type SchedulePlacement struct {
	OrderID     int64
	OperationID int64
	MachineID   int64
	Quantity    int
	Start       time.Time
	End         time.Time
}

// RescheduleRecord is the audit entry for one scheduler run triggered by
// the reschedule controller.
type RescheduleRecord struct {
	ID           string    `json:"id" db:"id"`
	Trigger      string    `json:"trigger" db:"trigger"`
	TriggeredBy  string    `json:"triggered_by" db:"triggered_by"`
	Timestamp    time.Time `json:"timestamp" db:"timestamp"`
	Predecessors []int64   `json:"predecessors" db:"predecessors"` // displaced SV ids
	Successors   []int64   `json:"successors" db:"successors"`     // newly activated SV ids
}

// Reschedule trigger values.
const (
	TriggerDowntimeOpened   = "downtime_opened"
	TriggerDowntimeClosed   = "downtime_closed"
	TriggerPriorityChange   = "priority_change"
	TriggerRawMaterialEvent = "raw_material_event"
	TriggerAdmin            = "admin"
)

// Package scheduler turns active parts, routings, machine load and project
// priorities into a concrete plan: which operation runs on which machine,
// when, split into setup and processing segments that respect the shift
// window. A run is a pure function of its input; per-machine committed
// intervals are local to the run and discarded afterward.
package scheduler

import (
	"time"
)

// SegmentKind distinguishes setup from processing time.
type SegmentKind string

const (
	KindSetup   SegmentKind = "Setup"
	KindProcess SegmentKind = "Process"
)

// Segment is one placed block of work on one machine. An operation that
// crosses the shift boundary produces several segments with cumulative
// progress annotations.
type Segment struct {
	PartNumber      string      `json:"part_number"`
	ProductionOrder string      `json:"production_order"`
	OrderID         int64       `json:"order_id"`
	OperationID     int64       `json:"operation_id"`
	OpNumber        int         `json:"op_number"`
	MachineID       int64       `json:"machine_id"`
	Start           time.Time   `json:"start"`
	End             time.Time   `json:"end"`
	Kind            SegmentKind `json:"kind"`
	Annotation      string      `json:"annotation"` // "Setup(30/30 min)", "Process(2/3pcs)"
}

// Placement aggregates one operation's full window for SV persistence.
type Placement struct {
	OrderID     int64     `json:"order_id"`
	OperationID int64     `json:"operation_id"`
	OpNumber    int       `json:"op_number"`
	MachineID   int64     `json:"machine_id"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Quantity    int       `json:"quantity"`
}

// Part result statuses.
const (
	PartCompleted = "completed"
	PartSkipped   = "skipped"
	PartPartial   = "partially completed"
)

// PartResult reports how far one part got.
type PartResult struct {
	PartNumber      string `json:"part_number"`
	ProductionOrder string `json:"production_order"`
	PlacedOps       int    `json:"placed_ops"`
	TotalOps        int    `json:"total_ops"`
	Status          string `json:"status"` // e.g. "partially completed (1/2 operations)"
	Reason          string `json:"reason,omitempty"`
}

// OpSpec is one routing step as the scheduler sees it.
type OpSpec struct {
	OperationID int64
	OpNumber    int
	MachineID   int64
	// Schedulable is false when the operation's work center is not
	// schedulable; the operation is carried as an external gate and not
	// placed.
	Schedulable bool
	// Pinned marks an operation whose active window straddles the run
	// instant. Its window is immovable: the run emits no new placement for
	// it and the part sequence resumes at PinnedEnd. The machine time it
	// occupies arrives pre-committed in MachineState.Committed.
	Pinned     bool
	PinnedEnd  time.Time
	SetupHours float64
	CycleHours float64 // per piece
}

// MaterialGate is the raw-material availability of a part's order.
type MaterialGate struct {
	Available     bool
	AvailableFrom time.Time
	Reason        string // filled when not available
}

// PartJob is one active (part, production order) pair to schedule.
// Parts are processed in ascending project priority; insertion order breaks
// ties.
type PartJob struct {
	PartNumber      string
	ProductionOrder string
	OrderID         int64
	Priority        int
	Quantity        int
	Material        MaterialGate
	Operations      []OpSpec // ascending op number
}

// MachineState is the scheduling view of one machine: current status plus
// the committed load the run extends as it places work.
type MachineState struct {
	Status        string // store.MachineStatusOn / Off / Idle
	AvailableFrom time.Time
	Committed     []Interval
}

// Input is a consistent snapshot for one scheduling run.
type Input struct {
	Now      time.Time
	Window   Window
	Parts    []PartJob
	Machines map[int64]*MachineState
}

// Output is the complete plan of one run.
type Output struct {
	Segments   []Segment
	Placements []Placement
	Parts      []PartResult
}

package scheduler

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/itskum47/shopfloor/server/apperr"
	"github.com/itskum47/shopfloor/server/store"
)

// Engine runs scheduling passes. It holds no mutable state between runs;
// the reschedule controller serializes calls.
type Engine struct {
	logger *zap.Logger
}

// NewEngine returns an Engine logging through the given logger.
func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{logger: logger}
}

// Run computes a complete plan for the input snapshot. Parts are taken in
// ascending project priority (stable within equal priority); within a part
// operations go in op-number order and operation k+1 never starts before
// operation k ends. The context deadline is the run's wall-clock budget.
func (e *Engine) Run(ctx context.Context, input Input) (*Output, error) {
	parts := make([]PartJob, len(input.Parts))
	copy(parts, input.Parts)
	sort.SliceStable(parts, func(i, j int) bool { return parts[i].Priority < parts[j].Priority })

	out := &Output{}
	for i := range parts {
		if err := ctx.Err(); err != nil {
			return nil, apperr.Wrap(apperr.KindBudget, err, "scheduling run exceeded its budget after %d/%d parts", i, len(parts))
		}
		e.schedulePart(&parts[i], input, out)
	}
	return out, nil
}

// schedulePart places every schedulable operation of one part in sequence.
func (e *Engine) schedulePart(part *PartJob, input Input, out *Output) {
	total := 0
	for _, op := range part.Operations {
		if op.Schedulable {
			total++
		}
	}

	result := PartResult{
		PartNumber:      part.PartNumber,
		ProductionOrder: part.ProductionOrder,
		TotalOps:        total,
	}

	// A part whose routing holds no schedulable operation is a no-op for
	// this run, not a completion.
	if total == 0 {
		result.Status = PartSkipped
		result.Reason = "no schedulable operations"
		out.Parts = append(out.Parts, result)
		return
	}

	// Raw-material gate: the whole part is skipped unless the material is
	// available; a future available_from only pushes the earliest start.
	if !part.Material.Available {
		result.Status = PartSkipped
		result.Reason = part.Material.Reason
		if result.Reason == "" {
			result.Reason = "raw material not available"
		}
		e.logger.Info("part skipped",
			zap.String("part", part.PartNumber),
			zap.String("production_order", part.ProductionOrder),
			zap.String("reason", result.Reason))
		out.Parts = append(out.Parts, result)
		return
	}

	earliest := input.Now
	if part.Material.AvailableFrom.After(earliest) {
		earliest = part.Material.AvailableFrom
	}

	placed := 0
	for _, op := range part.Operations {
		if !op.Schedulable {
			// Non-schedulable work center: carried as an external gate, the
			// sequence continues from the same instant.
			continue
		}

		if op.Pinned {
			// Running on the floor right now. The machine interval is
			// already committed; only the sequence constraint remains.
			if op.PinnedEnd.After(earliest) {
				earliest = op.PinnedEnd
			}
			placed++
			continue
		}

		machine, ok := input.Machines[op.MachineID]
		if !ok || machine.Status == store.MachineStatusOff {
			// Machine unavailable indefinitely. This and all following
			// operations of the part are deferred.
			result.Reason = fmt.Sprintf("machine %d unavailable", op.MachineID)
			break
		}

		opEarliest := earliest
		if machine.AvailableFrom.After(opEarliest) {
			opEarliest = machine.AvailableFrom
		}

		end := e.placeOperation(part, op, machine, opEarliest, input.Window, out)
		earliest = end
		placed++
	}

	result.PlacedOps = placed
	switch {
	case placed == total:
		result.Status = PartCompleted
	case placed == 0 && result.Reason != "":
		result.Status = PartSkipped
	default:
		result.Status = fmt.Sprintf("%s (%d/%d operations)", PartPartial, placed, total)
	}
	out.Parts = append(out.Parts, result)
}

// placeOperation finds a slot for setup+processing, emits the per-shift
// segments and commits the machine time. Returns the operation's finish.
func (e *Engine) placeOperation(part *PartJob, op OpSpec, machine *MachineState, earliest time.Time, w Window, out *Output) time.Time {
	setupMin := op.SetupHours * 60
	procMin := op.CycleHours * 60 * float64(part.Quantity)
	totalDur := time.Duration((setupMin + procMin) * float64(time.Minute))

	start := slotInWindow(machine.Committed, totalDur, earliest, w)

	var segs []Segment
	cursor := start
	if setupMin > 0 {
		cursor = e.splitPlace(&segs, part, op, w, machine, cursor, setupMin, KindSetup, 0)
	}
	if procMin > 0 {
		cursor = e.splitPlace(&segs, part, op, w, machine, cursor, procMin, KindProcess, part.Quantity)
	}
	if len(segs) == 0 {
		// Degenerate zero-duration operation.
		cursor = start
	}

	for _, seg := range segs {
		machine.Committed = append(machine.Committed, Interval{Start: seg.Start, End: seg.End})
	}
	sortIntervals(machine.Committed)

	out.Segments = append(out.Segments, segs...)
	out.Placements = append(out.Placements, Placement{
		OrderID:     part.OrderID,
		OperationID: op.OperationID,
		OpNumber:    op.OpNumber,
		MachineID:   op.MachineID,
		Start:       start,
		End:         cursor,
		Quantity:    part.Quantity,
	})
	return cursor
}

// splitPlace lays out totalMin minutes of one kind starting at cursor,
// splitting at shift boundaries. Each continuation is re-slotted against
// the committed load of the next working day so segments never overlap
// earlier commitments. For Process segments the annotation carries the
// cumulative piece estimate: round(qty * elapsed/total), clamped monotonic,
// with the final segment always reporting the full quantity.
func (e *Engine) splitPlace(segs *[]Segment, part *PartJob, op OpSpec, w Window, machine *MachineState, cursor time.Time, totalMin float64, kind SegmentKind, qty int) time.Time {
	elapsed := 0.0
	lastPieces := 0
	committed := machine.Committed
	for _, seg := range *segs {
		committed = append(committed, Interval{Start: seg.Start, End: seg.End})
	}

	for elapsed < totalMin {
		cursor = w.Adjust(cursor)
		dayEnd := w.DayEnd(cursor)
		available := dayEnd.Sub(cursor).Minutes()
		remaining := totalMin - elapsed

		chunk := remaining
		if chunk > available {
			chunk = available
		}
		segEnd := cursor.Add(time.Duration(chunk * float64(time.Minute)))
		elapsed += chunk

		var annotation string
		if kind == KindSetup {
			annotation = fmt.Sprintf("Setup(%d/%d min)", int(math.Round(elapsed)), int(math.Round(totalMin)))
		} else {
			pieces := int(math.Round(float64(qty) * elapsed / totalMin))
			if pieces < lastPieces {
				pieces = lastPieces
			}
			if pieces > qty || elapsed >= totalMin {
				pieces = qty
			}
			lastPieces = pieces
			annotation = fmt.Sprintf("Process(%d/%dpcs)", pieces, qty)
		}

		seg := Segment{
			PartNumber:      part.PartNumber,
			ProductionOrder: part.ProductionOrder,
			OrderID:         part.OrderID,
			OperationID:     op.OperationID,
			OpNumber:        op.OpNumber,
			MachineID:       op.MachineID,
			Start:           cursor,
			End:             segEnd,
			Kind:            kind,
			Annotation:      annotation,
		}
		*segs = append(*segs, seg)
		committed = append(committed, Interval{Start: cursor, End: segEnd})

		if elapsed >= totalMin {
			return segEnd
		}
		// Spilled past the shift close: continue on the next working day,
		// re-slotted against everything committed so far.
		next := w.DayStart(cursor.AddDate(0, 0, 1))
		cursor = slotInWindow(committed, time.Duration(math.Min(remaining-chunk, w.MinutesPerDay())*float64(time.Minute)), next, w)
	}
	return cursor
}

// slotInWindow iterates findSlot and the window adjustment to a fixpoint.
// A raw gap can span the overnight break; its adjusted start may then land
// inside a commitment on the next working day, so the search repeats from
// the adjusted instant until the start is both free and inside the window.
// Each step moves strictly forward, bounded by the tail of the committed
// load, so the loop terminates.
func slotInWindow(committed []Interval, duration time.Duration, earliest time.Time, w Window) time.Time {
	start := findSlot(committed, duration, w.Adjust(earliest))
	for {
		adjusted := w.Adjust(start)
		if adjusted.Equal(start) {
			return start
		}
		start = findSlot(committed, duration, adjusted)
	}
}

package main

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/itskum47/shopfloor/server/apperr"
	"github.com/itskum47/shopfloor/server/observability"
	"github.com/itskum47/shopfloor/server/scheduler"
	"github.com/itskum47/shopfloor/server/store"
)

// Controller serializes scheduling runs. Every trigger funnels through one
// mutex so two runs never interleave their snapshot and persistence.
type Controller struct {
	store  store.Store
	engine *scheduler.Engine
	window scheduler.Window
	budget time.Duration
	logger *zap.Logger

	mu  sync.Mutex
	now func() time.Time
}

// NewController wires the reschedule path.
func NewController(s store.Store, engine *scheduler.Engine, window scheduler.Window, budget time.Duration, logger *zap.Logger) *Controller {
	return &Controller{
		store:  s,
		engine: engine,
		window: window,
		budget: budget,
		logger: logger,
		now:    time.Now,
	}
}

// RunSummary reports one completed scheduling run.
type RunSummary struct {
	RecordID  string                 `json:"record_id"`
	Trigger   string                 `json:"trigger"`
	Duration  time.Duration          `json:"duration"`
	Parts     []scheduler.PartResult `json:"parts"`
	Segments  []scheduler.Segment    `json:"segments"`
	Activated []int64                `json:"activated_versions"`
	Displaced []int64                `json:"displaced_versions"`
}

// Run executes one full scheduling pass: snapshot, plan, persist, audit.
// The budget covers snapshot and planning only; a run that exceeds it
// aborts before any write. A completed plan persists as one atomic store
// call, so prior active versions are never stranded between states.
func (c *Controller) Run(ctx context.Context, trigger, triggeredBy string) (*RunSummary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := c.now()
	runCtx, cancel := context.WithTimeout(ctx, c.budget)
	defer cancel()

	input, err := c.buildInput(runCtx)
	if err != nil {
		observability.RescheduleRuns.WithLabelValues(trigger, "error").Inc()
		return nil, err
	}

	output, err := c.engine.Run(runCtx, *input)
	if err != nil {
		outcome := "error"
		if apperr.Is(err, apperr.KindBudget) {
			outcome = "budget_exceeded"
		}
		observability.RescheduleRuns.WithLabelValues(trigger, outcome).Inc()
		return nil, err
	}

	// Persistence runs outside the planning budget: the plan is done, and
	// a late deadline must not cancel the atomic write.
	summary, err := c.persist(context.WithoutCancel(ctx), trigger, triggeredBy, output)
	if err != nil {
		observability.RescheduleRuns.WithLabelValues(trigger, "error").Inc()
		return nil, err
	}
	summary.Duration = c.now().Sub(start)

	observability.SchedulingRunDuration.Observe(summary.Duration.Seconds())
	observability.RescheduleRuns.WithLabelValues(trigger, "success").Inc()
	if active, err := c.store.ListActiveScheduleVersions(ctx); err == nil {
		observability.ActiveScheduleVersions.Set(float64(len(active)))
	}

	c.logger.Info("reschedule completed",
		zap.String("trigger", trigger),
		zap.String("triggered_by", triggeredBy),
		zap.Int("parts", len(summary.Parts)),
		zap.Int("segments", len(summary.Segments)),
		zap.Int("activated", len(summary.Activated)),
		zap.Duration("duration", summary.Duration))
	return summary, nil
}

// TriggerAsync fires a run in the background; event handlers must not wait
// on the scheduling mutex.
func (c *Controller) TriggerAsync(trigger, triggeredBy string) {
	go func() {
		if _, err := c.Run(context.Background(), trigger, triggeredBy); err != nil {
			c.logger.Warn("reschedule failed",
				zap.String("trigger", trigger), zap.Error(err))
		}
	}()
}

// buildInput assembles one consistent snapshot: active parts with routing,
// priority and material gate, per-machine status, and the committed load
// of operations already running at the snapshot instant.
func (c *Controller) buildInput(ctx context.Context) (*scheduler.Input, error) {
	now := c.now()

	workCenters, err := c.store.ListWorkCenters(ctx)
	if err != nil {
		return nil, err
	}
	schedulable := make(map[int64]bool, len(workCenters))
	for _, wc := range workCenters {
		schedulable[wc.ID] = wc.IsSchedulable
	}

	machines, err := c.store.ListMachines(ctx)
	if err != nil {
		return nil, err
	}
	states := make(map[int64]*scheduler.MachineState, len(machines))
	for _, m := range machines {
		state := &scheduler.MachineState{Status: store.MachineStatusOff}
		st, err := c.store.GetMachineStatus(ctx, m.ID)
		switch {
		case err == nil:
			state.Status = st.StatusCode
			state.AvailableFrom = st.AvailableFrom
		case apperr.Is(err, apperr.KindNotFound):
			// No status row reported yet: treated as OFF.
		default:
			return nil, err
		}
		states[m.ID] = state
	}

	// An active version whose window straddles now is work in progress on
	// the floor. It is immovable: its machine time is pre-committed and its
	// operation must not be re-placed.
	activeSVs, err := c.store.ListActiveScheduleVersions(ctx)
	if err != nil {
		return nil, err
	}
	pinned := make(map[int64]time.Time) // operation id -> planned end
	for _, sv := range activeSVs {
		if sv.PlannedStart.After(now) || !sv.PlannedEnd.After(now) {
			continue
		}
		psi, err := c.store.GetPSI(ctx, sv.PSIID)
		if err != nil {
			return nil, err
		}
		pinned[psi.OperationID] = sv.PlannedEnd
		if state, ok := states[psi.MachineID]; ok {
			state.Committed = append(state.Committed, scheduler.Interval{Start: now, End: sv.PlannedEnd})
		}
	}

	activeParts, err := c.store.ListActiveParts(ctx)
	if err != nil {
		return nil, err
	}

	var parts []scheduler.PartJob
	for _, ps := range activeParts {
		order, err := c.store.GetOrderByPO(ctx, ps.ProductionOrder)
		if err != nil {
			if apperr.Is(err, apperr.KindNotFound) {
				c.logger.Warn("active part references unknown order",
					zap.String("production_order", ps.ProductionOrder))
				continue
			}
			return nil, err
		}
		project, err := c.store.GetProject(ctx, order.ProjectID)
		if err != nil {
			return nil, err
		}
		ops, err := c.store.ListOperations(ctx, order.ID)
		if err != nil {
			return nil, err
		}

		specs := make([]scheduler.OpSpec, 0, len(ops))
		for _, op := range ops {
			spec := scheduler.OpSpec{
				OperationID: op.ID,
				OpNumber:    op.OpNumber,
				MachineID:   op.MachineID,
				Schedulable: schedulable[op.WorkCenterID],
				SetupHours:  op.SetupHours,
				CycleHours:  op.CycleHours,
			}
			if end, ok := pinned[op.ID]; ok {
				spec.Pinned = true
				spec.PinnedEnd = end
			}
			specs = append(specs, spec)
		}

		gate := scheduler.MaterialGate{Available: true}
		if order.RawMaterialID != 0 {
			rm, err := c.store.GetRawMaterial(ctx, order.RawMaterialID)
			if err != nil {
				return nil, err
			}
			gate.AvailableFrom = rm.AvailableFrom
			if rm.Status != store.RawMaterialAvailable {
				gate.Available = false
				gate.Reason = "raw material " + rm.Status
			}
		}

		qty := order.LaunchedQty
		if qty == 0 {
			qty = order.RequiredQty
		}
		parts = append(parts, scheduler.PartJob{
			PartNumber:      order.PartNumber,
			ProductionOrder: order.ProductionOrder,
			OrderID:         order.ID,
			Priority:        project.Priority,
			Quantity:        qty,
			Material:        gate,
			Operations:      specs,
		})
	}

	return &scheduler.Input{
		Now:      now,
		Window:   c.window,
		Parts:    parts,
		Machines: states,
	}, nil
}

// persist hands the whole run to the store in one atomic call: PSIs,
// freshly activated schedule versions and the audit record together.
func (c *Controller) persist(ctx context.Context, trigger, triggeredBy string, output *scheduler.Output) (*RunSummary, error) {
	placements := make([]store.SchedulePlacement, 0, len(output.Placements))
	for _, pl := range output.Placements {
		placements = append(placements, store.SchedulePlacement{
			OrderID:     pl.OrderID,
			OperationID: pl.OperationID,
			MachineID:   pl.MachineID,
			Quantity:    pl.Quantity,
			Start:       pl.Start,
			End:         pl.End,
		})
	}

	record := &store.RescheduleRecord{
		ID:          uuid.NewString(),
		Trigger:     trigger,
		TriggeredBy: triggeredBy,
		Timestamp:   c.now(),
	}
	activated, displaced, err := c.store.ApplyScheduleRun(ctx, placements, record)
	if err != nil {
		return nil, err
	}

	return &RunSummary{
		RecordID:  record.ID,
		Trigger:   trigger,
		Parts:     output.Parts,
		Segments:  output.Segments,
		Activated: activated,
		Displaced: displaced,
	}, nil
}

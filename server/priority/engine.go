// Package priority maintains the gap-free total order over live projects
// and gates moves by schedule state.
package priority

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/itskum47/shopfloor/server/apperr"
	"github.com/itskum47/shopfloor/server/store"
)

// Derived part schedule statuses.
const (
	StatusNotScheduled  = "Not Scheduled"
	StatusScheduledSoon = "Scheduled Today/Soon"
	StatusScheduledFut  = "Scheduled Future"
	StatusInProgress    = "In Progress"
	StatusPastDue       = "Past Due"
	StatusCompleted     = "Completed"
)

// soonHorizon is how far ahead a planned start still counts as
// "Scheduled Today/Soon".
const soonHorizon = 48 * time.Hour

// Detail is one row of the priority view: a part, the owning project's
// priority and the status derived from its active schedule versions.
type Detail struct {
	ProjectID       int64     `json:"project_id"`
	ProjectName     string    `json:"project_name"`
	Priority        int       `json:"priority"`
	DeliveryDate    time.Time `json:"delivery_date"`
	PartNumber      string    `json:"part_number"`
	ProductionOrder string    `json:"production_order"`
	Status          string    `json:"status"`
	Changeable      bool      `json:"changeable"`
	FrozenReason    string    `json:"frozen_reason,omitempty"`
}

// Engine implements priority reads and safe moves.
type Engine struct {
	store  store.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewEngine builds the engine. now is injectable for tests.
func NewEngine(s store.Store, logger *zap.Logger) *Engine {
	return &Engine{store: s, logger: logger, now: time.Now}
}

// WithNow overrides the clock; tests only.
func (e *Engine) WithNow(now func() time.Time) *Engine {
	e.now = now
	return e
}

// GetPriorities returns one Detail per order, ordered by project priority.
func (e *Engine) GetPriorities(ctx context.Context) ([]Detail, error) {
	projects, err := e.store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	orders, err := e.store.ListOrders(ctx)
	if err != nil {
		return nil, err
	}
	byProject := make(map[int64][]*store.Order)
	for _, o := range orders {
		byProject[o.ProjectID] = append(byProject[o.ProjectID], o)
	}

	var details []Detail
	for _, p := range projects {
		for _, o := range byProject[p.ID] {
			status, err := e.partStatus(ctx, o)
			if err != nil {
				return nil, err
			}
			changeable, reason := changeableFromStatus(status)
			details = append(details, Detail{
				ProjectID:       p.ID,
				ProjectName:     p.Name,
				Priority:        p.Priority,
				DeliveryDate:    p.DeliveryDate,
				PartNumber:      o.PartNumber,
				ProductionOrder: o.ProductionOrder,
				Status:          status,
				Changeable:      changeable,
				FrozenReason:    reason,
			})
		}
	}
	return details, nil
}

// GetPartPriorities returns the Detail rows for one part number.
func (e *Engine) GetPartPriorities(ctx context.Context, partNumber string) ([]Detail, error) {
	all, err := e.GetPriorities(ctx)
	if err != nil {
		return nil, err
	}
	var out []Detail
	for _, d := range all {
		if d.PartNumber == partNumber {
			out = append(out, d)
		}
	}
	if len(out) == 0 {
		return nil, apperr.New(apperr.KindNotFound, "no orders for part %s", partNumber)
	}
	return out, nil
}

// partStatus derives the schedule status of one order from its active SVs.
func (e *Engine) partStatus(ctx context.Context, o *store.Order) (string, error) {
	psis, err := e.store.ListPSIsByOrder(ctx, o.ID)
	if err != nil {
		return "", err
	}
	if len(psis) == 0 {
		return StatusNotScheduled, nil
	}

	now := e.now()
	var active []*store.ScheduleVersion
	for _, psi := range psis {
		svs, err := e.store.ListScheduleVersionsByPSI(ctx, psi.ID)
		if err != nil {
			return "", err
		}
		for _, sv := range svs {
			if sv.IsActive {
				active = append(active, sv)
			}
		}
	}
	if len(active) == 0 {
		return StatusNotScheduled, nil
	}

	allDone := true
	anyStarted := false
	var earliestStart, latestEnd time.Time
	for i, sv := range active {
		if sv.CompletedQuantity < sv.PlannedQuantity {
			allDone = false
		}
		if sv.CompletedQuantity > 0 {
			anyStarted = true
		}
		if !now.Before(sv.PlannedStart) && now.Before(sv.PlannedEnd) {
			anyStarted = true
		}
		if i == 0 || sv.PlannedStart.Before(earliestStart) {
			earliestStart = sv.PlannedStart
		}
		if sv.PlannedEnd.After(latestEnd) {
			latestEnd = sv.PlannedEnd
		}
	}

	switch {
	case allDone:
		return StatusCompleted, nil
	case latestEnd.Before(now):
		return StatusPastDue, nil
	case anyStarted:
		return StatusInProgress, nil
	case earliestStart.Before(now.Add(soonHorizon)):
		return StatusScheduledSoon, nil
	default:
		return StatusScheduledFut, nil
	}
}

func changeableFromStatus(status string) (bool, string) {
	switch status {
	case StatusCompleted:
		return false, "all scheduled items completed"
	case StatusPastDue:
		return false, "schedule past due with incomplete items"
	default:
		return true, ""
	}
}

// IsChangeable reports whether the part's priority may be moved, with the
// freeze reason when not.
func (e *Engine) IsChangeable(ctx context.Context, partNumber string) (bool, string, error) {
	orders, err := e.store.ListOrdersByPart(ctx, partNumber)
	if err != nil {
		return false, "", err
	}
	if len(orders) == 0 {
		return false, "", apperr.New(apperr.KindNotFound, "no orders for part %s", partNumber)
	}
	for _, o := range orders {
		status, err := e.partStatus(ctx, o)
		if err != nil {
			return false, "", err
		}
		if ok, reason := changeableFromStatus(status); !ok {
			return false, reason, nil
		}
	}
	return true, "", nil
}

// SetPartPriority moves the project owning the part to newPriority.
func (e *Engine) SetPartPriority(ctx context.Context, partNumber string, newPriority int) error {
	orders, err := e.store.ListOrdersByPart(ctx, partNumber)
	if err != nil {
		return err
	}
	if len(orders) == 0 {
		return apperr.New(apperr.KindNotFound, "no orders for part %s", partNumber)
	}
	ok, reason, err := e.IsChangeable(ctx, partNumber)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.New(apperr.KindFrozen, "part %s is frozen: %s", partNumber, reason)
	}
	return e.moveProject(ctx, orders[0].ProjectID, newPriority)
}

// SetOrderPriority moves the project owning the order to newPriority.
func (e *Engine) SetOrderPriority(ctx context.Context, orderID int64, newPriority int) error {
	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	ok, reason, err := e.IsChangeable(ctx, o.PartNumber)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.New(apperr.KindFrozen, "order %s is frozen: %s", o.ProductionOrder, reason)
	}
	return e.moveProject(ctx, o.ProjectID, newPriority)
}

// moveProject performs the dense reindex. With old and new positions: on a
// move up every project in [new, old) shifts down by one; on a move down
// every project in (old, new] shifts up by one; the moved project lands on
// new. Density and uniqueness are preserved; applying the same move twice
// is a no-op the second time.
func (e *Engine) moveProject(ctx context.Context, projectID int64, newPriority int) error {
	projects, err := e.store.ListProjects(ctx)
	if err != nil {
		return err
	}
	n := len(projects)
	if newPriority < 1 || newPriority > n {
		return apperr.New(apperr.KindOutOfRange, "priority %d out of range 1..%d", newPriority, n)
	}

	var moved *store.Project
	for _, p := range projects {
		if p.ID == projectID {
			moved = p
			break
		}
	}
	if moved == nil {
		return apperr.New(apperr.KindNotFound, "project %d not found", projectID)
	}

	old := moved.Priority
	if old == newPriority {
		return nil
	}

	assignments := make(map[int64]int, n)
	for _, p := range projects {
		pr := p.Priority
		switch {
		case p.ID == projectID:
			pr = newPriority
		case newPriority < old && pr >= newPriority && pr < old:
			pr++
		case newPriority > old && pr > old && pr <= newPriority:
			pr--
		}
		assignments[p.ID] = pr
	}

	if err := e.store.ApplyPriorities(ctx, assignments); err != nil {
		return err
	}
	e.logger.Info("project priority moved",
		zap.Int64("project_id", projectID),
		zap.Int("from", old),
		zap.Int("to", newPriority))
	return nil
}

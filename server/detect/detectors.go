// Package detect holds the stateful change detectors sitting between the
// live telemetry tables and the broadcast fabric. Each detector owns its
// previous-state map exclusively; no other task touches it.
package detect

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/itskum47/shopfloor/server/broadcast"
	"github.com/itskum47/shopfloor/server/observability"
	"github.com/itskum47/shopfloor/server/store"
)

// Topic names of the global streams.
const (
	TopicMachineStatus  = "machine-status"
	TopicMachineParams  = "machine-parameters"
	TopicShiftwise      = "shiftwise-energy"
	machineParamsPrefix = "machine:" // per-machine: machine:<id>:parameters
)

// MachineParamsTopic names the per-machine parameter stream.
func MachineParamsTopic(machineID int64) string {
	return machineParamsPrefix + strconv.FormatInt(machineID, 10) + ":parameters"
}

// Broadcast intervals.
const (
	statusMinInterval    = 1 * time.Second
	shiftwiseMinInterval = 5 * time.Second
	tickInterval         = 1 * time.Second
	errorBackoff         = 1 * time.Second
)

// TelemetrySource supplies the current live telemetry rows.
type TelemetrySource interface {
	AllTelemetry(ctx context.Context) (map[int64]*store.TelemetryRow, error)
}

// ShiftwiseSource supplies the current live shiftwise-energy rows.
type ShiftwiseSource interface {
	AllShiftwise(ctx context.Context) (map[int64]*store.ShiftwiseEnergy, error)
}

// StatusSource supplies the effective machine status codes.
type StatusSource interface {
	AllStatuses(ctx context.Context) (map[int64]string, error)
}

// StatusEvent is one machine's status change on the status stream.
type StatusEvent struct {
	MachineID int64  `json:"machine_id"`
	Status    string `json:"status"`
}

// StatusDetector diffs the machine-status map and rate-limits per machine.
type StatusDetector struct {
	source  StatusSource
	hub     *broadcast.Hub
	logger  *zap.Logger
	limiter *IntervalLimiter
	prev    map[int64]string
}

// NewStatusDetector wires the status stream.
func NewStatusDetector(source StatusSource, hub *broadcast.Hub, logger *zap.Logger) *StatusDetector {
	return &StatusDetector{
		source:  source,
		hub:     hub,
		logger:  logger,
		limiter: NewIntervalLimiter(statusMinInterval),
		prev:    make(map[int64]string),
	}
}

// Tick diffs once and publishes the changed machines, if any.
func (d *StatusDetector) Tick(ctx context.Context) error {
	current, err := d.source.AllStatuses(ctx)
	if err != nil {
		return err
	}

	var changed []StatusEvent
	for id, status := range current {
		prev, seen := d.prev[id]
		if seen && prev == status {
			continue
		}
		if !d.limiter.Allow(strconv.FormatInt(id, 10)) {
			observability.DetectorSuppressed.WithLabelValues(TopicMachineStatus).Inc()
			continue
		}
		d.prev[id] = status
		changed = append(changed, StatusEvent{MachineID: id, Status: status})
	}
	// A machine gone from the set emits a synthetic OFFLINE event.
	for id := range d.prev {
		if _, ok := current[id]; !ok {
			delete(d.prev, id)
			changed = append(changed, StatusEvent{MachineID: id, Status: "OFFLINE"})
		}
	}

	if len(changed) == 0 {
		return nil
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i].MachineID < changed[j].MachineID })
	data, err := json.Marshal(changed)
	if err != nil {
		return err
	}
	observability.DetectorEmits.WithLabelValues(TopicMachineStatus).Add(float64(len(changed)))
	d.hub.Publish(TopicMachineStatus, broadcast.Event{Name: "update", Data: data})
	return nil
}

// ParamsDetector diffs the live telemetry rows, feeding both the global
// parameters stream and the per-machine streams.
type ParamsDetector struct {
	source TelemetrySource
	hub    *broadcast.Hub
	logger *zap.Logger
	prev   map[int64]*store.TelemetryRow
}

// NewParamsDetector wires the machine-parameters streams.
func NewParamsDetector(source TelemetrySource, hub *broadcast.Hub, logger *zap.Logger) *ParamsDetector {
	return &ParamsDetector{
		source: source,
		hub:    hub,
		logger: logger,
		prev:   make(map[int64]*store.TelemetryRow),
	}
}

// Tick diffs once. Changed rows go out as one batch on the global topic
// and individually on each machine's own topic.
func (d *ParamsDetector) Tick(ctx context.Context) error {
	current, err := d.source.AllTelemetry(ctx)
	if err != nil {
		return err
	}

	var changed []*store.TelemetryRow
	for id, row := range current {
		if !telemetryChanged(d.prev[id], row, DefaultThreshold) {
			continue
		}
		d.prev[id] = row
		changed = append(changed, row)
	}
	for id := range d.prev {
		if _, ok := current[id]; !ok {
			delete(d.prev, id)
		}
	}

	if len(changed) == 0 {
		return nil
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i].MachineID < changed[j].MachineID })

	data, err := json.Marshal(changed)
	if err != nil {
		return err
	}
	observability.DetectorEmits.WithLabelValues(TopicMachineParams).Add(float64(len(changed)))
	d.hub.Publish(TopicMachineParams, broadcast.Event{Name: "update", Data: data})

	for _, row := range changed {
		single, err := json.Marshal(row)
		if err != nil {
			continue
		}
		d.hub.Publish(MachineParamsTopic(row.MachineID), broadcast.Event{Name: "update", Data: single})
	}
	return nil
}

// ShiftwiseDetector diffs the shiftwise-energy rows; the whole stream is
// limited to one emission per 5s.
type ShiftwiseDetector struct {
	source  ShiftwiseSource
	hub     *broadcast.Hub
	logger  *zap.Logger
	limiter *IntervalLimiter
	prev    map[int64]*store.ShiftwiseEnergy
}

// NewShiftwiseDetector wires the shiftwise-energy stream.
func NewShiftwiseDetector(source ShiftwiseSource, hub *broadcast.Hub, logger *zap.Logger) *ShiftwiseDetector {
	return &ShiftwiseDetector{
		source:  source,
		hub:     hub,
		logger:  logger,
		limiter: NewIntervalLimiter(shiftwiseMinInterval),
		prev:    make(map[int64]*store.ShiftwiseEnergy),
	}
}

// Tick diffs once and publishes when anything moved and the global
// interval allows.
func (d *ShiftwiseDetector) Tick(ctx context.Context) error {
	current, err := d.source.AllShiftwise(ctx)
	if err != nil {
		return err
	}

	var changed []*store.ShiftwiseEnergy
	for id, row := range current {
		if !shiftwiseChanged(d.prev[id], row) {
			continue
		}
		changed = append(changed, row)
	}
	if len(changed) == 0 {
		return nil
	}
	if !d.limiter.Allow("global") {
		observability.DetectorSuppressed.WithLabelValues(TopicShiftwise).Inc()
		return nil
	}
	// Commit previous state only on actual emission so suppressed changes
	// surface on the next allowed tick.
	for _, row := range changed {
		d.prev[row.MachineID] = row
	}
	for id := range d.prev {
		if _, ok := current[id]; !ok {
			delete(d.prev, id)
		}
	}

	sort.Slice(changed, func(i, j int) bool { return changed[i].MachineID < changed[j].MachineID })
	data, err := json.Marshal(changed)
	if err != nil {
		return err
	}
	observability.DetectorEmits.WithLabelValues(TopicShiftwise).Add(float64(len(changed)))
	d.hub.Publish(TopicShiftwise, broadcast.Event{Name: "update", Data: data})
	return nil
}

// Ticker is any detector driven by the shared loop.
type Ticker interface {
	Tick(ctx context.Context) error
}

// RunLoop drives a detector until the context ends, backing off after
// errors.
func RunLoop(ctx context.Context, name string, d Ticker, logger *zap.Logger) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.Tick(ctx); err != nil {
				logger.Warn("detector tick failed", zap.String("detector", name), zap.Error(err))
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(errorBackoff):
				}
			}
		}
	}
}

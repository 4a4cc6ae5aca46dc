package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/itskum47/shopfloor/server/broadcast"
	"github.com/itskum47/shopfloor/server/store"
)

// historyWindow is the rolling window pushed to history-stream clients.
// Subscribers always receive the whole window, so a newly joined client
// needs no back-fill logic.
const historyWindow = 30 * time.Minute

// HistoryPoint is one sample of one parameter.
type HistoryPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     *float64  `json:"value"`
}

// ParamValue extracts a named numeric parameter from a telemetry row.
// Unknown names return ok=false.
func ParamValue(row *store.TelemetryRow, name string) (*float64, bool) {
	switch name {
	case "voltage_l1":
		return row.VoltageL1, true
	case "voltage_l2":
		return row.VoltageL2, true
	case "voltage_l3":
		return row.VoltageL3, true
	case "current_l1":
		return row.CurrentL1, true
	case "current_l2":
		return row.CurrentL2, true
	case "current_l3":
		return row.CurrentL3, true
	case "power_kw":
		return row.PowerKW, true
	case "energy_kwh":
		return row.EnergyKWH, true
	case "power_factor":
		return row.PowerFct, true
	case "frequency":
		return row.Frequency, true
	case "part_count":
		if row.PartCount == nil {
			return nil, true
		}
		v := float64(*row.PartCount)
		return &v, true
	default:
		return nil, false
	}
}

// HistoryTopic names the rolling-window stream of one machine parameter.
func HistoryTopic(machineID int64, param string) string {
	return fmt.Sprintf("machine:%d:param:%s:history", machineID, param)
}

// HistorySource reads the telemetry history table.
type HistorySource interface {
	LatestTelemetryHistory(ctx context.Context, machineID int64) (*store.TelemetryRow, error)
	TelemetryHistoryRange(ctx context.Context, machineID int64, from, to time.Time) ([]*store.TelemetryRow, error)
}

// HistoryStreamer lazily runs one window loop per (machine, parameter)
// topic. A loop stops itself once its topic has no subscribers left.
type HistoryStreamer struct {
	source HistorySource
	hub    *broadcast.Hub
	logger *zap.Logger

	mu      sync.Mutex
	running map[string]bool
}

// NewHistoryStreamer builds the registry.
func NewHistoryStreamer(source HistorySource, hub *broadcast.Hub, logger *zap.Logger) *HistoryStreamer {
	return &HistoryStreamer{
		source:  source,
		hub:     hub,
		logger:  logger,
		running: make(map[string]bool),
	}
}

// Ensure starts the loop for the topic if it is not already running. The
// SSE handler calls this just before subscribing.
func (h *HistoryStreamer) Ensure(ctx context.Context, machineID int64, param string) *broadcast.Topic {
	topic := HistoryTopic(machineID, param)
	t := h.hub.Topic(topic)
	t.SetSnapshot(func(ctx context.Context) ([]byte, error) {
		window, _, err := h.window(ctx, machineID, param, time.Time{})
		if err != nil {
			return nil, err
		}
		return json.Marshal(window)
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running[topic] {
		return t
	}
	h.running[topic] = true
	go h.loop(ctx, t, topic, machineID, param)
	return t
}

func (h *HistoryStreamer) loop(ctx context.Context, t *broadcast.Topic, topic string, machineID int64, param string) {
	defer func() {
		h.mu.Lock()
		delete(h.running, topic)
		h.mu.Unlock()
	}()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	var lastTimestamp time.Time
	idleTicks := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if t.SubscriberCount() == 0 {
			idleTicks++
			if idleTicks > 10 {
				return
			}
			continue
		}
		idleTicks = 0

		window, latest, err := h.window(ctx, machineID, param, lastTimestamp)
		if err != nil {
			h.logger.Warn("history window read failed",
				zap.String("topic", topic), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(errorBackoff):
			}
			continue
		}
		if window == nil {
			continue // nothing newer than lastTimestamp
		}
		lastTimestamp = latest

		data, err := json.Marshal(window)
		if err != nil {
			continue
		}
		t.Publish(broadcast.Event{Name: "update", Data: data})
	}
}

// window returns the 30-minute window ending at the newest history row,
// or nil when no row is newer than after.
func (h *HistoryStreamer) window(ctx context.Context, machineID int64, param string, after time.Time) ([]HistoryPoint, time.Time, error) {
	latest, err := h.source.LatestTelemetryHistory(ctx, machineID)
	if err != nil {
		return nil, time.Time{}, err
	}
	if latest == nil || !latest.Timestamp.After(after) {
		if after.IsZero() {
			return []HistoryPoint{}, time.Time{}, nil
		}
		return nil, time.Time{}, nil
	}

	rows, err := h.source.TelemetryHistoryRange(ctx, machineID,
		latest.Timestamp.Add(-historyWindow), latest.Timestamp)
	if err != nil {
		return nil, time.Time{}, err
	}
	points := make([]HistoryPoint, 0, len(rows))
	for _, row := range rows {
		v, ok := ParamValue(row, param)
		if !ok {
			continue
		}
		points = append(points, HistoryPoint{Timestamp: row.Timestamp, Value: v})
	}
	return points, latest.Timestamp, nil
}

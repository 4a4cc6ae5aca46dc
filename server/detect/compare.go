package detect

import (
	"math"

	"github.com/itskum47/shopfloor/server/store"
)

// Numeric comparison thresholds. Energy totals move slowly and noisily, so
// they get a coarser threshold.
const (
	DefaultThreshold = 1e-4
	EnergyThreshold  = 1e-2
)

// floatChanged applies the significance rule for optional numeric fields:
// a null-vs-value flip is significant, otherwise |delta| must exceed the
// threshold.
func floatChanged(a, b *float64, threshold float64) bool {
	if (a == nil) != (b == nil) {
		return true
	}
	if a == nil {
		return false
	}
	return math.Abs(*a-*b) > threshold
}

func strChanged(a, b *string) bool {
	if (a == nil) != (b == nil) {
		return true
	}
	if a == nil {
		return false
	}
	return *a != *b
}

func intChanged(a, b *int64) bool {
	if (a == nil) != (b == nil) {
		return true
	}
	if a == nil {
		return false
	}
	return *a != *b
}

// telemetryChanged reports whether any field of the row moved
// significantly since the previous snapshot.
func telemetryChanged(prev, cur *store.TelemetryRow, threshold float64) bool {
	if prev == nil {
		return true
	}
	return floatChanged(prev.VoltageL1, cur.VoltageL1, threshold) ||
		floatChanged(prev.VoltageL2, cur.VoltageL2, threshold) ||
		floatChanged(prev.VoltageL3, cur.VoltageL3, threshold) ||
		floatChanged(prev.CurrentL1, cur.CurrentL1, threshold) ||
		floatChanged(prev.CurrentL2, cur.CurrentL2, threshold) ||
		floatChanged(prev.CurrentL3, cur.CurrentL3, threshold) ||
		floatChanged(prev.PowerKW, cur.PowerKW, threshold) ||
		floatChanged(prev.EnergyKWH, cur.EnergyKWH, EnergyThreshold) ||
		floatChanged(prev.PowerFct, cur.PowerFct, threshold) ||
		floatChanged(prev.Frequency, cur.Frequency, threshold) ||
		strChanged(prev.OpMode, cur.OpMode) ||
		strChanged(prev.ProgStatus, cur.ProgStatus) ||
		intChanged(prev.PartCount, cur.PartCount) ||
		strChanged(prev.JobStatus, cur.JobStatus)
}

// shiftwiseChanged compares per-shift energy values with the energy
// threshold.
func shiftwiseChanged(prev, cur *store.ShiftwiseEnergy) bool {
	if prev == nil {
		return true
	}
	return math.Abs(prev.Shift1-cur.Shift1) > EnergyThreshold ||
		math.Abs(prev.Shift2-cur.Shift2) > EnergyThreshold ||
		math.Abs(prev.Shift3-cur.Shift3) > EnergyThreshold ||
		math.Abs(prev.Total-cur.Total) > EnergyThreshold
}

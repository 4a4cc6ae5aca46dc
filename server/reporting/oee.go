package reporting

// OEE is the per-shift, per-machine effectiveness breakdown with the loss
// complements.
type OEE struct {
	Availability     float64 `json:"availability"`
	Performance      float64 `json:"performance"`
	Quality          float64 `json:"quality"`
	OEE              float64 `json:"oee"`
	AvailabilityLoss float64 `json:"availability_loss"`
	PerformanceLoss  float64 `json:"performance_loss"`
	QualityLoss      float64 `json:"quality_loss"`

	PlannedMinutes float64 `json:"planned_minutes"`
	RunMinutes     float64 `json:"run_minutes"`
	TotalParts     int     `json:"total_parts"`
	GoodParts      int     `json:"good_parts"`
}

// clamp01 keeps ratios sane when inputs are inconsistent (e.g. measured
// run time slightly above planned time).
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ComputeOEE applies the standard decomposition:
// Availability = run/planned, Performance = ideal*parts/run,
// Quality = good/total, OEE = A*P*Q. Zero denominators yield zero factors.
func ComputeOEE(plannedMinutes, runMinutes, idealCycleMinutes float64, totalParts, goodParts int) OEE {
	o := OEE{
		PlannedMinutes: plannedMinutes,
		RunMinutes:     runMinutes,
		TotalParts:     totalParts,
		GoodParts:      goodParts,
	}
	if plannedMinutes > 0 {
		o.Availability = clamp01(runMinutes / plannedMinutes)
	}
	if runMinutes > 0 {
		o.Performance = clamp01(idealCycleMinutes * float64(totalParts) / runMinutes)
	}
	if totalParts > 0 {
		o.Quality = clamp01(float64(goodParts) / float64(totalParts))
	}
	o.OEE = o.Availability * o.Performance * o.Quality
	o.AvailabilityLoss = 1 - o.Availability
	o.PerformanceLoss = 1 - o.Performance
	o.QualityLoss = 1 - o.Quality
	return o
}

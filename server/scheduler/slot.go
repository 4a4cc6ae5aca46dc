package scheduler

import (
	"sort"
	"time"
)

// Interval is one committed block of machine time.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration of the interval.
func (iv Interval) Duration() time.Duration { return iv.End.Sub(iv.Start) }

// Overlaps reports whether two intervals share any time.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// sortIntervals orders committed load by start time.
func sortIntervals(ivs []Interval) {
	sort.Slice(ivs, func(i, j int) bool { return ivs[i].Start.Before(ivs[j].Start) })
}

// findSlot returns the earliest start on the machine at which a block of
// the given duration fits against the committed load, no earlier than
// earliest. The committed list is examined gap by gap; when two gaps are
// equivalent the earlier one wins. If nothing fits inside the load the
// block is placed after the latest committed end.
func findSlot(committed []Interval, duration time.Duration, earliest time.Time) time.Time {
	if len(committed) == 0 {
		return earliest
	}
	sortIntervals(committed)

	// Gap before the first committed interval.
	if earliest.Add(duration).Before(committed[0].Start) || earliest.Add(duration).Equal(committed[0].Start) {
		return earliest
	}

	// Gaps between consecutive intervals.
	for i := 0; i < len(committed)-1; i++ {
		gapStart := committed[i].End
		if gapStart.Before(earliest) {
			gapStart = earliest
		}
		gapEnd := committed[i+1].Start
		if !gapStart.Before(gapEnd) {
			continue
		}
		if gapEnd.Sub(gapStart) >= duration {
			return gapStart
		}
	}

	// Fall through: after the latest committed end or earliest, whichever
	// is later.
	last := committed[len(committed)-1].End
	if last.Before(earliest) {
		return earliest
	}
	return last
}

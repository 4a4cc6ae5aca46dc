package scheduler

import (
	"fmt"
	"time"
)

// Window is the daily working window. Work may only be scheduled between
// Start and End on any calendar day. Default 09:00-17:00.
type Window struct {
	StartHour, StartMin int
	EndHour, EndMin     int
}

// DefaultWindow returns the standard 09:00-17:00 single-shift window.
func DefaultWindow() Window {
	return Window{StartHour: 9, EndHour: 17}
}

// ParseWindow reads "HH:MM" bounds, e.g. ("08:30", "16:30").
func ParseWindow(start, end string) (Window, error) {
	var w Window
	if _, err := fmt.Sscanf(start, "%d:%d", &w.StartHour, &w.StartMin); err != nil {
		return w, fmt.Errorf("invalid shift start %q: %w", start, err)
	}
	if _, err := fmt.Sscanf(end, "%d:%d", &w.EndHour, &w.EndMin); err != nil {
		return w, fmt.Errorf("invalid shift end %q: %w", end, err)
	}
	if !w.Valid() {
		return w, fmt.Errorf("shift window %s-%s is empty or inverted", start, end)
	}
	return w, nil
}

// Valid reports whether the window has positive length within one day.
func (w Window) Valid() bool {
	return w.startMinutes() < w.endMinutes() &&
		w.StartHour >= 0 && w.EndHour <= 24 &&
		w.StartMin >= 0 && w.StartMin < 60 && w.EndMin >= 0 && w.EndMin < 60
}

func (w Window) startMinutes() int { return w.StartHour*60 + w.StartMin }
func (w Window) endMinutes() int   { return w.EndHour*60 + w.EndMin }

// DayStart returns the window opening on t's calendar day.
func (w Window) DayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), w.StartHour, w.StartMin, 0, 0, t.Location())
}

// DayEnd returns the window close on t's calendar day.
func (w Window) DayEnd(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), w.EndHour, w.EndMin, 0, 0, t.Location())
}

// Adjust rolls an instant into the working window: before opening rolls to
// today's opening, at or past close rolls to the next day's opening.
func (w Window) Adjust(t time.Time) time.Time {
	if t.Before(w.DayStart(t)) {
		return w.DayStart(t)
	}
	if !t.Before(w.DayEnd(t)) {
		return w.DayStart(t.AddDate(0, 0, 1))
	}
	return t
}

// MinutesPerDay is the working length of one day in minutes.
func (w Window) MinutesPerDay() float64 {
	return float64(w.endMinutes() - w.startMinutes())
}

// Contains reports whether [start,end] lies entirely within the window on
// start's calendar day.
func (w Window) Contains(start, end time.Time) bool {
	return !start.Before(w.DayStart(start)) && !end.After(w.DayEnd(start))
}

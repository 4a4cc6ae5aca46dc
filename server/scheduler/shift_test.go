package scheduler

import (
	"testing"
	"time"
)

func TestParseWindow(t *testing.T) {
	tests := []struct {
		start, end string
		wantErr    bool
	}{
		{"09:00", "17:00", false},
		{"08:30", "16:30", false},
		{"17:00", "09:00", true}, // inverted
		{"09:00", "09:00", true}, // empty
		{"nope", "17:00", true},
	}
	for _, tt := range tests {
		_, err := ParseWindow(tt.start, tt.end)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseWindow(%q, %q) err = %v, wantErr %v", tt.start, tt.end, err, tt.wantErr)
		}
	}
}

func TestWindowAdjust(t *testing.T) {
	w := DefaultWindow()
	tests := []struct {
		in, want string
	}{
		{"2024-12-20 07:15", "2024-12-20 09:00"}, // before opening
		{"2024-12-20 09:00", "2024-12-20 09:00"}, // at opening
		{"2024-12-20 12:30", "2024-12-20 12:30"}, // inside
		{"2024-12-20 17:00", "2024-12-21 09:00"}, // at close rolls over
		{"2024-12-20 21:45", "2024-12-21 09:00"}, // after close
	}
	for _, tt := range tests {
		got := w.Adjust(at(t, tt.in))
		if !got.Equal(at(t, tt.want)) {
			t.Errorf("Adjust(%s) = %v, want %s", tt.in, got, tt.want)
		}
	}
}

func TestWindowContains(t *testing.T) {
	w := DefaultWindow()
	if !w.Contains(at(t, "2024-12-20 09:00"), at(t, "2024-12-20 17:00")) {
		t.Error("full shift should be contained")
	}
	if w.Contains(at(t, "2024-12-20 08:59"), at(t, "2024-12-20 10:00")) {
		t.Error("start before opening should not be contained")
	}
	if w.Contains(at(t, "2024-12-20 16:00"), at(t, "2024-12-20 17:01")) {
		t.Error("end past close should not be contained")
	}
}

func TestWindowMinutesPerDay(t *testing.T) {
	if got := DefaultWindow().MinutesPerDay(); got != 480 {
		t.Fatalf("MinutesPerDay = %v, want 480", got)
	}
	w, err := ParseWindow("06:30", "14:00")
	if err != nil {
		t.Fatal(err)
	}
	if got := w.MinutesPerDay(); got != 450 {
		t.Fatalf("MinutesPerDay = %v, want 450", got)
	}
}

func TestSlotInWindowSkipsOvernightGap(t *testing.T) {
	w := DefaultWindow()
	// Day 1 fully booked plus the opening hours of day 2. The raw overnight
	// gap fits two hours of wall clock but no working time; the block must
	// land after the day-2 commitment.
	committed := []Interval{
		{Start: at(t, "2024-12-20 09:00"), End: at(t, "2024-12-20 17:00")},
		{Start: at(t, "2024-12-21 09:00"), End: at(t, "2024-12-21 12:00")},
	}
	start := slotInWindow(committed, 2*time.Hour, at(t, "2024-12-20 09:00"), w)
	if !start.Equal(at(t, "2024-12-21 12:00")) {
		t.Fatalf("slotInWindow = %v, want 2024-12-21 12:00", start)
	}
}

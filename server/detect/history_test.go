package detect

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/itskum47/shopfloor/server/broadcast"
	"github.com/itskum47/shopfloor/server/store"
)

func TestParamValue(t *testing.T) {
	count := int64(42)
	row := &store.TelemetryRow{
		MachineID: 1,
		PowerKW:   fptr(7.5),
		PartCount: &count,
	}

	v, ok := ParamValue(row, "power_kw")
	if !ok || v == nil || *v != 7.5 {
		t.Fatalf("power_kw = %v, %v", v, ok)
	}
	// Integer parameters surface as floats.
	v, ok = ParamValue(row, "part_count")
	if !ok || v == nil || *v != 42 {
		t.Fatalf("part_count = %v, %v", v, ok)
	}
	// Present but unset parameter: nil value, still a known name.
	v, ok = ParamValue(row, "frequency")
	if !ok || v != nil {
		t.Fatalf("frequency = %v, %v", v, ok)
	}
	if _, ok := ParamValue(row, "spindle_rpm"); ok {
		t.Fatal("unknown parameter accepted")
	}
}

func TestHistoryTopicName(t *testing.T) {
	if got := HistoryTopic(12, "power_kw"); got != "machine:12:param:power_kw:history" {
		t.Fatalf("topic = %q", got)
	}
}

func TestHistoryWindowRolling(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2024, 12, 2, 12, 0, 0, 0, time.UTC)

	// One sample outside the 30-minute window, three inside.
	offsets := []time.Duration{-45 * time.Minute, -20 * time.Minute, -10 * time.Minute, 0}
	for i, off := range offsets {
		row := &store.TelemetryRow{MachineID: 1, Timestamp: base.Add(off), PowerKW: fptr(float64(i))}
		if err := s.AppendTelemetryHistory(ctx, row); err != nil {
			t.Fatal(err)
		}
	}

	h := NewHistoryStreamer(s, broadcast.NewHub(zap.NewNop()), zap.NewNop())
	points, latest, err := h.window(ctx, 1, "power_kw", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if !latest.Equal(base) {
		t.Fatalf("latest = %v, want %v", latest, base)
	}
	if len(points) != 3 {
		t.Fatalf("points = %d, want 3 inside the window", len(points))
	}
	if *points[0].Value != 1 {
		t.Errorf("oldest point value = %v, want 1", *points[0].Value)
	}

	// Nothing newer than the last emission: nil window, no publish.
	points, _, err = h.window(ctx, 1, "power_kw", base)
	if err != nil {
		t.Fatal(err)
	}
	if points != nil {
		t.Fatalf("points = %v, want nil when history is stale", points)
	}
}

func TestHistoryWindowEmptyMachine(t *testing.T) {
	s := store.NewMemoryStore()
	h := NewHistoryStreamer(s, broadcast.NewHub(zap.NewNop()), zap.NewNop())

	points, _, err := h.window(context.Background(), 99, "power_kw", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if points == nil || len(points) != 0 {
		t.Fatalf("points = %v, want empty snapshot for unseen machine", points)
	}
}

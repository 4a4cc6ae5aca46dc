package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/itskum47/shopfloor/server/store"
)

func testCache(t *testing.T) *store.LiveCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return store.NewLiveCacheFromClient(client)
}

func fptr(v float64) *float64 { return &v }

func TestIngestTelemetryWritesAllTiers(t *testing.T) {
	s := store.NewMemoryStore()
	cache := testCache(t)
	ing := NewIngestor(s, cache, zap.NewNop())
	ctx := context.Background()

	ts := time.Date(2024, 12, 2, 10, 0, 0, 0, time.UTC)
	rows := []*store.TelemetryRow{
		{MachineID: 1, Timestamp: ts, PowerKW: fptr(12.5)},
		{MachineID: 2, Timestamp: ts, PowerKW: fptr(3.1)},
	}
	if err := ing.IngestTelemetry(ctx, rows); err != nil {
		t.Fatal(err)
	}

	live, err := s.ListTelemetryLive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(live) != 2 {
		t.Fatalf("live rows = %d, want 2", len(live))
	}

	hist, err := s.TelemetryHistoryRange(ctx, 1, ts.Add(-time.Minute), ts.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 || *hist[0].PowerKW != 12.5 {
		t.Fatalf("history = %+v", hist)
	}

	cached, err := cache.AllTelemetry(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(cached) != 2 || *cached[1].PowerKW != 12.5 {
		t.Fatalf("cache = %+v", cached)
	}
}

func TestIngestTelemetryOverwritesLive(t *testing.T) {
	s := store.NewMemoryStore()
	cache := testCache(t)
	ing := NewIngestor(s, cache, zap.NewNop())
	ctx := context.Background()

	ts := time.Date(2024, 12, 2, 10, 0, 0, 0, time.UTC)
	if err := ing.IngestTelemetry(ctx, []*store.TelemetryRow{{MachineID: 1, Timestamp: ts, PowerKW: fptr(10)}}); err != nil {
		t.Fatal(err)
	}
	if err := ing.IngestTelemetry(ctx, []*store.TelemetryRow{{MachineID: 1, Timestamp: ts.Add(time.Second), PowerKW: fptr(11)}}); err != nil {
		t.Fatal(err)
	}

	// Live holds only the latest row; history holds both.
	live, _ := s.ListTelemetryLive(ctx)
	if len(live) != 1 || *live[0].PowerKW != 11 {
		t.Fatalf("live = %+v", live)
	}
	hist, _ := s.TelemetryHistoryRange(ctx, 1, ts.Add(-time.Minute), ts.Add(time.Minute))
	if len(hist) != 2 {
		t.Fatalf("history rows = %d, want 2", len(hist))
	}
	cached, _ := cache.AllTelemetry(ctx)
	if *cached[1].PowerKW != 11 {
		t.Fatalf("cache row = %+v", cached[1])
	}
}

func TestIngestTelemetryFillsTimestamp(t *testing.T) {
	s := store.NewMemoryStore()
	ing := NewIngestor(s, nil, zap.NewNop())

	row := &store.TelemetryRow{MachineID: 1, PowerKW: fptr(1)}
	if err := ing.IngestTelemetry(context.Background(), []*store.TelemetryRow{row}); err != nil {
		t.Fatal(err)
	}
	if row.Timestamp.IsZero() {
		t.Fatal("zero timestamp not defaulted")
	}
}

func TestIngestShiftwise(t *testing.T) {
	s := store.NewMemoryStore()
	cache := testCache(t)
	ing := NewIngestor(s, cache, zap.NewNop())
	ctx := context.Background()

	e := &store.ShiftwiseEnergy{MachineID: 4, Timestamp: time.Now(), Shift1: 12, Shift2: 8, Total: 20}
	if err := ing.IngestShiftwise(ctx, []*store.ShiftwiseEnergy{e}); err != nil {
		t.Fatal(err)
	}

	live, err := s.ListShiftwiseLive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(live) != 1 || live[0].Total != 20 {
		t.Fatalf("live shiftwise = %+v", live)
	}
	cached, err := cache.AllShiftwise(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if cached[4] == nil || cached[4].Shift1 != 12 {
		t.Fatalf("cached shiftwise = %+v", cached)
	}
}

func TestMarkOfflineRemovesFromCache(t *testing.T) {
	s := store.NewMemoryStore()
	cache := testCache(t)
	ing := NewIngestor(s, cache, zap.NewNop())
	ctx := context.Background()

	if err := ing.IngestTelemetry(ctx, []*store.TelemetryRow{{MachineID: 9, Timestamp: time.Now()}}); err != nil {
		t.Fatal(err)
	}
	if err := ing.MarkOffline(ctx, 9); err != nil {
		t.Fatal(err)
	}
	cached, err := cache.AllTelemetry(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := cached[9]; ok {
		t.Fatal("machine 9 still in the live cache")
	}
}

func TestMarkOfflineWithoutCache(t *testing.T) {
	ing := NewIngestor(store.NewMemoryStore(), nil, zap.NewNop())
	if err := ing.MarkOffline(context.Background(), 1); err != nil {
		t.Fatalf("nil cache MarkOffline: %v", err)
	}
}

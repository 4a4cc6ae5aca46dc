// Package telemetry is the write path from the external collector into the
// live tables, the append-only history and the Redis live cache.
package telemetry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/itskum47/shopfloor/server/apperr"
	"github.com/itskum47/shopfloor/server/observability"
	"github.com/itskum47/shopfloor/server/store"
)

const (
	retryAttempts = 3
	retryBase     = 200 * time.Millisecond
)

// Ingestor persists collector rows. History appends are retried with
// bounded backoff; a row that still fails is dropped and counted, never
// blocking the collector.
type Ingestor struct {
	store  store.Store
	cache  *store.LiveCache // nil when running without Redis
	logger *zap.Logger
}

// NewIngestor builds the ingest path. cache may be nil.
func NewIngestor(s store.Store, cache *store.LiveCache, logger *zap.Logger) *Ingestor {
	return &Ingestor{store: s, cache: cache, logger: logger}
}

// withRetry runs op with bounded backoff.
func (i *Ingestor) withRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBase << attempt):
		}
	}
	return err
}

// IngestTelemetry upserts the live row and appends history for each
// machine in the batch.
func (i *Ingestor) IngestTelemetry(ctx context.Context, rows []*store.TelemetryRow) error {
	for _, row := range rows {
		if row.Timestamp.IsZero() {
			row.Timestamp = time.Now()
		}
		if err := i.withRetry(ctx, func() error { return i.store.UpsertTelemetryLive(ctx, row) }); err != nil {
			observability.IngestFailures.WithLabelValues("telemetry").Inc()
			return apperr.Wrap(apperr.KindExternal, err, "live upsert failed for machine %d", row.MachineID)
		}
		if err := i.withRetry(ctx, func() error { return i.store.AppendTelemetryHistory(ctx, row) }); err != nil {
			observability.IngestFailures.WithLabelValues("telemetry").Inc()
			i.logger.Error("history append failed, row dropped from history",
				zap.Int64("machine_id", row.MachineID), zap.Error(err))
			continue
		}
		if i.cache != nil {
			if err := i.cache.SetTelemetry(ctx, row); err != nil {
				i.logger.Warn("live cache update failed",
					zap.Int64("machine_id", row.MachineID), zap.Error(err))
			}
		}
		observability.IngestRows.WithLabelValues("telemetry").Inc()
	}
	return nil
}

// IngestShiftwise upserts the live shiftwise rows and appends history.
func (i *Ingestor) IngestShiftwise(ctx context.Context, rows []*store.ShiftwiseEnergy) error {
	for _, e := range rows {
		if e.Timestamp.IsZero() {
			e.Timestamp = time.Now()
		}
		if err := i.withRetry(ctx, func() error { return i.store.UpsertShiftwiseLive(ctx, e) }); err != nil {
			observability.IngestFailures.WithLabelValues("shiftwise").Inc()
			return apperr.Wrap(apperr.KindExternal, err, "shiftwise upsert failed for machine %d", e.MachineID)
		}
		if err := i.withRetry(ctx, func() error { return i.store.AppendShiftwiseHistory(ctx, e) }); err != nil {
			observability.IngestFailures.WithLabelValues("shiftwise").Inc()
			i.logger.Error("shiftwise history append failed",
				zap.Int64("machine_id", e.MachineID), zap.Error(err))
			continue
		}
		if i.cache != nil {
			if err := i.cache.SetShiftwise(ctx, e); err != nil {
				i.logger.Warn("shiftwise cache update failed",
					zap.Int64("machine_id", e.MachineID), zap.Error(err))
			}
		}
		observability.IngestRows.WithLabelValues("shiftwise").Inc()
	}
	return nil
}

// MarkOffline removes a machine from the live cache so the detectors emit
// a synthetic OFFLINE event.
func (i *Ingestor) MarkOffline(ctx context.Context, machineID int64) error {
	if i.cache == nil {
		return nil
	}
	return i.cache.RemoveTelemetry(ctx, machineID)
}

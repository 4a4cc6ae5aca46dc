package telemetry

import (
	"context"

	"github.com/itskum47/shopfloor/server/store"
)

// StoreSource adapts the relational store to the detector source
// interfaces for deployments running without Redis.
type StoreSource struct {
	store store.Store
}

// NewStoreSource wraps a Store.
func NewStoreSource(s store.Store) *StoreSource {
	return &StoreSource{store: s}
}

func (s *StoreSource) AllTelemetry(ctx context.Context) (map[int64]*store.TelemetryRow, error) {
	rows, err := s.store.ListTelemetryLive(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]*store.TelemetryRow, len(rows))
	for _, row := range rows {
		out[row.MachineID] = row
	}
	return out, nil
}

func (s *StoreSource) AllShiftwise(ctx context.Context) (map[int64]*store.ShiftwiseEnergy, error) {
	rows, err := s.store.ListShiftwiseLive(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]*store.ShiftwiseEnergy, len(rows))
	for _, e := range rows {
		out[e.MachineID] = e
	}
	return out, nil
}

// AllStatuses merges the status catalog into machine_id -> code.
func (s *StoreSource) AllStatuses(ctx context.Context) (map[int64]string, error) {
	statuses, err := s.store.ListMachineStatuses(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]string, len(statuses))
	for _, st := range statuses {
		out[st.MachineID] = st.StatusCode
	}
	return out, nil
}

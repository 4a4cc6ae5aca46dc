package main

import (
	"context"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/itskum47/shopfloor/server/store"
)

// upcomingLimit caps the scheduled-work queue shown on the dashboard.
const upcomingLimit = 10

// DashboardMetrics is the aggregate shop snapshot pushed to dashboards.
type DashboardMetrics struct {
	Timestamp        time.Time               `json:"timestamp"`
	TotalMachines    int                     `json:"total_machines"`
	MachinesByStatus map[string]int          `json:"machines_by_status"`
	OpenDowntimes    int                     `json:"open_downtimes"`
	ActiveVersions   int                     `json:"active_versions"`
	Upcoming         []*store.ScheduleVersion `json:"upcoming"`
}

// DashboardService assembles the snapshot from the store.
type DashboardService struct {
	store  store.Store
	logger *zap.Logger
}

// NewDashboardService wires the aggregation.
func NewDashboardService(s store.Store, logger *zap.Logger) *DashboardService {
	return &DashboardService{store: s, logger: logger}
}

// GetDashboardMetrics builds one snapshot. Machines without a status row
// count as OFF.
func (s *DashboardService) GetDashboardMetrics(ctx context.Context) (*DashboardMetrics, error) {
	machines, err := s.store.ListMachines(ctx)
	if err != nil {
		return nil, err
	}
	statuses, err := s.store.ListMachineStatuses(ctx)
	if err != nil {
		return nil, err
	}
	byMachine := make(map[int64]string, len(statuses))
	for _, st := range statuses {
		byMachine[st.MachineID] = st.StatusCode
	}

	metrics := &DashboardMetrics{
		Timestamp:        time.Now(),
		TotalMachines:    len(machines),
		MachinesByStatus: make(map[string]int),
	}
	for _, m := range machines {
		code, ok := byMachine[m.ID]
		if !ok {
			code = store.MachineStatusOff
		}
		metrics.MachinesByStatus[code]++
	}

	open, err := s.store.ListDowntimes(ctx, true)
	if err != nil {
		return nil, err
	}
	metrics.OpenDowntimes = len(open)

	active, err := s.store.ListActiveScheduleVersions(ctx)
	if err != nil {
		return nil, err
	}
	metrics.ActiveVersions = len(active)

	now := time.Now()
	var upcoming []*store.ScheduleVersion
	for _, sv := range active {
		if sv.PlannedEnd.After(now) {
			upcoming = append(upcoming, sv)
		}
	}
	sort.Slice(upcoming, func(i, j int) bool {
		return upcoming[i].PlannedStart.Before(upcoming[j].PlannedStart)
	})
	if len(upcoming) > upcomingLimit {
		upcoming = upcoming[:upcomingLimit]
	}
	metrics.Upcoming = upcoming
	return metrics, nil
}

// handleGetDashboard serves one snapshot over plain HTTP.
func (a *API) handleGetDashboard(w http.ResponseWriter, r *http.Request) {
	metrics, err := a.dashboard.GetDashboardMetrics(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

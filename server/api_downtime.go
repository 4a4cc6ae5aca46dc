package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/itskum47/shopfloor/server/apperr"
	"github.com/itskum47/shopfloor/server/reporting"
	"github.com/itskum47/shopfloor/server/store"
)

type createDowntimeRequest struct {
	MachineID   int64  `json:"machine_id" validate:"required"`
	Description string `json:"description" validate:"required"`
	Priority    int    `json:"priority" validate:"min=0,max=10"`
	ReportedBy  string `json:"reported_by" validate:"required"`
}

func (a *API) handleCreateDowntime(w http.ResponseWriter, r *http.Request) {
	var req createDowntimeRequest
	if err := a.decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	if _, err := a.store.GetMachine(r.Context(), req.MachineID); err != nil {
		a.writeError(w, err)
		return
	}

	d := &store.Downtime{
		ID:          uuid.NewString(),
		MachineID:   req.MachineID,
		OpenAt:      time.Now(),
		Description: req.Description,
		Priority:    req.Priority,
		ReportedBy:  req.ReportedBy,
	}
	if err := a.store.CreateDowntime(r.Context(), d); err != nil {
		a.writeError(w, err)
		return
	}

	a.logger.Info("downtime opened",
		zap.String("downtime_id", d.ID),
		zap.Int64("machine_id", d.MachineID))
	a.reschedule.TriggerAsync(store.TriggerDowntimeOpened, d.ReportedBy)
	writeJSON(w, http.StatusCreated, d)
}

func (a *API) handleListDowntimes(w http.ResponseWriter, r *http.Request) {
	openOnly := r.URL.Query().Get("open") == "true"
	downtimes, err := a.store.ListDowntimes(r.Context(), openOnly)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, downtimes)
}

// handleAcknowledgeDowntime moves an open ticket to in_progress.
func (a *API) handleAcknowledgeDowntime(w http.ResponseWriter, r *http.Request) {
	d, err := a.store.GetDowntime(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	if !d.IsOpen() {
		a.writeError(w, apperr.New(apperr.KindConflict, "downtime %s is already closed", d.ID))
		return
	}
	if d.InProgressAt != nil {
		a.writeError(w, apperr.New(apperr.KindConflict, "downtime %s is already acknowledged", d.ID))
		return
	}
	now := time.Now()
	d.InProgressAt = &now
	if err := a.store.UpdateDowntime(r.Context(), d); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type closeDowntimeRequest struct {
	ActionTaken string `json:"action_taken" validate:"required"`
}

// handleCloseDowntime closes the ticket and triggers a reschedule: the
// machine's capacity is back.
func (a *API) handleCloseDowntime(w http.ResponseWriter, r *http.Request) {
	d, err := a.store.GetDowntime(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	if !d.IsOpen() {
		a.writeError(w, apperr.New(apperr.KindConflict, "downtime %s is already closed", d.ID))
		return
	}

	var req closeDowntimeRequest
	if err := a.decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}

	now := time.Now()
	if d.InProgressAt == nil {
		d.InProgressAt = &now
	}
	d.ClosedAt = &now
	d.ActionTaken = req.ActionTaken
	if err := a.store.UpdateDowntime(r.Context(), d); err != nil {
		a.writeError(w, err)
		return
	}

	a.logger.Info("downtime closed",
		zap.String("downtime_id", d.ID),
		zap.Int64("machine_id", d.MachineID),
		zap.Duration("repair_time", now.Sub(d.OpenAt)))
	a.reschedule.TriggerAsync(store.TriggerDowntimeClosed, "maintenance")
	writeJSON(w, http.StatusOK, d)
}

func (a *API) handleShopPerformance(w http.ResponseWriter, r *http.Request) {
	downtimes, err := a.store.ListDowntimes(r.Context(), false)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reporting.ShopMetrics(downtimes, time.Now()))
}

func (a *API) handleMachinePerformance(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		a.writeError(w, apperr.New(apperr.KindBadRequest, "invalid machine id %q", chi.URLParam(r, "id")))
		return
	}
	if _, err := a.store.GetMachine(r.Context(), id); err != nil {
		a.writeError(w, err)
		return
	}
	downtimes, err := a.store.ListDowntimesByMachine(r.Context(), id)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reporting.MachineMetrics(id, downtimes, time.Now()))
}

// handleMachineOEE reports one machine's OEE for one shift day
// (?date=YYYY-MM-DD, default today).
func (a *API) handleMachineOEE(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		a.writeError(w, apperr.New(apperr.KindBadRequest, "invalid machine id %q", chi.URLParam(r, "id")))
		return
	}
	day := time.Now()
	if dateStr := r.URL.Query().Get("date"); dateStr != "" {
		day, err = time.ParseInLocation("2006-01-02", dateStr, time.Local)
		if err != nil {
			a.writeError(w, apperr.Wrap(apperr.KindBadRequest, err, "invalid date %q", dateStr))
			return
		}
	}
	oee, err := a.reporter.ShiftOEE(r.Context(), id, day)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, oee)
}

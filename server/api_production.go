package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/itskum47/shopfloor/server/apperr"
	"github.com/itskum47/shopfloor/server/reporting"
	"github.com/itskum47/shopfloor/server/store"
)

func epochParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, apperr.New(apperr.KindBadRequest, "%s is required", name)
	}
	sec, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, apperr.Wrap(apperr.KindBadRequest, err, "invalid %s %q", name, raw)
	}
	return time.Unix(sec, 0), nil
}

// handleProduction serves the daily/weekly/monthly roll-ups.
func (a *API) handleProduction(w http.ResponseWriter, r *http.Request) {
	var g reporting.Granularity
	switch chi.URLParam(r, "granularity") {
	case "daily":
		g = reporting.Daily
	case "weekly":
		g = reporting.Weekly
	case "monthly":
		g = reporting.Monthly
	default:
		a.writeError(w, apperr.New(apperr.KindBadRequest, "unknown granularity %q", chi.URLParam(r, "granularity")))
		return
	}

	from, err := epochParam(r, "start_epoch")
	if err != nil {
		a.writeError(w, err)
		return
	}
	to, err := epochParam(r, "end_epoch")
	if err != nil {
		a.writeError(w, err)
		return
	}
	if !to.After(from) {
		a.writeError(w, apperr.New(apperr.KindBadRequest, "end_epoch must be after start_epoch"))
		return
	}

	buckets, err := a.reporter.Production(r.Context(), g, from, to, r.URL.Query().Get("part_number"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, buckets)
}

type productionLogRequest struct {
	PSIID       int64    `json:"psi_id" validate:"required"`
	SVID        int64    `json:"sv_id" validate:"required"`
	Operator    string   `json:"operator" validate:"required"`
	StartedAt   int64    `json:"started_at_epoch" validate:"required"`
	StoppedAt   *int64   `json:"stopped_at_epoch"`
	GoodQty     int      `json:"good_qty" validate:"min=0"`
	BadQty      int      `json:"bad_qty" validate:"min=0"`
	ReasonCodes []string `json:"reason_codes"`
}

// handleCreateProductionLog records an operator run and feeds the good
// quantity back into the schedule version.
func (a *API) handleCreateProductionLog(w http.ResponseWriter, r *http.Request) {
	var req productionLogRequest
	if err := a.decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	if req.GoodQty+req.BadQty == 0 {
		a.writeError(w, apperr.New(apperr.KindBadRequest, "run reported no parts"))
		return
	}
	if _, err := a.store.GetPSI(r.Context(), req.PSIID); err != nil {
		a.writeError(w, err)
		return
	}

	pl := &store.ProductionLog{
		PSIID:       req.PSIID,
		SVID:        req.SVID,
		Operator:    req.Operator,
		StartedAt:   time.Unix(req.StartedAt, 0),
		GoodQty:     req.GoodQty,
		BadQty:      req.BadQty,
		ReasonCodes: req.ReasonCodes,
	}
	if req.StoppedAt != nil {
		stopped := time.Unix(*req.StoppedAt, 0)
		pl.StoppedAt = &stopped
	}
	if err := a.store.AppendProductionLog(r.Context(), pl); err != nil {
		a.writeError(w, err)
		return
	}
	if err := a.store.AddCompletedQuantity(r.Context(), req.SVID, req.GoodQty); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pl)
}

// handleScheduleVersions returns the full version history of one PSI.
func (a *API) handleScheduleVersions(w http.ResponseWriter, r *http.Request) {
	psiID, err := strconv.ParseInt(chi.URLParam(r, "psi"), 10, 64)
	if err != nil {
		a.writeError(w, apperr.New(apperr.KindBadRequest, "invalid psi id %q", chi.URLParam(r, "psi")))
		return
	}
	if _, err := a.store.GetPSI(r.Context(), psiID); err != nil {
		a.writeError(w, err)
		return
	}
	svs, err := a.store.ListScheduleVersionsByPSI(r.Context(), psiID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, svs)
}

type rescheduleRequest struct {
	Reason string `json:"reason"`
}

// handleTriggerReschedule runs a scheduling pass synchronously on admin
// request and returns the run summary.
func (a *API) handleTriggerReschedule(w http.ResponseWriter, r *http.Request) {
	var req rescheduleRequest
	if r.ContentLength > 0 {
		if err := a.decode(r, &req); err != nil {
			a.writeError(w, err)
			return
		}
	}
	triggeredBy := req.Reason
	if triggeredBy == "" {
		triggeredBy = "admin"
	}

	summary, err := a.reschedule.Run(r.Context(), store.TriggerAdmin, triggeredBy)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleListReschedules(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			a.writeError(w, apperr.New(apperr.KindBadRequest, "invalid limit %q", raw))
			return
		}
		limit = parsed
	}
	records, err := a.store.ListRescheduleRecords(r.Context(), limit)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

package main

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/itskum47/shopfloor/server/apperr"
	"github.com/itskum47/shopfloor/server/observability"
	"github.com/itskum47/shopfloor/server/store"
)

func (a *API) handlePriorityDetails(w http.ResponseWriter, r *http.Request) {
	details, err := a.priorities.GetPriorities(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (a *API) handlePartPriorityDetails(w http.ResponseWriter, r *http.Request) {
	details, err := a.priorities.GetPartPriorities(r.Context(), chi.URLParam(r, "part"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

type updatePriorityRequest struct {
	PartNumber  string `json:"part_number" validate:"required"`
	NewPriority int    `json:"new_priority" validate:"required,min=1"`
}

func (a *API) handleUpdatePriority(w http.ResponseWriter, r *http.Request) {
	var req updatePriorityRequest
	if err := a.decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	if err := a.priorities.SetPartPriority(r.Context(), req.PartNumber, req.NewPriority); err != nil {
		observability.PriorityMoves.WithLabelValues("rejected").Inc()
		a.writeError(w, err)
		return
	}
	observability.PriorityMoves.WithLabelValues("applied").Inc()
	a.reschedule.TriggerAsync(store.TriggerPriorityChange, "priority")
	writeJSON(w, http.StatusOK, map[string]any{
		"part_number": req.PartNumber,
		"priority":    req.NewPriority,
	})
}

type orderPriorityRequest struct {
	Priority int `json:"priority" validate:"required,min=1"`
}

func (a *API) handleUpdateOrderPriority(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		a.writeError(w, apperr.New(apperr.KindBadRequest, "invalid order id %q", chi.URLParam(r, "id")))
		return
	}
	var req orderPriorityRequest
	if err := a.decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	if err := a.priorities.SetOrderPriority(r.Context(), id, req.Priority); err != nil {
		observability.PriorityMoves.WithLabelValues("rejected").Inc()
		a.writeError(w, err)
		return
	}
	observability.PriorityMoves.WithLabelValues("applied").Inc()
	a.reschedule.TriggerAsync(store.TriggerPriorityChange, "priority")
	writeJSON(w, http.StatusOK, map[string]any{
		"order_id": id,
		"priority": req.Priority,
	})
}

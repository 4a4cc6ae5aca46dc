package main

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/itskum47/shopfloor/server/apperr"
	"github.com/itskum47/shopfloor/server/detect"
	"github.com/itskum47/shopfloor/server/store"
)

// maxHistoryRange bounds the parameter history range query.
const maxHistoryRange = 7 * 24 * time.Hour

type ingestRequest struct {
	Telemetry []*store.TelemetryRow    `json:"telemetry"`
	Shiftwise []*store.ShiftwiseEnergy `json:"shiftwise"`
	Offline   []int64                  `json:"offline"` // machines gone dark
}

// handleIngest accepts a collector batch. Each row must name a known
// machine; the batch is rejected whole on an unknown one.
func (a *API) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, apperr.Wrap(apperr.KindBadRequest, err, "invalid request body"))
		return
	}
	if len(req.Telemetry)+len(req.Shiftwise)+len(req.Offline) == 0 {
		a.writeError(w, apperr.New(apperr.KindBadRequest, "empty batch"))
		return
	}
	for _, row := range req.Telemetry {
		if _, err := a.store.GetMachine(r.Context(), row.MachineID); err != nil {
			a.writeError(w, err)
			return
		}
	}
	for _, e := range req.Shiftwise {
		if _, err := a.store.GetMachine(r.Context(), e.MachineID); err != nil {
			a.writeError(w, err)
			return
		}
	}

	if len(req.Telemetry) > 0 {
		if err := a.ingestor.IngestTelemetry(r.Context(), req.Telemetry); err != nil {
			a.writeError(w, err)
			return
		}
	}
	if len(req.Shiftwise) > 0 {
		if err := a.ingestor.IngestShiftwise(r.Context(), req.Shiftwise); err != nil {
			a.writeError(w, err)
			return
		}
	}
	for _, id := range req.Offline {
		if err := a.ingestor.MarkOffline(r.Context(), id); err != nil {
			a.writeError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusAccepted, map[string]int{
		"telemetry": len(req.Telemetry),
		"shiftwise": len(req.Shiftwise),
		"offline":   len(req.Offline),
	})
}

type historySummary struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
}

type historyResponse struct {
	MachineID  int64                 `json:"machine_id"`
	Parameter  string                `json:"parameter"`
	StartTime  time.Time             `json:"start_time"`
	EndTime    time.Time             `json:"end_time"`
	DataPoints []detect.HistoryPoint `json:"data_points"`
	Summary    historySummary        `json:"summary"`
}

// handleParamHistory answers the bounded range query over one machine
// parameter. Ranges over seven days are rejected.
func (a *API) handleParamHistory(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		a.writeError(w, apperr.New(apperr.KindBadRequest, "invalid machine id %q", chi.URLParam(r, "id")))
		return
	}
	if _, err := a.store.GetMachine(r.Context(), id); err != nil {
		a.writeError(w, err)
		return
	}
	param := chi.URLParam(r, "name")
	if _, ok := detect.ParamValue(&emptyTelemetryRow, param); !ok {
		a.writeError(w, apperr.New(apperr.KindNotFound, "unknown parameter %q", param))
		return
	}

	from, err := epochParam(r, "start_time")
	if err != nil {
		a.writeError(w, err)
		return
	}
	to, err := epochParam(r, "end_time")
	if err != nil {
		a.writeError(w, err)
		return
	}
	if !to.After(from) {
		a.writeError(w, apperr.New(apperr.KindBadRequest, "end_time must be after start_time"))
		return
	}
	if to.Sub(from) > maxHistoryRange {
		a.writeError(w, apperr.New(apperr.KindOutOfRange, "range exceeds the 7 day maximum"))
		return
	}

	rows, err := a.store.TelemetryHistoryRange(r.Context(), id, from, to)
	if err != nil {
		a.writeError(w, err)
		return
	}

	resp := historyResponse{
		MachineID:  id,
		Parameter:  param,
		StartTime:  from,
		EndTime:    to,
		DataPoints: make([]detect.HistoryPoint, 0, len(rows)),
		Summary:    historySummary{Min: math.Inf(1), Max: math.Inf(-1)},
	}
	sum := 0.0
	for _, row := range rows {
		v, ok := detect.ParamValue(row, param)
		if !ok {
			continue
		}
		resp.DataPoints = append(resp.DataPoints, detect.HistoryPoint{Timestamp: row.Timestamp, Value: v})
		if v == nil {
			continue
		}
		resp.Summary.Count++
		sum += *v
		if *v < resp.Summary.Min {
			resp.Summary.Min = *v
		}
		if *v > resp.Summary.Max {
			resp.Summary.Max = *v
		}
	}
	if resp.Summary.Count > 0 {
		resp.Summary.Avg = sum / float64(resp.Summary.Count)
	} else {
		resp.Summary.Min, resp.Summary.Max = 0, 0
	}
	writeJSON(w, http.StatusOK, resp)
}

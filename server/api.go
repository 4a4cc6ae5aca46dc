package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/itskum47/shopfloor/server/apperr"
	"github.com/itskum47/shopfloor/server/broadcast"
	"github.com/itskum47/shopfloor/server/detect"
	"github.com/itskum47/shopfloor/server/priority"
	"github.com/itskum47/shopfloor/server/reporting"
	"github.com/itskum47/shopfloor/server/store"
	"github.com/itskum47/shopfloor/server/telemetry"
)

// API holds the HTTP surface and its collaborators.
type API struct {
	store      store.Store
	priorities *priority.Engine
	reschedule *Controller
	reporter   *reporting.Reporter
	ingestor   *telemetry.Ingestor
	hub        *broadcast.Hub
	history    *detect.HistoryStreamer

	dashboard *DashboardService
	wsHub     *MetricsHub

	// liveSource serves per-machine stream snapshots; main wires either the
	// Redis cache or the store-backed source.
	liveSource detect.TelemetrySource

	validate *validator.Validate
	logger   *zap.Logger

	// baseCtx bounds the lazily started history loops; they must outlive
	// the request that starts them.
	baseCtx context.Context
}

// emptyTelemetryRow backs parameter-name validation.
var emptyTelemetryRow store.TelemetryRow

// NewAPI wires the handlers.
func NewAPI(s store.Store, priorities *priority.Engine, reschedule *Controller,
	reporter *reporting.Reporter, ingestor *telemetry.Ingestor,
	hub *broadcast.Hub, history *detect.HistoryStreamer,
	liveSource detect.TelemetrySource, logger *zap.Logger) *API {

	api := &API{
		store:      s,
		priorities: priorities,
		reschedule: reschedule,
		reporter:   reporter,
		ingestor:   ingestor,
		hub:        hub,
		history:    history,
		liveSource: liveSource,
		validate:   validator.New(),
		logger:     logger,
		baseCtx:    context.Background(),
	}
	api.dashboard = NewDashboardService(s, logger)
	api.wsHub = NewMetricsHub(api.dashboard, logger)
	return api
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusForKind is the single kind-to-status mapping.
func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict, apperr.KindFrozen:
		return http.StatusConflict
	case apperr.KindInvariant, apperr.KindOutOfRange, apperr.KindBadRequest:
		return http.StatusBadRequest
	case apperr.KindBudget:
		return http.StatusServiceUnavailable
	case apperr.KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := statusForKind(kind)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  kind.String(),
	})
}

// decode parses and validates a JSON request body.
func (a *API) decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Wrap(apperr.KindBadRequest, err, "invalid request body")
	}
	if err := a.validate.Struct(v); err != nil {
		var verr validator.ValidationErrors
		if errors.As(err, &verr) {
			return apperr.Wrap(apperr.KindBadRequest, err, "validation failed")
		}
		return apperr.Wrap(apperr.KindBadRequest, err, "invalid payload")
	}
	return nil
}

package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/itskum47/shopfloor/server/apperr"
	"github.com/itskum47/shopfloor/server/store"
)

type operationPayload struct {
	OpNumber     int     `json:"op_number" validate:"required,min=1"`
	WorkCenterID int64   `json:"work_center_id" validate:"required"`
	MachineID    int64   `json:"machine_id" validate:"required"`
	SetupHours   float64 `json:"setup_hours" validate:"min=0"`
	CycleHours   float64 `json:"cycle_hours" validate:"min=0"`
}

type createOrderRequest struct {
	ProductionOrder string             `json:"production_order" validate:"required"`
	PartNumber      string             `json:"part_number" validate:"required"`
	RequiredQty     int                `json:"required_qty" validate:"required,min=1"`
	LaunchedQty     int                `json:"launched_qty" validate:"min=0"`
	ProjectID       int64              `json:"project_id" validate:"required"`
	RawMaterialID   int64              `json:"raw_material_id"`
	Operations      []operationPayload `json:"operations" validate:"required,min=1,dive"`
}

type orderView struct {
	*store.Order
	Operations []*store.Operation `json:"operations"`
}

func (a *API) orderView(r *http.Request, o *store.Order) (*orderView, error) {
	ops, err := a.store.ListOperations(r.Context(), o.ID)
	if err != nil {
		return nil, err
	}
	return &orderView{Order: o, Operations: ops}, nil
}

func (a *API) handleAllOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := a.store.ListOrders(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	views := make([]*orderView, 0, len(orders))
	for _, o := range orders {
		v, err := a.orderView(r, o)
		if err != nil {
			a.writeError(w, err)
			return
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

// handleSearchOrder looks an order up by ?po= or lists by ?part=.
func (a *API) handleSearchOrder(w http.ResponseWriter, r *http.Request) {
	if po := r.URL.Query().Get("po"); po != "" {
		o, err := a.store.GetOrderByPO(r.Context(), po)
		if err != nil {
			a.writeError(w, err)
			return
		}
		v, err := a.orderView(r, o)
		if err != nil {
			a.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
		return
	}
	if part := r.URL.Query().Get("part"); part != "" {
		orders, err := a.store.ListOrdersByPart(r.Context(), part)
		if err != nil {
			a.writeError(w, err)
			return
		}
		if len(orders) == 0 {
			a.writeError(w, apperr.New(apperr.KindNotFound, "no orders for part %s", part))
			return
		}
		views := make([]*orderView, 0, len(orders))
		for _, o := range orders {
			v, err := a.orderView(r, o)
			if err != nil {
				a.writeError(w, err)
				return
			}
			views = append(views, v)
		}
		writeJSON(w, http.StatusOK, views)
		return
	}
	a.writeError(w, apperr.New(apperr.KindBadRequest, "search requires po or part query parameter"))
}

func (a *API) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := a.decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}

	o := &store.Order{
		ProductionOrder: req.ProductionOrder,
		PartNumber:      req.PartNumber,
		RequiredQty:     req.RequiredQty,
		LaunchedQty:     req.LaunchedQty,
		ProjectID:       req.ProjectID,
		RawMaterialID:   req.RawMaterialID,
		TotalOperations: len(req.Operations),
		CreatedAt:       time.Now(),
	}
	if err := a.store.CreateOrder(r.Context(), o); err != nil {
		a.writeError(w, err)
		return
	}
	for _, op := range req.Operations {
		if err := a.store.UpsertOperation(r.Context(), &store.Operation{
			OrderID:      o.ID,
			OpNumber:     op.OpNumber,
			WorkCenterID: op.WorkCenterID,
			MachineID:    op.MachineID,
			SetupHours:   op.SetupHours,
			CycleHours:   op.CycleHours,
		}); err != nil {
			a.writeError(w, err)
			return
		}
	}

	a.logger.Info("order created",
		zap.String("production_order", o.ProductionOrder),
		zap.String("part", o.PartNumber),
		zap.Int("operations", len(req.Operations)))
	v, err := a.orderView(r, o)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

type updateOrderRequest struct {
	RequiredQty *int   `json:"required_qty" validate:"omitempty,min=1"`
	LaunchedQty *int   `json:"launched_qty" validate:"omitempty,min=0"`
	ProjectID   *int64 `json:"project_id"`
}

func (a *API) handleUpdateOrder(w http.ResponseWriter, r *http.Request) {
	po := chi.URLParam(r, "po")
	o, err := a.store.GetOrderByPO(r.Context(), po)
	if err != nil {
		a.writeError(w, err)
		return
	}

	var req updateOrderRequest
	if err := a.decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	if req.RequiredQty != nil {
		o.RequiredQty = *req.RequiredQty
	}
	if req.LaunchedQty != nil {
		o.LaunchedQty = *req.LaunchedQty
	}
	if req.ProjectID != nil {
		o.ProjectID = *req.ProjectID
	}
	if err := a.store.UpdateOrder(r.Context(), o); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// handleUpdateOperation rewrites one routing step on every order of the
// part. Routings are shared per part number.
func (a *API) handleUpdateOperation(w http.ResponseWriter, r *http.Request) {
	part := chi.URLParam(r, "part")
	opNo, err := strconv.Atoi(chi.URLParam(r, "op_no"))
	if err != nil || opNo < 1 {
		a.writeError(w, apperr.New(apperr.KindBadRequest, "invalid operation number %q", chi.URLParam(r, "op_no")))
		return
	}

	var req operationPayload
	if err := a.decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	if req.OpNumber != opNo {
		a.writeError(w, apperr.New(apperr.KindBadRequest, "op_number %d does not match path %d", req.OpNumber, opNo))
		return
	}

	orders, err := a.store.ListOrdersByPart(r.Context(), part)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if len(orders) == 0 {
		a.writeError(w, apperr.New(apperr.KindNotFound, "no orders for part %s", part))
		return
	}
	for _, o := range orders {
		if err := a.store.UpsertOperation(r.Context(), &store.Operation{
			OrderID:      o.ID,
			OpNumber:     opNo,
			WorkCenterID: req.WorkCenterID,
			MachineID:    req.MachineID,
			SetupHours:   req.SetupHours,
			CycleHours:   req.CycleHours,
		}); err != nil {
			a.writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated_orders": len(orders)})
}

func (a *API) handleDeleteOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		a.writeError(w, apperr.New(apperr.KindBadRequest, "invalid order id %q", chi.URLParam(r, "id")))
		return
	}
	if err := a.store.DeleteOrder(r.Context(), id); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type scheduleStatusRequest struct {
	PartNumber      string `json:"part_number" validate:"required"`
	ProductionOrder string `json:"production_order" validate:"required"`
	Active          bool   `json:"active"`
}

// handleSetScheduleStatus activates or deactivates a (part, order) pair for
// scheduling and kicks a reschedule.
func (a *API) handleSetScheduleStatus(w http.ResponseWriter, r *http.Request) {
	var req scheduleStatusRequest
	if err := a.decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	if _, err := a.store.GetOrderByPO(r.Context(), req.ProductionOrder); err != nil {
		a.writeError(w, err)
		return
	}
	if err := a.store.SetPartScheduleStatus(r.Context(), &store.PartScheduleStatus{
		PartNumber:      req.PartNumber,
		ProductionOrder: req.ProductionOrder,
		Active:          req.Active,
	}); err != nil {
		a.writeError(w, err)
		return
	}
	a.reschedule.TriggerAsync(store.TriggerAdmin, "planning")
	writeJSON(w, http.StatusOK, map[string]any{"active": req.Active})
}

type rawMaterialRequest struct {
	Part          string  `json:"part" validate:"required"`
	Qty           string  `json:"qty" validate:"required"`
	AvailableQty  string  `json:"available_qty" validate:"required"`
	Unit          string  `json:"unit"`
	Status        string  `json:"status" validate:"required,oneof=Available Reserved Unavailable"`
	AvailableFrom *string `json:"available_from"` // RFC 3339
}

// handleRawMaterialEvent records a raw-material status change and triggers
// a reschedule, since material availability gates part starts.
func (a *API) handleRawMaterialEvent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		a.writeError(w, apperr.New(apperr.KindBadRequest, "invalid raw material id %q", chi.URLParam(r, "id")))
		return
	}

	var req rawMaterialRequest
	if err := a.decode(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	qty, err := decimal.NewFromString(req.Qty)
	if err != nil {
		a.writeError(w, apperr.Wrap(apperr.KindBadRequest, err, "invalid qty %q", req.Qty))
		return
	}
	available, err := decimal.NewFromString(req.AvailableQty)
	if err != nil {
		a.writeError(w, apperr.Wrap(apperr.KindBadRequest, err, "invalid available_qty %q", req.AvailableQty))
		return
	}
	if available.GreaterThan(qty) {
		a.writeError(w, apperr.New(apperr.KindInvariant, "available_qty exceeds qty"))
		return
	}

	rm := &store.RawMaterial{
		ID:           id,
		Part:         req.Part,
		Qty:          qty,
		AvailableQty: available,
		Unit:         req.Unit,
		Status:       req.Status,
	}
	if req.AvailableFrom != nil {
		from, err := time.Parse(time.RFC3339, *req.AvailableFrom)
		if err != nil {
			a.writeError(w, apperr.Wrap(apperr.KindBadRequest, err, "invalid available_from"))
			return
		}
		rm.AvailableFrom = from
	}
	if err := a.store.UpsertRawMaterial(r.Context(), rm); err != nil {
		a.writeError(w, err)
		return
	}
	a.reschedule.TriggerAsync(store.TriggerRawMaterialEvent, "planning")
	writeJSON(w, http.StatusOK, rm)
}

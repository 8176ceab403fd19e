// README: Order handlers for create, rider history and status changes.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"ridesync/internal/http/middleware"
	"ridesync/internal/modules/order"
	"ridesync/internal/modules/orderstore"
	"ridesync/internal/types"
)

type OrderHandler struct {
	store *orderstore.Service
}

func NewOrderHandler(svc *orderstore.Service) *OrderHandler {
	return &OrderHandler{store: svc}
}

type createOrderReq struct {
	UserID          string      `json:"userId"`
	PickupLocation  types.Point `json:"pickupLocation"`
	DropoffLocation types.Point `json:"dropoffLocation"`
	Price           float64     `json:"price"`
	Distance        float64     `json:"distance"`
	CarType         string      `json:"carType"`
}

type orderEnvelope struct {
	Order *order.Order `json:"order"`
}

func (h *OrderHandler) Create(c *gin.Context) {
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.UserID == "" {
		writeError(c, http.StatusBadRequest, "missing userId")
		return
	}
	if types.ID(req.UserID) != middleware.CallerID(c) {
		writeError(c, http.StatusForbidden, "cannot order for another user")
		return
	}
	o, err := h.store.CreateOrder(c.Request.Context(), order.CreateCommand{
		RiderID:    types.ID(req.UserID),
		Pickup:     req.PickupLocation,
		Dropoff:    req.DropoffLocation,
		DistanceKm: req.Distance,
		Price:      req.Price,
		CarType:    order.CarType(req.CarType),
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, orderEnvelope{Order: o})
}

// ListByRider answers GET /user/:id with a bare array.
func (h *OrderHandler) ListByRider(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	orders, err := h.store.ListByRider(c.Request.Context(), types.ID(id))
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, orders)
}

type updateStatusReq struct {
	Status   string `json:"status"`
	DriverID string `json:"driverId"`
}

// UpdateStatus answers PUT /edit-orders/:id. Accept and complete are driver
// actions on the caller's own behalf; cancel is open to the rider and the
// holding driver.
func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req updateStatusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	status := order.Status(strings.ToLower(strings.TrimSpace(req.Status)))
	caller := middleware.CallerID(c)
	ctx := c.Request.Context()

	switch status {
	case order.StatusAccepted, order.StatusCompleted:
		if !middleware.CallerIsDriver(c) {
			writeError(c, http.StatusForbidden, "driver role required")
			return
		}
		if req.DriverID != "" && types.ID(req.DriverID) != caller {
			writeError(c, http.StatusForbidden, "cannot act for another driver")
			return
		}
	case order.StatusCancelled:
		cur, err := h.store.Get(ctx, types.ID(id))
		if err != nil {
			writeOrderError(c, err)
			return
		}
		if cur.RiderID != caller && !cur.HeldBy(caller) {
			writeError(c, http.StatusForbidden, "not a party to this order")
			return
		}
	default:
		writeError(c, http.StatusBadRequest, "unsupported status")
		return
	}

	o, err := h.store.UpdateStatus(ctx, types.ID(id), status, caller)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

// README: Driver handlers for the order board, ride history and arrival.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ridesync/internal/http/middleware"
	"ridesync/internal/modules/orderstore"
	"ridesync/internal/types"
)

type DriverHandler struct {
	store *orderstore.Service
}

func NewDriverHandler(svc *orderstore.Service) *DriverHandler {
	return &DriverHandler{store: svc}
}

// ListBoard answers GET /driver/:id: open orders plus the driver's active ones.
func (h *DriverHandler) ListBoard(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	orders, err := h.store.ListForDriver(c.Request.Context(), types.ID(id))
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, orders)
}

func (h *DriverHandler) History(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	orders, err := h.store.ListDriverHistory(c.Request.Context(), types.ID(id))
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, orders)
}

type arriveReq struct {
	Arrived bool `json:"arrived"`
}

// Arrive answers PUT /orders-arrival/:id with body {arrived: true}.
func (h *DriverHandler) Arrive(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req arriveReq
	if err := c.ShouldBindJSON(&req); err != nil || !req.Arrived {
		writeError(c, http.StatusBadRequest, "body must be {\"arrived\": true}")
		return
	}
	ctx := c.Request.Context()
	cur, err := h.store.Get(ctx, types.ID(id))
	if err != nil {
		writeOrderError(c, err)
		return
	}
	if cur.Claimed() && !cur.HeldBy(middleware.CallerID(c)) {
		writeError(c, http.StatusForbidden, "order is held by another driver")
		return
	}
	o, err := h.store.MarkArrived(ctx, types.ID(id))
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

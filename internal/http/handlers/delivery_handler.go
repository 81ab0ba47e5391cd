// README: Delivery tracking handler for customers.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"nelo/internal/apperr"
	"nelo/internal/modules/delivery"
)

type DeliveryHandler struct {
	deliveries DeliveryService
	orders     OrderService
}

func NewDeliveryHandler(deliveries DeliveryService, orders OrderService) *DeliveryHandler {
	return &DeliveryHandler{deliveries: deliveries, orders: orders}
}

type trackingResponse struct {
	*delivery.Tracking
	// Code is handed to the driver at the door.
	Code string `json:"delivery_code,omitempty"`
}

// Tracking shows the delivery, its driver, and recent positions to the ordering customer.
func (h *DeliveryHandler) Tracking(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	t, err := h.deliveries.Tracking(ctx, id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	o, err := h.orders.Get(ctx, t.Delivery.OrderID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	owner := o.UserID == callerID(c)
	if !owner && !isAdmin(c) {
		writeServiceError(c, apperr.ErrUnauthorizedActor)
		return
	}
	resp := trackingResponse{Tracking: t}
	if owner {
		resp.Code = t.Delivery.Code
	}
	writeJSON(c, http.StatusOK, resp)
}

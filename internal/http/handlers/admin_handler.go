// README: Admin handlers for manual dispatch and driver moderation.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"nelo/internal/modules/driver"
)

type AdminHandler struct {
	dispatcher Dispatcher
	drivers    DriverService
}

func NewAdminHandler(dispatcher Dispatcher, drivers DriverService) *AdminHandler {
	return &AdminHandler{dispatcher: dispatcher, drivers: drivers}
}

type driverStatusReq struct {
	Status string `json:"status"`
}

// Dispatch offers the delivery to nearby drivers. An empty pool is not an error.
func (h *AdminHandler) Dispatch(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	offers, err := h.dispatcher.FindAndOfferDrivers(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"offer_count": len(offers), "offers": offers})
}

func (h *AdminHandler) DriverStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req driverStatusReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Status == "" {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	d, err := h.drivers.UpdateStatus(c.Request.Context(), id, driver.Status(req.Status))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}

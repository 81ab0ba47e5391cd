// README: Driver handlers for offers, active deliveries, status updates, location, and availability.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"nelo/internal/apperr"
	"nelo/internal/modules/delivery"
	"nelo/internal/modules/driver"
	"nelo/internal/types"
)

type DriverHandler struct {
	drivers    DriverService
	deliveries DeliveryService
	location   LocationService
}

func NewDriverHandler(drivers DriverService, deliveries DeliveryService, location LocationService) *DriverHandler {
	return &DriverHandler{drivers: drivers, deliveries: deliveries, location: location}
}

type deliveryStatusReq struct {
	Status        string   `json:"status"`
	Lat           *float64 `json:"latitude"`
	Lng           *float64 `json:"longitude"`
	Notes         string   `json:"notes"`
	FailureReason string   `json:"failure_reason"`
}

type confirmDeliveryReq struct {
	Code     string `json:"code"`
	PhotoURL string `json:"photo_url"`
}

type locationReq struct {
	Lat        float64  `json:"latitude"`
	Lng        float64  `json:"longitude"`
	DeliveryID string   `json:"delivery_id"`
	Speed      *float64 `json:"speed"`
}

type onlineReq struct {
	Online *bool `json:"online"`
}

func (h *DriverHandler) Offers(c *gin.Context) {
	d, ok := h.caller(c)
	if !ok {
		return
	}
	offers, err := h.deliveries.PendingOffers(c.Request.Context(), d.ID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if offers == nil {
		offers = []delivery.Offer{}
	}
	writeJSON(c, http.StatusOK, gin.H{"offers": offers})
}

func (h *DriverHandler) AcceptOffer(c *gin.Context) {
	d, ok := h.caller(c)
	if !ok {
		return
	}
	offerID, ok := pathID(c)
	if !ok {
		return
	}
	del, err := h.deliveries.AcceptOffer(c.Request.Context(), offerID, d.ID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, del)
}

func (h *DriverHandler) RejectOffer(c *gin.Context) {
	d, ok := h.caller(c)
	if !ok {
		return
	}
	offerID, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.deliveries.RejectOffer(c.Request.Context(), offerID, d.ID); err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": delivery.OfferRejected})
}

func (h *DriverHandler) Deliveries(c *gin.Context) {
	d, ok := h.caller(c)
	if !ok {
		return
	}
	list, err := h.deliveries.ActiveForDriver(c.Request.Context(), d.ID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if list == nil {
		list = []delivery.Delivery{}
	}
	writeJSON(c, http.StatusOK, gin.H{"deliveries": list})
}

func (h *DriverHandler) UpdateDeliveryStatus(c *gin.Context) {
	d, ok := h.caller(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req deliveryStatusReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Status == "" {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	cmd := delivery.TransitionCommand{
		DeliveryID:    id,
		DriverID:      d.ID,
		To:            delivery.Status(req.Status),
		Notes:         req.Notes,
		FailureReason: req.FailureReason,
	}
	if req.Lat != nil && req.Lng != nil {
		cmd.Location = &types.Point{Lat: *req.Lat, Lng: *req.Lng}
	}
	del, err := h.deliveries.Transition(c.Request.Context(), cmd)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, del)
}

func (h *DriverHandler) ConfirmDelivery(c *gin.Context) {
	d, ok := h.caller(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req confirmDeliveryReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Code == "" {
		writeError(c, http.StatusBadRequest, "missing confirmation code")
		return
	}
	del, err := h.deliveries.ConfirmDelivery(c.Request.Context(), id, d.ID, req.Code, req.PhotoURL)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, del)
}

// UpdateLocation moves the driver on the map and, during a delivery, appends to its track.
func (h *DriverHandler) UpdateLocation(c *gin.Context) {
	d, ok := h.caller(c)
	if !ok {
		return
	}
	var req locationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	p := types.Point{Lat: req.Lat, Lng: req.Lng}
	ctx := c.Request.Context()
	if err := h.location.UpdateDriver(ctx, d.ID, p); err != nil {
		writeServiceError(c, err)
		return
	}
	if req.DeliveryID != "" {
		if !isValidID(req.DeliveryID) {
			writeError(c, http.StatusBadRequest, "invalid delivery_id")
			return
		}
		if err := h.deliveries.RecordLocation(ctx, types.ID(req.DeliveryID), d.ID, p, req.Speed); err != nil {
			writeServiceError(c, err)
			return
		}
	}
	writeJSON(c, http.StatusOK, gin.H{"status": "ok"})
}

func (h *DriverHandler) SetOnline(c *gin.Context) {
	d, ok := h.caller(c)
	if !ok {
		return
	}
	var req onlineReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Online == nil {
		writeError(c, http.StatusBadRequest, "missing online flag")
		return
	}
	updated, err := h.drivers.SetOnline(c.Request.Context(), d.ID, *req.Online)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, updated)
}

// caller resolves the driver record of the authenticated user.
func (h *DriverHandler) caller(c *gin.Context) (*driver.Driver, bool) {
	d, err := h.drivers.ByUser(c.Request.Context(), callerID(c))
	if errors.Is(err, apperr.ErrNotFound) {
		writeError(c, http.StatusForbidden, "forbidden: no driver profile")
		return nil, false
	}
	if err != nil {
		writeServiceError(c, err)
		return nil, false
	}
	return d, true
}

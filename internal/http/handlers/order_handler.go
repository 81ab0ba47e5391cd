// README: Order handlers for checkout, queries, cancellation, and provider/admin status changes.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"nelo/internal/apperr"
	"nelo/internal/modules/order"
	"nelo/internal/modules/pricing"
	"nelo/internal/types"
)

type OrderHandler struct {
	order OrderService
}

func NewOrderHandler(svc OrderService) *OrderHandler {
	return &OrderHandler{order: svc}
}

type addressReq struct {
	Label        string  `json:"label"`
	Address      string  `json:"address"`
	Lat          float64 `json:"latitude"`
	Lng          float64 `json:"longitude"`
	Instructions string  `json:"instructions"`
}

type itemReq struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Options   string `json:"options"`
}

// createOrderReq has no price or total fields; checkout prices come from the catalog.
type createOrderReq struct {
	ProviderID      string     `json:"provider_id"`
	Items           []itemReq  `json:"items"`
	DeliveryAddress addressReq `json:"delivery_address"`
	TipAmount       int64      `json:"tip_amount"`
	PaymentMethod   string     `json:"payment_method"`
	Notes           string     `json:"notes"`
}

type statusReq struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type cancelReq struct {
	Reason string `json:"reason"`
}

func (h *OrderHandler) Create(c *gin.Context) {
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if !isValidID(req.ProviderID) || len(req.Items) == 0 {
		writeError(c, http.StatusBadRequest, "missing fields")
		return
	}
	items := make([]pricing.ItemRequest, len(req.Items))
	for i, it := range req.Items {
		items[i] = pricing.ItemRequest{ProductID: types.ID(it.ProductID), Quantity: it.Quantity, Options: it.Options}
	}
	o, err := h.order.Create(c.Request.Context(), order.CreateCommand{
		UserID:     callerID(c),
		ProviderID: types.ID(req.ProviderID),
		Items:      items,
		Address: order.AddressSnapshot{
			Label:        req.DeliveryAddress.Label,
			Address:      req.DeliveryAddress.Address,
			Position:     types.Point{Lat: req.DeliveryAddress.Lat, Lng: req.DeliveryAddress.Lng},
			Instructions: req.DeliveryAddress.Instructions,
		},
		TipAmount:     req.TipAmount,
		PaymentMethod: req.PaymentMethod,
		Notes:         req.Notes,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, o)
}

func (h *OrderHandler) List(c *gin.Context) {
	orders, err := h.order.ListByUser(c.Request.Context(), callerID(c), queryInt(c, "limit", 20), queryInt(c, "offset", 0))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if orders == nil {
		orders = []order.Order{}
	}
	writeJSON(c, http.StatusOK, gin.H{"orders": orders})
}

func (h *OrderHandler) Get(c *gin.Context) {
	o, ok := h.ownedOrder(c)
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, o)
}

func (h *OrderHandler) GetByReference(c *gin.Context) {
	o, err := h.order.GetByReference(c.Request.Context(), c.Param("reference"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if o.UserID != callerID(c) && !isAdmin(c) {
		writeServiceError(c, apperr.ErrUnauthorizedActor)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

func (h *OrderHandler) History(c *gin.Context) {
	o, ok := h.ownedOrder(c)
	if !ok {
		return
	}
	history, err := h.order.History(c.Request.Context(), o.ID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"history": history})
}

func (h *OrderHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req cancelReq
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "cancelled by customer"
	}
	o, err := h.order.Cancel(c.Request.Context(), id, order.ActorCustomer, callerID(c), req.Reason)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

// Confirm accepts a pending order for the calling provider.
func (h *OrderHandler) Confirm(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	o, err := h.order.Confirm(c.Request.Context(), id, callerProviderID(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

// providerTargets are the statuses a provider sets through the status route.
var providerTargets = map[order.Status]bool{
	order.StatusPreparing: true,
	order.StatusReady:     true,
	order.StatusCancelled: true,
}

func (h *OrderHandler) ProviderStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req statusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	to := order.Status(req.Status)
	if !providerTargets[to] {
		writeError(c, http.StatusBadRequest, "unsupported status")
		return
	}
	h.transition(c, order.TransitionCommand{
		OrderID:   id,
		To:        to,
		ActorType: order.ActorProvider,
		ActorID:   callerProviderID(c),
		Reason:    req.Reason,
	})
}

func (h *OrderHandler) AdminStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req statusReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Status == "" {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	h.transition(c, order.TransitionCommand{
		OrderID:   id,
		To:        order.Status(req.Status),
		ActorType: order.ActorAdmin,
		ActorID:   callerID(c),
		Reason:    req.Reason,
	})
}

func (h *OrderHandler) transition(c *gin.Context, cmd order.TransitionCommand) {
	o, err := h.order.Transition(c.Request.Context(), cmd)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

// ownedOrder loads the :id order if the caller is its customer or an admin.
func (h *OrderHandler) ownedOrder(c *gin.Context) (*order.Order, bool) {
	id, ok := pathID(c)
	if !ok {
		return nil, false
	}
	o, err := h.order.Get(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return nil, false
	}
	if o.UserID != callerID(c) && !isAdmin(c) {
		writeServiceError(c, apperr.ErrUnauthorizedActor)
		return nil, false
	}
	return o, true
}

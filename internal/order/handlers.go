package order

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/playstash/playstash/internal/listing"
	"github.com/playstash/playstash/internal/wallet"
)

// EventEmitter broadcasts order lifecycle events to interested listeners.
type EventEmitter interface {
	OrderEvent(event string, data map[string]interface{})
}

// Handler exposes order lifecycle endpoints over HTTP.
type Handler struct {
	service *Service
	events  EventEmitter
}

// NewHandler creates a new order handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// WithEvents attaches a real-time event emitter.
func (h *Handler) WithEvents(e EventEmitter) *Handler {
	h.events = e
	return h
}

func (h *Handler) emit(event string, o *Order) {
	if h.events == nil || o == nil {
		return
	}
	h.events.OrderEvent(event, map[string]interface{}{
		"orderId":  o.ID,
		"buyerId":  o.BuyerID,
		"sellerId": o.SellerID,
		"status":   string(o.Status),
	})
}

// RegisterAdminRoutes registers platform-operator order routes. Public
// order routes are wired by the server, which interleaves its auth
// middleware per route.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/orders/:id/release", h.adminRelease)
	r.POST("/orders/:id/refund", h.adminRefund)
	r.POST("/orders/:id/dispute/seller-win", h.resolveSellerWin)
	r.POST("/orders/:id/dispute/buyer-refund", h.resolveBuyerRefund)
	r.POST("/sweep", h.sweep)
}

func (h *Handler) Create(c *gin.Context) {
	var req struct {
		ListingID string `json:"listingId" binding:"required"`
		Quantity  int    `json:"quantity" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	o, err := h.service.Create(c.Request.Context(), c.GetString("userID"), req.ListingID, req.Quantity)
	if err != nil {
		orderError(c, err)
		return
	}
	h.emit("order_created", o)
	c.JSON(http.StatusCreated, o)
}

func (h *Handler) Get(c *gin.Context) {
	o, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		orderError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *Handler) GetDispute(c *gin.Context) {
	d, err := h.service.GetDispute(c.Request.Context(), c.Param("id"))
	if err != nil {
		orderError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) MarkDelivered(c *gin.Context) {
	var req struct {
		Note string `json:"note"`
	}
	// delivery note is optional; an empty body is fine
	_ = c.ShouldBindJSON(&req)

	o, err := h.service.MarkDelivered(c.Request.Context(), c.Param("id"), c.GetString("userID"), req.Note)
	if err != nil {
		orderError(c, err)
		return
	}
	h.emit("order_delivered", o)
	c.JSON(http.StatusOK, o)
}

func (h *Handler) ConfirmDelivery(c *gin.Context) {
	o, err := h.service.ConfirmDelivery(c.Request.Context(), c.Param("id"), c.GetString("userID"))
	if err != nil {
		orderError(c, err)
		return
	}
	h.emit("order_completed", o)
	c.JSON(http.StatusOK, o)
}

func (h *Handler) OpenDispute(c *gin.Context) {
	var req struct {
		Reason  string `json:"reason" binding:"required"`
		Details string `json:"details"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	d, err := h.service.OpenDispute(c.Request.Context(), c.Param("id"), c.GetString("userID"), req.Reason, req.Details)
	if err != nil {
		orderError(c, err)
		return
	}
	if h.events != nil {
		h.events.OrderEvent("dispute_opened", map[string]interface{}{
			"orderId": d.OrderID,
			"userId":  c.GetString("userID"),
			"reason":  d.Reason,
		})
	}
	c.JSON(http.StatusCreated, d)
}

func (h *Handler) ListPurchases(c *gin.Context) {
	h.list(c, h.service.ListByBuyer)
}

func (h *Handler) ListSales(c *gin.Context) {
	h.list(c, h.service.ListBySeller)
}

func (h *Handler) list(c *gin.Context, fn func(ctx context.Context, userID string, limit int) ([]*Order, error)) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	out, err := fn(c.Request.Context(), c.Param("user"), limit)
	if err != nil {
		orderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": out, "count": len(out)})
}

func (h *Handler) adminRelease(c *gin.Context) {
	h.adminAction(c, "order_completed", h.service.ReleaseByAdmin)
}

func (h *Handler) adminRefund(c *gin.Context) {
	h.adminAction(c, "order_refunded", h.service.Refund)
}

func (h *Handler) resolveSellerWin(c *gin.Context) {
	h.adminAction(c, "dispute_resolved", h.service.ResolveDisputeSellerWin)
}

func (h *Handler) resolveBuyerRefund(c *gin.Context) {
	h.adminAction(c, "dispute_resolved", h.service.ResolveDisputeBuyerRefund)
}

func (h *Handler) adminAction(c *gin.Context, event string, fn func(ctx context.Context, orderID, actor, note string) (*Order, error)) {
	var req struct {
		Note string `json:"note"`
	}
	// note is optional
	_ = c.ShouldBindJSON(&req)

	o, err := fn(c.Request.Context(), c.Param("id"), c.GetString("adminID"), req.Note)
	if err != nil {
		orderError(c, err)
		return
	}
	h.emit(event, o)
	c.JSON(http.StatusOK, o)
}

func (h *Handler) sweep(c *gin.Context) {
	released, err := h.service.ProcessDueReleases(c.Request.Context(), time.Now())
	if err != nil {
		orderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"released": released})
}

func orderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrDisputeNotFound),
		errors.Is(err, listing.ErrListingNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, ErrNotBuyer), errors.Is(err, ErrNotSeller), errors.Is(err, ErrSelfPurchase):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": err.Error()})
	case errors.Is(err, ErrInvalidQuantity):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_quantity", "message": err.Error()})
	case errors.Is(err, ErrListingUnavailable), errors.Is(err, ErrInsufficientStock):
		c.JSON(http.StatusConflict, gin.H{"error": "listing_unavailable", "message": err.Error()})
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrDisputeOpen), errors.Is(err, ErrDisputeResolved):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_state", "message": err.Error()})
	case errors.Is(err, wallet.ErrInsufficientFunds), errors.Is(err, wallet.ErrInsufficientHeldFunds):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "insufficient_funds", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "internal error"})
	}
}

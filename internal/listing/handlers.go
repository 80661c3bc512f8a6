package listing

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler exposes listing endpoints over HTTP.
type Handler struct {
	service *Service
}

// NewHandler creates a new listing handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes are wired by the server, which interleaves its auth
// middleware per route.

func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	req.SellerID = c.GetString("userID")

	l, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		listingError(c, err)
		return
	}
	c.JSON(http.StatusCreated, l)
}

func (h *Handler) Get(c *gin.Context) {
	l, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		listingError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

func (h *Handler) Restock(c *gin.Context) {
	var req struct {
		Units int `json:"units" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	l, err := h.service.Restock(c.Request.Context(), c.Param("id"), c.GetString("userID"), req.Units)
	if err != nil {
		listingError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

func (h *Handler) Pause(c *gin.Context) {
	h.mutate(c, h.service.Pause)
}

func (h *Handler) Resume(c *gin.Context) {
	h.mutate(c, h.service.Resume)
}

func (h *Handler) Archive(c *gin.Context) {
	h.mutate(c, h.service.Archive)
}

func (h *Handler) mutate(c *gin.Context, fn func(ctx context.Context, id, sellerID string) (*Listing, error)) {
	l, err := fn(c.Request.Context(), c.Param("id"), c.GetString("userID"))
	if err != nil {
		listingError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

func (h *Handler) ListActive(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	out, err := h.service.ListActive(c.Request.Context(), limit)
	if err != nil {
		listingError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": out, "count": len(out)})
}

func (h *Handler) ListBySeller(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	out, err := h.service.ListBySeller(c.Request.Context(), c.Param("user"), limit)
	if err != nil {
		listingError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": out, "count": len(out)})
}

func listingError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrListingNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, ErrNotSeller):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": err.Error()})
	case errors.Is(err, ErrInvalidListing):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid_listing", "message": err.Error()})
	case errors.Is(err, ErrInvalidStatus):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_status", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "internal error"})
	}
}

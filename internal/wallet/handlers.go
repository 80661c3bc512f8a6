package wallet

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/playstash/playstash/internal/pagination"
)

// Handler provides HTTP endpoints for wallet and funding operations.
type Handler struct {
	ledger  *Ledger
	funding *Funding
}

// NewHandler creates a new wallet handler.
func NewHandler(ledger *Ledger, funding *Funding) *Handler {
	return &Handler{ledger: ledger, funding: funding}
}

// RegisterAdminRoutes sets up review endpoints for finance admins.
// User-facing wallet routes are wired by the server, which interleaves
// its auth middleware per route.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/deposits/pending", h.PendingDeposits)
	r.POST("/deposits/:id/approve", h.ApproveDeposit)
	r.POST("/deposits/:id/reject", h.RejectDeposit)
	r.GET("/withdrawals/pending", h.PendingWithdrawals)
	r.POST("/withdrawals/:id/approve", h.ApproveWithdrawal)
	r.POST("/withdrawals/:id/reject", h.RejectWithdrawal)
	r.POST("/withdrawals/:id/pay", h.PayWithdrawal)
}

// GetWallet handles GET /v1/wallets/:user
func (h *Handler) GetWallet(c *gin.Context) {
	acct, err := h.ledger.GetOrCreateWallet(c.Request.Context(), c.Param("user"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load wallet",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"wallet": acct})
}

// GetLedger handles GET /v1/wallets/:user/ledger
func (h *Handler) GetLedger(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}
	entries, next, err := h.ledger.HistoryPage(c.Request.Context(), c.Param("user"), c.Query("cursor"), limit)
	if err != nil {
		if errors.Is(err, pagination.ErrBadCursor) {
			badRequest(c, "Invalid cursor")
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load ledger history",
		})
		return
	}
	resp := gin.H{"entries": entries, "count": len(entries)}
	if next != "" {
		resp["nextCursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}

// SubmitDeposit handles POST /v1/deposits
func (h *Handler) SubmitDeposit(c *gin.Context) {
	var req SubmitDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	req.UserID = c.GetString("userID")
	if req.UserID == "" {
		unauthorized(c)
		return
	}

	ticket, err := h.funding.SubmitDeposit(c.Request.Context(), req)
	if err != nil {
		fundingError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"deposit": ticket})
}

// ReserveWithdrawal handles POST /v1/withdrawals
func (h *Handler) ReserveWithdrawal(c *gin.Context) {
	var req ReserveWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	req.UserID = c.GetString("userID")
	if req.UserID == "" {
		unauthorized(c)
		return
	}

	w, err := h.funding.ReserveWithdrawal(c.Request.Context(), req)
	if err != nil {
		fundingError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"withdrawal": w})
}

// PendingDeposits handles GET /v1/admin/deposits/pending
func (h *Handler) PendingDeposits(c *gin.Context) {
	tickets, err := h.funding.PendingDeposits(c.Request.Context(), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deposits": tickets, "count": len(tickets)})
}

// ApproveDeposit handles POST /v1/admin/deposits/:id/approve
func (h *Handler) ApproveDeposit(c *gin.Context) {
	var req reviewRequest
	_ = c.ShouldBindJSON(&req)
	ticket, err := h.funding.ApproveDeposit(c.Request.Context(), c.Param("id"), c.GetString("adminID"), req.Note)
	if err != nil {
		fundingError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deposit": ticket})
}

// RejectDeposit handles POST /v1/admin/deposits/:id/reject
func (h *Handler) RejectDeposit(c *gin.Context) {
	var req reviewRequest
	_ = c.ShouldBindJSON(&req)
	ticket, err := h.funding.RejectDeposit(c.Request.Context(), c.Param("id"), c.GetString("adminID"), req.Note)
	if err != nil {
		fundingError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deposit": ticket})
}

// PendingWithdrawals handles GET /v1/admin/withdrawals/pending
func (h *Handler) PendingWithdrawals(c *gin.Context) {
	requests, err := h.funding.PendingWithdrawals(c.Request.Context(), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawals": requests, "count": len(requests)})
}

// ApproveWithdrawal handles POST /v1/admin/withdrawals/:id/approve
func (h *Handler) ApproveWithdrawal(c *gin.Context) {
	var req reviewRequest
	_ = c.ShouldBindJSON(&req)
	w, err := h.funding.ApproveWithdrawal(c.Request.Context(), c.Param("id"), c.GetString("adminID"), req.Note)
	if err != nil {
		fundingError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawal": w})
}

// RejectWithdrawal handles POST /v1/admin/withdrawals/:id/reject
func (h *Handler) RejectWithdrawal(c *gin.Context) {
	var req reviewRequest
	_ = c.ShouldBindJSON(&req)
	w, err := h.funding.RejectWithdrawal(c.Request.Context(), c.Param("id"), c.GetString("adminID"), req.Note)
	if err != nil {
		fundingError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawal": w})
}

// PayWithdrawal handles POST /v1/admin/withdrawals/:id/pay
func (h *Handler) PayWithdrawal(c *gin.Context) {
	var req struct {
		Note            string `json:"note"`
		PayoutReference string `json:"payoutReference"`
	}
	_ = c.ShouldBindJSON(&req)
	w, err := h.funding.PayWithdrawal(c.Request.Context(), c.Param("id"), c.GetString("adminID"), req.Note, req.PayoutReference)
	if err != nil {
		fundingError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawal": w})
}

type reviewRequest struct {
	Note string `json:"note"`
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": msg})
}

func unauthorized(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "X-User-ID header is required"})
}

func fundingError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrDepositNotFound), errors.Is(err, ErrWithdrawalNotFound), errors.Is(err, ErrWalletNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, ErrInsufficientFunds), errors.Is(err, ErrInsufficientHeldFunds):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "insufficient_funds", "message": err.Error()})
	case errors.Is(err, ErrInvalidFundingStatus):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_status", "message": err.Error()})
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidPayoutMethod),
		errors.Is(err, ErrMissingAccountTitle), errors.Is(err, ErrMissingAccountNumber),
		errors.Is(err, ErrMissingBankName):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Operation failed"})
	}
}

package handlers

import (
	"privpool-backend/internal/models"
	"privpool-backend/internal/services"

	"github.com/gin-gonic/gin"
)

// DepositHandler deposit endpoints
type DepositHandler struct {
	deposits *services.DepositService
}

func NewDepositHandler(deposits *services.DepositService) *DepositHandler {
	return &DepositHandler{deposits: deposits}
}

type createDepositRequest struct {
	Currency string `json:"currency" binding:"required"`
	Amount   string `json:"amount" binding:"required"`
}

// CreateDepositHandler POST /api/deposits
func (h *DepositHandler) CreateDepositHandler(c *gin.Context) {
	var req createDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	d, err := h.deposits.Deposit(c.Request.Context(), models.NewPair(req.Currency, req.Amount))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"deposit": d})
}

// ListDepositsHandler GET /api/deposits
func (h *DepositHandler) ListDepositsHandler(c *gin.Context) {
	deposits, err := h.deposits.ListDeposits()
	if err != nil {
		respondError(c, err)
		return
	}
	loading, initialized, errs, err := h.deposits.ImportStatus()
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{
		"deposits":           deposits,
		"isLoading":          loading,
		"isInitialized":      initialized,
		"errorsInitializing": errs,
	})
}

// DeleteDepositHandler DELETE /api/deposits/:id
func (h *DepositHandler) DeleteDepositHandler(c *gin.Context) {
	if err := h.deposits.DeleteFailedDeposit(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"deleted": c.Param("id")})
}

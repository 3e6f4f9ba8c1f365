package handlers

import (
	"privpool-backend/internal/models"
	"privpool-backend/internal/services"

	"github.com/gin-gonic/gin"
)

// WithdrawalHandler relayed withdrawal endpoints
type WithdrawalHandler struct {
	withdrawals *services.WithdrawalService
}

func NewWithdrawalHandler(withdrawals *services.WithdrawalService) *WithdrawalHandler {
	return &WithdrawalHandler{withdrawals: withdrawals}
}

type feeRequest struct {
	Currency   string `json:"currency" binding:"required"`
	Amount     string `json:"amount" binding:"required"`
	RelayerURL string `json:"relayerUrl"`
}

type withdrawRequest struct {
	DepositID  string `json:"depositId" binding:"required"`
	Recipient  string `json:"recipient" binding:"required"`
	RelayerURL string `json:"relayerUrl"`
}

// FeeHandler POST /api/withdrawals/fee
func (h *WithdrawalHandler) FeeHandler(c *gin.Context) {
	var req feeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	quote, err := h.withdrawals.QuoteFee(c.Request.Context(), models.NewPair(req.Currency, req.Amount), req.RelayerURL)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{
		"relayerUrl":    quote.RelayerURL,
		"rewardAccount": quote.RewardAccount,
		"relayerFee":    quote.Fee.RelayerFee.String(),
		"gasFee":        quote.Fee.GasFee.String(),
		"totalFee":      quote.Fee.TotalFee.String(),
		"netAmount":     quote.Fee.NetAmount.String(),
	})
}

// CreateWithdrawalHandler POST /api/withdrawals
func (h *WithdrawalHandler) CreateWithdrawalHandler(c *gin.Context) {
	var req withdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	pw, err := h.withdrawals.Withdraw(c.Request.Context(), services.WithdrawRequest{
		DepositID:  req.DepositID,
		Recipient:  req.Recipient,
		RelayerURL: req.RelayerURL,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"withdrawal": pw})
}

// ListWithdrawalsHandler GET /api/withdrawals
func (h *WithdrawalHandler) ListWithdrawalsHandler(c *gin.Context) {
	list, err := h.withdrawals.ListWithdrawals(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"withdrawals": list})
}

// GetWithdrawalHandler GET /api/withdrawals/:id
func (h *WithdrawalHandler) GetWithdrawalHandler(c *gin.Context) {
	pw, err := h.withdrawals.GetWithdrawal(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"withdrawal": pw})
}

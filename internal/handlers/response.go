package handlers

import (
	"errors"
	"net/http"

	"privpool-backend/internal/models"
	"privpool-backend/internal/services"
	"privpool-backend/internal/vault"

	"github.com/gin-gonic/gin"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{vault.ErrVaultLocked, http.StatusLocked, "VAULT_LOCKED"},
	{vault.ErrInvalidPassword, http.StatusUnauthorized, "INVALID_PASSWORD"},
	{vault.ErrVaultExists, http.StatusConflict, "VAULT_EXISTS"},
	{vault.ErrVaultNotFound, http.StatusNotFound, "VAULT_NOT_FOUND"},
	{services.ErrNoActiveNetwork, http.StatusConflict, "NO_ACTIVE_NETWORK"},
	{services.ErrNetworkChanged, http.StatusConflict, "NETWORK_CHANGED"},
	{services.ErrUnknownPool, http.StatusNotFound, "UNKNOWN_POOL"},
	{services.ErrDepositNotFound, http.StatusNotFound, "DEPOSIT_NOT_FOUND"},
	{services.ErrDepositNotFailed, http.StatusConflict, "DEPOSIT_NOT_FAILED"},
	{services.ErrDepositNotSpendable, http.StatusConflict, "DEPOSIT_NOT_SPENDABLE"},
	{services.ErrWithdrawalNotFound, http.StatusNotFound, "WITHDRAWAL_NOT_FOUND"},
	{services.ErrWithdrawalInProgress, http.StatusConflict, "WITHDRAWAL_IN_PROGRESS"},
	{services.ErrInvalidRecipient, http.StatusBadRequest, "INVALID_RECIPIENT"},
	{services.ErrRelayerUnhealthy, http.StatusServiceUnavailable, "RELAYER_UNHEALTHY"},
	{services.ErrFeeExceedsAmount, http.StatusUnprocessableEntity, "FEE_EXCEEDS_AMOUNT"},
	{services.ErrTreeCorrupted, http.StatusBadGateway, "TREE_CORRUPTED"},
	{services.ErrDepositNotInTree, http.StatusConflict, "DEPOSIT_NOT_IN_TREE"},
	{services.ErrWorkerStopped, http.StatusServiceUnavailable, "PROVER_STOPPED"},
}

// classify maps a service error to an HTTP status and error code.
func classify(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

func respondError(c *gin.Context, err error) {
	status, code := classify(err)
	c.JSON(status, gin.H{
		"success": false,
		"error":   err.Error(),
		"code":    code,
	})
}

func respondBadRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error":   msg,
		"code":    "INVALID_REQUEST",
	})
}

func respondOK(c *gin.Context, data gin.H) {
	data["success"] = true
	c.JSON(http.StatusOK, data)
}

// pairParam reads the :currency/:amount route parameters.
func pairParam(c *gin.Context) models.Pair {
	return models.NewPair(c.Param("currency"), c.Param("amount"))
}

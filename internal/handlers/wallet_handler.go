package handlers

import (
	"context"
	"net/http"
	"time"

	"privpool-backend/internal/services"
	"privpool-backend/internal/vault"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// TokenIssuer hands out API session tokens after unlock.
type TokenIssuer interface {
	Issue(walletID string) (string, time.Time, error)
}

// WalletHandler wallet creation, unlock and network switching
type WalletHandler struct {
	wallet   *services.WalletService
	networks *services.NetworkManager
	tokens   TokenIssuer
	walletID string
	logger   *logrus.Entry
}

func NewWalletHandler(wallet *services.WalletService, networks *services.NetworkManager, tokens TokenIssuer, walletID string, logger *logrus.Entry) *WalletHandler {
	return &WalletHandler{
		wallet:   wallet,
		networks: networks,
		tokens:   tokens,
		walletID: walletID,
		logger:   logger,
	}
}

type createWalletRequest struct {
	Password string `json:"password" binding:"required"`
	Mnemonic string `json:"mnemonic"`
}

type unlockRequest struct {
	Password string `json:"password" binding:"required"`
}

type switchNetworkRequest struct {
	ChainID int64 `json:"chainId" binding:"required"`
}

// CreateWalletHandler POST /api/wallet/create
func (h *WalletHandler) CreateWalletHandler(c *gin.Context) {
	var req createWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	generated := req.Mnemonic == ""
	mnemonic, err := h.wallet.CreateWallet(c.Request.Context(), req.Password, req.Mnemonic)
	if err != nil {
		respondError(c, err)
		return
	}
	resp := gin.H{"imported": !generated}
	if generated {
		resp["mnemonic"] = mnemonic
	}
	h.issue(c, resp)
}

// UnlockHandler POST /api/wallet/unlock
func (h *WalletHandler) UnlockHandler(c *gin.Context) {
	var req unlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	if err := h.wallet.Unlock(c.Request.Context(), req.Password); err != nil {
		respondError(c, err)
		return
	}
	h.issue(c, gin.H{})
}

func (h *WalletHandler) issue(c *gin.Context, resp gin.H) {
	token, expires, err := h.tokens.Issue(h.walletID)
	if err != nil {
		respondError(c, err)
		return
	}
	resp["token"] = token
	resp["expiresAt"] = expires
	respondOK(c, resp)
}

// LockHandler POST /api/wallet/lock
func (h *WalletHandler) LockHandler(c *gin.Context) {
	h.wallet.Lock()
	respondOK(c, gin.H{"unlocked": false})
}

// StatusHandler GET /api/wallet
func (h *WalletHandler) StatusHandler(c *gin.Context) {
	respondOK(c, gin.H{
		"unlocked":      h.wallet.IsUnlocked(),
		"activeChainId": h.networks.ActiveChainID(),
	})
}

// SwitchNetworkHandler POST /api/wallet/network
func (h *WalletHandler) SwitchNetworkHandler(c *gin.Context) {
	var req switchNetworkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	net, err := h.wallet.SwitchNetwork(c.Request.Context(), req.ChainID)
	if err != nil {
		respondError(c, err)
		return
	}
	pairs := make([]string, 0)
	for _, p := range net.Registry.Pairs() {
		pairs = append(pairs, p.Key())
	}
	respondOK(c, gin.H{"chainId": net.ChainID, "pools": pairs})
}

// ImportHandler POST /api/wallet/import
//
// Runs detached; progress is the isLoading flag of GET /api/deposits.
func (h *WalletHandler) ImportHandler(c *gin.Context) {
	if !h.wallet.IsUnlocked() {
		respondError(c, vault.ErrVaultLocked)
		return
	}
	chainID := h.networks.ActiveChainID()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if err := h.wallet.Import(ctx); err != nil {
			h.logger.Warnf("[Import] import on chain %d failed: %v", chainID, err)
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"success": true, "chainId": chainID})
}

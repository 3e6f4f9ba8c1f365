package handlers

import (
	"privpool-backend/internal/models"
	"privpool-backend/internal/services"

	"github.com/gin-gonic/gin"
)

// PoolHandler pool listing, roots and manual sync
type PoolHandler struct {
	networks *services.NetworkManager
	merkle   *services.MerkleService
	sync     *services.EventSyncService
}

func NewPoolHandler(networks *services.NetworkManager, merkle *services.MerkleService, syncService *services.EventSyncService) *PoolHandler {
	return &PoolHandler{networks: networks, merkle: merkle, sync: syncService}
}

// ListPoolsHandler GET /api/pools
func (h *PoolHandler) ListPoolsHandler(c *gin.Context) {
	net, err := h.networks.Active()
	if err != nil {
		respondError(c, err)
		return
	}
	pools := make([]gin.H, 0)
	for _, pair := range net.Registry.Pairs() {
		b, _ := net.Registry.Get(pair)
		pool := gin.H{
			"currency":      pair.Currency,
			"amount":        pair.Amount,
			"pool":          b.Pool.Hex(),
			"proxy":         b.Proxy.Hex(),
			"decimals":      b.Decimals,
			"deployedBlock": b.DeployedBlock,
		}
		if b.Token != nil {
			pool["token"] = b.Token.Hex()
		}
		pools = append(pools, pool)
	}
	respondOK(c, gin.H{"chainId": net.ChainID, "pools": pools})
}

// RootHandler GET /api/pools/:currency/:amount/root?force=true
func (h *PoolHandler) RootHandler(c *gin.Context) {
	net, err := h.networks.Active()
	if err != nil {
		respondError(c, err)
		return
	}
	binding, err := net.Binding(pairParam(c))
	if err != nil {
		respondError(c, err)
		return
	}
	root, err := h.merkle.GetRoot(c.Request.Context(), net, binding, c.Query("force") == "true")
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"chainId": net.ChainID, "pair": binding.Pair.Key(), "root": root})
}

// SyncHandler POST /api/pools/:currency/:amount/sync?force=true
func (h *PoolHandler) SyncHandler(c *gin.Context) {
	net, err := h.networks.Active()
	if err != nil {
		respondError(c, err)
		return
	}
	binding, err := net.Binding(pairParam(c))
	if err != nil {
		respondError(c, err)
		return
	}
	force := c.Query("force") == "true"
	results := gin.H{}
	for _, kind := range []models.EventKind{models.EventKindDeposit, models.EventKindWithdrawal} {
		res, err := h.sync.SyncEvents(c.Request.Context(), net, kind, binding, force)
		if err != nil {
			respondError(c, err)
			return
		}
		results[string(kind)] = gin.H{"fetched": res.Fetched, "source": res.Source, "cursor": res.Cursor}
	}
	respondOK(c, gin.H{"chainId": net.ChainID, "pair": binding.Pair.Key(), "sync": results})
}

package router

import (
	"net/http"
	"time"

	"privpool-backend/internal/handlers"
	"privpool-backend/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Handlers every API handler the router mounts
type Handlers struct {
	Wallet      *handlers.WalletHandler
	Pools       *handlers.PoolHandler
	Deposits    *handlers.DepositHandler
	Withdrawals *handlers.WithdrawalHandler
}

// requestLogger logs one line per request through logrus.
func requestLogger(logger *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("[API] request failed")
			return
		}
		entry.Debug("[API] request")
	}
}

// SetupRouter builds the gin engine. Everything but /health is restricted to
// the local allow list and everything under /api except create and unlock
// needs a session token.
func SetupRouter(h Handlers, tokens *middleware.TokenManager, localOnly *middleware.LocalhostOnly, logger *logrus.Entry) *gin.Engine {
	r := gin.New()
	if err := r.SetTrustedProxies(nil); err != nil {
		logger.Warnf("[API] failed to reset trusted proxies: %v", err)
	}
	r.Use(gin.Recovery(), requestLogger(logger))

	r.GET("/health", handlers.HealthCheckHandler)
	r.GET("/metrics", localOnly.Restrict(), gin.WrapH(promhttp.Handler()))

	api := r.Group("/api", localOnly.Restrict())
	api.POST("/wallet/create", h.Wallet.CreateWalletHandler)
	api.POST("/wallet/unlock", h.Wallet.UnlockHandler)
	api.GET("/wallet", h.Wallet.StatusHandler)

	auth := api.Group("", tokens.RequireAuth())
	{
		auth.POST("/wallet/lock", h.Wallet.LockHandler)
		auth.POST("/wallet/network", h.Wallet.SwitchNetworkHandler)
		auth.POST("/wallet/import", h.Wallet.ImportHandler)

		auth.GET("/pools", h.Pools.ListPoolsHandler)
		auth.GET("/pools/:currency/:amount/root", h.Pools.RootHandler)
		auth.POST("/pools/:currency/:amount/sync", h.Pools.SyncHandler)

		auth.POST("/deposits", h.Deposits.CreateDepositHandler)
		auth.GET("/deposits", h.Deposits.ListDepositsHandler)
		auth.DELETE("/deposits/:id", h.Deposits.DeleteDepositHandler)

		auth.POST("/withdrawals/fee", h.Withdrawals.FeeHandler)
		auth.POST("/withdrawals", h.Withdrawals.CreateWithdrawalHandler)
		auth.GET("/withdrawals", h.Withdrawals.ListWithdrawalsHandler)
		auth.GET("/withdrawals/:id", h.Withdrawals.GetWithdrawalHandler)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "endpoint not found",
			"code":    "NOT_FOUND",
			"path":    c.Request.URL.Path,
		})
	})
	return r
}

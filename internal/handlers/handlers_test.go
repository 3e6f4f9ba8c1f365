package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"privpool-backend/internal/chain"
	"privpool-backend/internal/config"
	"privpool-backend/internal/services"
	"privpool-backend/internal/vault"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{vault.ErrVaultLocked, http.StatusLocked, "VAULT_LOCKED"},
		{fmt.Errorf("wrapped: %w", services.ErrDepositNotFailed), http.StatusConflict, "DEPOSIT_NOT_FAILED"},
		{services.ErrRelayerUnhealthy, http.StatusServiceUnavailable, "RELAYER_UNHEALTHY"},
		{fmt.Errorf("%w: w1", services.ErrWithdrawalInProgress), http.StatusConflict, "WITHDRAWAL_IN_PROGRESS"},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tc := range cases {
		status, code := classify(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}

func poolRouter(networks *services.NetworkManager) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewPoolHandler(networks, nil, nil)
	r := gin.New()
	r.GET("/health", HealthCheckHandler)
	r.GET("/api/pools", h.ListPoolsHandler)
	r.GET("/api/pools/:currency/:amount/root", h.RootHandler)
	return r
}

func TestListPoolsWithoutNetwork(t *testing.T) {
	r := poolRouter(services.NewNetworkManager())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/pools", nil))
	assert.Equal(t, http.StatusConflict, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "NO_ACTIVE_NETWORK", body["code"])
}

func TestListPools(t *testing.T) {
	registry, err := chain.NewContractRegistry(1, &config.NetworkDeployment{
		ChainID:      1,
		ProxyAddress: "0xd90e2f925DA726b50C4Ed8D0Fb90Ad053324F31b",
		Instances: []config.PoolInstance{
			{Currency: "eth", Amount: "1", Address: "0x47CE0C6eD5B0Ce3d3A51fdb1C52DC66a7c3c2936", Decimals: 18},
			{Currency: "eth", Amount: "0.1", Address: "0x12D66f87A04A9E220743712cE6d9bB1B5616B8Fc", Decimals: 18},
		},
	}, nil)
	require.NoError(t, err)
	networks := services.NewNetworkManager()
	networks.Activate(&services.Network{ChainID: 1, Registry: registry})
	r := poolRouter(networks)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/pools", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Success bool                     `json:"success"`
		ChainID int64                    `json:"chainId"`
		Pools   []map[string]interface{} `json:"pools"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, int64(1), body.ChainID)
	require.Len(t, body.Pools, 2)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/pools/dai/100/root", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "UNKNOWN_POOL")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

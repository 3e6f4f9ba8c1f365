package clients

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"privpool-backend/internal/config"
	"privpool-backend/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func TestIndexerFollowsLastCursor(t *testing.T) {
	var froms []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/deposits", r.URL.Path)
		require.Equal(t, "1", r.URL.Query().Get("chain_id"))
		require.Equal(t, "eth", r.URL.Query().Get("currency"))
		require.Equal(t, "0.1", r.URL.Query().Get("amount"))

		from := r.URL.Query().Get("from")
		froms = append(froms, from)
		switch from {
		case "0":
			_, _ = w.Write([]byte(`{"deposits":[{"leafIndex":0,"commitment":"0x01","timestamp":"1600000000","transactionHash":"0xa","blockNumber":10}],"last":"1"}`))
		case "1":
			_, _ = w.Write([]byte(`{"deposits":[{"leafIndex":1,"commitment":"0x02","timestamp":1600000001,"transactionHash":"0xb","blockNumber":11}]}`))
		default:
			t.Fatalf("unexpected from %q", from)
		}
	}))
	defer srv.Close()

	c := NewIndexerClient(config.IndexerConfig{Endpoint: srv.URL + "/"}, testLogger())
	events, err := c.FetchDeposits(context.Background(), 1, models.NewPair("eth", "0.1"), 0)
	require.NoError(t, err)
	require.Equal(t, []string{"0", "1"}, froms)
	require.Len(t, events, 2)
	require.Equal(t, int64(1600000000), events[0].Timestamp)
	require.Equal(t, int64(1600000001), events[1].Timestamp)
	require.Equal(t, uint64(11), events[1].BlockNumber)
}

func TestIndexerWithdrawals(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/withdrawals", r.URL.Path)
		require.Equal(t, "3", r.URL.Query().Get("from"))
		_, _ = w.Write([]byte(`{"withdrawals":[{"nullifierHash":"0xdead","to":"0x01","fee":"1000","transactionHash":"0xc","blockNumber":12}],"last":null}`))
	}))
	defer srv.Close()

	c := NewIndexerClient(config.IndexerConfig{Endpoint: srv.URL, Version: "v2"}, testLogger())
	events, err := c.FetchWithdrawals(context.Background(), 1, models.NewPair("eth", "0.1"), 3)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "1000", events[0].Fee)
	require.Equal(t, "0xdead", events[0].NullifierHex)
}

func TestIndexerServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewIndexerClient(config.IndexerConfig{Endpoint: srv.URL}, testLogger())
	_, err := c.FetchDeposits(context.Background(), 1, models.NewPair("eth", "0.1"), 0)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)

	disabled := NewIndexerClient(config.IndexerConfig{}, testLogger())
	require.False(t, disabled.Enabled())
	_, err = disabled.FetchDeposits(context.Background(), 1, models.NewPair("eth", "0.1"), 0)
	require.Error(t, err)
}

func TestRelayerClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/status":
			_, _ = w.Write([]byte(`{"rewardAccount":"0x00000000000000000000000000000000000000aa","netId":1,"ethPrices":{"dai":"500000000000000"},"tornadoServiceFee":0.05,"health":{"status":"true","error":""}}`))
		case r.Method == http.MethodPost && r.URL.Path == "/v1/tornadoWithdraw":
			var req WithdrawRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Equal(t, "0xpool", req.Contract)
			require.Len(t, req.Args, 6)
			_, _ = w.Write([]byte(`{"id":"job-1"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/v1/jobs/job-1":
			_, _ = w.Write([]byte(`{"id":"job-1","status":"FAILED","failedReason":"Error: Fee too low"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	c := NewRelayerClient(srv.URL, 5)

	status, err := c.GetStatus(ctx)
	require.NoError(t, err)
	require.True(t, status.Healthy())
	require.Equal(t, 0.05, status.TornadoServiceFee)
	require.Equal(t, "500000000000000", status.EthPrices["dai"])

	id, err := c.SubmitWithdraw(ctx, &WithdrawRequest{Contract: "0xpool", Proof: "0x01", Args: make([]string, 6)})
	require.NoError(t, err)
	require.Equal(t, "job-1", id)

	job, err := c.GetJob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, JobStatusFailed, job.Status)
	require.Equal(t, "Fee too low", ParseFailedReason(job.FailedReason))
	require.Equal(t, "relayer job failed", ParseFailedReason(""))
}

func TestProverClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req WithdrawProofRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Root == "" {
			_, _ = w.Write([]byte(`{"proof":"","error_message":"missing root"}`))
			return
		}
		_, _ = w.Write([]byte(`{"proof":"0xproof","args":["0x1","0x2","0x3","0x4","0x5","0x6"]}`))
	}))
	defer srv.Close()

	c := NewProverClient(srv.URL, 0)
	resp, err := c.GenerateWithdrawProof(context.Background(), &WithdrawProofRequest{Root: "0x01"})
	require.NoError(t, err)
	require.Equal(t, "0xproof", resp.Proof)

	_, err = c.GenerateWithdrawProof(context.Background(), &WithdrawProofRequest{})
	require.ErrorContains(t, err, "missing root")
}

package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// relayer job statuses
const (
	JobStatusQueued    = "QUEUED"
	JobStatusAccepted  = "ACCEPTED"
	JobStatusSent      = "SENT"
	JobStatusMined     = "MINED"
	JobStatusConfirmed = "CONFIRMED"
	JobStatusFailed    = "FAILED"
)

// RelayerClient withdrawal relayer HTTP client
type RelayerClient struct {
	BaseURL string
	Client  *http.Client
}

// NewRelayerClient Create a relayer client; timeout in seconds
func NewRelayerClient(baseURL string, timeout int) *RelayerClient {
	t := 30 * time.Second
	if timeout > 0 {
		t = time.Duration(timeout) * time.Second
	}
	return &RelayerClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: t},
	}
}

// RelayerHealth relayer health report
type RelayerHealth struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// RelayerStatus GET /status answer
type RelayerStatus struct {
	RewardAccount     string            `json:"rewardAccount"`
	NetID             int64             `json:"netId"`
	EthPrices         map[string]string `json:"ethPrices"`         // token -> price in wei of the native asset
	TornadoServiceFee float64           `json:"tornadoServiceFee"` // percent of the pool amount
	Version           string            `json:"version"`
	Health            RelayerHealth     `json:"health"`
	CurrentQueue      int               `json:"currentQueue"`
}

// Healthy reports whether the relayer says it can take jobs.
func (s *RelayerStatus) Healthy() bool {
	return s.Health.Status == "" || s.Health.Status == "true"
}

// WithdrawRequest POST /v1/tornadoWithdraw body
type WithdrawRequest struct {
	Contract string   `json:"contract"`
	Proof    string   `json:"proof"`
	Args     []string `json:"args"`
}

type withdrawResponse struct {
	ID string `json:"id"`
}

// RelayerJob GET /v1/jobs/{id} answer
type RelayerJob struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	TxHash        string `json:"txHash"`
	Confirmations int    `json:"confirmations"`
	FailedReason  string `json:"failedReason"`
}

// GetStatus fee schedule, reward account, prices and health
func (c *RelayerClient) GetStatus(ctx context.Context) (*RelayerStatus, error) {
	var status RelayerStatus
	if err := doJSON(ctx, c.Client, "relayer", http.MethodGet, c.BaseURL+"/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// SubmitWithdraw hands the proof to the relayer and returns its job id.
func (c *RelayerClient) SubmitWithdraw(ctx context.Context, req *WithdrawRequest) (string, error) {
	var resp withdrawResponse
	if err := doJSON(ctx, c.Client, "relayer", http.MethodPost, c.BaseURL+"/v1/tornadoWithdraw", req, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("relayer returned no job id")
	}
	return resp.ID, nil
}

// GetJob current state of a relayer job
func (c *RelayerClient) GetJob(ctx context.Context, jobID string) (*RelayerJob, error) {
	var job RelayerJob
	reqURL := fmt.Sprintf("%s/v1/jobs/%s", c.BaseURL, url.PathEscape(jobID))
	if err := doJSON(ctx, c.Client, "relayer", http.MethodGet, reqURL, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ParseFailedReason strips the relayer's error prefixes from a failure reason.
func ParseFailedReason(reason string) string {
	r := strings.TrimSpace(reason)
	for _, prefix := range []string{"Error: ", "Returned error: ", "execution reverted: "} {
		r = strings.TrimPrefix(r, prefix)
	}
	if r == "" {
		return "relayer job failed"
	}
	return r
}

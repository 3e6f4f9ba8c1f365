package clients

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ProverClient proving service client
type ProverClient struct {
	BaseURL string
	Client  *http.Client
}

// NewProverClient Create a new prover client; timeout in seconds
func NewProverClient(baseURL string, timeout int) *ProverClient {
	t := 600 * time.Second // proving is slow, default 10 minutes
	if timeout > 0 {
		t = time.Duration(timeout) * time.Second
	}
	return &ProverClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: t},
	}
}

// WithdrawProofRequest private and public inputs of the withdraw circuit
type WithdrawProofRequest struct {
	// public
	Root          string `json:"root"`
	NullifierHash string `json:"nullifierHash"`
	Recipient     string `json:"recipient"`
	Relayer       string `json:"relayer"`
	Fee           string `json:"fee"`
	Refund        string `json:"refund"`

	// private
	Nullifier    string   `json:"nullifier"`
	Secret       string   `json:"secret"`
	PathElements []string `json:"pathElements"`
	PathIndices  []int    `json:"pathIndices"`
}

// WithdrawProofResponse proof bytes plus the ordered public args
type WithdrawProofResponse struct {
	Proof        string   `json:"proof"`
	Args         []string `json:"args"`
	ErrorMessage *string  `json:"error_message"`
}

// GenerateWithdrawProof Generate withdraw proof
func (c *ProverClient) GenerateWithdrawProof(ctx context.Context, req *WithdrawProofRequest) (*WithdrawProofResponse, error) {
	var result WithdrawProofResponse
	if err := doJSON(ctx, c.Client, "prover", http.MethodPost, c.BaseURL+"/api/proof/withdraw", req, &result); err != nil {
		return nil, err
	}
	if result.ErrorMessage != nil && *result.ErrorMessage != "" {
		return nil, fmt.Errorf("prover error: %s", *result.ErrorMessage)
	}
	if result.Proof == "" {
		return nil, fmt.Errorf("prover returned an empty proof")
	}
	return &result, nil
}

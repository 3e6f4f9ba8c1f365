package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"privpool-backend/internal/config"
	"privpool-backend/internal/models"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// maxIndexerPages guards against an indexer that never stops returning "last"
const maxIndexerPages = 10_000

// IndexerClient remote event indexing service
type IndexerClient struct {
	BaseURL string
	Version string
	Client  *http.Client
	limiter *rate.Limiter
	logger  *logrus.Entry
}

// NewIndexerClient Create a new indexer client
func NewIndexerClient(cfg config.IndexerConfig, logger *logrus.Entry) *IndexerClient {
	timeout := 30 * time.Second
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	version := cfg.Version
	if version == "" {
		version = "v1"
	}
	return &IndexerClient{
		BaseURL: strings.TrimRight(cfg.Endpoint, "/"),
		Version: version,
		Client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

// Enabled reports whether an endpoint is configured.
func (c *IndexerClient) Enabled() bool {
	return c != nil && c.BaseURL != ""
}

// indexer wire formats
type indexerDeposit struct {
	LeafIndex       uint32          `json:"leafIndex"`
	Commitment      string          `json:"commitment"`
	Timestamp       json.RawMessage `json:"timestamp"`
	TransactionHash string          `json:"transactionHash"`
	BlockNumber     uint64          `json:"blockNumber"`
}

type indexerWithdrawal struct {
	NullifierHash   string          `json:"nullifierHash"`
	To              string          `json:"to"`
	Fee             json.RawMessage `json:"fee"`
	TransactionHash string          `json:"transactionHash"`
	BlockNumber     uint64          `json:"blockNumber"`
}

type indexerPage struct {
	Deposits    []indexerDeposit    `json:"deposits"`
	Withdrawals []indexerWithdrawal `json:"withdrawals"`
	Last        json.RawMessage     `json:"last"`
}

// FetchDeposits pages through deposit events starting at fromIndex.
func (c *IndexerClient) FetchDeposits(ctx context.Context, chainID int64, pair models.Pair, fromIndex uint64) ([]models.DepositEvent, error) {
	var out []models.DepositEvent
	err := c.paginate(ctx, models.EventKindDeposit, chainID, pair, fromIndex, func(p *indexerPage) {
		for _, d := range p.Deposits {
			out = append(out, models.DepositEvent{
				LeafIndex:     d.LeafIndex,
				CommitmentHex: d.Commitment,
				Timestamp:     rawInt(d.Timestamp),
				TxHash:        d.TransactionHash,
				BlockNumber:   d.BlockNumber,
			})
		}
	})
	return out, err
}

// FetchWithdrawals pages through withdrawal events starting at fromIndex.
func (c *IndexerClient) FetchWithdrawals(ctx context.Context, chainID int64, pair models.Pair, fromIndex uint64) ([]models.WithdrawalEvent, error) {
	var out []models.WithdrawalEvent
	err := c.paginate(ctx, models.EventKindWithdrawal, chainID, pair, fromIndex, func(p *indexerPage) {
		for _, w := range p.Withdrawals {
			out = append(out, models.WithdrawalEvent{
				NullifierHex: w.NullifierHash,
				To:           w.To,
				Fee:          rawString(w.Fee),
				TxHash:       w.TransactionHash,
				BlockNumber:  w.BlockNumber,
			})
		}
	})
	return out, err
}

func (c *IndexerClient) paginate(ctx context.Context, kind models.EventKind, chainID int64, pair models.Pair, fromIndex uint64, collect func(*indexerPage)) error {
	if !c.Enabled() {
		return fmt.Errorf("indexer endpoint not configured")
	}
	from := strconv.FormatUint(fromIndex, 10)

	for page := 0; page < maxIndexerPages; page++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		params := url.Values{}
		params.Set("chain_id", strconv.FormatInt(chainID, 10))
		params.Set("currency", pair.Currency)
		params.Set("amount", pair.Amount)
		params.Set("from", from)
		reqURL := fmt.Sprintf("%s/%s/%ss?%s", c.BaseURL, c.Version, kind, params.Encode())

		var result indexerPage
		if err := doJSON(ctx, c.Client, "indexer", http.MethodGet, reqURL, nil, &result); err != nil {
			return err
		}
		collect(&result)

		last := rawString(result.Last)
		if last == "" || last == from {
			return nil
		}
		c.logger.WithFields(logrus.Fields{
			"kind": kind,
			"pair": pair.Key(),
			"last": last,
		}).Debug("[Indexer] following page cursor")
		from = last
	}
	return fmt.Errorf("indexer returned more than %d pages", maxIndexerPages)
}

// rawString accepts a JSON string, number or null.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func rawInt(raw json.RawMessage) int64 {
	v, _ := strconv.ParseInt(rawString(raw), 10, 64)
	return v
}

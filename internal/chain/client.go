package chain

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

// Dial connects to the first reachable endpoint.
func Dial(ctx context.Context, endpoints []string, logger *logrus.Entry) (*ethclient.Client, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no RPC endpoints configured")
	}
	var lastErr error
	for _, endpoint := range endpoints {
		client, err := ethclient.DialContext(ctx, endpoint)
		if err != nil {
			lastErr = err
			logger.Warnf("[Chain] failed to dial %s: %v", endpoint, err)
			continue
		}
		if _, err := client.ChainID(ctx); err != nil {
			client.Close()
			lastErr = err
			logger.Warnf("[Chain] endpoint %s not responding: %v", endpoint, err)
			continue
		}
		logger.Infof("[Chain] connected to %s", endpoint)
		return client, nil
	}
	return nil, fmt.Errorf("all RPC endpoints failed: %w", lastErr)
}

package clients

import (
	"encoding/json"
	"fmt"
	"time"

	"privpool-backend/internal/config"
	"privpool-backend/internal/metrics"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// NATSClient NATS publisher
type NATSClient struct {
	conn   *nats.Conn
	logger *logrus.Entry
}

// NewNATSClient connects to NATS with the configured timeouts.
func NewNATSClient(cfg config.NATSConfig, logger *logrus.Entry) (*NATSClient, error) {
	connectTimeout := 10 * time.Second
	if cfg.Timeout > 0 {
		connectTimeout = time.Duration(cfg.Timeout) * time.Second
	}
	reconnectWait := 5 * time.Second
	if cfg.ReconnectWait > 0 {
		reconnectWait = time.Duration(cfg.ReconnectWait) * time.Second
	}
	maxReconnects := -1
	if cfg.MaxReconnects > 0 {
		maxReconnects = cfg.MaxReconnects
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("privpool-backend"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.WithError(err).Warn("[NATS] disconnected")
			metrics.NATSConnectionStatus.Set(0)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("[NATS] reconnected")
			metrics.NATSConnectionStatus.Set(1)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	metrics.NATSConnectionStatus.Set(1)

	return &NATSClient{conn: conn, logger: logger}, nil
}

// PublishJSON marshals v and publishes it on subject.
func (c *NATSClient) PublishJSON(subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := c.conn.Publish(subject, data); err != nil {
		metrics.NATSMessagesPublished.WithLabelValues(subject, "error").Inc()
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	metrics.NATSMessagesPublished.WithLabelValues(subject, "ok").Inc()
	return nil
}

// Close drains and closes the connection.
func (c *NATSClient) Close() {
	if c == nil || c.conn == nil {
		return
	}
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
	}
	metrics.NATSConnectionStatus.Set(0)
}

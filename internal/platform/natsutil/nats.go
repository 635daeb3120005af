package natsutil

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/orderbus/project/internal/messaging"
	"go.uber.org/zap"
)

type Client struct {
	Conn *nats.Conn
	JS   nats.JetStreamContext
}

func ConnectJetStream(url string, logger *zap.Logger) (*Client, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, err
	}
	js, err := conn.JetStream(nats.PublishAsyncErrHandler(publishErrHandler(logger)))
	if err != nil {
		_ = conn.Drain()
		conn.Close()
		return nil, err
	}
	if err := messaging.EnsureStreams(js); err != nil {
		_ = conn.Drain()
		conn.Close()
		return nil, err
	}
	return &Client{Conn: conn, JS: js}, nil
}

// publishErrHandler logs async publishes JetStream rejected or never acked.
// Those events are missing from the projection until the order changes again.
func publishErrHandler(logger *zap.Logger) nats.MsgErrHandler {
	return func(_ nats.JetStream, msg *nats.Msg, err error) {
		subject := ""
		if msg != nil {
			subject = msg.Subject
		}
		logger.Error("jetstream publish failed", zap.String("subject", subject), zap.Error(err))
	}
}

func ConnectJetStreamWithRetry(url string, timeout time.Duration, logger *zap.Logger) (*Client, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := ConnectJetStream(url, logger)
		if err == nil {
			return client, nil
		}
		lastErr = err
		time.Sleep(500 * time.Millisecond)
	}
	return nil, fmt.Errorf("connect jetstream timeout after %s: %w", timeout, lastErr)
}

func (c *Client) Close() {
	if c == nil || c.Conn == nil {
		return
	}
	_ = c.Conn.Drain()
	c.Conn.Close()
}

// Connected reports whether the underlying connection is usable.
func (c *Client) Connected() bool {
	return c != nil && c.Conn != nil && c.Conn.Status() == nats.CONNECTED
}

type JetStreamPublisher struct {
	JS nats.JetStreamContext
}

// Publish is asynchronous; the relay never waits for a JetStream ack on the
// fan-out path. Failed acks are reported through publishErrHandler.
func (p JetStreamPublisher) Publish(subject string, payload []byte) error {
	_, err := p.JS.PublishAsync(subject, payload)
	return err
}

// Package natsbus adapts the teacher corpus's NATS client wrapper
// (go-server/pkg/nats/client.go) to this system's single control-plane use:
// a remote-triggerable "reset" signal, equivalent to the admin reset signal
// of spec.md §4.G but deliverable across a process boundary. It carries no
// store data — data replication over NATS is explicitly out of scope.
package natsbus

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Config mirrors the teacher's nats.Config shape, trimmed to what this
// system's single long-lived connection needs.
type Config struct {
	URL             string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectJitter time.Duration
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = 10
	}
	if c.ReconnectWait == 0 {
		c.ReconnectWait = time.Second
	}
	return c
}

// Client wraps a NATS connection used only for the admin reset control
// plane (internal/admin subscribes on ResetSubject; an operator or a
// fleet-wide controller publishes to it).
type Client struct {
	conn   *nats.Conn
	logger *zap.Logger
}

// ResetSubject is the subject an operator publishes an empty message to in
// order to trigger this process's admin reset (spec.md §4.G), without
// needing local signal delivery (e.g. from a container orchestrator that
// can't send SIGHUP directly).
const ResetSubject = "kvsd.admin.reset"

// Connect dials the NATS server. A connection failure here is non-fatal to
// the server as a whole — the admin reset signal handler (local SIGHUP)
// still works without NATS — so callers should log and continue rather
// than treat this as a startup failure.
func Connect(cfg Config, logger *zap.Logger) (*Client, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{logger: logger}
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(cfg.ReconnectJitter, cfg.ReconnectJitter),
		nats.DisconnectErrHandler(c.disconnectHandler),
		nats.ReconnectHandler(c.reconnectHandler),
		nats.ErrorHandler(c.errorHandler),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("natsbus: connect: %w", err)
	}
	c.conn = conn
	return c, nil
}

func (c *Client) disconnectHandler(_ *nats.Conn, err error) {
	if err != nil {
		c.logger.Warn("nats disconnected", zap.Error(err))
	}
}

func (c *Client) reconnectHandler(conn *nats.Conn) {
	c.logger.Info("nats reconnected", zap.String("url", conn.ConnectedUrl()))
}

func (c *Client) errorHandler(_ *nats.Conn, sub *nats.Subscription, err error) {
	subject := ""
	if sub != nil {
		subject = sub.Subject
	}
	c.logger.Error("nats error", zap.String("subject", subject), zap.Error(err))
}

// SubscribeReset registers handler to fire on every message published to
// ResetSubject. Returns the subscription so the caller can unsubscribe on
// shutdown.
func (c *Client) SubscribeReset(handler func()) (*nats.Subscription, error) {
	return c.conn.Subscribe(ResetSubject, func(*nats.Msg) {
		handler()
	})
}

// PublishReset lets an in-process caller (or a test) trigger the same
// reset remote operators would via ResetSubject.
func (c *Client) PublishReset() error {
	return c.conn.Publish(ResetSubject, nil)
}

// Close closes the connection without draining pending messages.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// Package messaging fans conversation events out over NATS so other local
// processes (notifiers, dashboards, bots) can follow a session without
// holding their own realtime channel.
package messaging

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/homefix/messenger/internal/logger"
)

// NATS subject layout: messenger.<user_id>.<kind>.
const (
	SubjectPrefix   = "messenger"
	KindMessages    = "messages" // MessageEvent
	KindContacts    = "contacts" // ContactsEvent
	KindNotices     = "notices"  // NoticeEvent
	subjectWildcard = "*"
)

// Subject returns the subject carrying kind events for userID.
func Subject(userID, kind string) string {
	return SubjectPrefix + "." + userID + "." + kind
}

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	log  *zap.SugaredLogger
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "homefix-messenger",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewNATSClient connects to NATS with the given config. It returns an error
// if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	log := logger.Named("nats")
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnw("disconnected", "err", err)
			} else {
				log.Info("disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infow("reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info("connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("messaging: nats connect: %w", err)
	}
	log.Infow("connected", "url", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		log:  log,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Flush waits until the server has processed everything published so far.
func (c *NATSClient) Flush() error {
	return c.conn.Flush()
}

// Subscribe registers a handler for subject under key, replacing any
// earlier subscription with the same key.
func (c *NATSClient) Subscribe(key, subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("messaging: nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	old := c.subs[key]
	c.subs[key] = sub
	c.mu.Unlock()

	if old != nil {
		_ = old.Unsubscribe()
	}
	return nil
}

// SubscribeMessages delivers every message appended to userID's view. An
// empty userID follows all users.
func (c *NATSClient) SubscribeMessages(userID string, handler func(MessageEvent)) error {
	if userID == "" {
		userID = subjectWildcard
	}
	subject := Subject(userID, KindMessages)
	return c.Subscribe("messages:"+userID, subject, func(msg *nats.Msg) {
		var ev MessageEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			c.log.Warnw("dropping malformed message event", "subject", msg.Subject, "err", err)
			return
		}
		handler(ev)
	})
}

// UnsubscribeMessages removes the subscription made by SubscribeMessages.
func (c *NATSClient) UnsubscribeMessages(userID string) error {
	if userID == "" {
		userID = subjectWildcard
	}
	return c.unsubscribe("messages:" + userID)
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.log.Warnw("drain subscription", "key", key, "err", err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		c.log.Warnw("connection drain", "err", err)
	}
	c.log.Info("client closed")
}

// unsubscribe removes and unsubscribes the subscription stored under key.
func (c *NATSClient) unsubscribe(key string) error {
	c.mu.Lock()
	sub, ok := c.subs[key]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("messaging: no subscription for %s", key)
	}
	delete(c.subs, key)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("messaging: nats unsubscribe %s: %w", key, err)
	}
	return nil
}

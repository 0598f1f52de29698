// Package events publishes a record of every routed chat request on NATS so
// downstream consumers (analytics, audit) can follow traffic without sitting
// on the request path.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is the subject root for route events. The source type
// is appended, e.g. "storechat.route.order".
const DefaultSubjectPrefix = "storechat.route"

// RouteEvent describes how one chat request was resolved. It never carries
// message text.
type RouteEvent struct {
	ConversationID     string    `json:"conversation_id,omitempty"`
	RequestID          string    `json:"request_id,omitempty"`
	Intent             string    `json:"intent"`
	SourceType         string    `json:"source_type"`
	State              string    `json:"state"`
	Outcome            string    `json:"outcome"`
	RequiresCustomerID bool      `json:"requires_customer_id"`
	HasCustomerID      bool      `json:"has_customer_id"`
	DurationMs         int64     `json:"duration_ms"`
	Timestamp          time.Time `json:"timestamp"`
}

// Publisher emits route events.
type Publisher interface {
	PublishRoute(ctx context.Context, ev RouteEvent) error
}

// Nop discards every event.
type Nop struct{}

// PublishRoute implements Publisher.
func (Nop) PublishRoute(context.Context, RouteEvent) error { return nil }

// Conn is the subset of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes route events as JSON on core NATS.
type NATSPublisher struct {
	conn   Conn
	prefix string
}

// NewNATSPublisher publishes on conn under prefix (DefaultSubjectPrefix if empty).
func NewNATSPublisher(conn Conn, prefix string) *NATSPublisher {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{conn: conn, prefix: prefix}
}

// Subject returns the subject an event with sourceType is published on.
func (p *NATSPublisher) Subject(sourceType string) string {
	if sourceType == "" {
		sourceType = "unknown"
	}
	return p.prefix + "." + sourceType
}

// PublishRoute implements Publisher. NATS publish does not block on the
// network, so ctx is only checked up front.
func (p *NATSPublisher) PublishRoute(ctx context.Context, ev RouteEvent) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal route event: %w", err)
	}
	if err := p.conn.Publish(p.Subject(ev.SourceType), data); err != nil {
		return fmt.Errorf("publish route event: %w", err)
	}
	return nil
}

// Connect dials NATS with reconnect handling suited to a long-lived service.
func Connect(url, name string, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

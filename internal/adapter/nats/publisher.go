package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/neomorfeo/tenantplane/internal/domain"
)

const (
	// StreamName is the JetStream stream holding tenant lifecycle events.
	StreamName = "TENANT_EVENTS"

	streamSubjects = "tenant.>"
)

// Message is the JSON payload of a tenant lifecycle event on the bus.
type Message struct {
	Event      string    `json:"event"`
	TenantID   string    `json:"tenant_id"`
	Subdomain  string    `json:"subdomain"`
	Database   string    `json:"database,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Attempt    int       `json:"attempt,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewMessage flattens a domain event.
func NewMessage(event domain.Event) Message {
	msg := Message{
		Event:      event.Name(),
		TenantID:   event.Tenant().String(),
		OccurredAt: event.At().UTC(),
	}
	switch e := event.(type) {
	case domain.TenantCreated:
		msg.Subdomain, msg.Database, msg.Attempt = e.Subdomain, e.Database, e.Attempt
	case domain.TenantProvisioned:
		msg.Subdomain, msg.Database, msg.Attempt = e.Subdomain, e.Database, e.Attempt
	case domain.TenantProvisioningFailed:
		msg.Subdomain, msg.Reason, msg.Attempt = e.Subdomain, e.Reason, e.Attempt
	case domain.TenantSuspended:
		msg.Subdomain, msg.Reason = e.Subdomain, e.Reason
	case domain.TenantReactivated:
		msg.Subdomain = e.Subdomain
	}
	return msg
}

// MsgID identifies one occurrence of an event. JetStream drops a republished message with
// the same id inside the stream's duplicate window.
func (m Message) MsgID() string {
	return m.Event + ":" + m.TenantID + ":" + strconv.FormatInt(m.OccurredAt.UnixNano(), 10)
}

// Config holds NATS connection settings.
type Config struct {
	URL  string
	Name string
}

// Publisher relays domain events to JetStream. The subject is the event name.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

var _ domain.EventPublisher = (*Publisher)(nil)

// Connect dials NATS and makes sure the tenant event stream exists.
func Connect(cfg Config) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating jetstream context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:        StreamName,
		Description: "Tenant lifecycle events",
		Subjects:    []string{streamSubjects},
		Storage:     nats.FileStorage,
		Retention:   nats.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		Duplicates:  10 * time.Minute,
		Discard:     nats.DiscardOld,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		conn.Close()
		return nil, fmt.Errorf("creating stream %s: %w", StreamName, err)
	}

	return &Publisher{conn: conn, js: js}, nil
}

// Publish sends event and waits for the stream acknowledgement.
func (p *Publisher) Publish(ctx context.Context, event domain.Event) error {
	msg := NewMessage(event)
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", msg.Event, err)
	}

	ack, err := p.js.Publish(msg.Event, data, nats.MsgId(msg.MsgID()), nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("publishing %s: %w", msg.Event, err)
	}
	if ack.Duplicate {
		slog.DebugContext(ctx, "duplicate event dropped by stream", "event", msg.Event, "tenant_id", msg.TenantID)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (p *Publisher) Close() error {
	return p.conn.Drain()
}

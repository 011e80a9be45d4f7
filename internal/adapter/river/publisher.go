package river

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/riverqueue/river"

	"github.com/neomorfeo/tenantplane/internal/adapter/sqlite"
	"github.com/neomorfeo/tenantplane/internal/domain"
)

var (
	_ domain.EventPublisher = (*Publisher)(nil)
	_ sqlite.Outbox         = (*Publisher)(nil)
)

// EventJobArgs carries one domain event through the queue. River stores it as JSON in
// the registry database. Inserted through EnqueueTx it commits together with the tenant
// row, so the queue acts as a transactional outbox for the relay to the bus.
type EventJobArgs struct {
	Event      string    `json:"event"`
	TenantID   string    `json:"tenant_id"`
	Subdomain  string    `json:"subdomain"`
	Database   string    `json:"database,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Attempt    int       `json:"attempt,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Kind returns the unique job type identifier used by River's job routing.
func (EventJobArgs) Kind() string { return "tenant.event" }

// NewEventJobArgs flattens a domain event into job args.
func NewEventJobArgs(event domain.Event) EventJobArgs {
	args := EventJobArgs{
		Event:      event.Name(),
		TenantID:   event.Tenant().String(),
		OccurredAt: event.At(),
	}
	switch e := event.(type) {
	case domain.TenantCreated:
		args.Subdomain, args.Database, args.Attempt = e.Subdomain, e.Database, e.Attempt
	case domain.TenantProvisioned:
		args.Subdomain, args.Database, args.Attempt = e.Subdomain, e.Database, e.Attempt
	case domain.TenantProvisioningFailed:
		args.Subdomain, args.Reason, args.Attempt = e.Subdomain, e.Reason, e.Attempt
	case domain.TenantSuspended:
		args.Subdomain, args.Reason = e.Subdomain, e.Reason
	case domain.TenantReactivated:
		args.Subdomain = e.Subdomain
	}
	return args
}

// ToDomain rebuilds the domain event carried by the job.
func (a EventJobArgs) ToDomain() (domain.Event, error) {
	id, err := domain.ParseTenantID(a.TenantID)
	if err != nil {
		return nil, err
	}

	switch a.Event {
	case domain.EventNameTenantCreated:
		return domain.TenantCreated{TenantID: id, Subdomain: a.Subdomain, Database: a.Database, Attempt: a.Attempt, OccurredAt: a.OccurredAt}, nil
	case domain.EventNameTenantProvisioned:
		return domain.TenantProvisioned{TenantID: id, Subdomain: a.Subdomain, Database: a.Database, Attempt: a.Attempt, OccurredAt: a.OccurredAt}, nil
	case domain.EventNameTenantProvisioningFailed:
		return domain.TenantProvisioningFailed{TenantID: id, Subdomain: a.Subdomain, Reason: a.Reason, Attempt: a.Attempt, OccurredAt: a.OccurredAt}, nil
	case domain.EventNameTenantSuspended:
		return domain.TenantSuspended{TenantID: id, Subdomain: a.Subdomain, Reason: a.Reason, OccurredAt: a.OccurredAt}, nil
	case domain.EventNameTenantReactivated:
		return domain.TenantReactivated{TenantID: id, Subdomain: a.Subdomain, OccurredAt: a.OccurredAt}, nil
	default:
		return nil, fmt.Errorf("unknown event %q", a.Event)
	}
}

// Client is the River client type parameterized for SQLite (*sql.Tx).
type Client = river.Client[*sql.Tx]

// Publisher implements domain.EventPublisher by enqueuing River jobs.
type Publisher struct {
	client *Client
}

// NewPublisher creates a publisher backed by the given River client.
func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client}
}

// Publish enqueues a domain event as an async job in River.
func (p *Publisher) Publish(ctx context.Context, event domain.Event) error {
	_, err := p.client.Insert(ctx, NewEventJobArgs(event), nil)
	if err != nil {
		return fmt.Errorf("enqueuing event job: %w", err)
	}
	return nil
}

// EnqueueTx inserts one event job per event inside tx. The registry calls it while the
// tenant write is still uncommitted.
func (p *Publisher) EnqueueTx(ctx context.Context, tx *sql.Tx, events []domain.Event) error {
	params := make([]river.InsertManyParams, 0, len(events))
	for _, event := range events {
		params = append(params, river.InsertManyParams{Args: NewEventJobArgs(event)})
	}
	if _, err := p.client.InsertManyTx(ctx, tx, params); err != nil {
		return fmt.Errorf("enqueuing event jobs: %w", err)
	}
	return nil
}

package river

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riversqlite"
	"github.com/riverqueue/river/rivermigrate"

	"github.com/neomorfeo/tenantplane/internal/domain"
)

// Config tunes the queue.
type Config struct {
	// ProvisionWorkers bounds how many tenants provision in parallel. Defaults to 4.
	ProvisionWorkers int
	// Relay receives every event job. Nil means events are only logged.
	Relay domain.EventPublisher
}

// Queue bundles the River client with the worker that needs late binding.
type Queue struct {
	Client    *Client
	provision *ProvisionWorker
}

// BindProvisioner sets the workflow run by provisioning jobs.
func (q *Queue) BindProvisioner(p Provisioner) {
	q.provision.Bind(p)
}

// Setup creates a River client with the event and provisioning workers registered and
// runs River's internal migrations. The caller must call Client.Start() to begin
// processing jobs and Client.Stop() for graceful shutdown.
func Setup(ctx context.Context, db *sql.DB, cfg Config) (*Queue, error) {
	driver := riversqlite.New(db)

	// Run River's own migrations (creates river_job, river_leader, etc.).
	// These are separate from the app's goose migrations.
	migrator, err := rivermigrate.New(driver, nil)
	if err != nil {
		return nil, fmt.Errorf("creating river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return nil, fmt.Errorf("running river migrations: %w", err)
	}

	if cfg.ProvisionWorkers <= 0 {
		cfg.ProvisionWorkers = 4
	}

	provision := &ProvisionWorker{}
	workers := river.NewWorkers()
	river.AddWorker(workers, &EventWorker{relay: cfg.Relay})
	river.AddWorker(workers, provision)

	client, err := river.NewClient(driver, &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 2},
			QueueProvisioning:  {MaxWorkers: cfg.ProvisionWorkers},
		},
		Workers: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("creating river client: %w", err)
	}

	return &Queue{Client: client, provision: provision}, nil
}

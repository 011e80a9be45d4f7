package app_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/neomorfeo/tenantplane/internal/adapter/sqlite"
	"github.com/neomorfeo/tenantplane/internal/app"
	"github.com/neomorfeo/tenantplane/internal/domain"
)

func TestProvision_Success(t *testing.T) {
	f := newProvisionFixture()
	tenant := seedTenant(t, f.repo, "acme", domain.StatusPending)

	got, err := f.provisioner().Provision(context.Background(), tenant.ID)
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}

	if got.Status != domain.StatusActive {
		t.Errorf("Status = %q, want %q", got.Status, domain.StatusActive)
	}
	if got.ProvisionedAt == nil {
		t.Error("ProvisionedAt should be set")
	}
	if f.repo.status(t, tenant.ID) != domain.StatusActive {
		t.Error("active status was not persisted")
	}

	if !slices.Equal(f.databases.created, []string{tenant.Database.String()}) {
		t.Errorf("created databases = %v", f.databases.created)
	}
	if f.migrations.calls != 1 {
		t.Errorf("migrations ran %d times, want 1", f.migrations.calls)
	}
	if f.seeder.scope.SearchPrefix != "tenant_acme_" {
		t.Errorf("seeder scope prefix = %q, want %q", f.seeder.scope.SearchPrefix, "tenant_acme_")
	}

	want := []string{"tenant_acme_campaigns", "tenant_acme_donations", "tenant_acme_donors"}
	if !slices.Equal(f.engine.created, want) {
		t.Errorf("created indexes = %v, want %v", f.engine.created, want)
	}
	if !slices.Equal(f.publisher.names(), []string{domain.EventNameTenantProvisioned}) {
		t.Errorf("published = %v", f.publisher.names())
	}
}

func TestProvision_SecondIndexFails(t *testing.T) {
	f := newProvisionFixture()
	f.engine.failCreate = "_donations"
	tenant := seedTenant(t, f.repo, "acme", domain.StatusPending)

	got, err := f.provisioner().Provision(context.Background(), tenant.ID)

	var provErr *domain.ProvisioningError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected ProvisioningError, got %v", err)
	}
	if provErr.Step != domain.StepIndexing {
		t.Errorf("Step = %q, want %q", provErr.Step, domain.StepIndexing)
	}

	if got.Status != domain.StatusFailed {
		t.Errorf("Status = %q, want %q", got.Status, domain.StatusFailed)
	}
	if !strings.HasPrefix(got.ProvisioningError, "search index creation failed") {
		t.Errorf("ProvisioningError = %q, want the step named", got.ProvisioningError)
	}
	if f.repo.status(t, tenant.ID) != domain.StatusFailed {
		t.Error("failed status was not persisted")
	}

	if len(f.engine.created) != 1 {
		t.Fatalf("successful CreateIndex calls = %d, want 1", len(f.engine.created))
	}
	if !slices.Equal(f.engine.deleted, []string{"tenant_acme_campaigns"}) {
		t.Errorf("cleanup deleted %v, want only the created index", f.engine.deleted)
	}
	if !slices.Equal(f.databases.dropped, []string{tenant.Database.String()}) {
		t.Errorf("cleanup dropped %v, want the tenant database", f.databases.dropped)
	}
	if !slices.Equal(f.publisher.names(), []string{domain.EventNameTenantProvisioningFailed}) {
		t.Errorf("published = %v", f.publisher.names())
	}
}

func TestProvision_StepFailures(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(f *provisionFixture)
		wantStep    domain.Step
		wantPrefix  string
		wantDropped bool
	}{
		{
			name:       "database creation",
			setup:      func(f *provisionFixture) { f.databases.createErr = errors.New("permission denied") },
			wantStep:   domain.StepDatabase,
			wantPrefix: "database creation failed: permission denied",
		},
		{
			name:        "migration",
			setup:       func(f *provisionFixture) { f.migrations.err = errors.New("syntax error") },
			wantStep:    domain.StepMigration,
			wantPrefix:  "migration failed: syntax error",
			wantDropped: true,
		},
		{
			name:        "seeding",
			setup:       func(f *provisionFixture) { f.seeder.err = errors.New("duplicate key") },
			wantStep:    domain.StepSeeding,
			wantPrefix:  "seeding failed: duplicate key",
			wantDropped: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newProvisionFixture()
			tt.setup(f)
			tenant := seedTenant(t, f.repo, "acme", domain.StatusPending)

			got, err := f.provisioner().Provision(context.Background(), tenant.ID)
			var provErr *domain.ProvisioningError
			if !errors.As(err, &provErr) || provErr.Step != tt.wantStep {
				t.Fatalf("error = %v, want ProvisioningError at %q", err, tt.wantStep)
			}
			if got.ProvisioningError != tt.wantPrefix {
				t.Errorf("ProvisioningError = %q, want %q", got.ProvisioningError, tt.wantPrefix)
			}
			if dropped := len(f.databases.dropped) > 0; dropped != tt.wantDropped {
				t.Errorf("database dropped = %v, want %v", dropped, tt.wantDropped)
			}
			if len(f.engine.created) != 0 {
				t.Errorf("no index should exist, got %v", f.engine.created)
			}
		})
	}
}

func TestProvision_CleanupFailureKeepsOutcome(t *testing.T) {
	f := newProvisionFixture()
	f.migrations.err = errors.New("syntax error")
	f.databases.dropErr = errors.New("database is being accessed by other users")
	tenant := seedTenant(t, f.repo, "acme", domain.StatusPending)

	got, err := f.provisioner().Provision(context.Background(), tenant.ID)

	var provErr *domain.ProvisioningError
	if !errors.As(err, &provErr) || provErr.Step != domain.StepMigration {
		t.Fatalf("error = %v, want the migration failure", err)
	}
	if strings.Contains(err.Error(), "accessed by other users") {
		t.Error("cleanup failure must not leak into the returned error")
	}
	if got.Status != domain.StatusFailed {
		t.Errorf("Status = %q, want %q", got.Status, domain.StatusFailed)
	}
}

func TestProvision_RequiresPending(t *testing.T) {
	for _, status := range []domain.Status{domain.StatusActive, domain.StatusFailed, domain.StatusSuspended} {
		t.Run(string(status), func(t *testing.T) {
			f := newProvisionFixture()
			tenant := seedTenant(t, f.repo, "acme", status)

			_, err := f.provisioner().Provision(context.Background(), tenant.ID)
			if !errors.Is(err, domain.ErrInvalidStatusTransition) {
				t.Fatalf("expected ErrInvalidStatusTransition, got %v", err)
			}
			if f.repo.status(t, tenant.ID) != status {
				t.Errorf("stored status changed from %q", status)
			}
			if len(f.databases.created) != 0 {
				t.Error("no resources should be created")
			}
		})
	}
}

func TestProvision_NotFound(t *testing.T) {
	f := newProvisionFixture()
	id, _ := domain.NewTenantID()

	if _, err := f.provisioner().Provision(context.Background(), id); !errors.Is(err, domain.ErrTenantNotFound) {
		t.Errorf("expected ErrTenantNotFound, got %v", err)
	}
}

func TestProvision_ConcurrentWorkflowsHaveOneWinner(t *testing.T) {
	f := newProvisionFixture()
	tenant := seedTenant(t, f.repo, "acme", domain.StatusPending)
	p := f.provisioner()

	const workers = 4
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	start := make(chan struct{})
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := p.Provision(context.Background(), tenant.ID)
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	var successes int
	for err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, domain.ErrInvalidStatusTransition):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if successes != 1 {
		t.Errorf("successes = %d, want 1", successes)
	}
	if len(f.databases.created) != 1 {
		t.Errorf("databases created = %d, want 1", len(f.databases.created))
	}
	if f.repo.status(t, tenant.ID) != domain.StatusActive {
		t.Errorf("final status = %q, want active", f.repo.status(t, tenant.ID))
	}
}

func TestProvision_PublishFailureIsNotFatal(t *testing.T) {
	f := newProvisionFixture()
	f.publisher.err = errors.New("bus down")
	tenant := seedTenant(t, f.repo, "acme", domain.StatusPending)

	got, err := f.provisioner().Provision(context.Background(), tenant.ID)
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if got.Status != domain.StatusActive {
		t.Errorf("Status = %q, want %q", got.Status, domain.StatusActive)
	}
}

func TestProvision_ImportsExistingRecords(t *testing.T) {
	f := newProvisionFixture()
	f.records.byKind[app.KindDonors] = []map[string]any{
		{"id": "d1", "name": "Grace"},
		{"id": "d2", "name": "Alan"},
	}
	tenant := seedTenant(t, f.repo, "acme", domain.StatusPending)

	if _, err := f.provisioner().Provision(context.Background(), tenant.ID); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if got := f.engine.docs("tenant_acme_donors"); got != 2 {
		t.Errorf("tenant_acme_donors holds %d documents after provisioning, want 2", got)
	}
	if got := f.engine.docs("tenant_acme_campaigns"); got != 0 {
		t.Errorf("tenant_acme_campaigns holds %d documents, want 0", got)
	}
}

func TestProvision_ImportFailureCleansUp(t *testing.T) {
	f := newProvisionFixture()
	f.records.byKind[app.KindDonors] = []map[string]any{{"id": "d1"}}
	f.engine.failImport = "_donors"
	tenant := seedTenant(t, f.repo, "acme", domain.StatusPending)

	got, err := f.provisioner().Provision(context.Background(), tenant.ID)
	var provErr *domain.ProvisioningError
	if !errors.As(err, &provErr) || provErr.Step != domain.StepIndexing {
		t.Fatalf("error = %v, want ProvisioningError at %q", err, domain.StepIndexing)
	}
	if got.Status != domain.StatusFailed {
		t.Errorf("Status = %q, want failed", got.Status)
	}
	want := []string{"tenant_acme_campaigns", "tenant_acme_donations", "tenant_acme_donors"}
	if !slices.Equal(f.engine.deleted, want) {
		t.Errorf("deleted = %v, want %v", f.engine.deleted, want)
	}
}

// sqliteProvisionFixture provisions against a real registry, where a cancelled context
// makes every write fail.
func sqliteProvisionFixture(t *testing.T) (*provisionFixture, *sqlite.TenantRepository, *domain.Tenant) {
	t.Helper()

	repo, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	id, _ := domain.NewTenantID()
	d, _ := domain.NewTenantDomain("acme", "example.com")
	tenant := domain.NewTenant(id, d, domain.AdminBootstrap{Name: "Ada", Email: "ada@acme.test"})
	tenant.PullEvents()
	if err := repo.Create(context.Background(), tenant); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return newProvisionFixture(), repo, tenant
}

func TestProvision_RecordsOutcomeAfterCancellation(t *testing.T) {
	t.Run("failing step", func(t *testing.T) {
		f, repo, tenant := sqliteProvisionFixture(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		f.migrations.during = func(ctx context.Context) error {
			cancel()
			return ctx.Err()
		}

		p := app.NewProvisioner(repo, f.publisher, f.databases, f.migrations, f.seeder, f.indexes)
		_, err := p.Provision(ctx, tenant.ID)
		var provErr *domain.ProvisioningError
		if !errors.As(err, &provErr) || provErr.Step != domain.StepMigration {
			t.Fatalf("error = %v, want the migration failure", err)
		}
		if strings.Contains(err.Error(), "recording failure") {
			t.Errorf("failure was not recorded: %v", err)
		}

		stored, err := repo.GetByID(context.Background(), tenant.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if stored.Status != domain.StatusFailed {
			t.Errorf("stored status = %q, want failed", stored.Status)
		}
		if !strings.Contains(stored.ProvisioningError, "context canceled") {
			t.Errorf("stored error = %q, want the cancellation recorded", stored.ProvisioningError)
		}
		if !slices.Equal(f.databases.dropped, []string{tenant.Database.String()}) {
			t.Errorf("dropped = %v, cleanup should still run", f.databases.dropped)
		}
	})

	t.Run("steps finished", func(t *testing.T) {
		f, repo, tenant := sqliteProvisionFixture(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		f.migrations.during = func(context.Context) error {
			cancel()
			return nil
		}

		p := app.NewProvisioner(repo, f.publisher, f.databases, f.migrations, f.seeder, f.indexes)
		if _, err := p.Provision(ctx, tenant.ID); err != nil {
			t.Fatalf("Provision: %v", err)
		}

		stored, _ := repo.GetByID(context.Background(), tenant.ID)
		if stored.Status != domain.StatusActive {
			t.Errorf("stored status = %q, want active", stored.Status)
		}
	})
}

func TestProvision_KeepsFeatureSetDuringProvisioning(t *testing.T) {
	f := newServiceFixture()
	tenant := seedTenant(t, f.repo, "acme", domain.StatusPending)
	f.migrations.during = func(ctx context.Context) error {
		_, err := f.svc.SetFeature(ctx, tenant.ID.String(), "gift_aid", true)
		return err
	}

	got, err := f.provisioner().Provision(context.Background(), tenant.ID)
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if !got.HasFeature("gift_aid") {
		t.Error("returned tenant lost the feature")
	}

	stored, _ := f.repo.GetByID(context.Background(), tenant.ID)
	if stored.Status != domain.StatusActive {
		t.Errorf("stored status = %q, want active", stored.Status)
	}
	if !stored.HasFeature("gift_aid") {
		t.Error("activation overwrote the feature enabled while provisioning")
	}
}

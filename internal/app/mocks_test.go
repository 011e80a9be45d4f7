package app_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/neomorfeo/tenantplane/internal/app"
	"github.com/neomorfeo/tenantplane/internal/domain"
)

// --- Registry ---

// mockRepo stores clones so callers never share a tenant with the store, like a real
// registry. Update is a compare-and-set on status and version.
type mockRepo struct {
	mu      sync.Mutex
	tenants map[domain.TenantID]*domain.Tenant
}

func newMockRepo() *mockRepo {
	return &mockRepo{tenants: make(map[domain.TenantID]*domain.Tenant)}
}

func (m *mockRepo) Create(_ context.Context, t *domain.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.tenants {
		if existing.Domain.Subdomain() == t.Domain.Subdomain() {
			return &domain.SubdomainConflictError{Subdomain: t.Domain.Subdomain()}
		}
	}
	m.tenants[t.ID] = t.Clone()
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id domain.TenantID) (*domain.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, domain.ErrTenantNotFound
	}
	return t.Clone(), nil
}

func (m *mockRepo) GetBySubdomain(_ context.Context, subdomain string) (*domain.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tenants {
		if t.Domain.Subdomain() == subdomain {
			return t.Clone(), nil
		}
	}
	return nil, domain.ErrTenantNotFound
}

func (m *mockRepo) List(_ context.Context, filter domain.ListFilter) ([]*domain.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Tenant, 0, len(m.tenants))
	for _, t := range m.tenants {
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		out = append(out, t.Clone())
	}
	return out, nil
}

func (m *mockRepo) Update(_ context.Context, t *domain.Tenant, expected domain.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.tenants[t.ID]
	if !ok {
		return domain.ErrTenantNotFound
	}
	if stored.Status != expected || stored.Version != t.Version {
		return domain.ErrStatusConflict
	}
	t.SetVersion(stored.Version + 1)
	m.tenants[t.ID] = t.Clone()
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id domain.TenantID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[id]; !ok {
		return domain.ErrTenantNotFound
	}
	delete(m.tenants, id)
	return nil
}

func (m *mockRepo) status(t *testing.T, id domain.TenantID) domain.Status {
	t.Helper()
	stored, err := m.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("tenant %s not in repo: %v", id, err)
	}
	return stored.Status
}

// --- Events and scheduling ---

type mockPublisher struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (m *mockPublisher) Publish(_ context.Context, e domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, e)
	return nil
}

func (m *mockPublisher) names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Name())
	}
	return out
}

type mockScheduler struct {
	mu        sync.Mutex
	scheduled []domain.TenantID
	err       error
}

func (m *mockScheduler) ScheduleProvisioning(_ context.Context, id domain.TenantID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.scheduled = append(m.scheduled, id)
	return nil
}

// --- Tenant resources ---

type fakeDatabases struct {
	mu        sync.Mutex
	created   []string
	dropped   []string
	createErr error
	dropErr   error
	onDrop    func()
}

func (f *fakeDatabases) CreateDatabase(_ context.Context, db domain.TenantDatabase) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, db.String())
	return nil
}

func (f *fakeDatabases) DropDatabase(_ context.Context, db domain.TenantDatabase) error {
	if f.onDrop != nil {
		f.onDrop()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dropErr != nil {
		return f.dropErr
	}
	f.dropped = append(f.dropped, db.String())
	return nil
}

// fakeMigrations runs during, when set, in place of a real migration.
type fakeMigrations struct {
	err    error
	calls  int
	during func(ctx context.Context) error
}

func (f *fakeMigrations) RunMigrations(ctx context.Context, _ domain.TenantDatabase) error {
	f.calls++
	if f.during != nil {
		if err := f.during(ctx); err != nil {
			return err
		}
	}
	return f.err
}

// fakeSeeder records the scope it ran in.
type fakeSeeder struct {
	err   error
	scope domain.Scope
}

func (f *fakeSeeder) SeedBaseline(ctx context.Context, db domain.TenantDatabase) error {
	scope, err := domain.RequireScope(ctx)
	if err != nil {
		return err
	}
	if scope.Database != db {
		return errors.New("seeding outside the tenant scope")
	}
	f.scope = scope
	return f.err
}

// fakeEngine is an in-memory search engine. failCreate makes CreateIndex fail for index
// names ending with the given suffix.
type fakeEngine struct {
	mu         sync.Mutex
	indexes    map[string][]map[string]any
	created    []string
	deleted    []string
	failCreate string
	failDelete string
	failStats  string
	failImport string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{indexes: make(map[string][]map[string]any)}
}

func (f *fakeEngine) CreateIndex(_ context.Context, name string, _ domain.IndexSettings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate != "" && strings.HasSuffix(name, f.failCreate) {
		return errors.New("search engine unavailable")
	}
	f.indexes[name] = nil
	f.created = append(f.created, name)
	return nil
}

func (f *fakeEngine) DeleteIndex(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDelete != "" && strings.HasSuffix(name, f.failDelete) {
		return errors.New("delete refused")
	}
	delete(f.indexes, name)
	f.deleted = append(f.deleted, name)
	return nil
}

func (f *fakeEngine) ImportDocuments(_ context.Context, name string, docs []map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failImport != "" && strings.HasSuffix(name, f.failImport) {
		return errors.New("import rejected")
	}
	f.indexes[name] = append(f.indexes[name], docs...)
	return nil
}

func (f *fakeEngine) IndexStats(ctx context.Context, name string) (domain.IndexStats, error) {
	if err := ctx.Err(); err != nil {
		return domain.IndexStats{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failStats != "" && strings.HasSuffix(name, f.failStats) {
		return domain.IndexStats{}, errors.New("stats timeout")
	}
	docs, ok := f.indexes[name]
	if !ok {
		return domain.IndexStats{}, errors.New("index not found")
	}
	return domain.IndexStats{Documents: int64(len(docs))}, nil
}

func (f *fakeEngine) docs(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.indexes[name])
}

type fakeRecords struct {
	byKind map[string][]map[string]any
	fail   string
}

func (f *fakeRecords) Records(ctx context.Context, kind string) ([]map[string]any, error) {
	if _, err := domain.RequireScope(ctx); err != nil {
		return nil, err
	}
	if kind == f.fail {
		return nil, errors.New("relation does not exist")
	}
	return f.byKind[kind], nil
}

// --- Fixtures ---

// seedTenant stores a tenant named sub that has been walked to status.
func seedTenant(t *testing.T, repo *mockRepo, sub string, status domain.Status) *domain.Tenant {
	t.Helper()

	id, err := domain.NewTenantID()
	if err != nil {
		t.Fatalf("NewTenantID: %v", err)
	}
	d, err := domain.NewTenantDomain(sub, "example.com")
	if err != nil {
		t.Fatalf("NewTenantDomain: %v", err)
	}
	tenant := domain.NewTenant(id, d, domain.AdminBootstrap{Name: "Ada", Email: "ada@" + sub + ".test"})

	if status != domain.StatusPending {
		if err := tenant.StartProvisioning(); err != nil {
			t.Fatalf("StartProvisioning: %v", err)
		}
	}
	switch status {
	case domain.StatusActive:
		tenant.MarkAsProvisioned()
	case domain.StatusFailed:
		tenant.MarkAsFailed("migration failed: boom")
	case domain.StatusSuspended:
		tenant.MarkAsProvisioned()
		if err := tenant.Suspend("payment overdue"); err != nil {
			t.Fatalf("Suspend: %v", err)
		}
	}
	tenant.PullEvents()

	if err := repo.Create(context.Background(), tenant); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return tenant
}

type provisionFixture struct {
	repo       *mockRepo
	publisher  *mockPublisher
	databases  *fakeDatabases
	migrations *fakeMigrations
	seeder     *fakeSeeder
	engine     *fakeEngine
	records    *fakeRecords
	indexes    *app.IndexManager
}

func newProvisionFixture() *provisionFixture {
	f := &provisionFixture{
		repo:       newMockRepo(),
		publisher:  &mockPublisher{},
		databases:  &fakeDatabases{},
		migrations: &fakeMigrations{},
		seeder:     &fakeSeeder{},
		engine:     newFakeEngine(),
		records:    &fakeRecords{byKind: map[string][]map[string]any{}},
	}
	f.indexes = app.NewIndexManager(f.engine, f.records)
	return f
}

func (f *provisionFixture) provisioner() *app.Provisioner {
	return app.NewProvisioner(f.repo, f.publisher, f.databases, f.migrations, f.seeder, f.indexes)
}

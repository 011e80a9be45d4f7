package redis_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/neomorfeo/tenantplane/internal/adapter/redis"
	"github.com/neomorfeo/tenantplane/internal/adapter/sqlite"
	"github.com/neomorfeo/tenantplane/internal/domain"
)

// countingRepo counts the subdomain lookups that reach the registry.
type countingRepo struct {
	domain.TenantRepository
	lookups atomic.Int32
}

func (r *countingRepo) GetBySubdomain(ctx context.Context, subdomain string) (*domain.Tenant, error) {
	r.lookups.Add(1)
	return r.TenantRepository.GetBySubdomain(ctx, subdomain)
}

func setupCache(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *countingRepo, *redis.CachingRepository) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	registry, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("creating registry: %v", err)
	}
	t.Cleanup(func() { registry.Close() })

	inner := &countingRepo{TenantRepository: registry}
	return mr, inner, redis.NewCachingRepository(inner, rdb, ttl)
}

func newTenant(t *testing.T, subdomain string) *domain.Tenant {
	t.Helper()
	id, err := domain.NewTenantID()
	if err != nil {
		t.Fatalf("NewTenantID: %v", err)
	}
	d, err := domain.NewTenantDomain(subdomain, "example.com")
	if err != nil {
		t.Fatalf("NewTenantDomain: %v", err)
	}
	return domain.NewTenant(id, d, domain.AdminBootstrap{Name: "Ada", Email: "ada@example.com"})
}

func TestCachingRepository_ReadThrough(t *testing.T) {
	mr, inner, cache := setupCache(t, time.Minute)
	ctx := context.Background()

	tenant := newTenant(t, "acme")
	tenant.EnableFeature("gift_aid")
	if err := cache.Create(ctx, tenant); err != nil {
		t.Fatalf("Create: %v", err)
	}

	for range 3 {
		got, err := cache.GetBySubdomain(ctx, "acme")
		if err != nil {
			t.Fatalf("GetBySubdomain: %v", err)
		}
		if got.ID != tenant.ID {
			t.Errorf("ID = %s, want %s", got.ID, tenant.ID)
		}
		if got.Database != tenant.Database {
			t.Errorf("Database = %s, want %s", got.Database, tenant.Database)
		}
		if got.Domain.Full() != "acme.example.com" {
			t.Errorf("Domain = %s", got.Domain.Full())
		}
		if !got.HasFeature("gift_aid") {
			t.Error("features lost in cache round trip")
		}
	}

	if n := inner.lookups.Load(); n != 1 {
		t.Errorf("registry lookups = %d, want 1", n)
	}
	if !mr.Exists("tenantplane:subdomain:acme") {
		t.Error("expected cache entry for acme")
	}
	if ttl := mr.TTL("tenantplane:subdomain:acme"); ttl != time.Minute {
		t.Errorf("TTL = %v, want 1m", ttl)
	}
}

func TestCachingRepository_NotFoundIsNotCached(t *testing.T) {
	mr, inner, cache := setupCache(t, time.Minute)
	ctx := context.Background()

	for range 2 {
		if _, err := cache.GetBySubdomain(ctx, "ghost"); !errors.Is(err, domain.ErrTenantNotFound) {
			t.Fatalf("error = %v, want ErrTenantNotFound", err)
		}
	}
	if n := inner.lookups.Load(); n != 2 {
		t.Errorf("registry lookups = %d, want 2", n)
	}
	if mr.Exists("tenantplane:subdomain:ghost") {
		t.Error("a missing tenant must not be cached")
	}
}

func TestCachingRepository_UpdateEvicts(t *testing.T) {
	_, inner, cache := setupCache(t, time.Minute)
	ctx := context.Background()

	tenant := newTenant(t, "acme")
	if err := cache.Create(ctx, tenant); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := cache.GetBySubdomain(ctx, "acme"); err != nil {
		t.Fatalf("GetBySubdomain: %v", err)
	}

	if err := tenant.StartProvisioning(); err != nil {
		t.Fatalf("StartProvisioning: %v", err)
	}
	if err := cache.Update(ctx, tenant, domain.StatusPending); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := cache.GetBySubdomain(ctx, "acme")
	if err != nil {
		t.Fatalf("GetBySubdomain: %v", err)
	}
	if got.Status != domain.StatusProvisioning {
		t.Errorf("Status = %s, want provisioning", got.Status)
	}
	if n := inner.lookups.Load(); n != 2 {
		t.Errorf("registry lookups = %d, want 2", n)
	}
}

// pausingRepo holds a subdomain lookup after the row has been read, until released.
type pausingRepo struct {
	domain.TenantRepository
	fetched chan struct{}
	release chan struct{}
}

func (r *pausingRepo) GetBySubdomain(ctx context.Context, subdomain string) (*domain.Tenant, error) {
	t, err := r.TenantRepository.GetBySubdomain(ctx, subdomain)
	r.fetched <- struct{}{}
	<-r.release
	return t, err
}

func TestCachingRepository_WriteDuringLookupIsNotCached(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	registry, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("creating registry: %v", err)
	}
	t.Cleanup(func() { registry.Close() })

	paused := &pausingRepo{TenantRepository: registry, fetched: make(chan struct{}), release: make(chan struct{})}
	reader := redis.NewCachingRepository(paused, rdb, time.Minute)
	writer := redis.NewCachingRepository(registry, rdb, time.Minute)
	ctx := context.Background()

	tenant := newTenant(t, "acme")
	_ = tenant.StartProvisioning()
	tenant.MarkAsProvisioned()
	if err := writer.Create(ctx, tenant); err != nil {
		t.Fatalf("Create: %v", err)
	}

	type result struct {
		tenant *domain.Tenant
		err    error
	}
	done := make(chan result, 1)
	go func() {
		got, err := reader.GetBySubdomain(ctx, "acme")
		done <- result{got, err}
	}()

	// The reader now holds the active row; suspend the tenant before it caches it.
	<-paused.fetched
	if err := tenant.Suspend("payment overdue"); err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	if err := writer.Update(ctx, tenant, domain.StatusActive); err != nil {
		t.Fatalf("Update: %v", err)
	}
	close(paused.release)

	res := <-done
	if res.err != nil {
		t.Fatalf("GetBySubdomain: %v", res.err)
	}
	if res.tenant.Status != domain.StatusActive {
		t.Fatalf("reader saw %q, want the row as it was read", res.tenant.Status)
	}
	if mr.Exists("tenantplane:subdomain:acme") {
		raw, _ := mr.Get("tenantplane:subdomain:acme")
		t.Fatalf("stale entry cached after a concurrent write: %s", raw)
	}

	got, err := writer.GetBySubdomain(ctx, "acme")
	if err != nil {
		t.Fatalf("GetBySubdomain: %v", err)
	}
	if got.Status != domain.StatusSuspended {
		t.Errorf("Status = %q, want suspended", got.Status)
	}
	if !mr.Exists("tenantplane:subdomain:acme") {
		t.Error("a lookup after the write should populate the cache")
	}
}

func TestCachingRepository_DeleteEvicts(t *testing.T) {
	mr, _, cache := setupCache(t, time.Minute)
	ctx := context.Background()

	tenant := newTenant(t, "acme")
	if err := cache.Create(ctx, tenant); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := cache.GetBySubdomain(ctx, "acme"); err != nil {
		t.Fatalf("GetBySubdomain: %v", err)
	}

	if err := cache.Delete(ctx, tenant.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if mr.Exists("tenantplane:subdomain:acme") {
		t.Error("cache entry survived delete")
	}
	if _, err := cache.GetBySubdomain(ctx, "acme"); !errors.Is(err, domain.ErrTenantNotFound) {
		t.Errorf("error = %v, want ErrTenantNotFound", err)
	}
}

func TestCachingRepository_Expiry(t *testing.T) {
	mr, inner, cache := setupCache(t, 30*time.Second)
	ctx := context.Background()

	if err := cache.Create(ctx, newTenant(t, "acme")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := cache.GetBySubdomain(ctx, "acme"); err != nil {
		t.Fatalf("GetBySubdomain: %v", err)
	}

	mr.FastForward(31 * time.Second)

	if _, err := cache.GetBySubdomain(ctx, "acme"); err != nil {
		t.Fatalf("GetBySubdomain: %v", err)
	}
	if n := inner.lookups.Load(); n != 2 {
		t.Errorf("registry lookups = %d, want 2", n)
	}
}

func TestCachingRepository_CorruptEntry(t *testing.T) {
	mr, inner, cache := setupCache(t, time.Minute)
	ctx := context.Background()

	if err := cache.Create(ctx, newTenant(t, "acme")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mr.Set("tenantplane:subdomain:acme", "{not json"); err != nil {
		t.Fatal(err)
	}

	if _, err := cache.GetBySubdomain(ctx, "acme"); err != nil {
		t.Fatalf("GetBySubdomain: %v", err)
	}
	if n := inner.lookups.Load(); n != 1 {
		t.Errorf("registry lookups = %d, want 1", n)
	}
}

func TestCachingRepository_RedisDown(t *testing.T) {
	mr, inner, cache := setupCache(t, time.Minute)
	ctx := context.Background()

	tenant := newTenant(t, "acme")
	if err := cache.Create(ctx, tenant); err != nil {
		t.Fatalf("Create: %v", err)
	}

	mr.Close()

	got, err := cache.GetBySubdomain(ctx, "acme")
	if err != nil {
		t.Fatalf("GetBySubdomain with redis down: %v", err)
	}
	if got.ID != tenant.ID {
		t.Errorf("ID = %s, want %s", got.ID, tenant.ID)
	}
	if err := tenant.StartProvisioning(); err != nil {
		t.Fatal(err)
	}
	if err := cache.Update(ctx, tenant, domain.StatusPending); err != nil {
		t.Errorf("Update with redis down: %v", err)
	}
	if n := inner.lookups.Load(); n != 1 {
		t.Errorf("registry lookups = %d, want 1", n)
	}
}

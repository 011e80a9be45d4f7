package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/neomorfeo/tenantplane/internal/domain"
)

const (
	subdomainKeyPrefix  = "tenantplane:subdomain:"
	generationKeyPrefix = "tenantplane:generation:"

	// generationTTL must outlive any read-through in flight; it is refreshed on every write.
	generationTTL = 24 * time.Hour
)

// setIfCurrent stores an entry only while the generation key still holds the value the
// reader saw before it went to the registry. A write in between bumps the generation and
// the stale entry is dropped.
//
// KEYS[1] generation key, KEYS[2] entry key; ARGV[1] generation, ARGV[2] entry, ARGV[3] TTL ms.
var setIfCurrent = redis.NewScript(`
local gen = redis.call('GET', KEYS[1])
if not gen then gen = '0' end
if gen ~= ARGV[1] then return 0 end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[2], ARGV[2])
end
return 1
`)

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// NewClient connects to Redis and checks the connection.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return rdb, nil
}

// CachingRepository is a read-through cache for host resolution. GetBySubdomain is served
// from Redis when possible; every write through the repository evicts the cached entry
// and bumps the subdomain's generation, so a read that fetched the row before the write
// cannot put it back. Redis failures are logged and the call falls through to the registry.
type CachingRepository struct {
	next domain.TenantRepository
	rdb  *redis.Client
	ttl  time.Duration
}

var _ domain.TenantRepository = (*CachingRepository)(nil)

// NewCachingRepository wraps next with a cache whose entries live for ttl.
func NewCachingRepository(next domain.TenantRepository, rdb *redis.Client, ttl time.Duration) *CachingRepository {
	return &CachingRepository{next: next, rdb: rdb, ttl: ttl}
}

func (r *CachingRepository) Create(ctx context.Context, t *domain.Tenant) error {
	if err := r.next.Create(ctx, t); err != nil {
		return err
	}
	r.evict(ctx, t.Domain.Subdomain())
	return nil
}

func (r *CachingRepository) GetByID(ctx context.Context, id domain.TenantID) (*domain.Tenant, error) {
	return r.next.GetByID(ctx, id)
}

func (r *CachingRepository) GetBySubdomain(ctx context.Context, subdomain string) (*domain.Tenant, error) {
	key := subdomainKeyPrefix + subdomain
	genKey := generationKeyPrefix + subdomain

	// The generation is read together with the entry, before the registry lookup.
	gen, cacheable := "0", true
	vals, err := r.rdb.MGet(ctx, key, genKey).Result()
	if err != nil {
		slog.WarnContext(ctx, "tenant cache read failed", "key", key, "error", err)
		cacheable = false
	} else {
		if raw, ok := vals[0].(string); ok {
			t, decodeErr := decodeTenant([]byte(raw))
			if decodeErr == nil {
				return t, nil
			}
			slog.WarnContext(ctx, "discarding unreadable cache entry", "key", key, "error", decodeErr)
		}
		if g, ok := vals[1].(string); ok {
			gen = g
		}
	}

	t, err := r.next.GetBySubdomain(ctx, subdomain)
	if err != nil {
		return nil, err
	}
	if !cacheable {
		return t, nil
	}

	data, err := encodeTenant(t)
	if err != nil {
		slog.WarnContext(ctx, "encoding tenant for cache", "tenant_id", t.ID.String(), "error", err)
		return t, nil
	}
	stored, err := setIfCurrent.Run(ctx, r.rdb, []string{genKey, key}, gen, data, r.ttl.Milliseconds()).Int()
	switch {
	case err != nil:
		slog.WarnContext(ctx, "tenant cache write failed", "key", key, "error", err)
	case stored == 0:
		slog.DebugContext(ctx, "tenant changed during lookup, not caching", "key", key)
	}
	return t, nil
}

func (r *CachingRepository) List(ctx context.Context, filter domain.ListFilter) ([]*domain.Tenant, error) {
	return r.next.List(ctx, filter)
}

func (r *CachingRepository) Update(ctx context.Context, t *domain.Tenant, expected domain.Status) error {
	err := r.next.Update(ctx, t, expected)
	r.evict(ctx, t.Domain.Subdomain())
	return err
}

func (r *CachingRepository) Delete(ctx context.Context, id domain.TenantID) error {
	t, err := r.next.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := r.next.Delete(ctx, id); err != nil {
		return err
	}
	r.evict(ctx, t.Domain.Subdomain())
	return nil
}

func (r *CachingRepository) evict(ctx context.Context, subdomain string) {
	genKey := generationKeyPrefix + subdomain
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, generationTTL)
		pipe.Del(ctx, subdomainKeyPrefix+subdomain)
		return nil
	})
	if err != nil {
		slog.WarnContext(ctx, "tenant cache eviction failed", "subdomain", subdomain, "error", err)
	}
}

// cachedTenant is the JSON form of a tenant in the cache.
type cachedTenant struct {
	ID                string         `json:"id"`
	Subdomain         string         `json:"subdomain"`
	BaseDomain        string         `json:"base_domain"`
	Database          string         `json:"database"`
	Status            string         `json:"status"`
	ProvisioningError string         `json:"provisioning_error,omitempty"`
	ProvisionedAt     *time.Time     `json:"provisioned_at,omitempty"`
	Attempt           int            `json:"attempt"`
	Data              map[string]any `json:"data"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	Version           int            `json:"version"`
}

func encodeTenant(t *domain.Tenant) ([]byte, error) {
	snap := t.Clone()
	return json.Marshal(cachedTenant{
		ID:                snap.ID.String(),
		Subdomain:         snap.Domain.Subdomain(),
		BaseDomain:        snap.Domain.BaseDomain(),
		Database:          snap.Database.String(),
		Status:            string(snap.Status),
		ProvisioningError: snap.ProvisioningError,
		ProvisionedAt:     snap.ProvisionedAt,
		Attempt:           snap.Attempt,
		Data:              snap.Data,
		CreatedAt:         snap.CreatedAt,
		UpdatedAt:         snap.UpdatedAt,
		Version:           snap.Version,
	})
}

func decodeTenant(raw []byte) (*domain.Tenant, error) {
	var c cachedTenant
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	id, err := domain.ParseTenantID(c.ID)
	if err != nil {
		return nil, err
	}
	db, err := domain.NewTenantDatabase(c.Database)
	if err != nil {
		return nil, err
	}
	d, err := domain.NewTenantDomain(c.Subdomain, c.BaseDomain)
	if err != nil {
		return nil, err
	}
	return &domain.Tenant{
		ID:                id,
		Database:          db,
		Domain:            d,
		Status:            domain.Status(c.Status),
		ProvisioningError: c.ProvisioningError,
		ProvisionedAt:     c.ProvisionedAt,
		Attempt:           c.Attempt,
		Data:              c.Data,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
		Version:           c.Version,
	}, nil
}

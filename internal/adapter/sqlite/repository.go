package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/neomorfeo/tenantplane/internal/domain"

	_ "modernc.org/sqlite" // Register SQLite driver.
)

//go:embed migrations/*.sql
var migrations embed.FS

var _ domain.TenantRepository = (*TenantRepository)(nil)

// Outbox stores domain events in the transaction that writes the tenant they describe.
type Outbox interface {
	EnqueueTx(ctx context.Context, tx *sql.Tx, events []domain.Event) error
}

// TenantRepository implements domain.TenantRepository using SQLite. It is the central
// registry: one row per tenant, never a tenant's own data.
type TenantRepository struct {
	db     *sql.DB
	outbox Outbox
}

// New opens a SQLite database, runs migrations, and returns a ready repository.
func New(dataSourceName string) (*TenantRepository, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite has a single writer; ":memory:" databases also exist per connection.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	// Enable foreign keys (off by default in SQLite).
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	return NewFromDB(db)
}

// NewFromDB wraps an existing database connection, runs migrations, and returns a ready repository.
// Use this when the *sql.DB has been pre-configured (e.g., with otelsql instrumentation).
func NewFromDB(db *sql.DB) (*TenantRepository, error) {
	if err := runMigrations(db); err != nil {
		return nil, err
	}

	return &TenantRepository{db: db}, nil
}

// Close closes the underlying database connection.
func (r *TenantRepository) Close() error {
	return r.db.Close()
}

// UseOutbox makes Create and Update drain the tenant's recorded events into o within the
// same transaction as the row write. Either both commit or neither does.
func (r *TenantRepository) UseOutbox(o Outbox) {
	r.outbox = o
}

// DB returns the underlying database connection for use by other adapters (e.g., river).
func (r *TenantRepository) DB() *sql.DB {
	return r.db
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	return nil
}

const timeFormat = "2006-01-02T15:04:05.000000Z"

const selectColumns = `SELECT id, subdomain, base_domain, database_name, status, provisioning_error,
	provisioned_at, attempt, data, created_at, updated_at, version FROM tenants`

func (r *TenantRepository) Create(ctx context.Context, t *domain.Tenant) error {
	snap := t.Clone()
	data, err := encodeData(snap.Data)
	if err != nil {
		return err
	}

	return r.inTx(ctx, t, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO tenants (id, subdomain, base_domain, database_name, status, provisioning_error,
			                      provisioned_at, attempt, data, created_at, updated_at, version)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			snap.ID.String(), snap.Domain.Subdomain(), snap.Domain.BaseDomain(), snap.Database.String(),
			string(snap.Status), nullString(snap.ProvisioningError), nullTime(snap.ProvisionedAt),
			snap.Attempt, data,
			snap.CreatedAt.UTC().Format(timeFormat),
			snap.UpdatedAt.UTC().Format(timeFormat),
			snap.Version,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return &domain.SubdomainConflictError{Subdomain: snap.Domain.Subdomain()}
			}
			return fmt.Errorf("inserting tenant: %w", err)
		}
		return nil
	})
}

func (r *TenantRepository) GetByID(ctx context.Context, id domain.TenantID) (*domain.Tenant, error) {
	return scanTenant(r.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id.String()))
}

func (r *TenantRepository) GetBySubdomain(ctx context.Context, subdomain string) (*domain.Tenant, error) {
	return scanTenant(r.db.QueryRowContext(ctx, selectColumns+` WHERE subdomain = ?`, strings.ToLower(subdomain)))
}

func (r *TenantRepository) List(ctx context.Context, filter domain.ListFilter) ([]*domain.Tenant, error) {
	query := selectColumns
	var args []any

	if filter.Status != nil {
		query += ` WHERE status = ?`
		args = append(args, string(*filter.Status))
	}

	query += ` ORDER BY created_at DESC, id`

	// SQLite only accepts OFFSET after a LIMIT; -1 means no limit.
	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*domain.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}

	return tenants, rows.Err()
}

// Update writes the mutable columns only if the stored row still has the expected status
// and the version t was loaded with. A single conditional UPDATE makes the check and the
// write one atomic step; on success t carries the new version.
func (r *TenantRepository) Update(ctx context.Context, t *domain.Tenant, expected domain.Status) error {
	snap := t.Clone()
	data, err := encodeData(snap.Data)
	if err != nil {
		return err
	}

	err = r.inTx(ctx, t, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE tenants
			 SET status = ?, provisioning_error = ?, provisioned_at = ?, attempt = ?, data = ?, updated_at = ?,
			     version = version + 1
			 WHERE id = ? AND status = ? AND version = ?`,
			string(snap.Status), nullString(snap.ProvisioningError), nullTime(snap.ProvisionedAt),
			snap.Attempt, data, time.Now().UTC().Format(timeFormat),
			snap.ID.String(), string(expected), snap.Version,
		)
		if err != nil {
			return fmt.Errorf("updating tenant: %w", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("checking rows affected: %w", err)
		}
		if rows == 0 {
			return missOrConflict(ctx, tx, snap.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	t.SetVersion(snap.Version + 1)
	return nil
}

// inTx runs write in a transaction and, with an outbox configured, enqueues the events
// recorded on t before committing. Events are only drained once write has succeeded.
func (r *TenantRepository) inTx(ctx context.Context, t *domain.Tenant, write func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := write(tx); err != nil {
		return err
	}

	if r.outbox != nil {
		if events := t.PullEvents(); len(events) > 0 {
			if err := r.outbox.EnqueueTx(ctx, tx, events); err != nil {
				return fmt.Errorf("enqueuing events: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing tenant: %w", err)
	}
	return nil
}

func (r *TenantRepository) Delete(ctx context.Context, id domain.TenantID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM tenants WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("deleting tenant: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrTenantNotFound
	}
	return nil
}

func missOrConflict(ctx context.Context, tx *sql.Tx, id domain.TenantID) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM tenants WHERE id = ?`, id.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrTenantNotFound
	}
	if err != nil {
		return fmt.Errorf("checking tenant: %w", err)
	}
	return domain.ErrStatusConflict
}

type scanner interface {
	Scan(dest ...any) error
}

// scanTenant scans one row from QueryRow or Rows into a domain.Tenant.
func scanTenant(row scanner) (*domain.Tenant, error) {
	var (
		id, subdomain, baseDomain, dbName, status string
		provErr, provisionedAt                    sql.NullString
		attempt, version                          int
		data, createdAt, updatedAt                string
	)

	err := row.Scan(&id, &subdomain, &baseDomain, &dbName, &status, &provErr,
		&provisionedAt, &attempt, &data, &createdAt, &updatedAt, &version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTenantNotFound
		}
		return nil, fmt.Errorf("scanning tenant: %w", err)
	}

	tid, err := domain.ParseTenantID(id)
	if err != nil {
		return nil, fmt.Errorf("decoding tenant id: %w", err)
	}
	db, err := domain.NewTenantDatabase(dbName)
	if err != nil {
		return nil, fmt.Errorf("decoding tenant %s: %w", id, err)
	}
	d, err := domain.NewTenantDomain(subdomain, baseDomain)
	if err != nil {
		return nil, fmt.Errorf("decoding tenant %s: %w", id, err)
	}

	t := &domain.Tenant{
		ID:                tid,
		Database:          db,
		Domain:            d,
		Status:            domain.Status(status),
		ProvisioningError: provErr.String,
		Attempt:           attempt,
		Version:           version,
	}
	if err := json.Unmarshal([]byte(data), &t.Data); err != nil {
		return nil, fmt.Errorf("decoding tenant %s data: %w", id, err)
	}
	if provisionedAt.Valid {
		at, err := time.Parse(timeFormat, provisionedAt.String)
		if err != nil {
			return nil, fmt.Errorf("decoding tenant %s provisioned_at: %w", id, err)
		}
		t.ProvisionedAt = &at
	}
	t.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	t.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)

	return t, nil
}

func encodeData(data map[string]any) (string, error) {
	if data == nil {
		return "{}", nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encoding tenant data: %w", err)
	}
	return string(b), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeFormat), Valid: true}
}

// isUniqueViolation checks if a SQLite error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

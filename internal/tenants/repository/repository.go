// Package repository implements tenant and integration persistence on Postgres.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"converzia_backend/platform/apperr"
)

const (
	tenantNotFoundMessage      = "tenant not found"
	integrationNotFoundMessage = "integration not found"

	// Postgres unique_violation.
	pgUniqueViolation = "23505"
)

// Repo implements the Repository interface with PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new tenants repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// Compile-time check that Repo implements Repository.
var _ Repository = (*Repo)(nil)

const tenantColumns = `id, name, slug, meta_page_id, chatwoot_inbox_id, is_active, created_at, updated_at`

func scanTenant(row pgx.Row) (Tenant, error) {
	var t Tenant
	err := row.Scan(&t.ID, &t.Name, &t.Slug, &t.MetaPageID, &t.ChatwootInboxID, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

// Create inserts a new tenant.
func (r *Repo) Create(ctx context.Context, params CreateTenantParams) (Tenant, error) {
	query := `
		INSERT INTO tenants (name, slug, meta_page_id, chatwoot_inbox_id)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + tenantColumns

	t, err := scanTenant(r.pool.QueryRow(ctx, query, params.Name, params.Slug, params.MetaPageID, params.ChatwootInboxID))
	if err != nil {
		if isUniqueViolation(err) {
			return Tenant{}, apperr.Conflict("tenant slug or page binding already exists")
		}
		return Tenant{}, fmt.Errorf("create tenant: %w", err)
	}
	return t, nil
}

// GetByID retrieves a tenant by its ID.
func (r *Repo) GetByID(ctx context.Context, id uuid.UUID) (Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE id = $1`

	t, err := scanTenant(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Tenant{}, apperr.NotFound(tenantNotFoundMessage)
		}
		return Tenant{}, fmt.Errorf("get tenant by id: %w", err)
	}
	return t, nil
}

// List retrieves all tenants ordered by name.
func (r *Repo) List(ctx context.Context) ([]Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants ORDER BY name ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// ByMetaPageID resolves the tenant that owns a Meta page. Used by webhook routing.
func (r *Repo) ByMetaPageID(ctx context.Context, pageID string) (Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE meta_page_id = $1 AND is_active`

	t, err := scanTenant(r.pool.QueryRow(ctx, query, pageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Tenant{}, apperr.NotFound(tenantNotFoundMessage)
		}
		return Tenant{}, fmt.Errorf("get tenant by meta page: %w", err)
	}
	return t, nil
}

// ByChatwootInboxID resolves the tenant that owns a Chatwoot inbox.
func (r *Repo) ByChatwootInboxID(ctx context.Context, inboxID int64) (Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE chatwoot_inbox_id = $1 AND is_active`

	t, err := scanTenant(r.pool.QueryRow(ctx, query, inboxID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Tenant{}, apperr.NotFound(tenantNotFoundMessage)
		}
		return Tenant{}, fmt.Errorf("get tenant by chatwoot inbox: %w", err)
	}
	return t, nil
}

// Update patches a tenant. Nil params leave the column unchanged.
func (r *Repo) Update(ctx context.Context, params UpdateTenantParams) (Tenant, error) {
	query := `
		UPDATE tenants
		SET name = COALESCE($2, name),
		    meta_page_id = COALESCE($3, meta_page_id),
		    chatwoot_inbox_id = COALESCE($4, chatwoot_inbox_id),
		    is_active = COALESCE($5, is_active),
		    updated_at = now()
		WHERE id = $1
		RETURNING ` + tenantColumns

	t, err := scanTenant(r.pool.QueryRow(ctx, query,
		params.ID, params.Name, params.MetaPageID, params.ChatwootInboxID, params.IsActive))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Tenant{}, apperr.NotFound(tenantNotFoundMessage)
		}
		if isUniqueViolation(err) {
			return Tenant{}, apperr.Conflict("tenant page binding already exists")
		}
		return Tenant{}, fmt.Errorf("update tenant: %w", err)
	}
	return t, nil
}

const integrationColumns = `id, tenant_id, type, name, webhook_url, webhook_secret_enc, email_to_enc, is_active, created_at, updated_at`

func scanIntegration(row pgx.Row) (Integration, error) {
	var in Integration
	err := row.Scan(&in.ID, &in.TenantID, &in.Type, &in.Name, &in.WebhookURL,
		&in.WebhookSecretEnc, &in.EmailToEnc, &in.IsActive, &in.CreatedAt, &in.UpdatedAt)
	return in, err
}

// CreateIntegration inserts a new integration for a tenant.
func (r *Repo) CreateIntegration(ctx context.Context, params CreateIntegrationParams) (Integration, error) {
	query := `
		INSERT INTO tenant_integrations (tenant_id, type, name, webhook_url, webhook_secret_enc, email_to_enc)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + integrationColumns

	in, err := scanIntegration(r.pool.QueryRow(ctx, query,
		params.TenantID, params.Type, params.Name, params.WebhookURL, params.WebhookSecretEnc, params.EmailToEnc))
	if err != nil {
		if isUniqueViolation(err) {
			return Integration{}, apperr.Conflict("integration name already exists for tenant")
		}
		return Integration{}, fmt.Errorf("create integration: %w", err)
	}
	return in, nil
}

// GetIntegration retrieves one integration scoped to a tenant.
func (r *Repo) GetIntegration(ctx context.Context, tenantID, id uuid.UUID) (Integration, error) {
	query := `SELECT ` + integrationColumns + ` FROM tenant_integrations WHERE id = $1 AND tenant_id = $2`

	in, err := scanIntegration(r.pool.QueryRow(ctx, query, id, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Integration{}, apperr.NotFound(integrationNotFoundMessage)
		}
		return Integration{}, fmt.Errorf("get integration: %w", err)
	}
	return in, nil
}

// ListIntegrations retrieves all integrations for a tenant.
func (r *Repo) ListIntegrations(ctx context.Context, tenantID uuid.UUID) ([]Integration, error) {
	query := `SELECT ` + integrationColumns + `
		FROM tenant_integrations
		WHERE tenant_id = $1
		ORDER BY created_at ASC`

	return r.queryIntegrations(ctx, query, tenantID)
}

// ListActiveIntegrations retrieves the active integrations for a tenant.
// The delivery processor targets exactly these.
func (r *Repo) ListActiveIntegrations(ctx context.Context, tenantID uuid.UUID) ([]Integration, error) {
	query := `SELECT ` + integrationColumns + `
		FROM tenant_integrations
		WHERE tenant_id = $1 AND is_active
		ORDER BY created_at ASC`

	return r.queryIntegrations(ctx, query, tenantID)
}

func (r *Repo) queryIntegrations(ctx context.Context, query string, tenantID uuid.UUID) ([]Integration, error) {
	rows, err := r.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list integrations: %w", err)
	}
	defer rows.Close()

	var integrations []Integration
	for rows.Next() {
		in, err := scanIntegration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan integration: %w", err)
		}
		integrations = append(integrations, in)
	}
	return integrations, rows.Err()
}

// UpdateIntegration patches an integration. Nil params leave the column unchanged.
func (r *Repo) UpdateIntegration(ctx context.Context, params UpdateIntegrationParams) (Integration, error) {
	query := `
		UPDATE tenant_integrations
		SET name = COALESCE($3, name),
		    webhook_url = COALESCE($4, webhook_url),
		    webhook_secret_enc = COALESCE($5, webhook_secret_enc),
		    email_to_enc = COALESCE($6, email_to_enc),
		    is_active = COALESCE($7, is_active),
		    updated_at = now()
		WHERE id = $1 AND tenant_id = $2
		RETURNING ` + integrationColumns

	in, err := scanIntegration(r.pool.QueryRow(ctx, query,
		params.ID, params.TenantID, params.Name, params.WebhookURL,
		params.WebhookSecretEnc, params.EmailToEnc, params.IsActive))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Integration{}, apperr.NotFound(integrationNotFoundMessage)
		}
		if isUniqueViolation(err) {
			return Integration{}, apperr.Conflict("integration name already exists for tenant")
		}
		return Integration{}, fmt.Errorf("update integration: %w", err)
	}
	return in, nil
}

// DeleteIntegration removes an integration.
func (r *Repo) DeleteIntegration(ctx context.Context, tenantID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM tenant_integrations WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return fmt.Errorf("delete integration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(integrationNotFoundMessage)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Tenant is an isolated customer organization.
type Tenant struct {
	ID              uuid.UUID
	Name            string
	Slug            string
	MetaPageID      *string
	ChatwootInboxID *int64
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Integration is a destination a tenant's qualified leads are delivered to.
// Secret fields hold the at-rest encrypted values; the service layer owns
// encryption and decryption.
type Integration struct {
	ID               uuid.UUID
	TenantID         uuid.UUID
	Type             string
	Name             string
	WebhookURL       *string
	WebhookSecretEnc *string
	EmailToEnc       *string
	IsActive         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Integration types.
const (
	IntegrationTypeWebhook = "webhook"
	IntegrationTypeEmail   = "email"
)

// CreateTenantParams contains parameters for creating a tenant.
type CreateTenantParams struct {
	Name            string
	Slug            string
	MetaPageID      *string
	ChatwootInboxID *int64
}

// UpdateTenantParams contains parameters for patching a tenant.
// Nil fields are left unchanged.
type UpdateTenantParams struct {
	ID              uuid.UUID
	Name            *string
	MetaPageID      *string
	ChatwootInboxID *int64
	IsActive        *bool
}

// CreateIntegrationParams contains parameters for creating an integration.
type CreateIntegrationParams struct {
	TenantID         uuid.UUID
	Type             string
	Name             string
	WebhookURL       *string
	WebhookSecretEnc *string
	EmailToEnc       *string
}

// UpdateIntegrationParams contains parameters for patching an integration.
// Nil fields are left unchanged.
type UpdateIntegrationParams struct {
	ID               uuid.UUID
	TenantID         uuid.UUID
	Name             *string
	WebhookURL       *string
	WebhookSecretEnc *string
	EmailToEnc       *string
	IsActive         *bool
}

// TenantReader provides read operations for tenants.
type TenantReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (Tenant, error)
	List(ctx context.Context) ([]Tenant, error)
	ByMetaPageID(ctx context.Context, pageID string) (Tenant, error)
	ByChatwootInboxID(ctx context.Context, inboxID int64) (Tenant, error)
}

// TenantWriter provides write operations for tenants.
type TenantWriter interface {
	Create(ctx context.Context, params CreateTenantParams) (Tenant, error)
	Update(ctx context.Context, params UpdateTenantParams) (Tenant, error)
}

// IntegrationStore provides CRUD for tenant integrations.
type IntegrationStore interface {
	CreateIntegration(ctx context.Context, params CreateIntegrationParams) (Integration, error)
	GetIntegration(ctx context.Context, tenantID, id uuid.UUID) (Integration, error)
	ListIntegrations(ctx context.Context, tenantID uuid.UUID) ([]Integration, error)
	ListActiveIntegrations(ctx context.Context, tenantID uuid.UUID) ([]Integration, error)
	UpdateIntegration(ctx context.Context, params UpdateIntegrationParams) (Integration, error)
	DeleteIntegration(ctx context.Context, tenantID, id uuid.UUID) error
}

// Repository combines all tenant repository operations.
type Repository interface {
	TenantReader
	TenantWriter
	IntegrationStore
}

package service

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"converzia_backend/internal/tenants/repository"
	"converzia_backend/internal/tenants/transport"
	"converzia_backend/platform/apperr"
	"converzia_backend/platform/logger"
	"converzia_backend/platform/sanitize"
	"converzia_backend/platform/secretbox"
)

const minWebhookSecretLength = 16

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// Service provides business logic for tenants and their delivery integrations.
type Service struct {
	repo repository.Repository
	box  *secretbox.Box
	log  *logger.Logger
}

// New creates a new tenants service.
func New(repo repository.Repository, box *secretbox.Box, log *logger.Logger) *Service {
	return &Service{repo: repo, box: box, log: log}
}

// ActiveIntegration is an integration with its secrets decrypted, ready for
// the delivery processor. It never leaves the process boundary.
type ActiveIntegration struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	Type          string
	Name          string
	WebhookURL    string
	WebhookSecret string
	EmailTo       string
}

// GetTenant retrieves a tenant by ID.
func (s *Service) GetTenant(ctx context.Context, id uuid.UUID) (transport.TenantResponse, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return transport.TenantResponse{}, err
	}
	return toTenantResponse(t), nil
}

// ListTenants retrieves all tenants.
func (s *Service) ListTenants(ctx context.Context) ([]transport.TenantResponse, error) {
	items, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]transport.TenantResponse, len(items))
	for i, t := range items {
		out[i] = toTenantResponse(t)
	}
	return out, nil
}

// CreateTenant creates a new tenant.
func (s *Service) CreateTenant(ctx context.Context, req transport.CreateTenantRequest) (transport.TenantResponse, error) {
	slug := strings.TrimSpace(strings.ToLower(req.Slug))
	if !slugPattern.MatchString(slug) {
		return transport.TenantResponse{}, apperr.Validation("slug must contain only lowercase letters, digits, and hyphens")
	}

	params := repository.CreateTenantParams{
		Name:            sanitize.Text(req.Name),
		Slug:            slug,
		MetaPageID:      sanitize.TextPtr(req.MetaPageID),
		ChatwootInboxID: req.ChatwootInboxID,
	}

	t, err := s.repo.Create(ctx, params)
	if err != nil {
		return transport.TenantResponse{}, err
	}

	s.log.Info("tenant created", "id", t.ID, "slug", t.Slug)
	return toTenantResponse(t), nil
}

// UpdateTenant applies a partial update to a tenant.
func (s *Service) UpdateTenant(ctx context.Context, id uuid.UUID, req transport.UpdateTenantRequest) (transport.TenantResponse, error) {
	params := repository.UpdateTenantParams{
		ID:              id,
		Name:            sanitize.TextPtr(req.Name),
		MetaPageID:      sanitize.TextPtr(req.MetaPageID),
		ChatwootInboxID: req.ChatwootInboxID,
		IsActive:        req.IsActive,
	}

	t, err := s.repo.Update(ctx, params)
	if err != nil {
		return transport.TenantResponse{}, err
	}

	s.log.Info("tenant updated", "id", t.ID)
	return toTenantResponse(t), nil
}

// ResolveByMetaPageID finds the active tenant owning a Meta page. Used by the
// webhook module to route incoming leadgen events.
func (s *Service) ResolveByMetaPageID(ctx context.Context, pageID string) (repository.Tenant, error) {
	return s.repo.ByMetaPageID(ctx, pageID)
}

// ResolveByChatwootInboxID finds the active tenant owning a Chatwoot inbox.
func (s *Service) ResolveByChatwootInboxID(ctx context.Context, inboxID int64) (repository.Tenant, error) {
	return s.repo.ByChatwootInboxID(ctx, inboxID)
}

// CreateIntegration validates and creates a delivery integration, encrypting
// its secrets before they reach the database.
func (s *Service) CreateIntegration(ctx context.Context, tenantID uuid.UUID, req transport.CreateIntegrationRequest) (transport.IntegrationResponse, error) {
	if err := validateIntegrationInput(req.Type, req.WebhookURL, req.WebhookSecret, req.EmailTo); err != nil {
		return transport.IntegrationResponse{}, err
	}

	params := repository.CreateIntegrationParams{
		TenantID: tenantID,
		Type:     req.Type,
		Name:     sanitize.Text(req.Name),
	}

	switch req.Type {
	case repository.IntegrationTypeWebhook:
		params.WebhookURL = req.WebhookURL
		enc, err := s.box.Encrypt(*req.WebhookSecret)
		if err != nil {
			return transport.IntegrationResponse{}, fmt.Errorf("encrypt webhook secret: %w", err)
		}
		params.WebhookSecretEnc = &enc
	case repository.IntegrationTypeEmail:
		enc, err := s.box.Encrypt(strings.TrimSpace(*req.EmailTo))
		if err != nil {
			return transport.IntegrationResponse{}, fmt.Errorf("encrypt email destination: %w", err)
		}
		params.EmailToEnc = &enc
	}

	integ, err := s.repo.CreateIntegration(ctx, params)
	if err != nil {
		return transport.IntegrationResponse{}, err
	}

	s.log.Info("integration created", "id", integ.ID, "tenantId", tenantID, "type", integ.Type)
	return toIntegrationResponse(integ), nil
}

// GetIntegration retrieves a single integration scoped to a tenant.
func (s *Service) GetIntegration(ctx context.Context, tenantID, id uuid.UUID) (transport.IntegrationResponse, error) {
	integ, err := s.repo.GetIntegration(ctx, tenantID, id)
	if err != nil {
		return transport.IntegrationResponse{}, err
	}
	return toIntegrationResponse(integ), nil
}

// ListIntegrations retrieves all integrations for a tenant.
func (s *Service) ListIntegrations(ctx context.Context, tenantID uuid.UUID) ([]transport.IntegrationResponse, error) {
	items, err := s.repo.ListIntegrations(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]transport.IntegrationResponse, len(items))
	for i, integ := range items {
		out[i] = toIntegrationResponse(integ)
	}
	return out, nil
}

// UpdateIntegration applies a partial update, re-encrypting any new secrets.
func (s *Service) UpdateIntegration(ctx context.Context, tenantID, id uuid.UUID, req transport.UpdateIntegrationRequest) (transport.IntegrationResponse, error) {
	current, err := s.repo.GetIntegration(ctx, tenantID, id)
	if err != nil {
		return transport.IntegrationResponse{}, err
	}

	switch current.Type {
	case repository.IntegrationTypeWebhook:
		if req.EmailTo != nil {
			return transport.IntegrationResponse{}, apperr.Validation("webhook integrations do not accept an email destination")
		}
		if req.WebhookURL != nil {
			if err := validateWebhookURL(*req.WebhookURL); err != nil {
				return transport.IntegrationResponse{}, err
			}
		}
		if req.WebhookSecret != nil && len(*req.WebhookSecret) < minWebhookSecretLength {
			return transport.IntegrationResponse{}, apperr.Validation(fmt.Sprintf("webhook secret must be at least %d characters", minWebhookSecretLength))
		}
	case repository.IntegrationTypeEmail:
		if req.WebhookURL != nil || req.WebhookSecret != nil {
			return transport.IntegrationResponse{}, apperr.Validation("email integrations do not accept webhook settings")
		}
	}

	params := repository.UpdateIntegrationParams{
		ID:         id,
		TenantID:   tenantID,
		Name:       sanitize.TextPtr(req.Name),
		WebhookURL: req.WebhookURL,
		IsActive:   req.IsActive,
	}
	if req.WebhookSecret != nil {
		enc, err := s.box.Encrypt(*req.WebhookSecret)
		if err != nil {
			return transport.IntegrationResponse{}, fmt.Errorf("encrypt webhook secret: %w", err)
		}
		params.WebhookSecretEnc = &enc
	}
	if req.EmailTo != nil {
		enc, err := s.box.Encrypt(strings.TrimSpace(*req.EmailTo))
		if err != nil {
			return transport.IntegrationResponse{}, fmt.Errorf("encrypt email destination: %w", err)
		}
		params.EmailToEnc = &enc
	}

	integ, err := s.repo.UpdateIntegration(ctx, params)
	if err != nil {
		return transport.IntegrationResponse{}, err
	}

	s.log.Info("integration updated", "id", integ.ID, "tenantId", tenantID)
	return toIntegrationResponse(integ), nil
}

// DeleteIntegration removes an integration.
func (s *Service) DeleteIntegration(ctx context.Context, tenantID, id uuid.UUID) error {
	if err := s.repo.DeleteIntegration(ctx, tenantID, id); err != nil {
		return err
	}
	s.log.Info("integration deleted", "id", id, "tenantId", tenantID)
	return nil
}

// ActiveIntegrations returns a tenant's active integrations with secrets
// decrypted. This is the delivery processor's view of the tenant config.
func (s *Service) ActiveIntegrations(ctx context.Context, tenantID uuid.UUID) ([]ActiveIntegration, error) {
	items, err := s.repo.ListActiveIntegrations(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	out := make([]ActiveIntegration, 0, len(items))
	for _, integ := range items {
		ai := ActiveIntegration{
			ID:       integ.ID,
			TenantID: integ.TenantID,
			Type:     integ.Type,
			Name:     integ.Name,
		}
		if integ.WebhookURL != nil {
			ai.WebhookURL = *integ.WebhookURL
		}
		if integ.WebhookSecretEnc != nil {
			secret, err := s.box.Decrypt(*integ.WebhookSecretEnc)
			if err != nil {
				return nil, fmt.Errorf("decrypt webhook secret for integration %s: %w", integ.ID, err)
			}
			ai.WebhookSecret = secret
		}
		if integ.EmailToEnc != nil {
			emailTo, err := s.box.Decrypt(*integ.EmailToEnc)
			if err != nil {
				return nil, fmt.Errorf("decrypt email destination for integration %s: %w", integ.ID, err)
			}
			ai.EmailTo = emailTo
		}
		out = append(out, ai)
	}
	return out, nil
}

func validateIntegrationInput(integType string, webhookURL, webhookSecret, emailTo *string) error {
	switch integType {
	case repository.IntegrationTypeWebhook:
		if webhookURL == nil || *webhookURL == "" {
			return apperr.Validation("webhook integrations require a webhook URL")
		}
		if err := validateWebhookURL(*webhookURL); err != nil {
			return err
		}
		if webhookSecret == nil || len(*webhookSecret) < minWebhookSecretLength {
			return apperr.Validation(fmt.Sprintf("webhook secret must be at least %d characters", minWebhookSecretLength))
		}
	case repository.IntegrationTypeEmail:
		if emailTo == nil || strings.TrimSpace(*emailTo) == "" {
			return apperr.Validation("email integrations require a destination address")
		}
	default:
		return apperr.Validation("integration type must be webhook or email")
	}
	return nil
}

func validateWebhookURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return apperr.Validation("webhook URL must be a valid https URL")
	}
	return nil
}

func toTenantResponse(t repository.Tenant) transport.TenantResponse {
	return transport.TenantResponse{
		ID:              t.ID,
		Name:            t.Name,
		Slug:            t.Slug,
		MetaPageID:      t.MetaPageID,
		ChatwootInboxID: t.ChatwootInboxID,
		IsActive:        t.IsActive,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

func toIntegrationResponse(i repository.Integration) transport.IntegrationResponse {
	return transport.IntegrationResponse{
		ID:         i.ID,
		TenantID:   i.TenantID,
		Type:       i.Type,
		Name:       i.Name,
		WebhookURL: i.WebhookURL,
		HasSecret:  i.WebhookSecretEnc != nil,
		HasEmailTo: i.EmailToEnc != nil,
		IsActive:   i.IsActive,
		CreatedAt:  i.CreatedAt,
		UpdatedAt:  i.UpdatedAt,
	}
}

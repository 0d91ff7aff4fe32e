package transport

import (
	"time"

	"github.com/google/uuid"
)

// Request DTOs

type CreateTenantRequest struct {
	Name            string  `json:"name" validate:"required,min=2,max=120"`
	Slug            string  `json:"slug" validate:"required,min=2,max=60,lowercase"`
	MetaPageID      *string `json:"metaPageId" validate:"omitempty,max=64"`
	ChatwootInboxID *int64  `json:"chatwootInboxId" validate:"omitempty,min=1"`
}

type UpdateTenantRequest struct {
	Name            *string `json:"name" validate:"omitempty,min=2,max=120"`
	MetaPageID      *string `json:"metaPageId" validate:"omitempty,max=64"`
	ChatwootInboxID *int64  `json:"chatwootInboxId" validate:"omitempty,min=1"`
	IsActive        *bool   `json:"isActive"`
}

type CreateIntegrationRequest struct {
	Type          string  `json:"type" validate:"required,oneof=webhook email"`
	Name          string  `json:"name" validate:"required,min=2,max=120"`
	WebhookURL    *string `json:"webhookUrl" validate:"omitempty,url,max=500"`
	WebhookSecret *string `json:"webhookSecret" validate:"omitempty,min=16,max=200"`
	EmailTo       *string `json:"emailTo" validate:"omitempty,email,max=254"`
}

type UpdateIntegrationRequest struct {
	Name          *string `json:"name" validate:"omitempty,min=2,max=120"`
	WebhookURL    *string `json:"webhookUrl" validate:"omitempty,url,max=500"`
	WebhookSecret *string `json:"webhookSecret" validate:"omitempty,min=16,max=200"`
	EmailTo       *string `json:"emailTo" validate:"omitempty,email,max=254"`
	IsActive      *bool   `json:"isActive"`
}

// Response DTOs

type TenantResponse struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	Slug            string    `json:"slug"`
	MetaPageID      *string   `json:"metaPageId,omitempty"`
	ChatwootInboxID *int64    `json:"chatwootInboxId,omitempty"`
	IsActive        bool      `json:"isActive"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// IntegrationResponse never carries the webhook secret or the decrypted
// destination address; both stay encrypted at rest and internal to delivery.
type IntegrationResponse struct {
	ID         uuid.UUID `json:"id"`
	TenantID   uuid.UUID `json:"tenantId"`
	Type       string    `json:"type"`
	Name       string    `json:"name"`
	WebhookURL *string   `json:"webhookUrl,omitempty"`
	HasSecret  bool      `json:"hasSecret"`
	HasEmailTo bool      `json:"hasEmailTo"`
	IsActive   bool      `json:"isActive"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

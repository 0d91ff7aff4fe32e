package transport

import (
	"time"

	"github.com/google/uuid"
)

// Request DTOs

type ListLeadsQuery struct {
	Status string `form:"status" validate:"omitempty,oneof=new contacted in_conversation qualified ready delivered disqualified expired"`
	Offset int    `form:"offset" validate:"omitempty,min=0"`
	Limit  int    `form:"limit" validate:"omitempty,min=1,max=100"`
}

type CreateOfferRequest struct {
	Name       string  `json:"name" validate:"required,min=2,max=120"`
	MetaFormID *string `json:"metaFormId" validate:"omitempty,max=64"`
}

// Response DTOs

type LeadSummary struct {
	ID          uuid.UUID  `json:"id"`
	FullName    string     `json:"fullName"`
	Email       *string    `json:"email,omitempty"`
	Phone       *string    `json:"phone,omitempty"`
	Source      string     `json:"source"`
	Status      *string    `json:"status,omitempty"`
	LeadOfferID *uuid.UUID `json:"leadOfferId,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

type LeadListResponse struct {
	Items  []LeadSummary `json:"items"`
	Total  int           `json:"total"`
	Offset int           `json:"offset"`
	Limit  int           `json:"limit"`
}

type LeadOfferView struct {
	ID                     uuid.UUID  `json:"id"`
	OfferID                *uuid.UUID `json:"offerId,omitempty"`
	Status                 string     `json:"status"`
	Stage                  string     `json:"stage"`
	DisqualifyReason       *string    `json:"disqualifyReason,omitempty"`
	ChatwootConversationID *int64     `json:"chatwootConversationId,omitempty"`
	QualifiedAt            *time.Time `json:"qualifiedAt,omitempty"`
	CreatedAt              time.Time  `json:"createdAt"`
	UpdatedAt              time.Time  `json:"updatedAt"`
}

type ActivityView struct {
	ID          uuid.UUID      `json:"id"`
	LeadOfferID *uuid.UUID     `json:"leadOfferId,omitempty"`
	Kind        string         `json:"kind"`
	Detail      string         `json:"detail"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

type LeadDetailResponse struct {
	ID         uuid.UUID       `json:"id"`
	TenantID   uuid.UUID       `json:"tenantId"`
	Source     string          `json:"source"`
	ExternalID *string         `json:"externalId,omitempty"`
	FullName   string          `json:"fullName"`
	Email      *string         `json:"email,omitempty"`
	Phone      *string         `json:"phone,omitempty"`
	CampaignID *string         `json:"campaignId,omitempty"`
	FormID     *string         `json:"formId,omitempty"`
	RawFields  map[string]any  `json:"rawFields,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
	Offers     []LeadOfferView `json:"offers"`
	Activities []ActivityView  `json:"activities"`
}

// FunnelStage is one aggregated bucket of the lead funnel.
type FunnelStage struct {
	Stage string `json:"stage"`
	Count int    `json:"count"`
}

type FunnelResponse struct {
	Stages []FunnelStage `json:"stages"`
	Total  int           `json:"total"`
}

type OfferResponse struct {
	ID         uuid.UUID `json:"id"`
	TenantID   uuid.UUID `json:"tenantId"`
	Name       string    `json:"name"`
	MetaFormID *string   `json:"metaFormId,omitempty"`
	IsActive   bool      `json:"isActive"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

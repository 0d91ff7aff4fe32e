package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Lead is a captured contact belonging to a tenant.
type Lead struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	Source     string
	ExternalID *string
	FullName   string
	Email      *string
	Phone      *string
	CampaignID *string
	FormID     *string
	RawFields  map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// LeadOffer tracks one lead's progress through the funnel for one offer.
type LeadOffer struct {
	ID                     uuid.UUID
	TenantID               uuid.UUID
	LeadID                 uuid.UUID
	OfferID                *uuid.UUID
	Status                 string
	DisqualifyReason       *string
	ChatwootConversationID *int64
	QualifiedAt            *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Offer is a tenant's advertised product or campaign.
type Offer struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	Name       string
	MetaFormID *string
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Activity is an append-only audit entry on a lead.
type Activity struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	LeadID      uuid.UUID
	LeadOfferID *uuid.UUID
	Kind        string
	Detail      string
	Metadata    map[string]any
	CreatedAt   time.Time
}

// Activity kinds.
const (
	ActivityLeadCaptured  = "lead_captured"
	ActivityStatusChanged = "status_changed"
)

// LeadListItem is a lead joined with its most recent offer for list views.
type LeadListItem struct {
	Lead
	OfferStatus *string
	LeadOfferID *uuid.UUID
}

// StatusCount is one funnel status bucket.
type StatusCount struct {
	Status string
	Count  int
}

// CreateLeadParams carries sanitized, normalized input for lead creation.
// The insert, the initial lead_offer row, and the capture activity happen in
// one transaction.
type CreateLeadParams struct {
	TenantID   uuid.UUID
	Source     string
	ExternalID *string
	FullName   string
	Email      *string
	Phone      *string
	CampaignID *string
	FormID     *string
	RawFields  map[string]any
	OfferID    *uuid.UUID
}

// TransitionParams moves a lead offer between statuses. FromStatus guards
// against concurrent writers: the update only applies when the row is still
// in that status. The activity row commits in the same transaction.
type TransitionParams struct {
	TenantID         uuid.UUID
	LeadOfferID      uuid.UUID
	FromStatus       string
	ToStatus         string
	DisqualifyReason *string
	SetQualifiedAt   bool
	ActivityDetail   string
	ActivityMetadata map[string]any
}

// ListLeadsParams filters and pages the lead list.
type ListLeadsParams struct {
	TenantID uuid.UUID
	Status   string
	Offset   int
	Limit    int
}

// CreateOfferParams creates a tenant offer.
type CreateOfferParams struct {
	TenantID   uuid.UUID
	Name       string
	MetaFormID *string
}

// Repository persists leads, offers, and funnel activity.
type Repository interface {
	FindByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (Lead, error)
	CreateWithOffer(ctx context.Context, params CreateLeadParams) (Lead, LeadOffer, error)

	GetLead(ctx context.Context, tenantID, id uuid.UUID) (Lead, error)
	ListLeads(ctx context.Context, params ListLeadsParams) ([]LeadListItem, int, error)
	ListOffersByLead(ctx context.Context, tenantID, leadID uuid.UUID) ([]LeadOffer, error)
	ListActivities(ctx context.Context, tenantID, leadID uuid.UUID) ([]Activity, error)
	FunnelCounts(ctx context.Context, tenantID uuid.UUID) ([]StatusCount, error)

	GetLeadOffer(ctx context.Context, tenantID, id uuid.UUID) (LeadOffer, error)
	OfferByConversationID(ctx context.Context, tenantID uuid.UUID, conversationID int64) (LeadOffer, error)
	OpenOfferByContact(ctx context.Context, tenantID uuid.UUID, email, phone string) (LeadOffer, error)
	BindConversation(ctx context.Context, tenantID, leadOfferID uuid.UUID, conversationID int64) error
	Transition(ctx context.Context, params TransitionParams) (LeadOffer, error)
	ExpireStale(ctx context.Context, statuses []string, olderThan time.Time) (int64, error)

	OfferByMetaFormID(ctx context.Context, tenantID uuid.UUID, formID string) (Offer, error)
	ListOffers(ctx context.Context, tenantID uuid.UUID) ([]Offer, error)
	CreateOffer(ctx context.Context, params CreateOfferParams) (Offer, error)
}

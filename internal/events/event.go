// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"converzia_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Lead Domain Events
// =============================================================================

// LeadCaptured is published when a webhook lead lands in the system.
type LeadCaptured struct {
	BaseEvent
	LeadID      uuid.UUID `json:"leadId"`
	LeadOfferID uuid.UUID `json:"leadOfferId"`
	TenantID    uuid.UUID `json:"tenantId"`
	Source      string    `json:"source"`
}

func (e LeadCaptured) EventName() string { return "leads.lead.captured" }

// OfferQualified is published when a lead offer reaches qualified.
type OfferQualified struct {
	BaseEvent
	LeadID      uuid.UUID `json:"leadId"`
	LeadOfferID uuid.UUID `json:"leadOfferId"`
	TenantID    uuid.UUID `json:"tenantId"`
}

func (e OfferQualified) EventName() string { return "leads.offer.qualified" }

// OfferReady is published when a lead offer is ready for delivery.
// The delivery module reacts by creating a pending delivery record.
type OfferReady struct {
	BaseEvent
	LeadID      uuid.UUID `json:"leadId"`
	LeadOfferID uuid.UUID `json:"leadOfferId"`
	TenantID    uuid.UUID `json:"tenantId"`
}

func (e OfferReady) EventName() string { return "leads.offer.ready" }

// OfferDisqualified is published when a lead offer is disqualified.
type OfferDisqualified struct {
	BaseEvent
	LeadID      uuid.UUID `json:"leadId"`
	LeadOfferID uuid.UUID `json:"leadOfferId"`
	TenantID    uuid.UUID `json:"tenantId"`
	Reason      string    `json:"reason"`
}

func (e OfferDisqualified) EventName() string { return "leads.offer.disqualified" }

// =============================================================================
// Delivery Domain Events
// =============================================================================

// DeliveryDelivered is published when a delivery record completes successfully.
type DeliveryDelivered struct {
	BaseEvent
	DeliveryID  uuid.UUID `json:"deliveryId"`
	LeadID      uuid.UUID `json:"leadId"`
	LeadOfferID uuid.UUID `json:"leadOfferId"`
	TenantID    uuid.UUID `json:"tenantId"`
}

func (e DeliveryDelivered) EventName() string { return "delivery.record.delivered" }

// DeliveryExhausted is published when a delivery record hits the retry
// ceiling and is parked in the terminal failed status. Subscribers alert.
type DeliveryExhausted struct {
	BaseEvent
	DeliveryID   uuid.UUID `json:"deliveryId"`
	LeadID       uuid.UUID `json:"leadId"`
	LeadOfferID  uuid.UUID `json:"leadOfferId"`
	TenantID     uuid.UUID `json:"tenantId"`
	RetryCount   int       `json:"retryCount"`
	ErrorMessage string    `json:"errorMessage"`
}

func (e DeliveryExhausted) EventName() string { return "delivery.record.exhausted" }

// =============================================================================
// Knowledge Domain Events
// =============================================================================

// DocumentIndexed is published when a knowledge document finishes indexing.
type DocumentIndexed struct {
	BaseEvent
	DocumentID uuid.UUID `json:"documentId"`
	TenantID   uuid.UUID `json:"tenantId"`
	ChunkCount int       `json:"chunkCount"`
}

func (e DocumentIndexed) EventName() string { return "knowledge.document.indexed" }

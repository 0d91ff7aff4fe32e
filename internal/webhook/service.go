// Package webhook provides the inbound webhook bounded context: signature
// verification, envelope parsing, and the routing of provider events into
// the lead funnel.
package webhook

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"converzia_backend/internal/leads/domain"
	leadsrepo "converzia_backend/internal/leads/repository"
	leadssvc "converzia_backend/internal/leads/service"
	tenantsrepo "converzia_backend/internal/tenants/repository"
	"converzia_backend/platform/apperr"
	"converzia_backend/platform/logger"
)

// Chatwoot event names the webhook reacts to.
const (
	eventMessageCreated            = "message_created"
	eventConversationUpdated       = "conversation_updated"
	eventConversationStatusChanged = "conversation_status_changed"
)

// Chatwoot conversation custom attributes driving qualification.
const (
	attrQualification    = "qualification"
	attrDisqualifyReason = "disqualify_reason"
)

// TenantResolver maps provider identifiers to active tenants.
type TenantResolver interface {
	ResolveByMetaPageID(ctx context.Context, pageID string) (tenantsrepo.Tenant, error)
	ResolveByChatwootInboxID(ctx context.Context, inboxID int64) (tenantsrepo.Tenant, error)
}

// LeadIngestor is the slice of the leads service the webhook module drives.
type LeadIngestor interface {
	Ingest(ctx context.Context, input leadssvc.IngestInput) (leadssvc.IngestResult, error)
	BindConversationByContact(ctx context.Context, tenantID uuid.UUID, conversationID int64, email, phone string) (leadsrepo.LeadOffer, error)
	AdvanceByConversation(ctx context.Context, tenantID uuid.UUID, conversationID int64, target, reason string) (leadsrepo.LeadOffer, error)
}

// Service turns verified provider envelopes into lead funnel operations.
type Service struct {
	tenants TenantResolver
	leads   LeadIngestor
	graph   LeadFetcher
	log     *logger.Logger
}

// NewService creates a webhook service.
func NewService(tenants TenantResolver, leads LeadIngestor, graph LeadFetcher, log *logger.Logger) *Service {
	return &Service{tenants: tenants, leads: leads, graph: graph, log: log}
}

// ProcessMetaEnvelope handles one Meta webhook envelope. Entries are
// processed independently: a failing entry is logged and skipped so the
// envelope still acknowledges with 2xx. Meta redelivers the whole envelope
// on non-2xx, and most per-entry failures (unknown page, malformed lead)
// are not transient.
func (s *Service) ProcessMetaEnvelope(ctx context.Context, env MetaEnvelope) {
	if env.Object != "page" {
		s.log.WebhookEvent("meta", "envelope", "", false, "unexpected object "+env.Object)
		return
	}

	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			if change.Field != "leadgen" {
				continue
			}
			s.processLeadgen(ctx, entry.ID, change.Value)
		}
	}
}

func (s *Service) processLeadgen(ctx context.Context, entryID string, ref MetaLeadgenRef) {
	pageID := ref.PageID
	if pageID == "" {
		pageID = entryID
	}

	tenant, err := s.tenants.ResolveByMetaPageID(ctx, pageID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			s.log.WebhookEvent("meta", "leadgen", "", false, "no tenant for page "+pageID)
			return
		}
		s.log.WebhookEvent("meta", "leadgen", "", false, "resolve page "+pageID+": "+err.Error())
		return
	}

	lead, err := s.graph.FetchLead(ctx, ref.LeadgenID)
	if err != nil {
		s.log.WebhookEvent("meta", "leadgen", tenant.ID.String(), false, "fetch lead "+ref.LeadgenID+": "+err.Error())
		return
	}

	input := leadssvc.IngestInput{
		TenantID:   tenant.ID,
		Source:     "meta",
		ExternalID: ref.LeadgenID,
		FullName:   lead.Field("full_name"),
		Email:      lead.Field("email"),
		Phone:      lead.Field("phone_number"),
		CampaignID: ref.AdID,
		FormID:     ref.FormID,
		RawFields:  lead.RawFields(),
	}

	result, err := s.leads.Ingest(ctx, input)
	if err != nil {
		s.log.WebhookEvent("meta", "leadgen", tenant.ID.String(), false, "ingest: "+err.Error())
		return
	}

	reason := ""
	if !result.Created {
		reason = "duplicate"
	}
	s.log.WebhookEvent("meta", "leadgen", tenant.ID.String(), true, reason)
}

// ProcessChatwootEvent routes one Chatwoot webhook event into the funnel.
// Unknown event types are acknowledged and skipped; Chatwoot fires far more
// event kinds than the funnel cares about.
func (s *Service) ProcessChatwootEvent(ctx context.Context, env ChatwootEnvelope) {
	switch env.Event {
	case eventMessageCreated:
		s.processChatwootMessage(ctx, env)
	case eventConversationUpdated:
		s.processChatwootQualification(ctx, env)
	case eventConversationStatusChanged:
		s.processChatwootResolution(ctx, env)
	default:
		s.log.WebhookEvent("chatwoot", env.Event, "", false, "unhandled event type")
	}
}

// processChatwootMessage advances the funnel on conversation traffic:
// an incoming customer message means in_conversation, the first outgoing
// agent message means contacted. Private notes never touch the funnel.
func (s *Service) processChatwootMessage(ctx context.Context, env ChatwootEnvelope) {
	if env.Private {
		return
	}

	tenant, ok := s.resolveChatwootTenant(ctx, env)
	if !ok {
		return
	}

	conversationID := env.conversationID()
	if conversationID == 0 {
		s.log.WebhookEvent("chatwoot", env.Event, tenant.ID.String(), false, "missing conversation id")
		return
	}

	target := domain.StatusContacted
	if env.MessageType == "incoming" {
		target = domain.StatusInConversation
	}

	_, err := s.leads.AdvanceByConversation(ctx, tenant.ID, conversationID, target, "")
	if err != nil && apperr.Is(err, apperr.KindNotFound) {
		// First event for this conversation: bind it to an open offer by
		// the contact's email or phone, then advance.
		err = s.bindAndAdvance(ctx, tenant.ID, conversationID, env, target)
	}
	if err != nil {
		s.log.WebhookEvent("chatwoot", env.Event, tenant.ID.String(), false, err.Error())
		return
	}

	s.log.WebhookEvent("chatwoot", env.Event, tenant.ID.String(), true, "")
}

func (s *Service) bindAndAdvance(ctx context.Context, tenantID uuid.UUID, conversationID int64, env ChatwootEnvelope, target string) error {
	contact := env.contact()
	if contact == nil {
		return apperr.NotFound("no contact on conversation event")
	}

	if _, err := s.leads.BindConversationByContact(ctx, tenantID, conversationID, contact.Email, contact.PhoneNumber); err != nil {
		return err
	}

	_, err := s.leads.AdvanceByConversation(ctx, tenantID, conversationID, target, "")
	return err
}

// processChatwootQualification reacts to the qualification custom attribute
// the agent (or bot) sets on the conversation.
func (s *Service) processChatwootQualification(ctx context.Context, env ChatwootEnvelope) {
	tenant, ok := s.resolveChatwootTenant(ctx, env)
	if !ok {
		return
	}

	attrs := env.customAttributes()
	qualification, _ := attrs[attrQualification].(string)
	if qualification == "" {
		return
	}

	var target string
	switch strings.ToLower(strings.TrimSpace(qualification)) {
	case "qualified":
		target = domain.StatusQualified
	case "ready":
		target = domain.StatusReady
	case "disqualified":
		target = domain.StatusDisqualified
	default:
		s.log.WebhookEvent("chatwoot", env.Event, tenant.ID.String(), false, "unknown qualification "+qualification)
		return
	}

	reason, _ := attrs[attrDisqualifyReason].(string)

	if _, err := s.leads.AdvanceByConversation(ctx, tenant.ID, env.conversationID(), target, reason); err != nil {
		s.log.WebhookEvent("chatwoot", env.Event, tenant.ID.String(), false, err.Error())
		return
	}

	s.log.WebhookEvent("chatwoot", env.Event, tenant.ID.String(), true, "")
}

// processChatwootResolution promotes a qualified offer to ready when the
// agent resolves the conversation.
func (s *Service) processChatwootResolution(ctx context.Context, env ChatwootEnvelope) {
	if env.conversationStatus() != "resolved" {
		return
	}

	tenant, ok := s.resolveChatwootTenant(ctx, env)
	if !ok {
		return
	}

	qualification, _ := env.customAttributes()[attrQualification].(string)
	if !strings.EqualFold(strings.TrimSpace(qualification), "qualified") {
		return
	}

	if _, err := s.leads.AdvanceByConversation(ctx, tenant.ID, env.conversationID(), domain.StatusReady, ""); err != nil {
		s.log.WebhookEvent("chatwoot", env.Event, tenant.ID.String(), false, err.Error())
		return
	}

	s.log.WebhookEvent("chatwoot", env.Event, tenant.ID.String(), true, "")
}

func (s *Service) resolveChatwootTenant(ctx context.Context, env ChatwootEnvelope) (tenantsrepo.Tenant, bool) {
	inboxID := env.inboxID()
	if inboxID == 0 {
		s.log.WebhookEvent("chatwoot", env.Event, "", false, "missing inbox id")
		return tenantsrepo.Tenant{}, false
	}

	tenant, err := s.tenants.ResolveByChatwootInboxID(ctx, inboxID)
	if err != nil {
		s.log.WebhookEvent("chatwoot", env.Event, "", false, "resolve inbox: "+err.Error())
		return tenantsrepo.Tenant{}, false
	}
	return tenant, true
}

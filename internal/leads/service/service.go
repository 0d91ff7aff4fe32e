// Package service implements lead lifecycle business logic: ingestion,
// funnel transitions driven by conversation events, expiry sweeps, and the
// read models behind the tenant portal.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"converzia_backend/internal/events"
	"converzia_backend/internal/leads/domain"
	"converzia_backend/internal/leads/repository"
	"converzia_backend/internal/leads/transport"
	"converzia_backend/platform/apperr"
	"converzia_backend/platform/logger"
	"converzia_backend/platform/phone"
	"converzia_backend/platform/sanitize"
)

// Config is the narrow configuration surface the leads service reads.
type Config interface {
	GetOfferExpiryDays() int
	GetDefaultPhoneRegion() string
}

// Service provides lead lifecycle operations.
type Service struct {
	repo        repository.Repository
	bus         events.Bus
	log         *logger.Logger
	phoneRegion string
	expiryDays  int
}

// New creates a new leads service.
func New(repo repository.Repository, bus events.Bus, cfg Config, log *logger.Logger) *Service {
	return &Service{
		repo:        repo,
		bus:         bus,
		log:         log,
		phoneRegion: cfg.GetDefaultPhoneRegion(),
		expiryDays:  cfg.GetOfferExpiryDays(),
	}
}

// IngestInput is a provider-sourced lead before normalization.
type IngestInput struct {
	TenantID   uuid.UUID
	Source     string
	ExternalID string
	FullName   string
	Email      string
	Phone      string
	CampaignID string
	FormID     string
	RawFields  map[string]any
}

// IngestResult reports what ingestion did. Created is false when the
// external ID was already known and the existing lead was returned instead.
type IngestResult struct {
	Lead      repository.Lead
	LeadOffer repository.LeadOffer
	Created   bool
}

// Ingest normalizes and stores an inbound lead. Leads are deduplicated per
// tenant on the provider's external ID; re-deliveries of the same lead are
// acknowledged without a second insert. On creation the lead, its initial
// offer row, and the capture activity commit together, then LeadCaptured is
// published.
func (s *Service) Ingest(ctx context.Context, input IngestInput) (IngestResult, error) {
	if input.TenantID == uuid.Nil {
		return IngestResult{}, apperr.Validation("tenant is required")
	}

	source := strings.TrimSpace(input.Source)
	if source == "" {
		source = "manual"
	}

	if input.ExternalID != "" {
		existing, err := s.repo.FindByExternalID(ctx, input.TenantID, input.ExternalID)
		if err == nil {
			s.log.Info("lead already ingested", "tenantId", input.TenantID, "externalId", input.ExternalID)
			return IngestResult{Lead: existing, Created: false}, nil
		}
		if !apperr.Is(err, apperr.KindNotFound) {
			return IngestResult{}, err
		}
	}

	params := repository.CreateLeadParams{
		TenantID:   input.TenantID,
		Source:     source,
		ExternalID: optional(input.ExternalID),
		FullName:   sanitize.Text(input.FullName),
		Email:      optional(strings.ToLower(strings.TrimSpace(input.Email))),
		CampaignID: optional(input.CampaignID),
		FormID:     optional(input.FormID),
		RawFields:  input.RawFields,
	}
	if normalized := phone.NormalizeE164(input.Phone, s.phoneRegion); normalized != "" {
		params.Phone = &normalized
	}

	if input.FormID != "" {
		offer, err := s.repo.OfferByMetaFormID(ctx, input.TenantID, input.FormID)
		switch {
		case err == nil:
			params.OfferID = &offer.ID
		case !apperr.Is(err, apperr.KindNotFound):
			return IngestResult{}, err
		}
	}

	lead, leadOffer, err := s.repo.CreateWithOffer(ctx, params)
	if err != nil {
		return IngestResult{}, err
	}

	s.bus.Publish(ctx, events.LeadCaptured{
		BaseEvent:   events.NewBaseEvent(),
		LeadID:      lead.ID,
		LeadOfferID: leadOffer.ID,
		TenantID:    lead.TenantID,
		Source:      source,
	})

	s.log.Info("lead ingested", "leadId", lead.ID, "tenantId", lead.TenantID, "source", source)
	return IngestResult{Lead: lead, LeadOffer: leadOffer, Created: true}, nil
}

// BindConversationByContact attaches a Chatwoot conversation to the most
// recent open offer matching the contact's email or phone. Returns the bound
// offer, or not-found when no open offer matches.
func (s *Service) BindConversationByContact(ctx context.Context, tenantID uuid.UUID, conversationID int64, email, rawPhone string) (repository.LeadOffer, error) {
	normalizedPhone := phone.NormalizeE164(rawPhone, s.phoneRegion)
	normalizedEmail := strings.ToLower(strings.TrimSpace(email))

	offer, err := s.repo.OpenOfferByContact(ctx, tenantID, normalizedEmail, normalizedPhone)
	if err != nil {
		return repository.LeadOffer{}, err
	}

	if err := s.repo.BindConversation(ctx, tenantID, offer.ID, conversationID); err != nil {
		return repository.LeadOffer{}, err
	}
	offer.ChatwootConversationID = &conversationID

	s.log.Info("conversation bound to lead offer",
		"tenantId", tenantID, "leadOfferId", offer.ID, "conversationId", conversationID)
	return offer, nil
}

// AdvanceByConversation moves the offer bound to a conversation toward the
// target status. Provider events repeat and arrive out of order, so
// transitions the funnel guard rejects are skipped rather than failed; only
// unknown targets and missing conversations are errors.
func (s *Service) AdvanceByConversation(ctx context.Context, tenantID uuid.UUID, conversationID int64, target string, reason string) (repository.LeadOffer, error) {
	if !domain.IsKnownStatus(target) {
		return repository.LeadOffer{}, apperr.Validation("unknown target status " + target)
	}

	offer, err := s.repo.OfferByConversationID(ctx, tenantID, conversationID)
	if err != nil {
		return repository.LeadOffer{}, err
	}

	return s.advance(ctx, offer, target, reason, fmt.Sprintf("conversation %d", conversationID))
}

// MarkOfferDelivered transitions a ready offer to delivered. The delivery
// module calls this after all integrations accepted the lead.
func (s *Service) MarkOfferDelivered(ctx context.Context, tenantID, leadOfferID uuid.UUID) error {
	offer, err := s.repo.GetLeadOffer(ctx, tenantID, leadOfferID)
	if err != nil {
		return err
	}
	_, err = s.advance(ctx, offer, domain.StatusDelivered, "", "delivery completed")
	return err
}

// advance applies one guarded transition and publishes the matching event.
// An offer already at (or past) the target is a silent no-op.
func (s *Service) advance(ctx context.Context, offer repository.LeadOffer, target, reason, cause string) (repository.LeadOffer, error) {
	if offer.Status == target {
		return offer, nil
	}
	if !domain.CanTransition(offer.Status, target) {
		s.log.Debug("transition skipped",
			"leadOfferId", offer.ID, "from", offer.Status, "to", target, "cause", cause)
		return offer, nil
	}

	params := repository.TransitionParams{
		TenantID:       offer.TenantID,
		LeadOfferID:    offer.ID,
		FromStatus:     offer.Status,
		ToStatus:       target,
		SetQualifiedAt: target == domain.StatusQualified,
		ActivityDetail: cause,
	}
	if target == domain.StatusDisqualified && reason != "" {
		cleaned := sanitize.Text(reason)
		params.DisqualifyReason = &cleaned
		params.ActivityMetadata = map[string]any{"reason": cleaned}
	}

	updated, err := s.repo.Transition(ctx, params)
	if err != nil {
		// A concurrent writer advanced the offer first. The event that
		// triggered us has been superseded; surfacing it would only make
		// the provider retry.
		if apperr.Is(err, apperr.KindConflict) {
			s.log.Warn("transition lost race", "leadOfferId", offer.ID, "from", offer.Status, "to", target)
			return s.repo.GetLeadOffer(ctx, offer.TenantID, offer.ID)
		}
		return repository.LeadOffer{}, err
	}

	s.publishTransition(ctx, updated, reason)
	s.log.Info("lead offer advanced",
		"leadOfferId", updated.ID, "tenantId", updated.TenantID, "from", offer.Status, "to", target)
	return updated, nil
}

func (s *Service) publishTransition(ctx context.Context, offer repository.LeadOffer, reason string) {
	base := events.NewBaseEvent()
	switch offer.Status {
	case domain.StatusQualified:
		s.bus.Publish(ctx, events.OfferQualified{
			BaseEvent: base, LeadID: offer.LeadID, LeadOfferID: offer.ID, TenantID: offer.TenantID,
		})
	case domain.StatusReady:
		s.bus.Publish(ctx, events.OfferReady{
			BaseEvent: base, LeadID: offer.LeadID, LeadOfferID: offer.ID, TenantID: offer.TenantID,
		})
	case domain.StatusDisqualified:
		s.bus.Publish(ctx, events.OfferDisqualified{
			BaseEvent: base, LeadID: offer.LeadID, LeadOfferID: offer.ID, TenantID: offer.TenantID, Reason: reason,
		})
	}
}

// ExpireStale moves offers that have sat untouched in a pre-ready status for
// the configured number of days to expired. Invoked by the scheduler sweep
// and the cron endpoint.
func (s *Service) ExpireStale(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.expiryDays)

	expired, err := s.repo.ExpireStale(ctx, domain.ExpirableStatuses(), cutoff)
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		s.log.Info("stale lead offers expired", "count", expired, "olderThan", cutoff)
	}
	return expired, nil
}

// GetLeadForDelivery loads the lead and offer a delivery record points at.
func (s *Service) GetLeadForDelivery(ctx context.Context, tenantID, leadID, leadOfferID uuid.UUID) (repository.Lead, repository.LeadOffer, error) {
	lead, err := s.repo.GetLead(ctx, tenantID, leadID)
	if err != nil {
		return repository.Lead{}, repository.LeadOffer{}, err
	}
	offer, err := s.repo.GetLeadOffer(ctx, tenantID, leadOfferID)
	if err != nil {
		return repository.Lead{}, repository.LeadOffer{}, err
	}
	return lead, offer, nil
}

// ListLeads returns a page of the tenant's leads.
func (s *Service) ListLeads(ctx context.Context, tenantID uuid.UUID, query transport.ListLeadsQuery) (transport.LeadListResponse, error) {
	limit := query.Limit
	if limit < 1 {
		limit = 20
	}

	items, total, err := s.repo.ListLeads(ctx, repository.ListLeadsParams{
		TenantID: tenantID,
		Status:   query.Status,
		Offset:   query.Offset,
		Limit:    limit,
	})
	if err != nil {
		return transport.LeadListResponse{}, err
	}

	resp := transport.LeadListResponse{
		Items:  make([]transport.LeadSummary, len(items)),
		Total:  total,
		Offset: query.Offset,
		Limit:  limit,
	}
	for i, item := range items {
		resp.Items[i] = transport.LeadSummary{
			ID:          item.ID,
			FullName:    item.FullName,
			Email:       item.Email,
			Phone:       item.Phone,
			Source:      item.Source,
			Status:      item.OfferStatus,
			LeadOfferID: item.LeadOfferID,
			CreatedAt:   item.CreatedAt,
		}
	}
	return resp, nil
}

// GetLeadDetail returns a lead with its offers and activity log.
func (s *Service) GetLeadDetail(ctx context.Context, tenantID, leadID uuid.UUID) (transport.LeadDetailResponse, error) {
	lead, err := s.repo.GetLead(ctx, tenantID, leadID)
	if err != nil {
		return transport.LeadDetailResponse{}, err
	}

	offers, err := s.repo.ListOffersByLead(ctx, tenantID, leadID)
	if err != nil {
		return transport.LeadDetailResponse{}, err
	}

	activities, err := s.repo.ListActivities(ctx, tenantID, leadID)
	if err != nil {
		return transport.LeadDetailResponse{}, err
	}

	resp := transport.LeadDetailResponse{
		ID:         lead.ID,
		TenantID:   lead.TenantID,
		Source:     lead.Source,
		ExternalID: lead.ExternalID,
		FullName:   lead.FullName,
		Email:      lead.Email,
		Phone:      lead.Phone,
		CampaignID: lead.CampaignID,
		FormID:     lead.FormID,
		RawFields:  lead.RawFields,
		CreatedAt:  lead.CreatedAt,
		UpdatedAt:  lead.UpdatedAt,
		Offers:     make([]transport.LeadOfferView, len(offers)),
		Activities: make([]transport.ActivityView, len(activities)),
	}
	for i, o := range offers {
		resp.Offers[i] = transport.LeadOfferView{
			ID:                     o.ID,
			OfferID:                o.OfferID,
			Status:                 o.Status,
			Stage:                  domain.Stage(o.Status),
			DisqualifyReason:       o.DisqualifyReason,
			ChatwootConversationID: o.ChatwootConversationID,
			QualifiedAt:            o.QualifiedAt,
			CreatedAt:              o.CreatedAt,
			UpdatedAt:              o.UpdatedAt,
		}
	}
	for i, a := range activities {
		resp.Activities[i] = transport.ActivityView{
			ID:          a.ID,
			LeadOfferID: a.LeadOfferID,
			Kind:        a.Kind,
			Detail:      a.Detail,
			Metadata:    a.Metadata,
			CreatedAt:   a.CreatedAt,
		}
	}
	return resp, nil
}

// FunnelStats aggregates the tenant's lead offers into funnel stages.
// Stages are always returned in funnel order, including empty ones.
func (s *Service) FunnelStats(ctx context.Context, tenantID uuid.UUID) (transport.FunnelResponse, error) {
	counts, err := s.repo.FunnelCounts(ctx, tenantID)
	if err != nil {
		return transport.FunnelResponse{}, err
	}

	byStage := map[string]int{}
	total := 0
	for _, sc := range counts {
		byStage[domain.Stage(sc.Status)] += sc.Count
		total += sc.Count
	}

	order := []string{domain.StageCaptured, domain.StageEngaging, domain.StageQualified, domain.StageDelivered, domain.StageLost}
	resp := transport.FunnelResponse{Stages: make([]transport.FunnelStage, len(order)), Total: total}
	for i, stage := range order {
		resp.Stages[i] = transport.FunnelStage{Stage: stage, Count: byStage[stage]}
	}
	return resp, nil
}

// ListOffers returns the tenant's offers.
func (s *Service) ListOffers(ctx context.Context, tenantID uuid.UUID) ([]transport.OfferResponse, error) {
	items, err := s.repo.ListOffers(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]transport.OfferResponse, len(items))
	for i, o := range items {
		out[i] = toOfferResponse(o)
	}
	return out, nil
}

// CreateOffer creates a tenant offer, optionally bound to a Meta lead form.
func (s *Service) CreateOffer(ctx context.Context, tenantID uuid.UUID, req transport.CreateOfferRequest) (transport.OfferResponse, error) {
	offer, err := s.repo.CreateOffer(ctx, repository.CreateOfferParams{
		TenantID:   tenantID,
		Name:       sanitize.Text(req.Name),
		MetaFormID: sanitize.TextPtr(req.MetaFormID),
	})
	if err != nil {
		return transport.OfferResponse{}, err
	}
	s.log.Info("offer created", "offerId", offer.ID, "tenantId", tenantID)
	return toOfferResponse(offer), nil
}

func toOfferResponse(o repository.Offer) transport.OfferResponse {
	return transport.OfferResponse{
		ID:         o.ID,
		TenantID:   o.TenantID,
		Name:       o.Name,
		MetaFormID: o.MetaFormID,
		IsActive:   o.IsActive,
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
}

func optional(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

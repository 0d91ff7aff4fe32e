package delivery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"converzia_backend/internal/email"
	"converzia_backend/internal/events"
	leadrepo "converzia_backend/internal/leads/repository"
	tenantrepo "converzia_backend/internal/tenants/repository"
	tenantservice "converzia_backend/internal/tenants/service"
	"converzia_backend/platform/apperr"
	"converzia_backend/platform/config"
	"converzia_backend/platform/logger"
)

// Error messages are stored on the record; cap them so a chatty upstream
// cannot bloat the row.
const maxErrorMessageLength = 1000

// releaseTimeout bounds the cleanup writes that run after the run budget is
// already spent.
const releaseTimeout = 5 * time.Second

// IntegrationSource yields a tenant's active delivery destinations with
// secrets decrypted.
type IntegrationSource interface {
	ActiveIntegrations(ctx context.Context, tenantID uuid.UUID) ([]tenantservice.ActiveIntegration, error)
}

// LeadSource loads the lead behind a delivery and advances its offer once
// every destination has the lead.
type LeadSource interface {
	GetLeadForDelivery(ctx context.Context, tenantID, leadID, leadOfferID uuid.UUID) (leadrepo.Lead, leadrepo.LeadOffer, error)
	MarkOfferDelivered(ctx context.Context, tenantID, leadOfferID uuid.UUID) error
}

// RunSummary reports what one processing run did.
type RunSummary struct {
	Claimed   int `json:"claimed"`
	Delivered int `json:"delivered"`
	Retried   int `json:"retried"`
	Exhausted int `json:"exhausted"`
}

type outcome int

const (
	outcomeDelivered outcome = iota
	outcomeRetried
	outcomeExhausted
)

// Processor drains claimed delivery records into tenant integrations.
// A record is delivered when every active integration accepted the lead;
// partial success is recorded so retries only hit the destinations that
// failed.
type Processor struct {
	repo         Repository
	integrations IntegrationSource
	leads        LeadSource
	sender       *Sender
	mailer       email.Sender
	bus          events.Bus
	log          *logger.Logger

	batchSize  int
	maxRetries int
	claimTTL   time.Duration
	runBudget  time.Duration
}

// NewProcessor creates the delivery processor.
func NewProcessor(
	cfg config.DeliveryConfig,
	repo Repository,
	integrations IntegrationSource,
	leads LeadSource,
	sender *Sender,
	mailer email.Sender,
	bus events.Bus,
	log *logger.Logger,
) *Processor {
	return &Processor{
		repo:         repo,
		integrations: integrations,
		leads:        leads,
		sender:       sender,
		mailer:       mailer,
		bus:          bus,
		log:          log,
		batchSize:    cfg.GetDeliveryBatchSize(),
		maxRetries:   cfg.GetDeliveryMaxRetries(),
		claimTTL:     cfg.GetDeliveryClaimTTL(),
		runBudget:    cfg.GetDeliveryRunBudget(),
	}
}

// ProcessBatch releases stale claims, claims up to the batch size of due
// records, and attempts each within the run budget. Records the budget did
// not reach are released back to pending without a retry charge.
func (p *Processor) ProcessBatch(ctx context.Context) (RunSummary, error) {
	released, err := p.repo.ReleaseStale(ctx, p.claimTTL)
	if err != nil {
		p.log.Warn("release stale delivery claims failed", "error", err.Error())
	} else if released > 0 {
		p.log.Warn("stale delivery claims released", "count", released)
	}

	records, err := p.repo.ClaimDue(ctx, p.batchSize, p.maxRetries)
	if err != nil {
		return RunSummary{}, fmt.Errorf("claim due deliveries: %w", err)
	}

	summary := RunSummary{Claimed: len(records)}
	if len(records) == 0 {
		return summary, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, p.runBudget)
	defer cancel()

	for i, rec := range records {
		if runCtx.Err() != nil {
			p.releaseRemaining(runCtx, records[i:], "run budget exhausted before attempt")
			break
		}

		switch p.attempt(runCtx, rec) {
		case outcomeDelivered:
			summary.Delivered++
		case outcomeRetried:
			summary.Retried++
		case outcomeExhausted:
			summary.Exhausted++
		}
	}

	return summary, nil
}

// AttemptClaimed processes a single record that a dispatcher already claimed.
// Records no longer in processing are skipped: the claim was released as
// stale or another worker finished it.
func (p *Processor) AttemptClaimed(ctx context.Context, deliveryID uuid.UUID) error {
	rec, err := p.repo.GetByID(ctx, deliveryID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			p.log.Warn("claimed delivery no longer exists", "deliveryId", deliveryID)
			return nil
		}
		return fmt.Errorf("load delivery %s: %w", deliveryID, err)
	}
	if rec.Status != StatusProcessing {
		p.log.Info("delivery skipped, claim no longer held",
			"deliveryId", deliveryID, "status", rec.Status)
		return nil
	}

	p.attempt(ctx, rec)
	return nil
}

// Retry requeues a failed delivery. Only terminal failed records can be
// requeued; anything else conflicts.
func (p *Processor) Retry(ctx context.Context, tenantID, id uuid.UUID) (Record, error) {
	rec, err := p.repo.GetForTenant(ctx, tenantID, id)
	if err != nil {
		return Record{}, err
	}
	if rec.Status != StatusFailed {
		return Record{}, apperr.Conflict("only failed deliveries can be retried")
	}

	requeued, err := p.repo.RetryFailed(ctx, tenantID, id)
	if err != nil {
		return Record{}, err
	}

	p.log.Info("delivery requeued", "deliveryId", id, "tenantId", tenantID)
	return requeued, nil
}

func (p *Processor) attempt(ctx context.Context, rec Record) outcome {
	attempted := make([]uuid.UUID, len(rec.IntegrationsAttempted))
	copy(attempted, rec.IntegrationsAttempted)

	integrations, err := p.integrations.ActiveIntegrations(ctx, rec.TenantID)
	if err != nil {
		return p.recordFailure(ctx, rec, attempted, fmt.Sprintf("load integrations: %s", err))
	}
	if len(integrations) == 0 {
		return p.recordFailure(ctx, rec, attempted, "tenant has no active integrations")
	}

	remaining := pendingIntegrations(integrations, attempted)
	if len(remaining) == 0 {
		// Every active integration already has the lead from an earlier
		// attempt; only the bookkeeping failed.
		return p.finishDelivered(ctx, rec, attempted)
	}

	lead, offer, err := p.leads.GetLeadForDelivery(ctx, rec.TenantID, rec.LeadID, rec.LeadOfferID)
	if err != nil {
		return p.recordFailure(ctx, rec, attempted, fmt.Sprintf("load lead: %s", err))
	}

	payload := buildPayload(rec, lead, offer)

	var failures []string
	for _, integ := range remaining {
		if err := p.deliverTo(ctx, integ, payload, lead); err != nil {
			failures = append(failures, fmt.Sprintf("%s (%s): %s", integ.Name, integ.Type, err))
			continue
		}
		attempted = append(attempted, integ.ID)
	}

	if len(failures) > 0 {
		return p.recordFailure(ctx, rec, attempted, strings.Join(failures, "; "))
	}

	return p.finishDelivered(ctx, rec, attempted)
}

func (p *Processor) deliverTo(ctx context.Context, integ tenantservice.ActiveIntegration, payload Payload, lead leadrepo.Lead) error {
	switch integ.Type {
	case tenantrepo.IntegrationTypeWebhook:
		return p.sender.Send(ctx, integ.WebhookURL, integ.WebhookSecret, payload)
	case tenantrepo.IntegrationTypeEmail:
		return p.mailer.SendLeadHandoff(ctx, email.HandoffData{
			To:         integ.EmailTo,
			LeadName:   lead.FullName,
			LeadEmail:  derefString(lead.Email),
			LeadPhone:  derefString(lead.Phone),
			Source:     lead.Source,
			Fields:     lead.RawFields,
			DeliveryID: payload.DeliveryID,
		})
	default:
		return fmt.Errorf("unsupported integration type %q", integ.Type)
	}
}

func (p *Processor) finishDelivered(ctx context.Context, rec Record, attempted []uuid.UUID) outcome {
	if err := p.repo.MarkDelivered(ctx, rec.ID, attempted); err != nil {
		// The record stays processing; the next run's stale release
		// recovers it without charging a retry.
		p.log.Error("mark delivered failed", "deliveryId", rec.ID, "error", err.Error())
		return outcomeRetried
	}

	if err := p.leads.MarkOfferDelivered(ctx, rec.TenantID, rec.LeadOfferID); err != nil {
		p.log.Error("mark lead offer delivered failed",
			"deliveryId", rec.ID, "leadOfferId", rec.LeadOfferID, "error", err.Error())
	}

	p.bus.Publish(ctx, events.DeliveryDelivered{
		BaseEvent:   events.NewBaseEvent(),
		DeliveryID:  rec.ID,
		LeadID:      rec.LeadID,
		LeadOfferID: rec.LeadOfferID,
		TenantID:    rec.TenantID,
	})

	p.log.DeliveryAttempt(rec.ID.String(), rec.TenantID.String(), StatusDelivered, rec.RetryCount, "")
	return outcomeDelivered
}

func (p *Processor) recordFailure(ctx context.Context, rec Record, attempted []uuid.UUID, msg string) outcome {
	msg = truncateError(msg)
	attempts := rec.RetryCount + 1

	if attempts >= p.maxRetries {
		if err := p.repo.MarkFailed(ctx, rec.ID, msg, attempted); err != nil {
			p.log.Error("mark failed failed", "deliveryId", rec.ID, "error", err.Error())
			return outcomeRetried
		}

		p.log.DeliveryAttempt(rec.ID.String(), rec.TenantID.String(), StatusFailed, attempts, msg)
		p.log.Error("delivery exhausted retries",
			"deliveryId", rec.ID,
			"tenantId", rec.TenantID,
			"retryCount", attempts,
			"error", msg,
		)

		p.bus.Publish(ctx, events.DeliveryExhausted{
			BaseEvent:    events.NewBaseEvent(),
			DeliveryID:   rec.ID,
			LeadID:       rec.LeadID,
			LeadOfferID:  rec.LeadOfferID,
			TenantID:     rec.TenantID,
			RetryCount:   attempts,
			ErrorMessage: msg,
		})
		return outcomeExhausted
	}

	if err := p.repo.MarkRetry(ctx, rec.ID, msg, attempted); err != nil {
		p.log.Error("mark retry failed", "deliveryId", rec.ID, "error", err.Error())
		return outcomeRetried
	}

	p.log.DeliveryAttempt(rec.ID.String(), rec.TenantID.String(), StatusPending, attempts, msg)
	return outcomeRetried
}

// releaseRemaining puts unattempted claims back to pending. The run budget is
// spent by the time this runs, so the writes get their own short deadline
// detached from the expired context.
func (p *Processor) releaseRemaining(ctx context.Context, records []Record, reason string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	for _, rec := range records {
		if err := p.repo.ReleasePending(releaseCtx, rec.ID, reason); err != nil {
			p.log.Error("release claimed delivery failed", "deliveryId", rec.ID, "error", err.Error())
		}
	}

	p.log.Warn("run budget exhausted, released remaining claims", "count", len(records))
}

func buildPayload(rec Record, lead leadrepo.Lead, offer leadrepo.LeadOffer) Payload {
	return Payload{
		DeliveryID: rec.ID,
		TenantID:   rec.TenantID,
		Lead: LeadPayload{
			ID:        lead.ID,
			FullName:  lead.FullName,
			Email:     derefString(lead.Email),
			Phone:     derefString(lead.Phone),
			Source:    lead.Source,
			Fields:    lead.RawFields,
			CreatedAt: lead.CreatedAt,
		},
		Offer: OfferPayload{
			ID:          offer.ID,
			Status:      offer.Status,
			QualifiedAt: offer.QualifiedAt,
		},
		SentAt: time.Now().UTC(),
	}
}

// pendingIntegrations filters out destinations that already accepted the lead
// on an earlier attempt.
func pendingIntegrations(active []tenantservice.ActiveIntegration, attempted []uuid.UUID) []tenantservice.ActiveIntegration {
	done := make(map[uuid.UUID]struct{}, len(attempted))
	for _, id := range attempted {
		done[id] = struct{}{}
	}

	remaining := make([]tenantservice.ActiveIntegration, 0, len(active))
	for _, integ := range active {
		if _, ok := done[integ.ID]; ok {
			continue
		}
		remaining = append(remaining, integ)
	}
	return remaining
}

func truncateError(msg string) string {
	if len(msg) <= maxErrorMessageLength {
		return msg
	}
	return msg[:maxErrorMessageLength]
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

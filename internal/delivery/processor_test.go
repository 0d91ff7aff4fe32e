package delivery

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"converzia_backend/internal/email"
	"converzia_backend/internal/events"
	leadrepo "converzia_backend/internal/leads/repository"
	tenantrepo "converzia_backend/internal/tenants/repository"
	tenantservice "converzia_backend/internal/tenants/service"
	"converzia_backend/platform/apperr"
	"converzia_backend/platform/logger"
)

type testConfig struct{}

func (testConfig) GetDeliveryBatchSize() int          { return 20 }
func (testConfig) GetDeliveryMaxRetries() int         { return 3 }
func (testConfig) GetDeliveryTimeout() time.Duration  { return 2 * time.Second }
func (testConfig) GetDeliveryClaimTTL() time.Duration { return 5 * time.Minute }
func (testConfig) GetDeliveryRunBudget() time.Duration {
	return 5 * time.Second
}

type fakeRepo struct {
	created   []CreateParams
	createErr error

	claimable []Record
	claimErr  error

	staleReleased int64

	delivered map[uuid.UUID][]uuid.UUID
	retried   map[uuid.UUID]string
	failed    map[uuid.UUID]string
	released  map[uuid.UUID]string

	markDeliveredErr error

	byID map[uuid.UUID]Record

	retryResult Record
	retryErr    error
	retryCalls  int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		delivered: make(map[uuid.UUID][]uuid.UUID),
		retried:   make(map[uuid.UUID]string),
		failed:    make(map[uuid.UUID]string),
		released:  make(map[uuid.UUID]string),
		byID:      make(map[uuid.UUID]Record),
	}
}

func (f *fakeRepo) Create(_ context.Context, params CreateParams) (Record, error) {
	if f.createErr != nil {
		return Record{}, f.createErr
	}
	f.created = append(f.created, params)
	return Record{ID: uuid.New(), TenantID: params.TenantID, LeadID: params.LeadID, LeadOfferID: params.LeadOfferID, Status: StatusPending}, nil
}

func (f *fakeRepo) ClaimDue(_ context.Context, _, _ int) ([]Record, error) {
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	return f.claimable, nil
}

func (f *fakeRepo) ReleaseStale(_ context.Context, _ time.Duration) (int64, error) {
	return f.staleReleased, nil
}

func (f *fakeRepo) MarkDelivered(_ context.Context, id uuid.UUID, attempted []uuid.UUID) error {
	if f.markDeliveredErr != nil {
		return f.markDeliveredErr
	}
	f.delivered[id] = attempted
	return nil
}

func (f *fakeRepo) MarkRetry(_ context.Context, id uuid.UUID, errMsg string, _ []uuid.UUID) error {
	f.retried[id] = errMsg
	return nil
}

func (f *fakeRepo) MarkFailed(_ context.Context, id uuid.UUID, errMsg string, _ []uuid.UUID) error {
	f.failed[id] = errMsg
	return nil
}

func (f *fakeRepo) ReleasePending(_ context.Context, id uuid.UUID, errMsg string) error {
	f.released[id] = errMsg
	return nil
}

func (f *fakeRepo) GetByID(_ context.Context, id uuid.UUID) (Record, error) {
	rec, ok := f.byID[id]
	if !ok {
		return Record{}, apperr.NotFound(deliveryNotFoundMessage)
	}
	return rec, nil
}

func (f *fakeRepo) GetForTenant(_ context.Context, tenantID, id uuid.UUID) (Record, error) {
	rec, ok := f.byID[id]
	if !ok || rec.TenantID != tenantID {
		return Record{}, apperr.NotFound(deliveryNotFoundMessage)
	}
	return rec, nil
}

func (f *fakeRepo) ListByTenant(_ context.Context, params ListParams) ([]Record, int, error) {
	var out []Record
	for _, rec := range f.byID {
		if rec.TenantID != params.TenantID {
			continue
		}
		if params.Status != "" && rec.Status != params.Status {
			continue
		}
		out = append(out, rec)
	}
	return out, len(out), nil
}

func (f *fakeRepo) RetryFailed(_ context.Context, _, _ uuid.UUID) (Record, error) {
	f.retryCalls++
	if f.retryErr != nil {
		return Record{}, f.retryErr
	}
	return f.retryResult, nil
}

type fakeIntegrations struct {
	items map[uuid.UUID][]tenantservice.ActiveIntegration
	err   error
}

func (f *fakeIntegrations) ActiveIntegrations(_ context.Context, tenantID uuid.UUID) ([]tenantservice.ActiveIntegration, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.items[tenantID], nil
}

type fakeLeads struct {
	lead   leadrepo.Lead
	offer  leadrepo.LeadOffer
	getErr error

	deliveredOffers []uuid.UUID

	expired   int64
	expireErr error
}

func (f *fakeLeads) GetLeadForDelivery(_ context.Context, _, _, _ uuid.UUID) (leadrepo.Lead, leadrepo.LeadOffer, error) {
	if f.getErr != nil {
		return leadrepo.Lead{}, leadrepo.LeadOffer{}, f.getErr
	}
	return f.lead, f.offer, nil
}

func (f *fakeLeads) MarkOfferDelivered(_ context.Context, _, leadOfferID uuid.UUID) error {
	f.deliveredOffers = append(f.deliveredOffers, leadOfferID)
	return nil
}

func (f *fakeLeads) ExpireStale(_ context.Context) (int64, error) {
	return f.expired, f.expireErr
}

type fakeMailer struct {
	handoffs   []email.HandoffData
	handoffErr error
	alerts     []email.AlertData
}

func (f *fakeMailer) SendDeliveryAlert(_ context.Context, data email.AlertData) error {
	f.alerts = append(f.alerts, data)
	return nil
}

func (f *fakeMailer) SendLeadHandoff(_ context.Context, data email.HandoffData) error {
	if f.handoffErr != nil {
		return f.handoffErr
	}
	f.handoffs = append(f.handoffs, data)
	return nil
}

type fakeBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *fakeBus) Publish(_ context.Context, event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *fakeBus) PublishSync(_ context.Context, event events.Event) error {
	b.Publish(context.Background(), event)
	return nil
}

func (b *fakeBus) Subscribe(string, events.Handler) {}

func (b *fakeBus) published() []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]events.Event, len(b.events))
	copy(out, b.events)
	return out
}

// webhookTarget is an httptest server that records signed deliveries.
type webhookTarget struct {
	srv    *httptest.Server
	mu     sync.Mutex
	bodies [][]byte
	sigs   []string
	status int
}

func newWebhookTarget(status int) *webhookTarget {
	t := &webhookTarget{status: status}
	t.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		t.mu.Lock()
		t.bodies = append(t.bodies, body)
		t.sigs = append(t.sigs, r.Header.Get(SignatureHeader))
		t.mu.Unlock()
		w.WriteHeader(t.status)
	}))
	return t
}

func (t *webhookTarget) hits() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.bodies)
}

type processorEnv struct {
	repo         *fakeRepo
	integrations *fakeIntegrations
	leads        *fakeLeads
	mailer       *fakeMailer
	bus          *fakeBus
	processor    *Processor
}

func newProcessorEnv() *processorEnv {
	env := &processorEnv{
		repo:         newFakeRepo(),
		integrations: &fakeIntegrations{items: make(map[uuid.UUID][]tenantservice.ActiveIntegration)},
		leads:        &fakeLeads{},
		mailer:       &fakeMailer{},
		bus:          &fakeBus{},
	}
	log := logger.New("development")
	env.processor = NewProcessor(testConfig{}, env.repo, env.integrations, env.leads,
		NewSender(testConfig{}), env.mailer, env.bus, log)
	return env
}

func webhookIntegration(tenantID uuid.UUID, name, url string) tenantservice.ActiveIntegration {
	return tenantservice.ActiveIntegration{
		ID:            uuid.New(),
		TenantID:      tenantID,
		Type:          tenantrepo.IntegrationTypeWebhook,
		Name:          name,
		WebhookURL:    url,
		WebhookSecret: "integration-secret",
	}
}

func emailIntegration(tenantID uuid.UUID, name, to string) tenantservice.ActiveIntegration {
	return tenantservice.ActiveIntegration{
		ID:       uuid.New(),
		TenantID: tenantID,
		Type:     tenantrepo.IntegrationTypeEmail,
		Name:     name,
		EmailTo:  to,
	}
}

func claimedRecord(tenantID uuid.UUID, retryCount int) Record {
	return Record{
		ID:          uuid.New(),
		TenantID:    tenantID,
		LeadID:      uuid.New(),
		LeadOfferID: uuid.New(),
		Status:      StatusProcessing,
		RetryCount:  retryCount,
		CreatedAt:   time.Now().UTC(),
	}
}

func strptr(s string) *string { return &s }

func TestProcessBatchDeliversToAllIntegrations(t *testing.T) {
	target := newWebhookTarget(http.StatusOK)
	defer target.srv.Close()

	env := newProcessorEnv()
	tenantID := uuid.New()
	rec := claimedRecord(tenantID, 0)
	env.repo.claimable = []Record{rec}

	crm := webhookIntegration(tenantID, "crm", target.srv.URL)
	inbox := emailIntegration(tenantID, "inbox", "sales@acme.test")
	env.integrations.items[tenantID] = []tenantservice.ActiveIntegration{crm, inbox}
	env.leads.lead = leadrepo.Lead{ID: rec.LeadID, FullName: "Jane Prospect", Email: strptr("jane@example.com"), Source: "meta"}
	env.leads.offer = leadrepo.LeadOffer{ID: rec.LeadOfferID, Status: "ready"}

	summary, err := env.processor.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("ProcessBatch returned error: %v", err)
	}
	if summary.Claimed != 1 || summary.Delivered != 1 {
		t.Fatalf("expected 1 claimed / 1 delivered, got %+v", summary)
	}

	if target.hits() != 1 {
		t.Fatalf("expected 1 webhook hit, got %d", target.hits())
	}
	if !Verify("integration-secret", target.bodies[0], target.sigs[0]) {
		t.Fatal("webhook payload signature did not verify")
	}

	if len(env.mailer.handoffs) != 1 {
		t.Fatalf("expected 1 handoff mail, got %d", len(env.mailer.handoffs))
	}
	if env.mailer.handoffs[0].To != "sales@acme.test" {
		t.Fatalf("expected handoff to sales@acme.test, got %q", env.mailer.handoffs[0].To)
	}

	attempted, ok := env.repo.delivered[rec.ID]
	if !ok {
		t.Fatal("expected record marked delivered")
	}
	if len(attempted) != 2 {
		t.Fatalf("expected 2 attempted integrations, got %d", len(attempted))
	}

	if len(env.leads.deliveredOffers) != 1 || env.leads.deliveredOffers[0] != rec.LeadOfferID {
		t.Fatalf("expected lead offer %s marked delivered, got %v", rec.LeadOfferID, env.leads.deliveredOffers)
	}

	published := env.bus.published()
	if len(published) != 1 {
		t.Fatalf("expected 1 event, got %d", len(published))
	}
	if _, ok := published[0].(events.DeliveryDelivered); !ok {
		t.Fatalf("expected DeliveryDelivered event, got %T", published[0])
	}
}

func TestProcessBatchPartialFailureSchedulesRetry(t *testing.T) {
	healthy := newWebhookTarget(http.StatusOK)
	defer healthy.srv.Close()
	broken := newWebhookTarget(http.StatusBadGateway)
	defer broken.srv.Close()

	env := newProcessorEnv()
	tenantID := uuid.New()
	rec := claimedRecord(tenantID, 0)
	env.repo.claimable = []Record{rec}

	env.integrations.items[tenantID] = []tenantservice.ActiveIntegration{
		webhookIntegration(tenantID, "healthy-crm", healthy.srv.URL),
		webhookIntegration(tenantID, "broken-crm", broken.srv.URL),
	}

	summary, err := env.processor.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("ProcessBatch returned error: %v", err)
	}
	if summary.Retried != 1 || summary.Delivered != 0 {
		t.Fatalf("expected 1 retried, got %+v", summary)
	}

	errMsg, ok := env.repo.retried[rec.ID]
	if !ok {
		t.Fatal("expected record marked for retry")
	}
	if !strings.Contains(errMsg, "broken-crm") {
		t.Fatalf("expected error message to name the failing integration, got %q", errMsg)
	}
	if strings.Contains(errMsg, "healthy-crm") {
		t.Fatalf("error message should not blame the healthy integration: %q", errMsg)
	}
	if len(env.bus.published()) != 0 {
		t.Fatalf("no events expected on a retryable failure, got %d", len(env.bus.published()))
	}
}

func TestRetrySkipsAlreadyAttemptedIntegrations(t *testing.T) {
	target := newWebhookTarget(http.StatusOK)
	defer target.srv.Close()

	env := newProcessorEnv()
	tenantID := uuid.New()

	done := webhookIntegration(tenantID, "already-done", target.srv.URL)
	fresh := webhookIntegration(tenantID, "fresh", target.srv.URL)
	env.integrations.items[tenantID] = []tenantservice.ActiveIntegration{done, fresh}

	rec := claimedRecord(tenantID, 1)
	rec.IntegrationsAttempted = []uuid.UUID{done.ID}
	env.repo.claimable = []Record{rec}

	summary, err := env.processor.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("ProcessBatch returned error: %v", err)
	}
	if summary.Delivered != 1 {
		t.Fatalf("expected delivery, got %+v", summary)
	}

	if target.hits() != 1 {
		t.Fatalf("expected exactly 1 webhook hit (fresh only), got %d", target.hits())
	}

	attempted := env.repo.delivered[rec.ID]
	if len(attempted) != 2 {
		t.Fatalf("expected attempted list to keep prior success, got %v", attempted)
	}
	if attempted[0] != done.ID || attempted[1] != fresh.ID {
		t.Fatalf("expected [done, fresh] attempted order, got %v", attempted)
	}
}

func TestProcessBatchAllAttemptedCompletesWithoutResend(t *testing.T) {
	env := newProcessorEnv()
	tenantID := uuid.New()

	integ := emailIntegration(tenantID, "inbox", "sales@acme.test")
	env.integrations.items[tenantID] = []tenantservice.ActiveIntegration{integ}
	// Lead loading must not happen when nothing is left to send.
	env.leads.getErr = apperr.Internal("lead store unavailable")

	rec := claimedRecord(tenantID, 2)
	rec.IntegrationsAttempted = []uuid.UUID{integ.ID}
	env.repo.claimable = []Record{rec}

	summary, err := env.processor.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("ProcessBatch returned error: %v", err)
	}
	if summary.Delivered != 1 {
		t.Fatalf("expected stranded record to complete as delivered, got %+v", summary)
	}
	if len(env.mailer.handoffs) != 0 {
		t.Fatalf("expected no resend, got %d handoffs", len(env.mailer.handoffs))
	}
	if _, ok := env.repo.delivered[rec.ID]; !ok {
		t.Fatal("expected record marked delivered")
	}
}

func TestProcessBatchNoActiveIntegrationsCountsAsFailure(t *testing.T) {
	env := newProcessorEnv()
	tenantID := uuid.New()
	rec := claimedRecord(tenantID, 0)
	env.repo.claimable = []Record{rec}

	summary, err := env.processor.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("ProcessBatch returned error: %v", err)
	}
	if summary.Retried != 1 {
		t.Fatalf("expected retry, got %+v", summary)
	}

	errMsg := env.repo.retried[rec.ID]
	if !strings.Contains(errMsg, "no active integrations") {
		t.Fatalf("expected no-integrations error, got %q", errMsg)
	}
}

func TestProcessBatchExhaustsAtRetryCeiling(t *testing.T) {
	broken := newWebhookTarget(http.StatusInternalServerError)
	defer broken.srv.Close()

	env := newProcessorEnv()
	tenantID := uuid.New()
	env.integrations.items[tenantID] = []tenantservice.ActiveIntegration{
		webhookIntegration(tenantID, "broken-crm", broken.srv.URL),
	}

	// Two failures already on the books; this attempt is the third and last.
	rec := claimedRecord(tenantID, 2)
	env.repo.claimable = []Record{rec}

	summary, err := env.processor.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("ProcessBatch returned error: %v", err)
	}
	if summary.Exhausted != 1 {
		t.Fatalf("expected exhaustion, got %+v", summary)
	}

	if _, ok := env.repo.failed[rec.ID]; !ok {
		t.Fatal("expected record parked as failed")
	}
	if _, ok := env.repo.retried[rec.ID]; ok {
		t.Fatal("exhausted record must not also be scheduled for retry")
	}

	published := env.bus.published()
	if len(published) != 1 {
		t.Fatalf("expected 1 event, got %d", len(published))
	}
	exhausted, ok := published[0].(events.DeliveryExhausted)
	if !ok {
		t.Fatalf("expected DeliveryExhausted event, got %T", published[0])
	}
	if exhausted.RetryCount != 3 {
		t.Fatalf("expected retry count 3 on exhaustion event, got %d", exhausted.RetryCount)
	}
	if exhausted.ErrorMessage == "" {
		t.Fatal("expected exhaustion event to carry the error message")
	}
}

func TestProcessBatchTruncatesLongErrorMessages(t *testing.T) {
	env := newProcessorEnv()
	tenantID := uuid.New()
	rec := claimedRecord(tenantID, 0)
	env.repo.claimable = []Record{rec}
	env.integrations.err = apperr.Internal(strings.Repeat("x", 5000))

	if _, err := env.processor.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("ProcessBatch returned error: %v", err)
	}

	errMsg := env.repo.retried[rec.ID]
	if len(errMsg) > maxErrorMessageLength {
		t.Fatalf("expected error message capped at %d, got %d", maxErrorMessageLength, len(errMsg))
	}
}

func TestProcessBatchReleasesRecordsPastRunBudget(t *testing.T) {
	env := newProcessorEnv()
	env.processor.runBudget = -time.Nanosecond // expires before the first attempt

	tenantID := uuid.New()
	first := claimedRecord(tenantID, 0)
	second := claimedRecord(tenantID, 0)
	env.repo.claimable = []Record{first, second}

	summary, err := env.processor.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("ProcessBatch returned error: %v", err)
	}
	if summary.Claimed != 2 || summary.Delivered != 0 || summary.Retried != 0 || summary.Exhausted != 0 {
		t.Fatalf("expected everything released, got %+v", summary)
	}

	if len(env.repo.released) != 2 {
		t.Fatalf("expected 2 releases, got %d", len(env.repo.released))
	}
	for id, reason := range env.repo.released {
		if !strings.Contains(reason, "run budget") {
			t.Fatalf("expected release reason to mention run budget for %s, got %q", id, reason)
		}
	}
	if len(env.repo.retried) != 0 || len(env.repo.failed) != 0 {
		t.Fatal("released records must not be charged a retry")
	}
}

func TestProcessBatchClaimErrorPropagates(t *testing.T) {
	env := newProcessorEnv()
	env.repo.claimErr = apperr.Internal("connection refused")

	if _, err := env.processor.ProcessBatch(context.Background()); err == nil {
		t.Fatal("expected claim error to propagate")
	}
}

func TestAttemptClaimedSkipsRecordNoLongerProcessing(t *testing.T) {
	env := newProcessorEnv()
	tenantID := uuid.New()
	rec := claimedRecord(tenantID, 0)
	rec.Status = StatusPending
	env.repo.byID[rec.ID] = rec

	if err := env.processor.AttemptClaimed(context.Background(), rec.ID); err != nil {
		t.Fatalf("AttemptClaimed returned error: %v", err)
	}
	if len(env.repo.retried) != 0 || len(env.repo.delivered) != 0 {
		t.Fatal("expected no attempt on an unclaimed record")
	}
}

func TestAttemptClaimedMissingRecordIsNoop(t *testing.T) {
	env := newProcessorEnv()
	if err := env.processor.AttemptClaimed(context.Background(), uuid.New()); err != nil {
		t.Fatalf("expected missing record to be a noop, got %v", err)
	}
}

func TestAttemptClaimedProcessesHeldClaim(t *testing.T) {
	env := newProcessorEnv()
	tenantID := uuid.New()

	integ := emailIntegration(tenantID, "inbox", "sales@acme.test")
	env.integrations.items[tenantID] = []tenantservice.ActiveIntegration{integ}
	env.leads.lead = leadrepo.Lead{ID: uuid.New(), FullName: "Jane Prospect", Source: "meta"}

	rec := claimedRecord(tenantID, 0)
	env.repo.byID[rec.ID] = rec

	if err := env.processor.AttemptClaimed(context.Background(), rec.ID); err != nil {
		t.Fatalf("AttemptClaimed returned error: %v", err)
	}
	if _, ok := env.repo.delivered[rec.ID]; !ok {
		t.Fatal("expected held claim to be attempted and delivered")
	}
}

func TestRetryRejectsNonFailedRecords(t *testing.T) {
	env := newProcessorEnv()
	tenantID := uuid.New()
	rec := claimedRecord(tenantID, 1)
	rec.Status = StatusDelivered
	env.repo.byID[rec.ID] = rec

	_, err := env.processor.Retry(context.Background(), tenantID, rec.ID)
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict for non-failed record, got %v", err)
	}
	if env.repo.retryCalls != 0 {
		t.Fatal("repo retry must not run for non-failed records")
	}
}

func TestRetryRequeuesFailedRecord(t *testing.T) {
	env := newProcessorEnv()
	tenantID := uuid.New()
	rec := claimedRecord(tenantID, 3)
	rec.Status = StatusFailed
	env.repo.byID[rec.ID] = rec
	env.repo.retryResult = Record{ID: rec.ID, TenantID: tenantID, Status: StatusPending}

	requeued, err := env.processor.Retry(context.Background(), tenantID, rec.ID)
	if err != nil {
		t.Fatalf("Retry returned error: %v", err)
	}
	if requeued.Status != StatusPending {
		t.Fatalf("expected requeued record pending, got %s", requeued.Status)
	}
	if env.repo.retryCalls != 1 {
		t.Fatalf("expected 1 repo retry call, got %d", env.repo.retryCalls)
	}
}

func TestRetryUnknownDeliveryIsNotFound(t *testing.T) {
	env := newProcessorEnv()
	_, err := env.processor.Retry(context.Background(), uuid.New(), uuid.New())
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUnsupportedIntegrationTypeFailsAttempt(t *testing.T) {
	env := newProcessorEnv()
	tenantID := uuid.New()
	env.integrations.items[tenantID] = []tenantservice.ActiveIntegration{{
		ID:       uuid.New(),
		TenantID: tenantID,
		Type:     "carrier-pigeon",
		Name:     "legacy",
	}}

	rec := claimedRecord(tenantID, 0)
	env.repo.claimable = []Record{rec}

	summary, err := env.processor.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("ProcessBatch returned error: %v", err)
	}
	if summary.Retried != 1 {
		t.Fatalf("expected retry, got %+v", summary)
	}
	if !strings.Contains(env.repo.retried[rec.ID], "carrier-pigeon") {
		t.Fatalf("expected error to name the unsupported type, got %q", env.repo.retried[rec.ID])
	}
}

package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"converzia_backend/internal/delivery"
	"converzia_backend/platform/logger"
)

type fakeDeliverySource struct {
	mu        sync.Mutex
	stale     int64
	claimable []delivery.Record
	claimErr  error
	released  map[uuid.UUID]string
}

func newFakeDeliverySource() *fakeDeliverySource {
	return &fakeDeliverySource{released: make(map[uuid.UUID]string)}
}

func (f *fakeDeliverySource) ReleaseStale(_ context.Context, _ time.Duration) (int64, error) {
	return f.stale, nil
}

func (f *fakeDeliverySource) ClaimDue(_ context.Context, _, _ int) ([]delivery.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	records := f.claimable
	f.claimable = nil
	return records, nil
}

func (f *fakeDeliverySource) ReleasePending(_ context.Context, id uuid.UUID, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released[id] = errMsg
	return nil
}

type enqueuedDelivery struct {
	deliveryID uuid.UUID
	tenantID   uuid.UUID
}

type fakeDeliveryEnqueuer struct {
	mu       sync.Mutex
	enqueued []enqueuedDelivery
	failFor  map[uuid.UUID]error
}

func (f *fakeDeliveryEnqueuer) EnqueueDeliveryProcess(_ context.Context, deliveryID, tenantID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failFor[deliveryID]; ok {
		return err
	}
	f.enqueued = append(f.enqueued, enqueuedDelivery{deliveryID: deliveryID, tenantID: tenantID})
	return nil
}

func newTestDispatcher(source *fakeDeliverySource, tasks *fakeDeliveryEnqueuer) *DeliveryDispatcher {
	return &DeliveryDispatcher{
		source:     source,
		tasks:      tasks,
		log:        logger.New("development"),
		interval:   dispatchInterval,
		batch:      20,
		maxRetries: 3,
		claimTTL:   5 * time.Minute,
	}
}

func claimedDelivery() delivery.Record {
	return delivery.Record{
		ID:       uuid.New(),
		TenantID: uuid.New(),
		LeadID:   uuid.New(),
		Status:   delivery.StatusProcessing,
	}
}

func TestSweepEnqueuesEachClaimedDelivery(t *testing.T) {
	source := newFakeDeliverySource()
	first := claimedDelivery()
	second := claimedDelivery()
	source.claimable = []delivery.Record{first, second}
	tasks := &fakeDeliveryEnqueuer{}

	newTestDispatcher(source, tasks).sweep(context.Background())

	if len(tasks.enqueued) != 2 {
		t.Fatalf("expected 2 tasks enqueued, got %d", len(tasks.enqueued))
	}
	if tasks.enqueued[0].deliveryID != first.ID || tasks.enqueued[0].tenantID != first.TenantID {
		t.Fatalf("expected first task for %s, got %+v", first.ID, tasks.enqueued[0])
	}
	if tasks.enqueued[1].deliveryID != second.ID {
		t.Fatalf("expected second task for %s, got %+v", second.ID, tasks.enqueued[1])
	}
	if len(source.released) != 0 {
		t.Fatalf("expected no claims released, got %v", source.released)
	}
}

func TestSweepReleasesClaimWhenEnqueueFails(t *testing.T) {
	source := newFakeDeliverySource()
	healthy := claimedDelivery()
	broken := claimedDelivery()
	source.claimable = []delivery.Record{healthy, broken}
	tasks := &fakeDeliveryEnqueuer{failFor: map[uuid.UUID]error{broken.ID: errors.New("redis connection refused")}}

	newTestDispatcher(source, tasks).sweep(context.Background())

	if len(tasks.enqueued) != 1 || tasks.enqueued[0].deliveryID != healthy.ID {
		t.Fatalf("expected only the healthy record enqueued, got %+v", tasks.enqueued)
	}
	msg, ok := source.released[broken.ID]
	if !ok {
		t.Fatal("expected the failed record released back to pending")
	}
	if !strings.Contains(msg, "task enqueue failed") {
		t.Fatalf("expected release reason to mention the enqueue failure, got %q", msg)
	}
}

func TestSweepStopsWhenClaimFails(t *testing.T) {
	source := newFakeDeliverySource()
	source.claimErr = errors.New("connection reset")
	tasks := &fakeDeliveryEnqueuer{}

	newTestDispatcher(source, tasks).sweep(context.Background())

	if len(tasks.enqueued) != 0 {
		t.Fatalf("expected nothing enqueued, got %d", len(tasks.enqueued))
	}
}

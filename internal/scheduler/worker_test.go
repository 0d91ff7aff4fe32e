package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"converzia_backend/platform/apperr"
	"converzia_backend/platform/logger"
)

type fakeAttempter struct {
	attempted []uuid.UUID
	err       error
}

func (f *fakeAttempter) AttemptClaimed(_ context.Context, deliveryID uuid.UUID) error {
	if f.err != nil {
		return f.err
	}
	f.attempted = append(f.attempted, deliveryID)
	return nil
}

type fakeIndexer struct {
	indexed []uuid.UUID
	err     error
}

func (f *fakeIndexer) IndexDocument(_ context.Context, documentID uuid.UUID) error {
	if f.err != nil {
		return f.err
	}
	f.indexed = append(f.indexed, documentID)
	return nil
}

type fakeExpirer struct {
	expired int64
	err     error
}

func (f *fakeExpirer) ExpireStale(_ context.Context) (int64, error) {
	return f.expired, f.err
}

type workerEnv struct {
	attempter *fakeAttempter
	indexer   *fakeIndexer
	expirer   *fakeExpirer
	worker    *Worker
}

func newWorkerEnv() *workerEnv {
	env := &workerEnv{
		attempter: &fakeAttempter{},
		indexer:   &fakeIndexer{},
		expirer:   &fakeExpirer{},
	}
	env.worker = &Worker{
		deliveries: env.attempter,
		documents:  env.indexer,
		offers:     env.expirer,
		log:        logger.New("development"),
	}
	return env
}

func TestHandleDeliveryProcessForwardsDeliveryID(t *testing.T) {
	env := newWorkerEnv()
	deliveryID := uuid.New()
	task, err := NewDeliveryProcessTask(DeliveryProcessPayload{
		DeliveryID: deliveryID.String(),
		TenantID:   uuid.New().String(),
	})
	if err != nil {
		t.Fatalf("expected task, got %v", err)
	}

	if err := env.worker.handleDeliveryProcess(context.Background(), task); err != nil {
		t.Fatalf("expected handler to succeed, got %v", err)
	}
	if len(env.attempter.attempted) != 1 || env.attempter.attempted[0] != deliveryID {
		t.Fatalf("expected attempt for %s, got %v", deliveryID, env.attempter.attempted)
	}
}

func TestHandleDeliveryProcessRejectsMalformedPayload(t *testing.T) {
	env := newWorkerEnv()

	task := asynq.NewTask(TaskDeliveryProcess, []byte("{"))
	if err := env.worker.handleDeliveryProcess(context.Background(), task); err == nil {
		t.Fatal("expected malformed payload to fail")
	}

	task, _ = NewDeliveryProcessTask(DeliveryProcessPayload{DeliveryID: "not-a-uuid"})
	if err := env.worker.handleDeliveryProcess(context.Background(), task); err == nil {
		t.Fatal("expected malformed delivery ID to fail")
	}
	if len(env.attempter.attempted) != 0 {
		t.Fatalf("expected no attempts, got %v", env.attempter.attempted)
	}
}

func TestHandleDocumentIndexForwardsDocumentID(t *testing.T) {
	env := newWorkerEnv()
	documentID := uuid.New()
	task, err := NewDocumentIndexTask(DocumentIndexPayload{DocumentID: documentID.String()})
	if err != nil {
		t.Fatalf("expected task, got %v", err)
	}

	if err := env.worker.handleDocumentIndex(context.Background(), task); err != nil {
		t.Fatalf("expected handler to succeed, got %v", err)
	}
	if len(env.indexer.indexed) != 1 || env.indexer.indexed[0] != documentID {
		t.Fatalf("expected index for %s, got %v", documentID, env.indexer.indexed)
	}
}

func TestHandleDocumentIndexDropsUnindexableDocuments(t *testing.T) {
	env := newWorkerEnv()
	env.indexer.err = apperr.Validation("document has no indexable content")
	task, _ := NewDocumentIndexTask(DocumentIndexPayload{DocumentID: uuid.New().String()})

	if err := env.worker.handleDocumentIndex(context.Background(), task); err != nil {
		t.Fatalf("expected validation failure to be dropped, got %v", err)
	}
}

func TestHandleDocumentIndexRetriesTransientFailures(t *testing.T) {
	env := newWorkerEnv()
	env.indexer.err = errors.New("embedding api unavailable")
	task, _ := NewDocumentIndexTask(DocumentIndexPayload{DocumentID: uuid.New().String()})

	if err := env.worker.handleDocumentIndex(context.Background(), task); err == nil {
		t.Fatal("expected transient failure to surface for retry")
	}
}

func TestHandleOffersExpireRunsSweep(t *testing.T) {
	env := newWorkerEnv()
	env.expirer.expired = 4

	if err := env.worker.handleOffersExpire(context.Background(), NewOffersExpireTask()); err != nil {
		t.Fatalf("expected sweep to succeed, got %v", err)
	}

	env.expirer.err = errors.New("connection reset")
	if err := env.worker.handleOffersExpire(context.Background(), NewOffersExpireTask()); err == nil {
		t.Fatal("expected sweep failure to surface")
	}
}

package scheduler

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"converzia_backend/platform/apperr"
	"converzia_backend/platform/config"
	"converzia_backend/platform/logger"
)

// DeliveryAttempter runs one attempt for a delivery the dispatcher claimed.
type DeliveryAttempter interface {
	AttemptClaimed(ctx context.Context, deliveryID uuid.UUID) error
}

// DocumentIndexer chunks and embeds an uploaded document.
type DocumentIndexer interface {
	IndexDocument(ctx context.Context, documentID uuid.UUID) error
}

// OfferExpirer parks lead offers that sat in the funnel too long.
type OfferExpirer interface {
	ExpireStale(ctx context.Context) (int64, error)
}

type Worker struct {
	server     *asynq.Server
	mux        *asynq.ServeMux
	deliveries DeliveryAttempter
	documents  DocumentIndexer
	offers     OfferExpirer
	log        *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, deliveries DeliveryAttempter, documents DocumentIndexer, offers OfferExpirer, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL)
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueName(cfg): 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:     server,
		mux:        mux,
		deliveries: deliveries,
		documents:  documents,
		offers:     offers,
		log:        log,
	}

	mux.HandleFunc(TaskDeliveryProcess, w.handleDeliveryProcess)
	mux.HandleFunc(TaskDocumentIndex, w.handleDocumentIndex)
	mux.HandleFunc(TaskOffersExpire, w.handleOffersExpire)

	return w, nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err.Error())
	}
}

func (w *Worker) handleDeliveryProcess(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseDeliveryProcessPayload(task)
	if err != nil {
		return err
	}

	deliveryID, err := uuid.Parse(payload.DeliveryID)
	if err != nil {
		return err
	}

	return w.deliveries.AttemptClaimed(ctx, deliveryID)
}

func (w *Worker) handleDocumentIndex(ctx context.Context, task *asynq.Task) error {
	if w.documents == nil {
		return fmt.Errorf("document indexing is not configured")
	}

	payload, err := ParseDocumentIndexPayload(task)
	if err != nil {
		return err
	}

	documentID, err := uuid.Parse(payload.DocumentID)
	if err != nil {
		return err
	}

	err = w.documents.IndexDocument(ctx, documentID)
	if apperr.Is(err, apperr.KindValidation) {
		// Unindexable content stays unindexable; retrying cannot help.
		w.log.Warn("document rejected by indexer", "documentId", payload.DocumentID, "error", err.Error())
		return nil
	}
	return err
}

func (w *Worker) handleOffersExpire(ctx context.Context, _ *asynq.Task) error {
	expired, err := w.offers.ExpireStale(ctx)
	if err != nil {
		return err
	}
	if expired > 0 {
		w.log.Info("stale lead offers expired", "count", expired)
	}
	return nil
}

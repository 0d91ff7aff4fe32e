package scheduler

import (
	"context"
	"time"

	"converzia_backend/platform/logger"
)

const offerExpiryInterval = 24 * time.Hour

type offerEnqueuer interface {
	EnqueueOfferExpiry(ctx context.Context) error
}

// OfferExpiryJob enqueues a daily sweep that parks stale lead offers. The
// sweep itself runs on the worker; re-expiring an already expired offer is a
// no-op, so overlapping sweeps are harmless.
type OfferExpiryJob struct {
	tasks    offerEnqueuer
	log      *logger.Logger
	interval time.Duration
}

func NewOfferExpiryJob(client *Client, log *logger.Logger) *OfferExpiryJob {
	return &OfferExpiryJob{
		tasks:    client,
		log:      log,
		interval: offerExpiryInterval,
	}
}

func (j *OfferExpiryJob) Run(ctx context.Context) {
	if j == nil || j.tasks == nil {
		return
	}

	j.enqueue(ctx)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.enqueue(ctx)
		}
	}
}

func (j *OfferExpiryJob) enqueue(ctx context.Context) {
	if err := j.tasks.EnqueueOfferExpiry(ctx); err != nil {
		j.log.Warn("enqueue offer expiry failed", "error", err.Error())
		return
	}
	j.log.Info("offer expiry sweep enqueued")
}

package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"

	"converzia_backend/internal/delivery"
	"converzia_backend/platform/config"
	"converzia_backend/platform/logger"
)

const dispatchInterval = 30 * time.Second

// deliverySource is the slice of the delivery repository the dispatcher
// drives.
type deliverySource interface {
	ReleaseStale(ctx context.Context, claimTTL time.Duration) (int64, error)
	ClaimDue(ctx context.Context, batch, maxRetries int) ([]delivery.Record, error)
	ReleasePending(ctx context.Context, id uuid.UUID, errMsg string) error
}

type deliveryEnqueuer interface {
	EnqueueDeliveryProcess(ctx context.Context, deliveryID, tenantID uuid.UUID) error
}

// DeliveryDispatcher claims due deliveries on a ticker and fans each one out
// as a worker task. Claiming precedes enqueueing, so a record never reaches
// the queue twice; an enqueue failure releases the claim without charging a
// retry.
type DeliveryDispatcher struct {
	source     deliverySource
	tasks      deliveryEnqueuer
	log        *logger.Logger
	interval   time.Duration
	batch      int
	maxRetries int
	claimTTL   time.Duration
}

func NewDeliveryDispatcher(cfg config.DeliveryConfig, repo delivery.Repository, client *Client, log *logger.Logger) *DeliveryDispatcher {
	return &DeliveryDispatcher{
		source:     repo,
		tasks:      client,
		log:        log,
		interval:   dispatchInterval,
		batch:      cfg.GetDeliveryBatchSize(),
		maxRetries: cfg.GetDeliveryMaxRetries(),
		claimTTL:   cfg.GetDeliveryClaimTTL(),
	}
}

func (d *DeliveryDispatcher) Run(ctx context.Context) {
	if d == nil || d.source == nil {
		return
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		d.sweep(ctx)
	}
}

func (d *DeliveryDispatcher) sweep(ctx context.Context) {
	if released, err := d.source.ReleaseStale(ctx, d.claimTTL); err != nil {
		d.log.Warn("release stale delivery claims failed", "error", err.Error())
	} else if released > 0 {
		d.log.Warn("stale delivery claims released", "count", released)
	}

	records, err := d.source.ClaimDue(ctx, d.batch, d.maxRetries)
	if err != nil {
		d.log.Warn("claim due deliveries failed", "error", err.Error())
		return
	}

	for _, rec := range records {
		if err := d.tasks.EnqueueDeliveryProcess(ctx, rec.ID, rec.TenantID); err != nil {
			d.log.Warn("enqueue delivery task failed", "deliveryId", rec.ID, "error", err.Error())
			if relErr := d.source.ReleasePending(ctx, rec.ID, "task enqueue failed: "+err.Error()); relErr != nil {
				d.log.Error("release claimed delivery failed", "deliveryId", rec.ID, "error", relErr.Error())
			}
		}
	}
}

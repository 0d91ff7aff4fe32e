// Package scheduler integrates asynq for background work: a client that
// enqueues tasks, a worker that consumes them, and the ticker jobs that feed
// the queue. The HTTP cron endpoints and the scheduler are alternative
// triggers for the same operations; the database claim keeps them safe to
// run side by side.
package scheduler

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"converzia_backend/platform/config"
)

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL)
	if err != nil {
		return nil, err
	}

	return &Client{
		client: asynq.NewClient(opt),
		queue:  queueName(cfg),
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// EnqueueDeliveryProcess queues one attempt for an already-claimed delivery.
func (c *Client) EnqueueDeliveryProcess(ctx context.Context, deliveryID, tenantID uuid.UUID) error {
	task, err := NewDeliveryProcessTask(DeliveryProcessPayload{
		DeliveryID: deliveryID.String(),
		TenantID:   tenantID.String(),
	})
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(c.queue))
	return err
}

// EnqueueDocumentIndex queues chunking and embedding for an uploaded
// document.
func (c *Client) EnqueueDocumentIndex(ctx context.Context, documentID uuid.UUID) error {
	task, err := NewDocumentIndexTask(DocumentIndexPayload{DocumentID: documentID.String()})
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(c.queue))
	return err
}

// EnqueueOfferExpiry queues one sweep that parks stale lead offers.
func (c *Client) EnqueueOfferExpiry(ctx context.Context) error {
	_, err := c.client.EnqueueContext(ctx, NewOffersExpireTask(), asynq.Queue(c.queue))
	return err
}

func queueName(cfg config.SchedulerConfig) string {
	if queue := cfg.GetAsynqQueue(); queue != "" {
		return queue
	}
	return "default"
}

func redisClientOpt(redisURL string) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: opt.TLSConfig,
	}, nil
}

package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskDeliveryProcess = "delivery:process"

const TaskDocumentIndex = "document:index"

const TaskOffersExpire = "offers:expire"

type DeliveryProcessPayload struct {
	DeliveryID string `json:"deliveryId"`
	TenantID   string `json:"tenantId"`
}

type DocumentIndexPayload struct {
	DocumentID string `json:"documentId"`
}

func NewDeliveryProcessTask(payload DeliveryProcessPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDeliveryProcess, data), nil
}

func ParseDeliveryProcessPayload(task *asynq.Task) (DeliveryProcessPayload, error) {
	var payload DeliveryProcessPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return DeliveryProcessPayload{}, err
	}
	return payload, nil
}

func NewDocumentIndexTask(payload DocumentIndexPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDocumentIndex, data), nil
}

func ParseDocumentIndexPayload(task *asynq.Task) (DocumentIndexPayload, error) {
	var payload DocumentIndexPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return DocumentIndexPayload{}, err
	}
	return payload, nil
}

func NewOffersExpireTask() *asynq.Task {
	return asynq.NewTask(TaskOffersExpire, nil)
}

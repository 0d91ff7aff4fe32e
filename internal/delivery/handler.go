package delivery

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"converzia_backend/platform/httpkit"
	"converzia_backend/platform/validator"
)

const (
	msgInvalidRequest    = "invalid request"
	msgValidationFailed  = "validation failed"
	msgInvalidDeliveryID = "invalid delivery ID"
)

// OfferExpirer parks lead offers that sat in the funnel too long. The cron
// surface lives here with the other scheduled endpoint.
type OfferExpirer interface {
	ExpireStale(ctx context.Context) (int64, error)
}

// DeliveryResponse is the API shape of a delivery record.
type DeliveryResponse struct {
	ID                    uuid.UUID   `json:"id"`
	TenantID              uuid.UUID   `json:"tenantId"`
	LeadID                uuid.UUID   `json:"leadId"`
	LeadOfferID           uuid.UUID   `json:"leadOfferId"`
	Status                string      `json:"status"`
	RetryCount            int         `json:"retryCount"`
	ErrorMessage          *string     `json:"errorMessage,omitempty"`
	IntegrationsAttempted []uuid.UUID `json:"integrationsAttempted,omitempty"`
	ClaimedAt             *time.Time  `json:"claimedAt,omitempty"`
	DeliveredAt           *time.Time  `json:"deliveredAt,omitempty"`
	CreatedAt             time.Time   `json:"createdAt"`
	UpdatedAt             time.Time   `json:"updatedAt"`
}

// ListDeliveriesQuery filters and pages the delivery history endpoint.
type ListDeliveriesQuery struct {
	Status string `form:"status" validate:"omitempty,oneof=pending processing delivered failed"`
	Offset int    `form:"offset" validate:"omitempty,min=0"`
	Limit  int    `form:"limit" validate:"omitempty,min=1,max=100"`
}

// DeliveryListResponse is a page of delivery records.
type DeliveryListResponse struct {
	Items  []DeliveryResponse `json:"items"`
	Total  int                `json:"total"`
	Offset int                `json:"offset"`
	Limit  int                `json:"limit"`
}

// ExpireOffersResponse reports how many stale offers a cron run expired.
type ExpireOffersResponse struct {
	Expired int64 `json:"expired"`
}

// Handler handles HTTP requests for delivery records and the cron surface.
type Handler struct {
	processor *Processor
	repo      Repository
	offers    OfferExpirer
	val       *validator.Validator
}

// NewHandler creates a new delivery handler.
func NewHandler(processor *Processor, repo Repository, offers OfferExpirer, val *validator.Validator) *Handler {
	return &Handler{processor: processor, repo: repo, offers: offers, val: val}
}

// HandleProcessDeliveries runs one delivery processing batch.
// GET /api/v1/cron/process-deliveries
func (h *Handler) HandleProcessDeliveries(c *gin.Context) {
	summary, err := h.processor.ProcessBatch(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, summary)
}

// HandleExpireOffers parks lead offers that have gone stale.
// GET /api/v1/cron/expire-offers
func (h *Handler) HandleExpireOffers(c *gin.Context) {
	expired, err := h.offers.ExpireStale(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, ExpireOffersResponse{Expired: expired})
}

// ListDeliveries returns a page of the caller's delivery history, optionally
// filtered by status.
// GET /api/v1/deliveries
func (h *Handler) ListDeliveries(c *gin.Context) {
	tenantID, ok := httpkit.MustGetTenantID(c)
	if !ok {
		return
	}

	var query ListDeliveriesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(query); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	limit := query.Limit
	if limit < 1 {
		limit = 20
	}

	records, total, err := h.repo.ListByTenant(c.Request.Context(), ListParams{
		TenantID: tenantID,
		Status:   query.Status,
		Offset:   query.Offset,
		Limit:    limit,
	})
	if httpkit.HandleError(c, err) {
		return
	}

	resp := DeliveryListResponse{
		Items:  make([]DeliveryResponse, len(records)),
		Total:  total,
		Offset: query.Offset,
		Limit:  limit,
	}
	for i, rec := range records {
		resp.Items[i] = toResponse(rec)
	}
	httpkit.OK(c, resp)
}

// GetDelivery returns one delivery record.
// GET /api/v1/deliveries/:id
func (h *Handler) GetDelivery(c *gin.Context) {
	tenantID, ok := httpkit.MustGetTenantID(c)
	if !ok {
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidDeliveryID, nil)
		return
	}

	rec, err := h.repo.GetForTenant(c.Request.Context(), tenantID, id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toResponse(rec))
}

// RetryDelivery requeues a failed delivery for another round of attempts.
// POST /api/v1/deliveries/:id/retry
func (h *Handler) RetryDelivery(c *gin.Context) {
	tenantID, ok := httpkit.MustGetTenantID(c)
	if !ok {
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidDeliveryID, nil)
		return
	}

	rec, err := h.processor.Retry(c.Request.Context(), tenantID, id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toResponse(rec))
}

func toResponse(rec Record) DeliveryResponse {
	return DeliveryResponse{
		ID:                    rec.ID,
		TenantID:              rec.TenantID,
		LeadID:                rec.LeadID,
		LeadOfferID:           rec.LeadOfferID,
		Status:                rec.Status,
		RetryCount:            rec.RetryCount,
		ErrorMessage:          rec.ErrorMessage,
		IntegrationsAttempted: rec.IntegrationsAttempted,
		ClaimedAt:             rec.ClaimedAt,
		DeliveredAt:           rec.DeliveredAt,
		CreatedAt:             rec.CreatedAt,
		UpdatedAt:             rec.UpdatedAt,
	}
}

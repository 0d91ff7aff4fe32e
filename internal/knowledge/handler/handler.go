package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"converzia_backend/internal/knowledge/service"
	"converzia_backend/internal/knowledge/transport"
	"converzia_backend/platform/httpkit"
	"converzia_backend/platform/validator"
)

const (
	msgInvalidRequest    = "invalid request"
	msgValidationFailed  = "validation failed"
	msgInvalidDocumentID = "invalid document ID"
)

// Handler handles HTTP requests for the knowledge base.
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

// New creates a new knowledge handler.
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// UploadDocument adds a document to the tenant's knowledge base and queues
// it for indexing.
// POST /api/v1/knowledge/documents
func (h *Handler) UploadDocument(c *gin.Context) {
	tenantID, ok := httpkit.MustGetTenantID(c)
	if !ok {
		return
	}

	var req transport.UploadDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	result, err := h.svc.UploadDocument(c.Request.Context(), tenantID, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.Created(c, result)
}

// ListDocuments returns the tenant's documents.
// GET /api/v1/knowledge/documents
func (h *Handler) ListDocuments(c *gin.Context) {
	tenantID, ok := httpkit.MustGetTenantID(c)
	if !ok {
		return
	}

	result, err := h.svc.ListDocuments(c.Request.Context(), tenantID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// GetDocument returns one document with its indexing status.
// GET /api/v1/knowledge/documents/:id
func (h *Handler) GetDocument(c *gin.Context) {
	tenantID, ok := httpkit.MustGetTenantID(c)
	if !ok {
		return
	}

	documentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidDocumentID, nil)
		return
	}

	result, err := h.svc.GetDocument(c.Request.Context(), tenantID, documentID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// DeleteDocument removes a document and its chunks from the knowledge base.
// DELETE /api/v1/knowledge/documents/:id
func (h *Handler) DeleteDocument(c *gin.Context) {
	tenantID, ok := httpkit.MustGetTenantID(c)
	if !ok {
		return
	}

	documentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidDocumentID, nil)
		return
	}

	if err := h.svc.DeleteDocument(c.Request.Context(), tenantID, documentID); httpkit.HandleError(c, err) {
		return
	}
	httpkit.NoContent(c)
}

// Search returns the chunks nearest to the query within the tenant's
// knowledge base.
// POST /api/v1/knowledge/search
func (h *Handler) Search(c *gin.Context) {
	tenantID, ok := httpkit.MustGetTenantID(c)
	if !ok {
		return
	}

	var req transport.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	result, err := h.svc.Search(c.Request.Context(), tenantID, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// Ask answers a question grounded in the tenant's knowledge base.
// POST /api/v1/knowledge/ask
func (h *Handler) Ask(c *gin.Context) {
	tenantID, ok := httpkit.MustGetTenantID(c)
	if !ok {
		return
	}

	var req transport.AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	result, err := h.svc.Ask(c.Request.Context(), tenantID, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

package delivery

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"converzia_backend/platform/httpkit"
	"converzia_backend/platform/validator"
)

type handlerEnv struct {
	*processorEnv
	tenantID uuid.UUID
	router   *gin.Engine
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &handlerEnv{
		processorEnv: newProcessorEnv(),
		tenantID:     uuid.New(),
	}

	h := NewHandler(env.processor, env.repo, env.leads, validator.New())

	router := gin.New()
	cron := router.Group("/api/v1/cron")
	cron.GET("/process-deliveries", h.HandleProcessDeliveries)
	cron.GET("/expire-offers", h.HandleExpireOffers)

	protected := router.Group("/api/v1")
	protected.Use(func(c *gin.Context) {
		c.Set(httpkit.ContextUserIDKey, uuid.New())
		c.Set(httpkit.ContextTenantIDKey, env.tenantID)
	})
	protected.GET("/deliveries", h.ListDeliveries)
	protected.GET("/deliveries/:id", h.GetDelivery)
	protected.POST("/deliveries/:id/retry", h.RetryDelivery)

	env.router = router
	return env
}

func (e *handlerEnv) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestHandleProcessDeliveriesReturnsSummary(t *testing.T) {
	env := newHandlerEnv(t)
	rec := claimedRecord(env.tenantID, 0)
	env.repo.claimable = []Record{rec}
	env.integrations.items[env.tenantID] = nil // forces a retry outcome

	resp := env.do(t, http.MethodGet, "/api/v1/cron/process-deliveries")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var summary RunSummary
	if err := json.Unmarshal(resp.Body.Bytes(), &summary); err != nil {
		t.Fatalf("unmarshal summary: %v", err)
	}
	if summary.Claimed != 1 || summary.Retried != 1 {
		t.Fatalf("expected 1 claimed / 1 retried, got %+v", summary)
	}
}

func TestHandleExpireOffersReportsCount(t *testing.T) {
	env := newHandlerEnv(t)
	env.leads.expired = 4

	resp := env.do(t, http.MethodGet, "/api/v1/cron/expire-offers")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var out ExpireOffersResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if out.Expired != 4 {
		t.Fatalf("expected 4 expired, got %d", out.Expired)
	}
}

type cronSecret string

func (s cronSecret) GetCronSecret() string { return string(s) }

func TestCronRoutesRequireSharedSecret(t *testing.T) {
	env := newHandlerEnv(t)
	env.leads.expired = 2

	h := NewHandler(env.processor, env.repo, env.leads, validator.New())
	router := gin.New()
	router.GET("/api/v1/cron/expire-offers", httpkit.CronAuth(cronSecret("cron-shared-secret")), h.HandleExpireOffers)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong secret", "Bearer not-the-secret", http.StatusUnauthorized},
		{"correct secret", "Bearer cron-shared-secret", http.StatusOK},
	}

	for _, tc := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/cron/expire-offers", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Errorf("%s: expected %d, got %d", tc.name, tc.want, rec.Code)
		}
	}
}

func TestListDeliveriesFiltersByStatus(t *testing.T) {
	env := newHandlerEnv(t)

	deliveredRec := claimedRecord(env.tenantID, 0)
	deliveredRec.Status = StatusDelivered
	failedRec := claimedRecord(env.tenantID, 3)
	failedRec.Status = StatusFailed
	env.repo.byID[deliveredRec.ID] = deliveredRec
	env.repo.byID[failedRec.ID] = failedRec

	resp := env.do(t, http.MethodGet, "/api/v1/deliveries?status=failed")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var out DeliveryListResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(out.Items) != 1 {
		t.Fatalf("expected 1 failed delivery, got %d", len(out.Items))
	}
	if out.Items[0].ID != failedRec.ID {
		t.Fatalf("expected failed record %s, got %s", failedRec.ID, out.Items[0].ID)
	}
}

func TestListDeliveriesRejectsUnknownStatus(t *testing.T) {
	env := newHandlerEnv(t)

	resp := env.do(t, http.MethodGet, "/api/v1/deliveries?status=bogus")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestGetDeliveryIsTenantScoped(t *testing.T) {
	env := newHandlerEnv(t)

	other := claimedRecord(uuid.New(), 0) // belongs to another tenant
	env.repo.byID[other.ID] = other

	resp := env.do(t, http.MethodGet, "/api/v1/deliveries/"+other.ID.String())
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another tenant's delivery, got %d", resp.Code)
	}
}

func TestGetDeliveryReturnsRecord(t *testing.T) {
	env := newHandlerEnv(t)

	rec := claimedRecord(env.tenantID, 1)
	rec.Status = StatusFailed
	rec.ErrorMessage = strptr("webhook returned status 502")
	env.repo.byID[rec.ID] = rec

	resp := env.do(t, http.MethodGet, "/api/v1/deliveries/"+rec.ID.String())
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var out DeliveryResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if out.ID != rec.ID || out.Status != StatusFailed {
		t.Fatalf("unexpected response: %+v", out)
	}
	if out.ErrorMessage == nil || *out.ErrorMessage != "webhook returned status 502" {
		t.Fatal("expected error message on response")
	}
}

func TestRetryDeliveryConflictsWhenNotFailed(t *testing.T) {
	env := newHandlerEnv(t)

	rec := claimedRecord(env.tenantID, 0)
	rec.Status = StatusDelivered
	env.repo.byID[rec.ID] = rec

	resp := env.do(t, http.MethodPost, "/api/v1/deliveries/"+rec.ID.String()+"/retry")
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 for non-failed delivery, got %d", resp.Code)
	}
}

func TestRetryDeliveryRequeues(t *testing.T) {
	env := newHandlerEnv(t)

	rec := claimedRecord(env.tenantID, 3)
	rec.Status = StatusFailed
	env.repo.byID[rec.ID] = rec
	env.repo.retryResult = Record{ID: rec.ID, TenantID: env.tenantID, Status: StatusPending}

	resp := env.do(t, http.MethodPost, "/api/v1/deliveries/"+rec.ID.String()+"/retry")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var out DeliveryResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if out.Status != StatusPending {
		t.Fatalf("expected requeued delivery pending, got %s", out.Status)
	}
}

func TestRetryDeliveryRejectsMalformedID(t *testing.T) {
	env := newHandlerEnv(t)

	resp := env.do(t, http.MethodPost, "/api/v1/deliveries/not-a-uuid/retry")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

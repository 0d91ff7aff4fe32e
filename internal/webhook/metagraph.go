package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"converzia_backend/platform/config"
)

const graphRequestTimeout = 10 * time.Second

// LeadFetcher retrieves full lead submissions from the Meta Graph API. The
// webhook envelope only references a leadgen ID; the form answers live
// behind this call.
type LeadFetcher interface {
	FetchLead(ctx context.Context, leadgenID string) (GraphLead, error)
}

// GraphLead is a leadgen submission as returned by the Graph API.
type GraphLead struct {
	ID          string           `json:"id"`
	CreatedTime string           `json:"created_time"`
	FieldData   []GraphLeadField `json:"field_data"`
}

// GraphLeadField is one answered form field.
type GraphLeadField struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// Field returns the first value answered for the named form field, or "".
func (l GraphLead) Field(name string) string {
	for _, f := range l.FieldData {
		if f.Name == name && len(f.Values) > 0 {
			return f.Values[0]
		}
	}
	return ""
}

// RawFields flattens the form answers into a map for storage alongside the
// lead. Multi-value answers are kept as slices.
func (l GraphLead) RawFields() map[string]any {
	fields := make(map[string]any, len(l.FieldData))
	for _, f := range l.FieldData {
		switch len(f.Values) {
		case 0:
		case 1:
			fields[f.Name] = f.Values[0]
		default:
			fields[f.Name] = f.Values
		}
	}
	return fields
}

// GraphClient is an HTTP client for the Meta Graph API leadgen endpoint.
type GraphClient struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
}

// NewGraphClient creates a Graph API client from the Meta configuration.
func NewGraphClient(cfg config.MetaConfig) *GraphClient {
	return &GraphClient{
		baseURL:     strings.TrimRight(cfg.GetMetaGraphURL(), "/"),
		accessToken: cfg.GetMetaAccessToken(),
		httpClient:  &http.Client{Timeout: graphRequestTimeout},
	}
}

// FetchLead retrieves one leadgen submission by ID.
func (c *GraphClient) FetchLead(ctx context.Context, leadgenID string) (GraphLead, error) {
	if c.accessToken == "" {
		return GraphLead{}, fmt.Errorf("meta access token not configured")
	}

	endpoint := fmt.Sprintf("%s/%s?access_token=%s&fields=id,created_time,field_data",
		c.baseURL, url.PathEscape(leadgenID), url.QueryEscape(c.accessToken))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return GraphLead{}, fmt.Errorf("create graph request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return GraphLead{}, fmt.Errorf("graph request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return GraphLead{}, fmt.Errorf("graph api returned status %d: %s", resp.StatusCode, string(snippet))
	}

	var lead GraphLead
	if err := json.NewDecoder(resp.Body).Decode(&lead); err != nil {
		return GraphLead{}, fmt.Errorf("decode graph response: %w", err)
	}

	return lead, nil
}

var _ LeadFetcher = (*GraphClient)(nil)

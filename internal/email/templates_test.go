package email

import (
	"strings"
	"testing"
)

func TestDeliveryAlertTemplateRendersFailureDetails(t *testing.T) {
	html, err := renderTemplate("delivery_alert.html", deliveryAlertTemplateData{
		Title:        "Delivery failed permanently",
		DeliveryID:   "0f2ab8e1-61a4-4f76-b8a5-0f2b9be1c001",
		TenantID:     "4cfcd9dc-06a7-4a1e-9e61-9310bb4f0ee2",
		LeadID:       "9b3c1f64-8d21-44f2-a1ea-1f9f6f3e7d5b",
		RetryCount:   3,
		ErrorMessage: "webhook returned 500",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	for _, want := range []string{
		"Delivery failed permanently",
		"0f2ab8e1-61a4-4f76-b8a5-0f2b9be1c001",
		"webhook returned 500",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("expected rendered alert to contain %q", want)
		}
	}
}

func TestLeadHandoffTemplateRendersContactAndFields(t *testing.T) {
	html, err := renderTemplate("lead_handoff.html", leadHandoffTemplateData{
		Title:     "New qualified lead",
		LeadName:  "Marta Ruiz",
		LeadEmail: "marta@example.com",
		LeadPhone: "+34600111222",
		Source:    "meta_lead_ad",
		Fields:    map[string]any{"budget": "2000-3000"},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	for _, want := range []string{"Marta Ruiz", "marta@example.com", "budget", "2000-3000"} {
		if !strings.Contains(html, want) {
			t.Errorf("expected rendered handoff to contain %q", want)
		}
	}
}

func TestLeadHandoffTemplateOmitsFieldsBlockWhenEmpty(t *testing.T) {
	html, err := renderTemplate("lead_handoff.html", leadHandoffTemplateData{
		Title:    "New qualified lead",
		LeadName: "Marta Ruiz",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if strings.Contains(html, "Submitted fields") {
		t.Error("expected fields block to be omitted when no fields are present")
	}
}

package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

type deliveryAlertTemplateData struct {
	Title        string
	DeliveryID   string
	TenantID     string
	LeadID       string
	RetryCount   int
	ErrorMessage string
}

type leadHandoffTemplateData struct {
	Title     string
	LeadName  string
	LeadEmail string
	LeadPhone string
	Source    string
	Fields    map[string]any
}

func renderTemplate(name string, data any) (string, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/"+name)
	if err != nil {
		return "", fmt.Errorf("parse template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render template %s: %w", name, err)
	}
	return buf.String(), nil
}

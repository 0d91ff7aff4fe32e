package email

import (
	"context"
	"fmt"
	"time"

	gomail "github.com/wneessen/go-mail"

	"converzia_backend/platform/config"
)

// SMTPSender implements the Sender interface over a direct SMTP connection
// via go-mail.
type SMTPSender struct {
	host      string
	port      int
	username  string
	password  string
	fromName  string
	fromEmail string
	alertTo   string
}

// NewSMTPSender creates an SMTP sender from the mail configuration.
func NewSMTPSender(cfg config.SMTPConfig) *SMTPSender {
	return &SMTPSender{
		host:      cfg.GetSMTPHost(),
		port:      cfg.GetSMTPPort(),
		username:  cfg.GetSMTPUsername(),
		password:  cfg.GetSMTPPassword(),
		fromName:  cfg.GetEmailFromName(),
		fromEmail: cfg.GetEmailFromAddress(),
		alertTo:   cfg.GetAlertEmailTo(),
	}
}

// SendDeliveryAlert mails the configured operations address about a
// delivery parked in the terminal failed status.
func (s *SMTPSender) SendDeliveryAlert(ctx context.Context, data AlertData) error {
	if s.alertTo == "" {
		return fmt.Errorf("ALERT_EMAIL_TO not configured")
	}

	content, err := renderTemplate("delivery_alert.html", deliveryAlertTemplateData{
		Title:        "Delivery failed permanently",
		DeliveryID:   data.DeliveryID.String(),
		TenantID:     data.TenantID.String(),
		LeadID:       data.LeadID.String(),
		RetryCount:   data.RetryCount,
		ErrorMessage: data.ErrorMessage,
	})
	if err != nil {
		return err
	}

	subject := fmt.Sprintf(subjectDeliveryAlertFmt, data.DeliveryID)
	return s.send(ctx, s.alertTo, subject, content)
}

// SendLeadHandoff mails a qualified lead summary to an integration's
// destination address.
func (s *SMTPSender) SendLeadHandoff(ctx context.Context, data HandoffData) error {
	content, err := renderTemplate("lead_handoff.html", leadHandoffTemplateData{
		Title:     "New qualified lead",
		LeadName:  data.LeadName,
		LeadEmail: data.LeadEmail,
		LeadPhone: data.LeadPhone,
		Source:    data.Source,
		Fields:    data.Fields,
	})
	if err != nil {
		return err
	}

	subject := fmt.Sprintf(subjectLeadHandoffFmt, data.LeadName)
	return s.send(ctx, data.To, subject, content)
}

func (s *SMTPSender) send(ctx context.Context, toEmail, subject, htmlContent string) error {
	msg := gomail.NewMsg()
	if err := msg.FromFormat(s.fromName, s.fromEmail); err != nil {
		return fmt.Errorf("smtp from: %w", err)
	}
	if err := msg.To(toEmail); err != nil {
		return fmt.Errorf("smtp to: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextHTML, htmlContent)

	client, err := gomail.NewClient(s.host,
		gomail.WithPort(s.port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(s.username),
		gomail.WithPassword(s.password),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15*time.Second),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}

	return nil
}

var _ Sender = (*SMTPSender)(nil)

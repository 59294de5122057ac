// Package notification renders clinic email templates and delivers them over
// SMTP, or to the log when no mail server is configured.
package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Template IDs.
const (
	TplOTPLogin              = "otp-login"
	TplOTPRegistration       = "otp-registration"
	TplPasswordReset         = "password-reset"
	TplAppointmentBooked     = "appointment-booked"
	TplAppointmentUpdated    = "appointment-updated"
	TplAppointmentCancelled  = "appointment-cancelled"
	TplReferralReceived      = "referral-received"
	TplSonographyReferral    = "sonography-referral"
	TplSonographyReportReady = "sonography-report-ready"
	TplDiagnosticBooked      = "diagnostic-booked"
	TplDiagnosticResultReady = "diagnostic-result-ready"
)

// EmailSender is the interface for sending email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// Template defines a reusable email template. Placeholders are {{key}}.
type Template struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// TemplateEngine manages templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the clinic templates
// pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      TplOTPLogin,
			Name:    "Login Code",
			Subject: "Your HeartFlow login code",
			Body:    "Hello {{name}},\n\nYour login verification code is {{code}}. It expires in {{ttl}}.\n\nIf you did not try to sign in, you can ignore this email.",
		},
		{
			ID:      TplOTPRegistration,
			Name:    "Registration Code",
			Subject: "Verify your HeartFlow account",
			Body:    "Hello {{name}},\n\nWelcome to HeartFlow. Your verification code is {{code}}. It expires in {{ttl}}.",
		},
		{
			ID:      TplPasswordReset,
			Name:    "Password Reset",
			Subject: "HeartFlow password reset",
			Body:    "Hello {{name}},\n\nUse the code {{code}} to reset your password. It expires in {{ttl}}.",
		},
		{
			ID:      TplAppointmentBooked,
			Name:    "Appointment Booked",
			Subject: "Appointment confirmed for {{date}}",
			Body:    "Hello {{name}},\n\nYour appointment with {{doctor}} is booked for {{date}} at {{time}}.",
		},
		{
			ID:      TplAppointmentUpdated,
			Name:    "Appointment Updated",
			Subject: "Appointment updated",
			Body:    "Hello {{name}},\n\nYour appointment with {{doctor}} is now on {{date}} at {{time}}.",
		},
		{
			ID:      TplAppointmentCancelled,
			Name:    "Appointment Cancelled",
			Subject: "Appointment cancelled",
			Body:    "Hello {{name}},\n\nYour appointment with {{doctor}} on {{date}} at {{time}} has been cancelled.",
		},
		{
			ID:      TplReferralReceived,
			Name:    "Referral Received",
			Subject: "New patient referral",
			Body:    "Hello {{name}},\n\n{{referrer}} has referred {{patient}} to you. Reason: {{reason}}",
		},
		{
			ID:      TplSonographyReferral,
			Name:    "Sonography Referral",
			Subject: "New sonography referral",
			Body:    "Hello {{name}},\n\n{{doctor}} has requested a scan for {{patient}}.",
		},
		{
			ID:      TplSonographyReportReady,
			Name:    "Sonography Report Ready",
			Subject: "Sonography report ready for {{patient}}",
			Body:    "Hello {{name}},\n\nThe sonography report for {{patient}} has been uploaded by {{sonographer}}.",
		},
		{
			ID:      TplDiagnosticBooked,
			Name:    "Diagnostic Test Booked",
			Subject: "{{test}} booked for {{date}}",
			Body:    "Hello {{name}},\n\nYour {{test}} is booked for {{date}} at {{time}}.",
		},
		{
			ID:      TplDiagnosticResultReady,
			Name:    "Diagnostic Result Ready",
			Subject: "Your {{test}} result is ready",
			Body:    "Hello {{name}},\n\nThe result of your {{test}} is now available. Please log in to view it.",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Has reports whether templateID is registered.
func (e *TemplateEngine) Has(templateID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.templates[templateID]
	return ok
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// Mailer renders a template and hands the result to an EmailSender.
type Mailer struct {
	sender    EmailSender
	templates *TemplateEngine
}

func NewMailer(sender EmailSender, templates *TemplateEngine) *Mailer {
	if templates == nil {
		templates = NewTemplateEngine()
	}
	return &Mailer{sender: sender, templates: templates}
}

// SendTemplate renders templateID with data and emails it to to.
func (m *Mailer) SendTemplate(ctx context.Context, templateID, to string, data map[string]string) error {
	if strings.TrimSpace(to) == "" {
		return fmt.Errorf("send %s: empty recipient", templateID)
	}
	subject, body, err := m.templates.Render(templateID, data)
	if err != nil {
		return fmt.Errorf("render template: %w", err)
	}
	if err := m.sender.SendEmail(ctx, to, subject, body); err != nil {
		return fmt.Errorf("send %s to %s: %w", templateID, to, err)
	}
	return nil
}

// Package notification sends best-effort email: templates are rendered,
// handed to a sender on a background goroutine, and any failure is logged and
// dropped. Delivery is at most once; nothing is queued or retried.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/healthlock/healthlock/internal/platform/metrics"
)

// ---------------------------------------------------------------------------
// Email
// ---------------------------------------------------------------------------

// Attachment is a file sent alongside an email.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// Email is one outbound message.
type Email struct {
	To          string
	Subject     string
	Body        string
	Attachments []Attachment
}

// EmailSender is the interface for sending email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, msg Email) error
}

// ---------------------------------------------------------------------------
// Template Engine
// ---------------------------------------------------------------------------

// Template IDs used by the application.
const (
	TemplateSignupWelcome          = "signup-welcome"
	TemplateLoginAlert             = "login-alert"
	TemplateQRGenerated            = "qr-generated"
	TemplateRecordShared           = "record-shared"
	TemplateRecordAccessed         = "record-accessed"
	TemplateRecordViewed           = "record-viewed"
	TemplateProfileAccessRequested = "profile-access-requested"
	TemplateProfileAccessApproved  = "profile-access-approved"
)

// Template defines a reusable notification template.
type Template struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
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
			ID:      TemplateSignupWelcome,
			Name:    "Signup Welcome",
			Subject: "Welcome to Health-Lock",
			Body:    "Hi {{name}},\n\nYour {{role}} account has been created. You can now sign in at {{app_url}}.",
		},
		{
			ID:      TemplateLoginAlert,
			Name:    "Login Alert",
			Subject: "New sign-in to your Health-Lock account",
			Body:    "Hi {{name}},\n\nYour account was signed in at {{time}} from {{ip}}. If this was not you, change your password.",
		},
		{
			ID:      TemplateQRGenerated,
			Name:    "QR Generated",
			Subject: "Your secure access link for {{file_name}}",
			Body:    "Hi {{name}},\n\nA QR access link was generated for {{file_name}}. It is valid for {{expires_in}}:\n{{access_url}}",
		},
		{
			ID:      TemplateRecordShared,
			Name:    "Record Shared",
			Subject: "{{patient_name}} shared a medical record with you",
			Body:    "Hello,\n\n{{patient_name}} shared {{file_name}} with you. The link is valid for {{expires_in}}:\n{{access_url}}",
		},
		{
			ID:      TemplateRecordAccessed,
			Name:    "Record Accessed",
			Subject: "Your record {{file_name}} was accessed",
			Body:    "Hi {{name}},\n\n{{file_name}} was opened by {{viewer}} at {{time}} from {{ip}}.",
		},
		{
			ID:      TemplateRecordViewed,
			Name:    "Record Viewed",
			Subject: "You opened a record shared by {{patient_name}}",
			Body:    "Hi {{name}},\n\nYou opened {{file_name}} shared by {{patient_name}} at {{time}}. This access has been logged.",
		},
		{
			ID:      TemplateProfileAccessRequested,
			Name:    "Profile Access Requested",
			Subject: "{{doctor_name}} requested access to your health profile",
			Body:    "Hi {{name}},\n\n{{doctor_name}} requested access to your health profile. The request expires at {{expires_at}}.\nReview it here: {{approval_url}}",
		},
		{
			ID:      TemplateProfileAccessApproved,
			Name:    "Profile Access Approved",
			Subject: "{{patient_name}} approved your profile access request",
			Body:    "Hi {{name}},\n\n{{patient_name}} approved your request. You can now view their health profile.",
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

// ---------------------------------------------------------------------------
// Dispatcher
// ---------------------------------------------------------------------------

// Request describes one notification to send.
type Request struct {
	To          string
	TemplateID  string
	Data        map[string]string
	Attachments []Attachment
}

// Dispatcher sends notifications without blocking or failing the caller.
type Dispatcher struct {
	sender    EmailSender
	templates *TemplateEngine
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	timeout   time.Duration
	wg        sync.WaitGroup
}

// NewDispatcher returns a Dispatcher. A nil sender disables delivery; every
// notification is then logged as skipped.
func NewDispatcher(sender EmailSender, templates *TemplateEngine, logger zerolog.Logger, m *metrics.Metrics) *Dispatcher {
	if templates == nil {
		templates = NewTemplateEngine()
	}
	return &Dispatcher{
		sender:    sender,
		templates: templates,
		logger:    logger.With().Str("component", "notification").Logger(),
		metrics:   m,
		timeout:   15 * time.Second,
	}
}

// Enabled reports whether a sender is configured.
func (d *Dispatcher) Enabled() bool {
	return d != nil && d.sender != nil
}

// Notify renders and sends req on a background goroutine. It returns
// immediately and never reports failure to the caller. The send runs on its
// own timeout, detached from any request context.
func (d *Dispatcher) Notify(req Request) {
	if d == nil {
		return
	}
	if req.To == "" {
		return
	}
	if d.sender == nil {
		d.logger.Warn().Str("template", req.TemplateID).Msg("smtp not configured, notification skipped")
		d.metrics.Notification(req.TemplateID, "skipped")
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error().Str("template", req.TemplateID).Interface("panic", r).Msg("notification panicked")
				d.metrics.Notification(req.TemplateID, "failed")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := d.send(ctx, req); err != nil {
			d.logger.Error().Err(err).Str("template", req.TemplateID).Msg("notification failed")
			d.metrics.Notification(req.TemplateID, "failed")
			return
		}
		d.logger.Debug().Str("template", req.TemplateID).Msg("notification sent")
		d.metrics.Notification(req.TemplateID, "sent")
	}()
}

func (d *Dispatcher) send(ctx context.Context, req Request) error {
	subject, body, err := d.templates.Render(req.TemplateID, req.Data)
	if err != nil {
		return fmt.Errorf("render template: %w", err)
	}
	return d.sender.SendEmail(ctx, Email{
		To:          req.To,
		Subject:     subject,
		Body:        body,
		Attachments: req.Attachments,
	})
}

// Wait blocks until in-flight notifications finish. Used on shutdown and in
// tests.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

// ---------------------------------------------------------------------------
// Mock Sender (test double)
// ---------------------------------------------------------------------------

// MockEmailSender is a test double for EmailSender.
type MockEmailSender struct {
	mu         sync.Mutex
	calls      []Email
	ShouldFail bool
	FailError  string
}

// SendEmail records the call and optionally returns an error.
func (m *MockEmailSender) SendEmail(_ context.Context, msg Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, msg)
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded email calls.
func (m *MockEmailSender) Calls() []Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Email, len(m.calls))
	copy(out, m.calls)
	return out
}

// Package notification provides SMS delivery for the patient evaluation
// workflow: template rendering, a Lambda relay sender, in-memory delivery
// records with retry, and a mock sender for tests.
package notification

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Notification represents a single outbound SMS.
type Notification struct {
	ID           string            `json:"id"`
	Recipient    string            `json:"recipient"`
	Body         string            `json:"body"`
	TemplateID   string            `json:"template_id,omitempty"`
	TemplateData map[string]string `json:"template_data,omitempty"`
	Status       string            `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	SentAt       *time.Time        `json:"sent_at,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// SMSSender is the interface for sending SMS messages.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// ---------------------------------------------------------------------------
// Template Engine
// ---------------------------------------------------------------------------

// Template defines a reusable SMS template.
type Template struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Body string `json:"body"`
}

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates
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
			ID:   "appointment-reminder",
			Name: "Appointment Reminder",
			Body: "Hola {{patient_name}}, le recordamos su procedimiento ({{procedure}}) el {{date}}. Complete su evaluación preanestésica en {{link}}",
		},
		{
			ID:   "evaluation-validated",
			Name: "Evaluation Validated",
			Body: "Hola {{patient_name}}, su evaluación preanestésica ha sido revisada y validada por nuestro equipo. Le esperamos el {{date}}.",
		},
		{
			ID:   "evaluation-completed",
			Name: "Evaluation Completed",
			Body: "Gracias {{patient_name}}, su evaluación preanestésica se ha completado. El equipo médico la revisará en breve.",
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

// Render looks up a template by ID and performs {{key}} replacement using
// the supplied data map. Keys present in the template but absent from data
// are left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (string, error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("template %q not found", templateID)
	}

	body := t.Body
	for k, v := range data {
		body = strings.ReplaceAll(body, "{{"+k+"}}", v)
	}
	return body, nil
}

// ---------------------------------------------------------------------------
// Mock Sender (test double)
// ---------------------------------------------------------------------------

// SMSCall records a single call to SendSMS.
type SMSCall struct {
	To   string
	Body string
}

// MockSMSSender is a test double for SMSSender.
type MockSMSSender struct {
	mu         sync.Mutex
	calls      []SMSCall
	ShouldFail bool
	FailError  string
}

// SendSMS records the call and optionally returns an error.
func (m *MockSMSSender) SendSMS(_ context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, SMSCall{To: to, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded SMS calls.
func (m *MockSMSSender) Calls() []SMSCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SMSCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// ---------------------------------------------------------------------------
// Service
// ---------------------------------------------------------------------------

// Service orchestrates rendering, sending, and in-memory recording of SMS
// notifications. Delivery failures are recorded and logged; callers on the
// workflow path use SendTemplateAsync and are never blocked by them.
type Service struct {
	sender        SMSSender
	templates     *TemplateEngine
	logger        zerolog.Logger
	mu            sync.RWMutex
	notifications map[string]*Notification
}

func NewService(sender SMSSender, tpl *TemplateEngine, logger zerolog.Logger) *Service {
	return &Service{
		sender:        sender,
		templates:     tpl,
		logger:        logger,
		notifications: make(map[string]*Notification),
	}
}

// Send dispatches an SMS, assigns an ID and timestamps, and records the
// result in memory.
func (s *Service) Send(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	n.CreatedAt = time.Now().UTC()
	n.Status = "pending"

	sendErr := s.sender.SendSMS(ctx, n.Recipient, n.Body)
	if sendErr != nil {
		n.Status = "failed"
		n.Error = sendErr.Error()
	} else {
		n.Status = "sent"
		sentAt := time.Now().UTC()
		n.SentAt = &sentAt
	}

	s.mu.Lock()
	s.notifications[n.ID] = n
	s.mu.Unlock()

	return sendErr
}

// SendTemplate renders a template and sends the resulting SMS.
func (s *Service) SendTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) (*Notification, error) {
	body, err := s.templates.Render(templateID, data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	n := &Notification{
		Recipient:    recipient,
		Body:         body,
		TemplateID:   templateID,
		TemplateData: data,
	}
	if err := s.Send(ctx, n); err != nil {
		return n, err
	}
	return n, nil
}

// SendTemplateAsync sends in a goroutine and only logs failures. The
// evaluation workflow must never fail because an SMS did not go out.
func (s *Service) SendTemplateAsync(templateID string, data map[string]string, recipient string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := s.SendTemplate(ctx, templateID, data, recipient); err != nil {
			s.logger.Error().
				Err(err).
				Str("template_id", templateID).
				Str("recipient", recipient).
				Msg("sms delivery failed")
		}
	}()
}

// ErrNotFound is returned when no delivery record exists for an ID.
var ErrNotFound = errors.New("notification not found")

// ErrNotFailed is returned when a retry targets a record that is not in
// failed status.
var ErrNotFailed = errors.New("notification is not in failed status")

// Get retrieves a notification record by ID.
func (s *Service) Get(id string) (*Notification, error) {
	s.mu.RLock()
	n, ok := s.notifications[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("notification %q: %w", id, ErrNotFound)
	}
	return n, nil
}

// Retry re-sends a failed notification. Returns an error if the
// notification is not in "failed" status.
func (s *Service) Retry(ctx context.Context, id string) error {
	s.mu.RLock()
	n, ok := s.notifications[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("notification %q: %w", id, ErrNotFound)
	}
	if n.Status != "failed" {
		return fmt.Errorf("notification %q is %s: %w", id, n.Status, ErrNotFailed)
	}

	sendErr := s.sender.SendSMS(ctx, n.Recipient, n.Body)

	s.mu.Lock()
	if sendErr != nil {
		n.Status = "failed"
		n.Error = sendErr.Error()
	} else {
		n.Status = "sent"
		sentAt := time.Now().UTC()
		n.SentAt = &sentAt
		n.Error = ""
	}
	s.mu.Unlock()

	return sendErr
}

// List returns all notification records, most recent first.
func (s *Service) List() []*Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Notification, 0, len(s.notifications))
	for _, n := range s.notifications {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Stats returns counts of notifications grouped by status.
func (s *Service) Stats() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]int)
	for _, n := range s.notifications {
		stats[n.Status]++
	}
	return stats
}

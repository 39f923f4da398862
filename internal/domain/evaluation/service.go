package evaluation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrEvaluationFrozen is returned when a patient-side write is rejected
// because the evaluation has already been completed.
var ErrEvaluationFrozen = errors.New("evaluation already completed")

// CompletionChecker reports whether a patient's evaluation has finished.
// The workflow service implements it; the indirection keeps this package
// free of a workflow dependency.
type CompletionChecker interface {
	Frozen(ctx context.Context, patientID uuid.UUID) (bool, error)
}

type Service struct {
	repo       Repository
	completion CompletionChecker
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// SetCompletionChecker wires the workflow ledger in after construction so
// intake writes can be refused once the evaluation is frozen.
func (s *Service) SetCompletionChecker(c CompletionChecker) {
	s.completion = c
}

func (s *Service) AppendMessage(ctx context.Context, patientID uuid.UUID, role, content string) (*ConversationMessage, error) {
	if !validRoles[role] {
		return nil, fmt.Errorf("invalid message role: %q", role)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("message content is required")
	}

	m := &ConversationMessage{PatientID: patientID, Role: role, Content: content}
	if err := s.repo.AppendMessage(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) ListConversation(ctx context.Context, patientID uuid.UUID) ([]*ConversationMessage, error) {
	return s.repo.ListConversation(ctx, patientID)
}

// ReplaceRecommendations validates and stores a freshly generated set,
// discarding any previous set for the patient.
func (s *Service) ReplaceRecommendations(ctx context.Context, patientID uuid.UUID, recs []*Recommendation) error {
	for _, rec := range recs {
		rec.PatientID = patientID
		if rec.Category == "" {
			rec.Category = "general"
		}
		if err := rec.Validate(); err != nil {
			return err
		}
	}
	return s.repo.InsertRecommendations(ctx, patientID, recs)
}

func (s *Service) ListRecommendations(ctx context.Context, patientID uuid.UUID) ([]*Recommendation, error) {
	return s.repo.ListRecommendations(ctx, patientID)
}

func (s *Service) HasRecommendations(ctx context.Context, patientID uuid.UUID) (bool, error) {
	n, err := s.repo.CountRecommendations(ctx, patientID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Service) GetConsents(ctx context.Context, patientID uuid.UUID) ([]*ConsentRecord, error) {
	return s.repo.GetConsents(ctx, patientID)
}

// AcceptConsent records acceptance of the given consent type. Repeated
// calls are idempotent; the first acceptance wins and its signature and
// timestamp are preserved.
func (s *Service) AcceptConsent(ctx context.Context, patientID uuid.UUID, consentType, content string, signature *string) (*ConsentRecord, error) {
	if consentType != ConsentDataProcessing && consentType != ConsentPreAnesthetic {
		return nil, fmt.Errorf("invalid consent type: %q", consentType)
	}

	existing, err := s.repo.GetConsent(ctx, patientID, consentType)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Accepted {
		return existing, nil
	}

	now := time.Now().UTC()
	c := &ConsentRecord{
		PatientID:     patientID,
		ConsentType:   consentType,
		Content:       content,
		Accepted:      true,
		SignatureData: signature,
		AcceptedAt:    &now,
	}
	if err := s.repo.UpsertConsent(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// SaveIntake upserts the patient's intake questionnaire. The form stays
// editable only until the workflow freezes; afterwards the answers are
// part of the assembled report and must not change.
func (s *Service) SaveIntake(ctx context.Context, ir *IntakeResponse) error {
	if ir.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if s.completion != nil {
		frozen, err := s.completion.Frozen(ctx, ir.PatientID)
		if err != nil {
			return err
		}
		if frozen {
			return ErrEvaluationFrozen
		}
	}
	return s.repo.SaveIntake(ctx, ir)
}

func (s *Service) GetIntake(ctx context.Context, patientID uuid.UUID) (*IntakeResponse, error) {
	return s.repo.GetIntake(ctx, patientID)
}

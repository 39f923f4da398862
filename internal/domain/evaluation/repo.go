package evaluation

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrIntakeNotFound is returned when a patient has not saved any intake
// responses yet.
var ErrIntakeNotFound = errors.New("intake responses not found")

type Repository interface {
	// Conversation, append-only.
	AppendMessage(ctx context.Context, m *ConversationMessage) error
	ListConversation(ctx context.Context, patientID uuid.UUID) ([]*ConversationMessage, error)

	// Recommendations. Insert replaces the patient's previous set so a
	// regenerated evaluation does not accumulate stale advice.
	InsertRecommendations(ctx context.Context, patientID uuid.UUID, recs []*Recommendation) error
	ListRecommendations(ctx context.Context, patientID uuid.UUID) ([]*Recommendation, error)
	CountRecommendations(ctx context.Context, patientID uuid.UUID) (int, error)

	// Consents.
	GetConsents(ctx context.Context, patientID uuid.UUID) ([]*ConsentRecord, error)
	GetConsent(ctx context.Context, patientID uuid.UUID, consentType string) (*ConsentRecord, error)
	UpsertConsent(ctx context.Context, c *ConsentRecord) error

	// Intake form, one row per patient.
	SaveIntake(ctx context.Context, ir *IntakeResponse) error
	GetIntake(ctx context.Context, patientID uuid.UUID) (*IntakeResponse, error)
}

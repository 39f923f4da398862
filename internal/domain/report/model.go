package report

import (
	"time"

	"github.com/preop/preop/internal/domain/evaluation"
	"github.com/preop/preop/internal/domain/patient"
)

// Report bundles everything staff review before validating an
// evaluation. It is assembled on demand and never stored.
type Report struct {
	Patient         *patient.Patient              `json:"patient"`
	Intake          *evaluation.IntakeResponse    `json:"intake,omitempty"`
	Conversation    []*evaluation.ConversationMessage `json:"conversation"`
	Recommendations []*evaluation.Recommendation  `json:"recommendations"`
	Consents        []*evaluation.ConsentRecord   `json:"consents"`
	GeneratedAt     time.Time                     `json:"generated_at"`
}

package evaluation

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message roles in a patient conversation.
const (
	RolePatient   = "patient"
	RoleAssistant = "assistant"
)

var validRoles = map[string]bool{
	RolePatient:   true,
	RoleAssistant: true,
}

// ConversationMessage maps to the patient_conversations table. Rows are
// append-only; messages are never edited or deleted.
type ConversationMessage struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PatientID uuid.UUID `db:"patient_id" json:"patient_id"`
	Role      string    `db:"role" json:"role"`
	Content   string    `db:"content" json:"content"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Recommendation priorities, highest first.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

var priorityRank = map[string]int{
	PriorityHigh:   0,
	PriorityMedium: 1,
	PriorityLow:    2,
}

func ValidPriority(p string) bool {
	_, ok := priorityRank[p]
	return ok
}

// PriorityRank returns the sort rank of a priority, highest priority
// first. Unknown priorities sort last.
func PriorityRank(p string) int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return len(priorityRank)
}

// Recommendation maps to the patient_recommendations table.
type Recommendation struct {
	ID          uuid.UUID `db:"id" json:"id"`
	PatientID   uuid.UUID `db:"patient_id" json:"patient_id"`
	Category    string    `db:"category" json:"category"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description"`
	Priority    string    `db:"priority" json:"priority"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

func (r *Recommendation) Validate() error {
	if r.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if r.Title == "" {
		return fmt.Errorf("title is required")
	}
	if r.Description == "" {
		return fmt.Errorf("description is required")
	}
	if !ValidPriority(r.Priority) {
		return fmt.Errorf("invalid priority: %q", r.Priority)
	}
	return nil
}

// Consent types used in the evaluation flow.
const (
	ConsentDataProcessing = "data_processing"
	ConsentPreAnesthetic  = "pre_anesthetic"
)

// ConsentRecord maps to the informed_consents table. One active record
// per (patient, consent type). Acceptance is one-way: an accepted
// consent is never reverted.
type ConsentRecord struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	PatientID     uuid.UUID  `db:"patient_id" json:"patient_id"`
	ConsentType   string     `db:"consent_type" json:"consent_type"`
	Content       string     `db:"content" json:"content"`
	Accepted      bool       `db:"accepted" json:"accepted"`
	SignatureData *string    `db:"signature_data" json:"signature_data,omitempty"`
	AcceptedAt    *time.Time `db:"accepted_at" json:"accepted_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// IntakeResponse maps to the patient_responses table, one row per
// patient, upserted as the patient fills the intake form.
type IntakeResponse struct {
	PatientID         uuid.UUID `db:"patient_id" json:"patient_id"`
	WeightKg          *float64  `db:"weight_kg" json:"weight_kg,omitempty"`
	HeightCm          *float64  `db:"height_cm" json:"height_cm,omitempty"`
	Allergies         *string   `db:"allergies" json:"allergies,omitempty"`
	Medications       *string   `db:"medications" json:"medications,omitempty"`
	ChronicConditions *string   `db:"chronic_conditions" json:"chronic_conditions,omitempty"`
	PriorSurgeries    *string   `db:"prior_surgeries" json:"prior_surgeries,omitempty"`
	Smoker            *bool     `db:"smoker" json:"smoker,omitempty"`
	AlcoholUse        *bool     `db:"alcohol_use" json:"alcohol_use,omitempty"`
	Notes             *string   `db:"notes" json:"notes,omitempty"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// Summary renders the intake as a short plain-text block for the AI
// interview context and the staff report.
func (ir *IntakeResponse) Summary() string {
	var b strings.Builder
	add := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%s: %s\n", label, value)
		}
	}
	if ir.WeightKg != nil {
		add("Peso", fmt.Sprintf("%.1f kg", *ir.WeightKg))
	}
	if ir.HeightCm != nil {
		add("Altura", fmt.Sprintf("%.0f cm", *ir.HeightCm))
	}
	if ir.Allergies != nil {
		add("Alergias", *ir.Allergies)
	}
	if ir.Medications != nil {
		add("Medicacion habitual", *ir.Medications)
	}
	if ir.ChronicConditions != nil {
		add("Enfermedades cronicas", *ir.ChronicConditions)
	}
	if ir.PriorSurgeries != nil {
		add("Cirugias previas", *ir.PriorSurgeries)
	}
	if ir.Smoker != nil {
		add("Fumador", yesNo(*ir.Smoker))
	}
	if ir.AlcoholUse != nil {
		add("Consumo de alcohol", yesNo(*ir.AlcoholUse))
	}
	if ir.Notes != nil {
		add("Notas", *ir.Notes)
	}
	return strings.TrimRight(b.String(), "\n")
}

func yesNo(v bool) string {
	if v {
		return "si"
	}
	return "no"
}

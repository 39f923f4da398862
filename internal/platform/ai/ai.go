package ai

import "context"

// Role values for chat messages.
const (
	RolePatient   = "patient"
	RoleAssistant = "assistant"
)

// Message is one turn of a patient conversation.
type Message struct {
	Role    string
	Content string
}

// PatientContext carries the patient facts the assistant needs to run a
// pre-anesthesia interview.
type PatientContext struct {
	Name          string
	DNI           string
	Procedure     string
	ProcedureDate string
	IntakeSummary string
}

// GeneratedRecommendation is a single recommendation produced by the
// assistant once it has gathered enough information.
type GeneratedRecommendation struct {
	Category    string `json:"category"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
}

// Reply is the assistant's answer to one patient message. When the model
// decides the interview is complete it emits recommendations alongside the
// closing text and sets RecommendationsGenerated.
type Reply struct {
	Text                     string
	Recommendations          []GeneratedRecommendation
	RecommendationsGenerated bool
}

// Chat produces assistant replies for the patient evaluation conversation.
type Chat interface {
	Converse(ctx context.Context, history []Message, pctx PatientContext, userMsg string) (*Reply, error)
}

package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/preop/preop/internal/domain/evaluation"
	"github.com/preop/preop/internal/domain/patient"
	"github.com/preop/preop/internal/platform/ai"
	"github.com/preop/preop/internal/platform/notification"
)

// Decision is the validator's verdict on a requested step.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Consent texts presented in the portal. The accepted text is stored with
// the consent record so later edits do not change what was signed.
const (
	dataConsentText = "Acepto el tratamiento de mis datos personales y de salud " +
		"con el fin de realizar la evaluación preanestésica."
	preAnestheticConsentText = "He sido informado de los riesgos del procedimiento " +
		"anestésico y acepto su realización."
)

// Service drives the patient evaluation workflow: it is the only component
// that writes the step ledger, and it recomputes the patient's coarse
// status after every ledger write.
type Service struct {
	steps    Repository
	patients *patient.Service
	evals    *evaluation.Service
	chat     ai.Chat
	notifier *notification.Service
	logger   zerolog.Logger
}

func NewService(steps Repository, patients *patient.Service, evals *evaluation.Service, chat ai.Chat, notifier *notification.Service, logger zerolog.Logger) *Service {
	return &Service{
		steps:    steps,
		patients: patients,
		evals:    evals,
		chat:     chat,
		notifier: notifier,
		logger:   logger,
	}
}

func (s *Service) resolve(ctx context.Context, token string) (*patient.Patient, error) {
	p, err := s.patients.GetByToken(ctx, token)
	if errors.Is(err, patient.ErrNotFound) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// currentOf derives the furthest-incomplete step from a completion set:
// the first step in order without a marker, or completed when all are set.
func currentOf(completed map[Step]struct{}) Step {
	for _, st := range stepOrder {
		if _, ok := completed[st]; !ok {
			return st
		}
	}
	return StepCompleted
}

func (s *Service) completedSet(ctx context.Context, patientID uuid.UUID) (map[Step]struct{}, error) {
	marked, err := s.steps.Completed(ctx, patientID)
	if err != nil {
		return nil, err
	}
	set := make(map[Step]struct{}, len(marked))
	for st := range marked {
		set[st] = struct{}{}
	}
	return set, nil
}

// Frozen reports whether the patient's ledger carries the completed
// marker. Patient-side writes, the intake form included, are rejected
// once the evaluation is frozen.
func (s *Service) Frozen(ctx context.Context, patientID uuid.UUID) (bool, error) {
	completed, err := s.completedSet(ctx, patientID)
	if err != nil {
		return false, err
	}
	_, frozen := completed[StepCompleted]
	return frozen, nil
}

// CurrentStep derives the patient's current step. It is read-only and
// idempotent; repeated calls without an intervening MarkCompleted return
// the same step.
func (s *Service) CurrentStep(ctx context.Context, token string) (Step, error) {
	p, err := s.resolve(ctx, token)
	if err != nil {
		return "", err
	}
	completed, err := s.completedSet(ctx, p.ID)
	if err != nil {
		return "", err
	}
	return currentOf(completed), nil
}

// Validate decides whether the patient may be on target. A step is
// reachable iff it is the current step or an earlier one; the
// recommendations step additionally requires at least one generated
// recommendation. Denials are Decisions, not errors.
func (s *Service) Validate(ctx context.Context, token string, target Step) (Decision, error) {
	if target.Index() < 0 {
		return Decision{}, fmt.Errorf("unknown step: %q", target)
	}
	p, err := s.resolve(ctx, token)
	if err != nil {
		return Decision{}, err
	}
	completed, err := s.completedSet(ctx, p.ID)
	if err != nil {
		return Decision{}, err
	}
	current := currentOf(completed)

	if _, frozen := completed[StepCompleted]; frozen && target != StepCompleted {
		return Decision{Reason: "la evaluación ya ha finalizado"}, nil
	}
	if target.Index() > current.Index() {
		return Decision{Reason: fmt.Sprintf("debe completar el paso %s primero", current)}, nil
	}
	if target == StepRecommendations {
		has, err := s.evals.HasRecommendations(ctx, p.ID)
		if err != nil {
			return Decision{}, err
		}
		if !has {
			return Decision{Reason: "la evaluación con IA aún no ha finalizado"}, nil
		}
	}
	return Decision{Allowed: true}, nil
}

// MarkCompleted writes the completion marker for step and recomputes the
// patient's coarse status. The ledger guard enforces order and freezing
// even under concurrent writers.
func (s *Service) MarkCompleted(ctx context.Context, token string, step Step) error {
	if step.Index() < 0 {
		return fmt.Errorf("unknown step: %q", step)
	}
	p, err := s.resolve(ctx, token)
	if err != nil {
		return err
	}
	completed, err := s.completedSet(ctx, p.ID)
	if err != nil {
		return err
	}

	if _, frozen := completed[StepCompleted]; frozen {
		return &InvalidTransitionError{Step: step, Current: StepCompleted, Reason: "la evaluación ya ha finalizado"}
	}
	if _, done := completed[step]; done {
		// Re-marking an already completed step is a no-op.
		return nil
	}

	var prereq *Step
	if prev, ok := step.Prev(); ok {
		if _, done := completed[prev]; !done {
			return &InvalidTransitionError{
				Step:    step,
				Current: currentOf(completed),
				Reason:  fmt.Sprintf("el paso %s no está completado", prev),
			}
		}
		prereq = &prev
	}

	inserted, err := s.steps.MarkCompleted(ctx, p.ID, step, prereq)
	if err != nil {
		return err
	}
	if !inserted {
		// Lost a race: either the marker appeared concurrently, which is
		// fine, or the guard rejected the write.
		after, err := s.completedSet(ctx, p.ID)
		if err != nil {
			return err
		}
		if _, done := after[step]; !done {
			return &InvalidTransitionError{Step: step, Current: currentOf(after), Reason: "transición rechazada"}
		}
	}

	completed[step] = struct{}{}
	return s.projectStatus(ctx, p, completed)
}

// projectStatus maps the ledger onto the coarse dashboard status. The
// validated status is staff-owned and never downgraded here.
func (s *Service) projectStatus(ctx context.Context, p *patient.Patient, completed map[Step]struct{}) error {
	if p.Status == patient.StatusValidated {
		return nil
	}
	status := patient.StatusPending
	if _, done := completed[StepCompleted]; done {
		status = patient.StatusCompleted
	} else if len(completed) > 0 {
		status = patient.StatusInProgress
	}
	if status == p.Status {
		return nil
	}
	return s.patients.UpdateStatus(ctx, p.ID, status)
}

// -- Driver operations. Each performs the step's domain action first and
// marks the step only after the action succeeded. --

// AcceptDataConsent records the data processing consent and completes the
// entry step.
func (s *Service) AcceptDataConsent(ctx context.Context, token string) error {
	p, err := s.resolve(ctx, token)
	if err != nil {
		return err
	}
	if _, err := s.evals.AcceptConsent(ctx, p.ID, evaluation.ConsentDataProcessing, dataConsentText, nil); err != nil {
		return err
	}
	return s.MarkCompleted(ctx, token, StepDataConsent)
}

// Converse runs one chat turn: persist the patient message, ask the AI,
// persist its reply and store any generated recommendations. Nothing is
// marked completed here; a failed turn leaves the ledger untouched and the
// patient retries manually.
func (s *Service) Converse(ctx context.Context, token, message string) (*ai.Reply, error) {
	p, err := s.resolve(ctx, token)
	if err != nil {
		return nil, err
	}

	dec, err := s.Validate(ctx, token, StepChat)
	if err != nil {
		return nil, err
	}
	if !dec.Allowed {
		return nil, &InvalidTransitionError{Step: StepChat, Reason: dec.Reason}
	}

	// History is read before the new message is stored: the AI client
	// appends the current message itself, so including it here would hand
	// the model the same patient turn twice.
	history, err := s.evals.ListConversation(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	msgs := make([]ai.Message, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, ai.Message{Role: m.Role, Content: m.Content})
	}

	if _, err := s.evals.AppendMessage(ctx, p.ID, evaluation.RolePatient, message); err != nil {
		return nil, err
	}

	reply, err := s.chat.Converse(ctx, msgs, s.patientContext(ctx, p), message)
	if err != nil {
		return nil, fmt.Errorf("ai conversation: %w", err)
	}

	if reply.Text != "" {
		if _, err := s.evals.AppendMessage(ctx, p.ID, evaluation.RoleAssistant, reply.Text); err != nil {
			return nil, err
		}
	}

	if reply.RecommendationsGenerated {
		recs := make([]*evaluation.Recommendation, 0, len(reply.Recommendations))
		for _, gr := range reply.Recommendations {
			recs = append(recs, &evaluation.Recommendation{
				Category:    gr.Category,
				Title:       gr.Title,
				Description: gr.Description,
				Priority:    gr.Priority,
			})
		}
		if err := s.evals.ReplaceRecommendations(ctx, p.ID, recs); err != nil {
			return nil, err
		}
	}
	return reply, nil
}

func (s *Service) patientContext(ctx context.Context, p *patient.Patient) ai.PatientContext {
	pctx := ai.PatientContext{Name: p.Name, DNI: p.DNI}
	if p.Procedure != nil {
		pctx.Procedure = *p.Procedure
	}
	if p.ProcedureDate != nil {
		pctx.ProcedureDate = p.ProcedureDate.Format("02/01/2006")
	}
	if intake, err := s.evals.GetIntake(ctx, p.ID); err == nil {
		pctx.IntakeSummary = intake.Summary()
	}
	return pctx
}

// CompleteChat closes the interview. It is gated on the AI having produced
// at least one recommendation, on top of the ledger's order gate.
func (s *Service) CompleteChat(ctx context.Context, token string) error {
	p, err := s.resolve(ctx, token)
	if err != nil {
		return err
	}
	has, err := s.evals.HasRecommendations(ctx, p.ID)
	if err != nil {
		return err
	}
	if !has {
		return &ContentNotReadyError{Step: StepChat, Missing: "recomendaciones generadas"}
	}
	return s.MarkCompleted(ctx, token, StepChat)
}

// AcknowledgeRecommendations marks the recommendations step once the
// patient has reviewed the generated advice.
func (s *Service) AcknowledgeRecommendations(ctx context.Context, token string) error {
	p, err := s.resolve(ctx, token)
	if err != nil {
		return err
	}
	has, err := s.evals.HasRecommendations(ctx, p.ID)
	if err != nil {
		return err
	}
	if !has {
		return &ContentNotReadyError{Step: StepRecommendations, Missing: "recomendaciones generadas"}
	}
	return s.MarkCompleted(ctx, token, StepRecommendations)
}

// SignConsent stores the signed pre-anesthetic consent and completes the
// consent step. The signature is required.
func (s *Service) SignConsent(ctx context.Context, token, signature string) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return fmt.Errorf("signature is required")
	}
	p, err := s.resolve(ctx, token)
	if err != nil {
		return err
	}
	if _, err := s.evals.AcceptConsent(ctx, p.ID, evaluation.ConsentPreAnesthetic, preAnestheticConsentText, &signature); err != nil {
		return err
	}
	return s.MarkCompleted(ctx, token, StepConsent)
}

// Finish freezes the ledger and notifies the patient. The SMS is
// fire-and-forget; its failure never unwinds the completion.
func (s *Service) Finish(ctx context.Context, token string) error {
	p, err := s.resolve(ctx, token)
	if err != nil {
		return err
	}
	if err := s.MarkCompleted(ctx, token, StepCompleted); err != nil {
		return err
	}
	if p.Phone != nil && *p.Phone != "" {
		s.notifier.SendTemplateAsync("evaluation-completed", map[string]string{
			"patient_name": p.Name,
		}, *p.Phone)
	}
	s.logger.Info().
		Str("patient_id", p.ID.String()).
		Msg("evaluation completed")
	return nil
}

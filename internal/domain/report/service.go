package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/preop/preop/internal/domain/evaluation"
	"github.com/preop/preop/internal/domain/patient"
	"github.com/preop/preop/internal/platform/notification"
)

// ErrNotCompleted is returned when staff try to validate an evaluation
// whose workflow has not reached the completed step.
var ErrNotCompleted = errors.New("evaluation is not completed")

type Service struct {
	patients *patient.Service
	evals    *evaluation.Service
	notifier *notification.Service
	logger   zerolog.Logger
}

func NewService(patients *patient.Service, evals *evaluation.Service, notifier *notification.Service, logger zerolog.Logger) *Service {
	return &Service{patients: patients, evals: evals, notifier: notifier, logger: logger}
}

// Assemble gathers the full evaluation record for one patient. A missing
// intake form is not an error; everything else is.
func (s *Service) Assemble(ctx context.Context, patientID uuid.UUID) (*Report, error) {
	p, err := s.patients.GetPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}

	r := &Report{Patient: p, GeneratedAt: time.Now().UTC()}

	if intake, err := s.evals.GetIntake(ctx, patientID); err == nil {
		r.Intake = intake
	} else if !errors.Is(err, evaluation.ErrIntakeNotFound) {
		return nil, err
	}

	if r.Conversation, err = s.evals.ListConversation(ctx, patientID); err != nil {
		return nil, err
	}
	if r.Recommendations, err = s.evals.ListRecommendations(ctx, patientID); err != nil {
		return nil, err
	}
	if r.Consents, err = s.evals.GetConsents(ctx, patientID); err != nil {
		return nil, err
	}
	return r, nil
}

// Summary renders the report as plain text for export and printing.
func (s *Service) Summary(ctx context.Context, patientID uuid.UUID) (string, error) {
	r, err := s.Assemble(ctx, patientID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "EVALUACIÓN PREANESTÉSICA\n")
	fmt.Fprintf(&b, "Paciente: %s (DNI %s)\n", r.Patient.Name, r.Patient.DNI)
	if r.Patient.Procedure != nil {
		fmt.Fprintf(&b, "Procedimiento: %s", *r.Patient.Procedure)
		if r.Patient.ProcedureDate != nil {
			fmt.Fprintf(&b, " (%s)", r.Patient.ProcedureDate.Format("02/01/2006"))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Estado: %s\n", r.Patient.Status.Display())

	if r.Intake != nil {
		b.WriteString("\nCUESTIONARIO\n")
		b.WriteString(r.Intake.Summary())
		b.WriteString("\n")
	}

	if len(r.Recommendations) > 0 {
		b.WriteString("\nRECOMENDACIONES\n")
		for _, rec := range r.Recommendations {
			fmt.Fprintf(&b, "[%s] %s: %s\n", rec.Priority, rec.Title, rec.Description)
		}
	}

	if len(r.Consents) > 0 {
		b.WriteString("\nCONSENTIMIENTOS\n")
		for _, c := range r.Consents {
			state := "pendiente"
			if c.Accepted && c.AcceptedAt != nil {
				state = "aceptado el " + c.AcceptedAt.Format("02/01/2006 15:04")
			}
			fmt.Fprintf(&b, "%s: %s\n", c.ConsentType, state)
		}
	}

	fmt.Fprintf(&b, "\nGenerado: %s\n", r.GeneratedAt.Format(time.RFC3339))
	return b.String(), nil
}

// ValidateEvaluation is the staff sign-off: it requires the evaluation to
// be completed, moves the patient to validated and notifies them by SMS.
// SMS delivery is best-effort and never fails the validation.
func (s *Service) ValidateEvaluation(ctx context.Context, patientID uuid.UUID) (*patient.Patient, error) {
	p, err := s.patients.GetPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if p.Status == patient.StatusValidated {
		return p, nil
	}
	if p.Status != patient.StatusCompleted {
		return nil, fmt.Errorf("%w: status is %s", ErrNotCompleted, p.Status)
	}

	if err := s.patients.UpdateStatus(ctx, patientID, patient.StatusValidated); err != nil {
		return nil, err
	}
	p.Status = patient.StatusValidated

	if p.Phone != nil && *p.Phone != "" {
		data := map[string]string{"patient_name": p.Name}
		if p.ProcedureDate != nil {
			data["date"] = p.ProcedureDate.Format("02/01/2006")
		}
		s.notifier.SendTemplateAsync("evaluation-validated", data, *p.Phone)
	}

	s.logger.Info().
		Str("patient_id", patientID.String()).
		Msg("evaluation validated")
	return p, nil
}

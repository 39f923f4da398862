package workflow

import "fmt"

// Step is one stage of the patient evaluation workflow. Steps are completed
// in the fixed order below; data_consent is the entry point and completed is
// terminal.
type Step string

const (
	StepDataConsent     Step = "data_consent"
	StepChat            Step = "chat"
	StepRecommendations Step = "recommendations"
	StepConsent         Step = "consent"
	StepCompleted       Step = "completed"
)

// stepOrder is the fixed partial order of the workflow. Index position is
// used for ordering comparisons; do not reorder.
var stepOrder = []Step{
	StepDataConsent,
	StepChat,
	StepRecommendations,
	StepConsent,
	StepCompleted,
}

// Steps returns the workflow steps in completion order.
func Steps() []Step {
	out := make([]Step, len(stepOrder))
	copy(out, stepOrder)
	return out
}

// ParseStep validates a step name received from a client.
func ParseStep(s string) (Step, error) {
	for _, st := range stepOrder {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown step: %q", s)
}

// Index returns the position of the step in the workflow order, or -1 for
// an unknown step.
func (s Step) Index() int {
	for i, st := range stepOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Prev returns the immediate predecessor of the step. ok is false for the
// entry step and for unknown steps.
func (s Step) Prev() (prev Step, ok bool) {
	i := s.Index()
	if i <= 0 {
		return "", false
	}
	return stepOrder[i-1], true
}

// Next returns the step that follows s. ok is false for the terminal step
// and for unknown steps.
func (s Step) Next() (next Step, ok bool) {
	i := s.Index()
	if i < 0 || i == len(stepOrder)-1 {
		return "", false
	}
	return stepOrder[i+1], true
}

package ai

import "context"

// ScriptedChat is a deterministic Chat used in development and tests. It
// walks a fixed list of questions and emits canned recommendations once the
// script is exhausted.
type ScriptedChat struct {
	Questions       []string
	Recommendations []GeneratedRecommendation
	Closing         string
}

// NewScriptedChat returns a scripted assistant with a minimal
// pre-anesthesia interview script.
func NewScriptedChat() *ScriptedChat {
	return &ScriptedChat{
		Questions: []string{
			"¿Tiene alguna alergia a medicamentos o alimentos?",
			"¿Está tomando alguna medicación actualmente?",
			"¿Fuma o consume alcohol de forma habitual?",
		},
		Recommendations: []GeneratedRecommendation{
			{
				Category:    "ayuno",
				Title:       "Ayuno preoperatorio",
				Description: "No ingiera alimentos sólidos durante las 8 horas previas a la intervención.",
				Priority:    "high",
			},
			{
				Category:    "medicacion",
				Title:       "Revisión de medicación",
				Description: "Consulte con su anestesista qué medicación debe suspender antes del procedimiento.",
				Priority:    "medium",
			},
		},
		Closing: "Gracias por sus respuestas. He preparado sus recomendaciones preoperatorias.",
	}
}

func (s *ScriptedChat) Converse(ctx context.Context, history []Message, pctx PatientContext, userMsg string) (*Reply, error) {
	// Each assistant turn in the history is one question already asked.
	asked := 0
	for _, m := range history {
		if m.Role == RoleAssistant {
			asked++
		}
	}
	if asked < len(s.Questions) {
		return &Reply{Text: s.Questions[asked]}, nil
	}
	return &Reply{
		Text:                     s.Closing,
		Recommendations:          s.Recommendations,
		RecommendationsGenerated: true,
	}, nil
}

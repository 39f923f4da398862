package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// OpenAIConfig configures the chat completions client. BaseURL may point at
// any OpenAI-compatible endpoint.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// OpenAIChat implements Chat against an OpenAI-compatible chat completions
// API, using a function tool to let the model emit structured
// recommendations once the interview is complete.
type OpenAIChat struct {
	httpClient *resty.Client
	model      string
	logger     zerolog.Logger
}

func NewOpenAIChat(cfg OpenAIConfig, logger zerolog.Logger) *OpenAIChat {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json")

	return &OpenAIChat{
		httpClient: client,
		model:      cfg.Model,
		logger:     logger,
	}
}

type apiMessage struct {
	Role      string        `json:"role"`
	Content   string        `json:"content"`
	ToolCalls []apiToolCall `json:"tool_calls,omitempty"`
}

type apiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type apiTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
	} `json:"function"`
}

type chatRequest struct {
	Model    string       `json:"model"`
	Messages []apiMessage `json:"messages"`
	Tools    []apiTool    `json:"tools,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      apiMessage `json:"message"`
		FinishReason string     `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

const recommendationsToolName = "generate_recommendations"

var recommendationsToolParams = json.RawMessage(`{
	"type": "object",
	"properties": {
		"recommendations": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"category":    {"type": "string"},
					"title":       {"type": "string"},
					"description": {"type": "string"},
					"priority":    {"type": "string", "enum": ["high", "medium", "low"]}
				},
				"required": ["category", "title", "description", "priority"]
			}
		},
		"closing_message": {"type": "string"}
	},
	"required": ["recommendations", "closing_message"]
}`)

func recommendationsTool() apiTool {
	var t apiTool
	t.Type = "function"
	t.Function.Name = recommendationsToolName
	t.Function.Description = "Emit the final pre-anesthesia recommendations once the interview has covered allergies, medication, habits and relevant history."
	t.Function.Parameters = recommendationsToolParams
	return t
}

func systemPrompt(pctx PatientContext) string {
	var b strings.Builder
	b.WriteString("Eres un asistente de evaluación preanestésica. Entrevista al paciente ")
	b.WriteString("sobre alergias, medicación actual, hábitos (tabaco, alcohol), enfermedades ")
	b.WriteString("previas y experiencias anteriores con anestesia. Haz una pregunta por turno, ")
	b.WriteString("en un tono cercano y claro. Cuando tengas la información suficiente, llama a ")
	b.WriteString("la función generate_recommendations con recomendaciones personalizadas.\n\n")
	fmt.Fprintf(&b, "Paciente: %s (DNI %s).", pctx.Name, pctx.DNI)
	if pctx.Procedure != "" {
		fmt.Fprintf(&b, " Procedimiento: %s.", pctx.Procedure)
	}
	if pctx.ProcedureDate != "" {
		fmt.Fprintf(&b, " Fecha prevista: %s.", pctx.ProcedureDate)
	}
	if pctx.IntakeSummary != "" {
		fmt.Fprintf(&b, "\nCuestionario de ingreso:\n%s", pctx.IntakeSummary)
	}
	return b.String()
}

// Converse sends the conversation so far plus the new patient message and
// returns the assistant reply, decoding any recommendations the model emits
// through the function tool.
func (c *OpenAIChat) Converse(ctx context.Context, history []Message, pctx PatientContext, userMsg string) (*Reply, error) {
	messages := make([]apiMessage, 0, len(history)+2)
	messages = append(messages, apiMessage{Role: "system", Content: systemPrompt(pctx)})
	for _, m := range history {
		role := "assistant"
		if m.Role == RolePatient {
			role = "user"
		}
		messages = append(messages, apiMessage{Role: role, Content: m.Content})
	}
	messages = append(messages, apiMessage{Role: "user", Content: userMsg})

	reqBody := chatRequest{
		Model:    c.model,
		Messages: messages,
		Tools:    []apiTool{recommendationsTool()},
	}

	var response chatResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(reqBody).
		SetResult(&response).
		SetError(&response).
		Post("/chat/completions")
	if err != nil {
		c.logger.Error().Err(err).Msg("chat completions call failed")
		return nil, fmt.Errorf("chat backend: %w", err)
	}
	if response.Error != nil {
		c.logger.Error().
			Int("status_code", resp.StatusCode()).
			Str("type", response.Error.Type).
			Msg("chat backend returned error")
		return nil, fmt.Errorf("chat backend: %s", response.Error.Message)
	}
	if resp.IsError() || len(response.Choices) == 0 {
		return nil, fmt.Errorf("chat backend: unexpected response (status %d)", resp.StatusCode())
	}

	choice := response.Choices[0]
	reply := &Reply{Text: choice.Message.Content}

	for _, call := range choice.Message.ToolCalls {
		if call.Function.Name != recommendationsToolName {
			continue
		}
		var args struct {
			Recommendations []GeneratedRecommendation `json:"recommendations"`
			ClosingMessage  string                    `json:"closing_message"`
		}
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			c.logger.Warn().Err(err).Msg("could not decode recommendations tool call")
			continue
		}
		reply.Recommendations = append(reply.Recommendations, args.Recommendations...)
		reply.RecommendationsGenerated = true
		if reply.Text == "" {
			reply.Text = args.ClosingMessage
		}
	}

	c.logger.Debug().
		Int("history_len", len(history)).
		Bool("recommendations_generated", reply.RecommendationsGenerated).
		Msg("chat turn completed")

	return reply, nil
}

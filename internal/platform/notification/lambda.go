package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// LambdaConfig configures the SMS relay. The relay is a small HTTP function
// that fronts the actual carrier gateway.
type LambdaConfig struct {
	URL     string
	Secret  string
	Timeout time.Duration
}

// LambdaSender delivers SMS through the HTTP relay.
type LambdaSender struct {
	httpClient *resty.Client
	logger     zerolog.Logger
}

func NewLambdaSender(cfg LambdaConfig, logger zerolog.Logger) *LambdaSender {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.URL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Relay-Secret", cfg.Secret)

	return &LambdaSender{httpClient: client, logger: logger}
}

type relayRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

type relayResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (s *LambdaSender) SendSMS(ctx context.Context, to, body string) error {
	var response relayResponse
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetBody(relayRequest{Phone: to, Message: body}).
		SetResult(&response).
		SetError(&response).
		Post("")
	if err != nil {
		return fmt.Errorf("sms relay: %w", err)
	}
	if resp.IsError() || !response.Success {
		msg := response.Error
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode())
		}
		return fmt.Errorf("sms relay: %s", msg)
	}

	s.logger.Debug().Str("recipient", to).Msg("sms relayed")
	return nil
}

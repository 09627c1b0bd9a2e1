package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/mithzak/are-you-dead/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// WebhookRequest body posted to the notification gateway
type WebhookRequest struct {
	Channel models.Channel         `json:"channel"`
	Address string                 `json:"address"`
	Event   models.EscalationEvent `json:"event"`
}

// WebhookConfig gateway endpoint
type WebhookConfig struct {
	URL        string
	Timeout    time.Duration
	RetryCount int
	AuthToken  string
}

// WebhookSender posts one request per contact to an SMS/email gateway
type WebhookSender struct {
	httpClient *resty.Client
	url        string
	logger     *zap.Logger
}

func NewWebhookSender(cfg WebhookConfig, logger *zap.Logger) *WebhookSender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(1*time.Second).
		SetRetryMaxWaitTime(5*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.AuthToken != "" {
		client.SetAuthToken(cfg.AuthToken)
	}

	return &WebhookSender{
		httpClient: client,
		url:        cfg.URL,
		logger:     logger,
	}
}

func (s *WebhookSender) SendTo(ctx context.Context, event models.EscalationEvent, contact models.ContactTarget) error {
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", event.EventID+":"+contact.Address).
		SetBody(WebhookRequest{
			Channel: contact.Channel,
			Address: contact.Address,
			Event:   event,
		}).
		Post(s.url)
	if err != nil {
		s.logger.Error("Notification gateway call failed",
			zap.String("event_id", event.EventID),
			zap.String("channel", string(contact.Channel)),
			zap.Error(err),
		)
		return fmt.Errorf("failed to call notification gateway: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("notification gateway returned status %d", resp.StatusCode())
	}
	return nil
}

package notify

import (
	"context"
	"fmt"
	"time"

	"harbor-presence/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// WebhookPayload is the JSON body POSTed for every presence change.
type WebhookPayload struct {
	Event       string       `json:"event"`
	BeaconID    string       `json:"beacon_id"`
	From        models.State `json:"from"`
	To          models.State `json:"to"`
	At          time.Time    `json:"at"`
	StaySeconds float64      `json:"stay_seconds,omitempty"`
	EventID     string       `json:"event_id"`
}

// WebhookNotifier pushes presence changes to an external HTTP endpoint.
// Direction events are not forwarded.
type WebhookNotifier struct {
	client *resty.Client
	url    string
	logger *zap.Logger
}

func NewWebhookNotifier(url, token string, timeout time.Duration, logger *zap.Logger) *WebhookNotifier {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}
	return &WebhookNotifier{client: client, url: url, logger: logger}
}

func (w *WebhookNotifier) Name() string { return "webhook" }

func (w *WebhookNotifier) OnDirectionEvent(context.Context, models.DirectionEvent) error {
	return nil
}

func (w *WebhookNotifier) OnPresenceChanged(ctx context.Context, change models.PresenceChange) error {
	payload := WebhookPayload{
		Event:       "presence_changed",
		BeaconID:    change.BeaconID,
		From:        change.From,
		To:          change.To,
		At:          change.At,
		StaySeconds: change.Duration.Seconds(),
		EventID:     change.EventID,
	}

	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("failed to call webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}

	w.logger.Debug("Webhook delivered",
		zap.String("beacon_id", change.BeaconID),
		zap.String("to", string(change.To)),
		zap.Int("status_code", resp.StatusCode()),
	)
	return nil
}

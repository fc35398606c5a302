// Package notify delivers advisory alerts. Delivery to the external
// webhook is best-effort: a failed call is logged and handed to the
// fallback sink, never retried.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/daniel-vizcarra/IntegraHub/model"
)

type INotifier interface {
	Notify(ctx context.Context, alert model.Alert)
}

// NewLogNotifier returns the local durable sink: alerts land in the
// structured log.
func NewLogNotifier(logger *zap.Logger) INotifier {
	return &logNotifier{logger: logger}
}

type logNotifier struct {
	logger *zap.Logger
}

func (n *logNotifier) Notify(_ context.Context, alert model.Alert) {
	n.logger.Warn("alert",
		zap.String("kind", string(alert.Kind)),
		zap.Int64("reference_id", alert.ReferenceID),
		zap.String("message", alert.Message),
	)
}

// NewWebhookNotifier posts alerts to url as JSON; on any failure the
// alert is routed to fallback so it is never silently lost.
func NewWebhookNotifier(url string, timeout time.Duration, fallback INotifier, logger *zap.Logger) INotifier {
	return &webhookNotifier{
		url:      url,
		fallback: fallback,
		logger:   logger,
		client:   &http.Client{Timeout: timeout},
	}
}

type webhookNotifier struct {
	url      string
	fallback INotifier
	logger   *zap.Logger
	client   *http.Client
}

func (n *webhookNotifier) Notify(ctx context.Context, alert model.Alert) {
	if err := n.post(ctx, alert); err != nil {
		n.logger.Warn("webhook alert delivery failed, using fallback sink",
			zap.String("kind", string(alert.Kind)),
			zap.Error(err),
		)
		n.fallback.Notify(ctx, alert)
	}
}

func (n *webhookNotifier) post(ctx context.Context, alert model.Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// FromConfig picks the webhook sink when a URL is configured, otherwise
// the local log sink.
func FromConfig(webhookURL string, timeout time.Duration, logger *zap.Logger) INotifier {
	logSink := NewLogNotifier(logger)
	if webhookURL == "" {
		return logSink
	}
	return NewWebhookNotifier(webhookURL, timeout, logSink, logger)
}

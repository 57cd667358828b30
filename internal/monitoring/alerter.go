package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/extract-trainer/internal/config"
	"github.com/sells-group/extract-trainer/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertExtractionFailureRate AlertType = "extraction_failure_rate"
	AlertAccuracyBelowTarget   AlertType = "accuracy_below_target"
	AlertCostOverrun           AlertType = "cost_overrun"
)

// minFinished is the number of finished extractions needed before the
// failure rate is judged.
const minFinished = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg            config.MonitoringConfig
	targetAccuracy float64
	client         *http.Client
}

// NewAlerter creates a new Alerter. targetAccuracy is a percentage; 0
// disables the accuracy alert.
func NewAlerter(cfg config.MonitoringConfig, targetAccuracy float64) *Alerter {
	return &Alerter{
		cfg:            cfg,
		targetAccuracy: targetAccuracy,
		client:         &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *model.MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := snap.Succeeded + snap.Failed
	if finished >= minFinished && a.cfg.FailureRateThreshold > 0 {
		rate := float64(snap.Failed) / float64(finished)
		if rate > a.cfg.FailureRateThreshold {
			alerts = append(alerts, Alert{
				Type:     AlertExtractionFailureRate,
				Severity: "high",
				Message: fmt.Sprintf(
					"Extraction failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished)",
					rate*100, a.cfg.FailureRateThreshold*100, snap.Failed, finished,
				),
				Details: map[string]any{
					"failure_rate": rate,
					"threshold":    a.cfg.FailureRateThreshold,
					"failed":       snap.Failed,
					"finished":     finished,
				},
				Timestamp: now,
			})
		}
	}

	// Accuracy is only meaningful once something has been validated.
	if a.targetAccuracy > 0 && snap.Accuracy > 0 && snap.Accuracy < a.targetAccuracy {
		alerts = append(alerts, Alert{
			Type:     AlertAccuracyBelowTarget,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Accuracy %.2f%% is below the %.2f%% target",
				snap.Accuracy, a.targetAccuracy,
			),
			Details: map[string]any{
				"accuracy": snap.Accuracy,
				"target":   a.targetAccuracy,
			},
			Timestamp: now,
		})
	}

	if a.cfg.CostThresholdUSD > 0 && snap.CostUSD > a.cfg.CostThresholdUSD {
		alerts = append(alerts, Alert{
			Type:     AlertCostOverrun,
			Severity: "high",
			Message: fmt.Sprintf(
				"API cost $%.2f exceeds threshold $%.2f",
				snap.CostUSD, a.cfg.CostThresholdUSD,
			),
			Details: map[string]any{
				"cost_usd":      snap.CostUSD,
				"threshold_usd": a.cfg.CostThresholdUSD,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// Notify logs every alert and delivers them to the webhook when one is
// configured. Returns the number of alerts delivered to the webhook.
func (a *Alerter) Notify(ctx context.Context, alerts []Alert) int {
	for _, alert := range alerts {
		zap.L().Warn("monitoring: alert",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
			zap.String("message", alert.Message),
		)
	}
	return a.SendAlerts(ctx, alerts)
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

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

	"github.com/benediktbwimmer/job-search/internal/config"
	"github.com/benediktbwimmer/job-search/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailed      AlertType = "run_failed"
	AlertRunFailureRate AlertType = "run_failure_rate"
	AlertSourceStale    AlertType = "source_stale"
	AlertSourceDegraded AlertType = "source_degraded"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates metrics and source health against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := snap.RunsSuccess + snap.RunsFailed
	if finished >= 5 && snap.FailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Run failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %d runs)",
				snap.FailRate*100, a.cfg.FailureRateThreshold*100,
				snap.RunsFailed, finished, snap.LookbackRuns,
			),
			Details: map[string]any{
				"fail_rate": snap.FailRate,
				"threshold": a.cfg.FailureRateThreshold,
				"failed":    snap.RunsFailed,
				"finished":  finished,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SourceAlerts builds alerts for stale or degraded sources. Staleness never
// blocks fetching, so surfacing it here is the only way anyone notices.
func (a *Alerter) SourceAlerts(healths []model.SourceHealth) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	for _, h := range healths {
		if h.Stale && h.TotalEvents > 0 {
			alerts = append(alerts, Alert{
				Type:     AlertSourceStale,
				Severity: "medium",
				Message:  fmt.Sprintf("Source %s has not succeeded recently (health score %d)", h.SourceName, h.HealthScore),
				Details: map[string]any{
					"source_name":  h.SourceName,
					"health_score": h.HealthScore,
					"success_rate": h.SuccessRate,
				},
				Timestamp: now,
			})
		}
		if !h.Stale && h.TotalEvents > 0 && h.SuccessRate < 0.25 {
			alerts = append(alerts, Alert{
				Type:     AlertSourceDegraded,
				Severity: "high",
				Message: fmt.Sprintf("Source %s is degraded: %.0f%% success over %d events",
					h.SourceName, h.SuccessRate*100, h.TotalEvents),
				Details: map[string]any{
					"source_name":  h.SourceName,
					"success_rate": h.SuccessRate,
					"total_events": h.TotalEvents,
				},
				Timestamp: now,
			})
		}
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent. Delivery failures are
// logged, never raised: alerting must not fail a run.
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
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
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

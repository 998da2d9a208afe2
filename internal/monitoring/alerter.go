// Package monitoring watches finished searches and posts webhook alerts
// when failure rates cross configured thresholds.
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

	"github.com/sells-group/platter/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertSearchFailureRate AlertType = "search_failure_rate"
	AlertDeployFailureRate AlertType = "deploy_failure_rate"
	AlertBreakerOpen       AlertType = "generation_breaker_open"
)

const defaultMinSamples = 5

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

func (a *Alerter) minSamples() int {
	if a.cfg.MinSamples > 0 {
		return a.cfg.MinSamples
	}
	return defaultMinSamples
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if snap.SessionsTotal >= a.minSamples() && snap.SessionFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertSearchFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Search failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.SessionFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.SessionsFailed, snap.SessionsTotal, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.SessionFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.SessionsFailed,
				"finished":     snap.SessionsTotal,
			},
			Timestamp: now,
		})
	}

	// A zero threshold turns the deploy check off.
	if a.cfg.DeployFailureThreshold > 0 && snap.Candidates >= a.minSamples() &&
		snap.DeployFailRate > a.cfg.DeployFailureThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertDeployFailureRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d of %d businesses were not deployed in last %dh (%.1f%%)",
				snap.Candidates-snap.Deployed, snap.Candidates, snap.LookbackHours, snap.DeployFailRate*100,
			),
			Details: map[string]any{
				"deploy_fail_rate":   snap.DeployFailRate,
				"threshold":          a.cfg.DeployFailureThreshold,
				"candidates":         snap.Candidates,
				"deployed":           snap.Deployed,
				"pending_businesses": snap.PendingBusinesses,
			},
			Timestamp: now,
		})
	}

	if snap.BreakerOpen {
		alerts = append(alerts, Alert{
			Type:     AlertBreakerOpen,
			Severity: "high",
			Message:  "Site generation circuit breaker is open; new businesses are saved without sites",
			Details: map[string]any{
				"sites_generated": snap.SitesGenerated,
			},
			Timestamp: now,
		})
	}

	return alerts
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
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
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

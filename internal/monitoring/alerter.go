package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/boletin-cli/internal/config"
	"github.com/sells-group/boletin-cli/internal/resilience"
)

// AlertType names the condition an alert reports.
type AlertType string

// Conditions watched by the checker.
const (
	AlertRunFailureRate AlertType = "run_failure_rate"
	AlertStalePending   AlertType = "stale_pending"
)

// A failure rate over fewer finished runs than this is noise.
const minFinishedRuns = 3

// Alert is the JSON body posted to the webhook. Text repeats Message so
// chat webhooks that only read "text" show something useful. Date is set
// for conditions that concern one bulletin date.
type Alert struct {
	Type      AlertType      `json:"type"`
	Date      string         `json:"date,omitempty"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Text      string         `json:"text,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Key identifies the condition an alert reports.
func (a Alert) Key() string {
	if a.Date == "" {
		return string(a.Type)
	}
	return string(a.Type) + "/" + a.Date
}

// Alerter turns a Snapshot into alerts and posts them.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryConfig
}

// NewAlerter returns an Alerter for cfg.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry: resilience.RetryConfig{
			MaxAttempts:    2,
			InitialBackoff: 200 * time.Millisecond,
			OnRetry:        resilience.RetryLogger("webhook", "alert"),
		},
	}
}

// Evaluate returns the alerts whose conditions hold in snap.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	at := snap.CollectedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	var out []Alert
	for _, rule := range []func(*Snapshot, time.Time) []Alert{a.failureRate, a.stalePending} {
		for _, alert := range rule(snap, at) {
			alert.Timestamp = at
			alert.Text = fmt.Sprintf("[boletin-cli] %s", alert.Message)
			out = append(out, alert)
		}
	}
	return out
}

func (a *Alerter) failureRate(snap *Snapshot, _ time.Time) []Alert {
	finished := snap.Finished()
	if finished < minFinishedRuns || snap.FailRate <= a.cfg.FailureRateThreshold {
		return nil
	}
	return []Alert{{
		Type:     AlertRunFailureRate,
		Severity: "high",
		Message: fmt.Sprintf("%.1f%% of runs failed in the last %dh (%d of %d), threshold %.1f%%",
			snap.FailRate*100, snap.LookbackHours, snap.RunsFailed, finished, a.cfg.FailureRateThreshold*100),
		Details: map[string]any{
			"failure_rate": snap.FailRate,
			"threshold":    a.cfg.FailureRateThreshold,
			"failed":       snap.RunsFailed,
			"finished":     finished,
		},
	}}
}

// stalePending reports each bulletin date that still carries a pending
// sidecar more than StalePendingHours after the day began, oldest first.
func (a *Alerter) stalePending(snap *Snapshot, at time.Time) []Alert {
	if a.cfg.StalePendingHours <= 0 {
		return nil
	}
	cutoff := at.Add(-time.Duration(a.cfg.StalePendingHours) * time.Hour)

	var out []Alert
	for _, d := range snap.PendingDates {
		day, err := time.Parse(time.DateOnly, d)
		if err != nil || !day.Before(cutoff) {
			continue
		}
		out = append(out, Alert{
			Type:     AlertStalePending,
			Date:     d,
			Severity: "medium",
			Message:  fmt.Sprintf("bulletin %s still incomplete after %dh", d, a.cfg.StalePendingHours),
			Details:  map[string]any{"threshold": a.cfg.StalePendingHours},
		})
	}
	return out
}

// Send delivers one alert. Without a webhook URL the alert is only logged.
func (a *Alerter) Send(ctx context.Context, alert Alert) error {
	log := zap.L().With(
		zap.String("type", string(alert.Type)),
		zap.String("severity", alert.Severity),
		zap.String("date", alert.Date),
	)
	if a.cfg.WebhookURL == "" {
		log.Warn("monitoring: alert", zap.String("message", alert.Message))
		return nil
	}
	if err := a.post(ctx, alert); err != nil {
		log.Error("monitoring: alert not delivered", zap.Error(err))
		return err
	}
	log.Info("monitoring: alert delivered")
	return nil
}

func (a *Alerter) post(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: encode alert")
	}
	_, err = resilience.DoVal(ctx, a.retry, func(ctx context.Context) (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(body))
		if err != nil {
			return struct{}{}, eris.Wrap(err, "monitoring: build webhook request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := a.client.Do(req)
		if err != nil {
			return struct{}{}, eris.Wrap(err, "monitoring: webhook")
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<10))
		_ = resp.Body.Close()

		if resp.StatusCode < 300 {
			return struct{}{}, nil
		}
		err = eris.Errorf("monitoring: webhook answered %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return struct{}{}, resilience.NewTransientError(err, resp.StatusCode)
		}
		return struct{}{}, err
	})
	return err
}

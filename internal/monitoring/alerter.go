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

	"github.com/sells-group/synthesis-cli/internal/model"
)

// Alert is the webhook payload for an unhealthy run.
type Alert struct {
	RunID     string          `json:"run_id"`
	Health    model.Health    `json:"health"`
	Severity  string          `json:"severity"`
	Message   string          `json:"message"`
	Reasons   []string        `json:"reasons,omitempty"`
	Findings  []model.Finding `json:"findings,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Alerter posts alerts for unhealthy runs to a webhook.
type Alerter struct {
	webhookURL string
	client     *http.Client
}

// NewAlerter creates an alerter. An empty webhookURL disables sending.
func NewAlerter(webhookURL string) *Alerter {
	return &Alerter{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled reports whether a webhook is configured.
func (a *Alerter) Enabled() bool {
	return a != nil && a.webhookURL != ""
}

// AlertFor builds the alert for rep, or nil when the run is healthy.
func AlertFor(rep *model.DiagnosticsReport) *Alert {
	if rep == nil || rep.Health == model.HealthOK {
		return nil
	}
	severity := "medium"
	if rep.Health == model.HealthFailed {
		severity = "high"
	}
	return &Alert{
		RunID:     rep.RunID,
		Health:    rep.Health,
		Severity:  severity,
		Message:   fmt.Sprintf("Synthesis run %s is %s (%d finding(s))", rep.RunID, rep.Health, len(rep.Findings)),
		Reasons:   rep.Reasons,
		Findings:  rep.Findings,
		Timestamp: rep.GeneratedAt,
	}
}

// Send posts an alert for rep when it is unhealthy. It reports whether an
// alert was delivered.
func (a *Alerter) Send(ctx context.Context, rep *model.DiagnosticsReport) (bool, error) {
	alert := AlertFor(rep)
	if !a.Enabled() || alert == nil {
		return false, nil
	}
	if err := a.sendWebhook(ctx, alert); err != nil {
		return false, err
	}
	zap.L().Info("monitoring: alert sent",
		zap.String("run_id", alert.RunID),
		zap.String("health", string(alert.Health)),
		zap.String("severity", alert.Severity),
	)
	return true, nil
}

func (a *Alerter) sendWebhook(ctx context.Context, alert *Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.webhookURL, bytes.NewReader(body))
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

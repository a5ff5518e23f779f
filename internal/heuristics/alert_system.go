package heuristics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rawblock/mule-engine/pkg/models"
)

// Ring Alert System
//
// Structured alerts for the monitoring desk, raised when an analysis produces
// rings at or above a risk threshold. Alerts are:
//   1. Broadcast to connected dashboards through a callback (websocket hub)
//   2. Pushed to registered webhook endpoints (Slack, Teams, case management)
//   3. Kept in a bounded in-memory history
//
// Severity follows the ring's risk score:
//   >= 90 critical, >= 80 high, >= 65 medium, otherwise low.

// Alert is one high-risk ring notification
type Alert struct {
	ID          string           `json:"id"`
	RequestID   string           `json:"requestId"`
	Timestamp   time.Time        `json:"timestamp"`
	Severity    string           `json:"severity"`  // low/medium/high/critical
	AlertType   string           `json:"alertType"` // high_risk_ring
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Ring        models.FraudRing `json:"ring"`
}

// WebhookEndpoint is a registered webhook receiver
type WebhookEndpoint struct {
	Name        string            `json:"name"`
	URL         string            `json:"url"`
	Enabled     bool              `json:"enabled"`
	Headers     map[string]string `json:"headers,omitempty"`
	MinSeverity string            `json:"minSeverity"` // Only send alerts >= this severity
}

// AlertManager handles alert emission and webhook delivery
type AlertManager struct {
	mu           sync.RWMutex
	webhooks     []WebhookEndpoint
	recentAlerts []Alert
	maxHistory   int
	minRisk      float64

	httpClient    *http.Client
	alertCallback func(Alert)
	logger        *zap.Logger
}

// NewAlertManager creates an alert manager raising alerts for rings whose
// risk score reaches minRisk. broadcastFn may be nil.
func NewAlertManager(minRisk float64, broadcastFn func(Alert), logger *zap.Logger) *AlertManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertManager{
		webhooks:      make([]WebhookEndpoint, 0),
		recentAlerts:  make([]Alert, 0),
		maxHistory:    1000,
		minRisk:       minRisk,
		httpClient:    &http.Client{Timeout: 5 * time.Second},
		alertCallback: broadcastFn,
		logger:        logger,
	}
}

// RegisterWebhook adds a webhook endpoint
func (am *AlertManager) RegisterWebhook(name, url, minSeverity string, headers map[string]string) {
	am.mu.Lock()
	defer am.mu.Unlock()

	am.webhooks = append(am.webhooks, WebhookEndpoint{
		Name:        name,
		URL:         url,
		Enabled:     true,
		Headers:     headers,
		MinSeverity: minSeverity,
	})

	am.logger.Info("registered webhook",
		zap.String("name", name),
		zap.String("minSeverity", minSeverity),
	)
}

// EmitForResult raises one alert per qualifying ring and returns how many were emitted
func (am *AlertManager) EmitForResult(ctx context.Context, result models.AnalysisResult) int {
	emitted := 0
	for _, ring := range result.FraudRings {
		if ring.RiskScore < am.minRisk {
			continue
		}
		am.EmitAlert(ctx, Alert{
			RequestID:   result.RequestID,
			Severity:    RingSeverity(ring.RiskScore),
			AlertType:   "high_risk_ring",
			Title:       fmt.Sprintf("%s: %s ring of %d accounts", ring.RingID, ring.PatternType, len(ring.MemberAccounts)),
			Description: describeRing(ring),
			Ring:        ring,
		})
		emitted++
	}
	return emitted
}

// EmitAlert records, broadcasts and forwards an alert
func (am *AlertManager) EmitAlert(ctx context.Context, alert Alert) {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}

	am.mu.Lock()
	am.recentAlerts = append(am.recentAlerts, alert)
	if len(am.recentAlerts) > am.maxHistory {
		am.recentAlerts = am.recentAlerts[len(am.recentAlerts)-am.maxHistory:]
	}
	webhooks := make([]WebhookEndpoint, len(am.webhooks))
	copy(webhooks, am.webhooks)
	am.mu.Unlock()

	if am.alertCallback != nil {
		am.alertCallback(alert)
	}

	for _, wh := range webhooks {
		if !wh.Enabled || !severityMeetsThreshold(alert.Severity, wh.MinSeverity) {
			continue
		}
		go am.sendWebhook(context.WithoutCancel(ctx), wh, alert)
	}

	am.logger.Info("alert emitted",
		zap.String("severity", alert.Severity),
		zap.String("ringId", alert.Ring.RingID),
		zap.Float64("riskScore", alert.Ring.RiskScore),
	)
}

// GetRecentAlerts returns up to limit alerts, most recent first
func (am *AlertManager) GetRecentAlerts(limit int) []Alert {
	am.mu.RLock()
	defer am.mu.RUnlock()

	if limit <= 0 || limit > len(am.recentAlerts) {
		limit = len(am.recentAlerts)
	}

	start := len(am.recentAlerts) - limit
	result := make([]Alert, limit)
	for i := 0; i < limit; i++ {
		result[i] = am.recentAlerts[start+limit-1-i]
	}
	return result
}

func (am *AlertManager) sendWebhook(ctx context.Context, wh WebhookEndpoint, alert Alert) {
	payload, err := json.Marshal(alert)
	if err != nil {
		am.logger.Warn("marshal alert", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(payload))
	if err != nil {
		am.logger.Warn("build webhook request", zap.String("webhook", wh.Name), zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	for key, val := range wh.Headers {
		req.Header.Set(key, val)
	}

	resp, err := am.httpClient.Do(req)
	if err != nil {
		am.logger.Warn("webhook delivery failed", zap.String("webhook", wh.Name), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		am.logger.Warn("webhook rejected alert",
			zap.String("webhook", wh.Name),
			zap.Int("status", resp.StatusCode),
		)
	}
}

// RingSeverity maps a ring risk score to an alert severity
func RingSeverity(score float64) string {
	switch {
	case score >= 90:
		return "critical"
	case score >= 80:
		return "high"
	case score >= 65:
		return "medium"
	default:
		return "low"
	}
}

func severityMeetsThreshold(severity, minimum string) bool {
	levels := map[string]int{
		"low": 1, "medium": 2, "high": 3, "critical": 4,
	}
	return levels[severity] >= levels[minimum]
}

func describeRing(ring models.FraudRing) string {
	var b strings.Builder
	switch {
	case strings.Contains(ring.PatternType, "smurfing"):
		b.WriteString("Structured transfers through many counterparties in a short burst. ")
	case strings.Contains(ring.PatternType, "cycle"):
		b.WriteString("Funds returned to their origin through a closed loop. ")
	case strings.Contains(ring.PatternType, "layered"):
		b.WriteString("Funds routed through a chain of low-activity pass-through accounts. ")
	}
	fmt.Fprintf(&b, "Risk %.1f. Members: %s", ring.RiskScore, strings.Join(ring.MemberAccounts, ", "))
	return b.String()
}

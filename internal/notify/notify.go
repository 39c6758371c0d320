package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/triage-ai/lookout/internal/livefeed"
	"github.com/triage-ai/lookout/internal/risk"
)

const (
	queueSize      = 256
	sendTimeout    = 10 * time.Second
	defaultMinSev  = risk.SeverityMedium
	defaultRateLim = time.Minute
)

// Config holds the delivery destinations and gating rules. Delivery is
// enabled when at least one destination URL is set.
type Config struct {
	WebhookURL      string
	SlackWebhookURL string

	// MinSeverity gates which alerts are delivered at all.
	MinSeverity risk.Severity

	// RateLimit is the minimum interval between deliveries. Alerts inside
	// the window are dropped, not queued; the durable stores still record
	// every alert.
	RateLimit time.Duration
}

// benignFragments are substrings that mark an alert as routine development
// or system noise. A match suppresses delivery only; the alert is still
// persisted and counted.
var benignFragments = []string{
	"package-lock.json",
	"package.json",
	"yarn.lock",
	"Cargo.lock",
	"Gemfile.lock",
	"poetry.lock",
	"pnpm-lock.yaml",
	".git/",
	"node_modules/",
	"__pycache__/",
	".npm/",
	".cache/",
	".DS_Store",
	"/var/folders/",
	"/tmp/",
	".vscode/",
	".idea/",
	".eslintcache",
}

// Manager delivers risk alerts to the configured webhooks. HandleAlert is
// non-blocking; delivery happens on a background goroutine with a bounded
// queue, so a slow or dead destination never stalls event processing.
type Manager struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger

	queue   chan livefeed.Alert
	done    chan struct{}
	drained chan struct{} // closed by deliverLoop when it returns

	mu       sync.Mutex
	lastSent time.Time
}

// NewManager creates a manager and starts its delivery loop.
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	if cfg.MinSeverity == risk.SeverityNone {
		cfg.MinSeverity = defaultMinSev
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLim
	}
	m := &Manager{
		cfg:     cfg,
		client:  &http.Client{Timeout: sendTimeout},
		logger:  logger,
		queue:   make(chan livefeed.Alert, queueSize),
		done:    make(chan struct{}),
		drained: make(chan struct{}),
	}
	go m.deliverLoop()
	return m
}

// Enabled reports whether any destination is configured.
func (m *Manager) Enabled() bool {
	return m.cfg.WebhookURL != "" || m.cfg.SlackWebhookURL != ""
}

// HandleAlert queues an alert for delivery. Non-blocking: drops the alert
// if the queue is full.
func (m *Manager) HandleAlert(alert livefeed.Alert) {
	if !m.Enabled() {
		return
	}
	select {
	case m.queue <- alert:
	default:
		m.logger.Warn("notification queue full, dropping alert",
			zap.String("run_id", alert.RunID),
		)
	}
}

// Close stops the delivery loop after the queued alerts drain.
func (m *Manager) Close() {
	close(m.done)
	<-m.drained
}

func (m *Manager) deliverLoop() {
	defer close(m.drained)
	for {
		select {
		case alert := <-m.queue:
			m.deliver(alert)
		case <-m.done:
			for {
				select {
				case alert := <-m.queue:
					m.deliver(alert)
				default:
					return
				}
			}
		}
	}
}

func (m *Manager) deliver(alert livefeed.Alert) {
	if suppressed, fragment := Suppressed(alert); suppressed {
		m.logger.Debug("alert suppressed as benign",
			zap.String("run_id", alert.RunID),
			zap.String("fragment", fragment),
		)
		return
	}
	if alert.Finding.Severity < m.cfg.MinSeverity {
		return
	}

	m.mu.Lock()
	if !m.lastSent.IsZero() && time.Since(m.lastSent) < m.cfg.RateLimit {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	sent := false
	if m.cfg.SlackWebhookURL != "" && m.post(m.cfg.SlackWebhookURL, slackPayload(alert)) {
		sent = true
	}
	if m.cfg.WebhookURL != "" && m.post(m.cfg.WebhookURL, webhookPayload(alert)) {
		sent = true
	}
	if sent {
		m.mu.Lock()
		m.lastSent = time.Now()
		m.mu.Unlock()
	}
}

// Suppressed reports whether the alert matches a benign fragment, and which
// one.
func Suppressed(alert livefeed.Alert) (bool, string) {
	command := risk.CommandOf(risk.ToolCall{Name: alert.ToolCall.Name, Input: alert.ToolCall.Input})
	for _, fragment := range benignFragments {
		if strings.Contains(command, fragment) || strings.Contains(alert.Finding.Matched, fragment) {
			return true, fragment
		}
	}
	return false, ""
}

func (m *Manager) post(url string, payload any) bool {
	body, err := json.Marshal(payload)
	if err != nil {
		m.logger.Error("notification payload encode failed", zap.Error(err))
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		m.logger.Error("notification request build failed", zap.Error(err))
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Warn("notification delivery failed", zap.Error(err))
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		m.logger.Warn("notification rejected",
			zap.String("url", url),
			zap.Int("status", resp.StatusCode),
		)
		return false
	}
	return true
}

// webhookPayload is the generic destination format.
func webhookPayload(alert livefeed.Alert) map[string]any {
	return map[string]any{
		"event":     "risk_alert",
		"timestamp": alert.At.UTC().Format(time.RFC3339),
		"source":    "lookout",
		"alert": map[string]any{
			"run_id":      alert.RunID,
			"session_key": alert.SessionKey,
			"tool":        alert.ToolCall.Name,
			"risk_type":   alert.Finding.Type.String(),
			"severity":    alert.Finding.Severity.String(),
			"category":    alert.Finding.Category,
			"matched":     alert.Finding.Matched,
			"description": alert.Finding.Description,
		},
	}
}

// slackPayload formats the alert for a Slack incoming webhook.
func slackPayload(alert livefeed.Alert) map[string]any {
	header := fmt.Sprintf("Risk alert: %s (%s)",
		alert.Finding.Type.String(), strings.ToUpper(alert.Finding.Severity.String()))
	return map[string]any{
		"text": header,
		"blocks": []map[string]any{
			{
				"type": "header",
				"text": map[string]any{"type": "plain_text", "text": header},
			},
			{
				"type": "section",
				"fields": []map[string]any{
					{"type": "mrkdwn", "text": "*Tool:*\n" + alert.ToolCall.Name},
					{"type": "mrkdwn", "text": "*Run:*\n" + alert.RunID},
				},
			},
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": fmt.Sprintf("*Matched:*\n```%s```", alert.Finding.Matched),
				},
			},
		},
	}
}

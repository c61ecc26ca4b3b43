// Package slack sends triage job notifications to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/courier/internal/triage"
)

const (
	maxReportLen = 3000
	httpTimeout  = 10 * time.Second
)

// Notifier posts terminal job snapshots to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

var _ triage.Notifier = (*Notifier)(nil)

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// Send posts a job summary to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Send(ctx context.Context, snap triage.Snapshot) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(&snap))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	n.logger.Info(ctx, "slack notification sent", "job_id", snap.JobID, "status", string(snap.Status))
	return nil
}

func buildMessage(s *triage.Snapshot) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(s),
			{"type": "divider"},
			fieldsBlock(s),
			{"type": "divider"},
			reportBlock(s),
			{"type": "divider"},
			contextBlock(s),
		},
	}
}

func headerBlock(s *triage.Snapshot) map[string]any {
	title := "Triage Complete"
	if s.Status == triage.StatusError {
		title = "Triage Failed"
	}
	text := fmt.Sprintf("%s %s: %d emails", statusEmoji(s), title, s.TotalEmails)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(s *triage.Snapshot) map[string]any {
	field := func(format string, a ...any) map[string]any {
		return map[string]any{"type": "mrkdwn", "text": fmt.Sprintf(format, a...)}
	}
	fields := []map[string]any{
		field("*Status:* %s", s.Status),
		field("*Processed:* %d/%d", s.ProcessedEmails, s.TotalEmails),
		field("*Human review:* %d", s.HumanReviewCount),
		field("*Automated:* %d", s.AutomationCount),
		field("*Tokens:* %d", s.TokensUsed),
		field("*Tool calls:* %d", s.ToolCalls),
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func reportBlock(s *triage.Snapshot) map[string]any {
	heading, text := "Review report", s.ReviewReport
	if s.Status == triage.StatusError {
		heading, text = "Error", s.Error
	}
	text = truncate(text, maxReportLen)
	if text == "" {
		text = "_No report available._"
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*%s*\n\n%s", heading, text),
		},
	}
}

func contextBlock(s *triage.Snapshot) map[string]any {
	ts := s.CompletedAt
	if ts.IsZero() {
		ts = s.CreatedAt
	}

	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("courier • job %s • %s", s.JobID, ts.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

// statusEmoji is red for failed jobs, yellow when mail is waiting on a
// human and green otherwise.
func statusEmoji(s *triage.Snapshot) string {
	switch {
	case s.Status == triage.StatusError:
		return "\U0001f534" // red circle
	case s.HumanReviewCount > 0:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}

package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	xerrors "gisengine/internal/errors"
	"gisengine/pkg/logger"
)

// LogNotifier writes events to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) Channel() Channel { return ChannelLog }

func (n *LogNotifier) Notify(ctx context.Context, event Event) error {
	log := logger.L()
	if n != nil && n.Logger != nil {
		log = n.Logger
	}
	level := slog.LevelWarn
	if event.Severity == xerrors.SeverityCritical {
		level = slog.LevelError
	}
	attrs := []slog.Attr{
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("run_id", event.RunID),
		slog.String("workflow", event.WorkflowName),
		slog.Int("attempts", event.Attempts),
		slog.Int("max_retries", event.MaxRetries),
	}
	for _, k := range sortedKeys(event.Metadata) {
		attrs = append(attrs, slog.String(k, event.Metadata[k]))
	}
	log.LogAttrs(ctx, level, "alert: "+event.Message, attrs...)
	return nil
}

// WebhookNotifier POSTs events to an HTTP endpoint. With Slack set the body
// is a Slack incoming-webhook message instead of the event JSON.
type WebhookNotifier struct {
	URL     string
	Slack   bool
	Headers map[string]string
	Client  *http.Client
}

func (n *WebhookNotifier) Channel() Channel {
	if n != nil && n.Slack {
		return ChannelSlack
	}
	return ChannelWebhook
}

func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || strings.TrimSpace(n.URL) == "" {
		logger.L().Warn("webhook notifier not configured, skipping", slog.String("run_id", event.RunID))
		return nil
	}
	var payload any = event
	if n.Slack {
		payload = map[string]string{"text": slackText(event)}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range n.Headers {
		req.Header.Set(k, v)
	}
	client := n.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func slackText(event Event) string {
	text := fmt.Sprintf("*[%s]* %s - %s", event.Severity, event.Code, event.Message)
	if event.RunID != "" {
		text += fmt.Sprintf("\nrun `%s`", event.RunID)
		if event.WorkflowName != "" {
			text += fmt.Sprintf(" (%s)", event.WorkflowName)
		}
		text += fmt.Sprintf(", attempt %d/%d", event.Attempts, event.MaxRetries)
	}
	for _, k := range sortedKeys(event.Metadata) {
		text += fmt.Sprintf("\n- %s: %s", k, event.Metadata[k])
	}
	return text
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	xerrors "gisengine/internal/errors"
)

type recordingNotifier struct {
	channel Channel
	mu      sync.Mutex
	events  []Event
	err     error
}

func (r *recordingNotifier) Channel() Channel { return r.channel }

func (r *recordingNotifier) Notify(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func TestFanoutDeliversToEveryChannel(t *testing.T) {
	a := &recordingNotifier{channel: "a"}
	b := &recordingNotifier{channel: "b", err: errors.New("down")}
	d := NewFanout(a, nil, b)

	err := d.Notify(context.Background(), Event{Code: "X", Severity: xerrors.SeverityCritical})
	if err == nil || !strings.Contains(err.Error(), "channel b") {
		t.Fatalf("expected joined error from channel b, got %v", err)
	}
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("both notifiers should be called, got %d and %d", len(a.events), len(b.events))
	}
	if a.events[0].OccurredAt.IsZero() {
		t.Fatalf("occurrence time should be filled in")
	}
	if got := d.Channels(); len(got) != 2 || got[0] != "a" {
		t.Fatalf("unexpected channels %v", got)
	}
}

func TestFanoutMinSeverity(t *testing.T) {
	a := &recordingNotifier{channel: "a"}
	d := NewFanout(a)
	d.MinSeverity = xerrors.SeverityWarning

	_ = d.Notify(context.Background(), Event{Severity: xerrors.SeverityInfo})
	_ = d.Notify(context.Background(), Event{Severity: xerrors.SeverityCritical})
	if len(a.events) != 1 {
		t.Fatalf("info events should be dropped, got %d events", len(a.events))
	}
	var nilFanout *FanoutDispatcher
	if err := nilFanout.Notify(context.Background(), Event{}); err != nil {
		t.Fatalf("nil dispatcher must be a no-op: %v", err)
	}
}

func TestWebhookNotifier(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []map[string]any
		auth   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		bodies = append(bodies, body)
		if tok := r.Header.Get("X-Token"); tok != "" {
			auth = tok
		}
		mu.Unlock()
		if strings.Contains(r.URL.Path, "fail") {
			http.Error(w, "nope", http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	event := Event{Code: "RUN_RETRIES_EXHAUSTED", Message: "boom", Severity: xerrors.SeverityCritical, RunID: "r1", Attempts: 3, MaxRetries: 3}
	hook := &WebhookNotifier{URL: srv.URL, Headers: map[string]string{"X-Token": "t"}, Client: srv.Client()}
	if err := hook.Notify(context.Background(), event); err != nil {
		t.Fatalf("notify: %v", err)
	}
	slack := &WebhookNotifier{URL: srv.URL, Slack: true, Client: srv.Client()}
	if slack.Channel() != ChannelSlack {
		t.Fatalf("slack webhook should report the slack channel")
	}
	if err := slack.Notify(context.Background(), event); err != nil {
		t.Fatalf("notify slack: %v", err)
	}
	failing := &WebhookNotifier{URL: srv.URL + "/fail", Client: srv.Client()}
	if err := failing.Notify(context.Background(), event); err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected status error, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if auth != "t" {
		t.Fatalf("custom headers not sent")
	}
	if bodies[0]["run_id"] != "r1" || bodies[0]["code"] != "RUN_RETRIES_EXHAUSTED" {
		t.Fatalf("unexpected event body %v", bodies[0])
	}
	if text, _ := bodies[1]["text"].(string); !strings.Contains(text, "run `r1`") {
		t.Fatalf("unexpected slack text %q", text)
	}
}

func TestLogNotifierNeverFails(t *testing.T) {
	if err := (&LogNotifier{}).Notify(context.Background(), Event{Metadata: map[string]string{"stage": "terminal"}}); err != nil {
		t.Fatalf("log notifier: %v", err)
	}
}

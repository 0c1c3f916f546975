// Package notify fans structured agent events out to notification sinks.
//
// Every trade, triggered stop, kill switch and startup emits exactly one
// event. The log sink is always active; a webhook sink (Discord-compatible
// payload) is added when a URL is configured. Sink failures are logged and
// absorbed so a dead webhook never affects trading.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Kind classifies an event.
type Kind string

const (
	KindTrade        Kind = "TRADE"
	KindStopLoss     Kind = "STOP_LOSS"
	KindTakeProfit   Kind = "TAKE_PROFIT"
	KindTrailingStop Kind = "TRAILING_STOP"
	KindError        Kind = "ERROR"
	KindStartup      Kind = "STARTUP"
)

// Sink receives events.
type Sink interface {
	Event(ctx context.Context, kind Kind, payload map[string]any)
}

// Notifier dispatches one event to every configured sink.
type Notifier struct {
	sinks []Sink
}

func NewNotifier(sinks ...Sink) *Notifier {
	return &Notifier{sinks: sinks}
}

// Event sends the event to all sinks.
func (n *Notifier) Event(ctx context.Context, kind Kind, payload map[string]any) {
	for _, s := range n.sinks {
		s.Event(ctx, kind, payload)
	}
}

// LogSink writes events to the structured log.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "notify")}
}

func (s *LogSink) Event(ctx context.Context, kind Kind, payload map[string]any) {
	attrs := make([]any, 0, 2*len(payload)+2)
	attrs = append(attrs, "kind", string(kind))
	for _, k := range sortedKeys(payload) {
		attrs = append(attrs, k, payload[k])
	}
	if kind == KindError {
		s.logger.Error("event", attrs...)
		return
	}
	s.logger.Info("event", attrs...)
}

// WebhookSink posts events to a Discord-compatible webhook.
type WebhookSink struct {
	http   *resty.Client
	url    string
	logger *slog.Logger
}

func NewWebhookSink(url string, logger *slog.Logger) *WebhookSink {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})
	return &WebhookSink{
		http:   client,
		url:    url,
		logger: logger.With("component", "webhook"),
	}
}

func (s *WebhookSink) Event(ctx context.Context, kind Kind, payload map[string]any) {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s**", kind)
	for _, k := range sortedKeys(payload) {
		fmt.Fprintf(&b, "\n%s: %v", k, payload[k])
	}

	resp, err := s.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"content": b.String()}).
		Post(s.url)
	if err != nil {
		s.logger.Warn("webhook post failed", "kind", kind, "error", err)
		return
	}
	if resp.IsError() {
		s.logger.Warn("webhook rejected", "kind", kind, "status", resp.StatusCode())
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

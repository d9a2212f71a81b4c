// Package notify delivers AlertEvents to an operator-facing sink.
//
// Grounded on GoPolymarket-polymarket-trader's internal/notify package
// shape (a small notifier with an Enabled/Send surface, gated on whether
// credentials are configured) generalized from a single Telegram sink to
// a Sink interface with console and webhook implementations, since this
// engine has no fixed chat platform to target.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"arbiter/pkg/types"
)

// Sink delivers one AlertEvent. Implementations should not block the
// caller for long; Manager enforces a short per-send timeout.
type Sink interface {
	Send(ctx context.Context, event types.AlertEvent) error
}

var levelRank = map[types.AlertLevel]int{
	types.AlertInfo:     0,
	types.AlertWarning:  1,
	types.AlertCritical: 2,
}

// ConsoleSink logs alerts through the application logger. Always enabled;
// used as the fallback sink when no webhook is configured.
type ConsoleSink struct {
	logger *slog.Logger
}

// NewConsoleSink builds a ConsoleSink.
func NewConsoleSink(logger *slog.Logger) *ConsoleSink {
	return &ConsoleSink{logger: logger.With("component", "notify")}
}

// Send logs the event at a level matching its AlertLevel.
func (c *ConsoleSink) Send(_ context.Context, event types.AlertEvent) error {
	args := []any{"component", event.Component}
	for k, v := range event.Fields {
		args = append(args, k, v)
	}
	switch event.Level {
	case types.AlertCritical:
		c.logger.Error(event.Message, args...)
	case types.AlertWarning:
		c.logger.Warn(event.Message, args...)
	default:
		c.logger.Info(event.Message, args...)
	}
	return nil
}

// WebhookSink posts alerts as JSON to a generic webhook URL (Slack- and
// Discord-compatible payload shape: a single "text" field), using resty
// the same way the rest of this engine talks to REST APIs, instead of a
// bespoke platform SDK.
type WebhookSink struct {
	client *resty.Client
	url    string
}

// NewWebhookSink builds a WebhookSink posting to url.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		client: resty.New().SetTimeout(5 * time.Second),
		url:    url,
	}
}

type webhookPayload struct {
	Text string `json:"text"`
}

// Send posts event to the configured webhook URL.
func (w *WebhookSink) Send(ctx context.Context, event types.AlertEvent) error {
	text := fmt.Sprintf("[%s] %s: %s", event.Level, event.Component, event.Message)
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(webhookPayload{Text: text}).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("notify: webhook post: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("notify: webhook returned %s", resp.Status())
	}
	return nil
}

// Manager fans an AlertEvent out to every configured Sink, filtering by
// minimum severity.
type Manager struct {
	sinks    []Sink
	minLevel types.AlertLevel
	logger   *slog.Logger
}

// NewManager builds a Manager. minLevel filters out events below that
// severity; an unrecognized level defaults to AlertInfo (notify everything).
func NewManager(minLevel string, logger *slog.Logger, sinks ...Sink) *Manager {
	lvl := types.AlertLevel(minLevel)
	if _, ok := levelRank[lvl]; !ok {
		lvl = types.AlertInfo
	}
	return &Manager{sinks: sinks, minLevel: lvl, logger: logger.With("component", "notify-manager")}
}

// Notify delivers event to every sink whose severity threshold it meets.
// Sink errors are logged, not returned: a broken webhook must never block
// the caller's trading loop.
func (m *Manager) Notify(ctx context.Context, event types.AlertEvent) {
	if levelRank[event.Level] < levelRank[m.minLevel] {
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	for _, sink := range m.sinks {
		if err := sink.Send(sendCtx, event); err != nil {
			m.logger.Warn("alert sink failed", "err", err)
		}
	}
}

// Package notify delivers BLOCK/WARN/COST_ALERT events to tenant-configured
// webhook endpoints. Every destination passes the SSRF guard before any
// request leaves the process; failures retry with exponential backoff and
// are then dropped, never surfacing to the originating request.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nulpointcorp/sentinel-gateway/internal/metrics"
)

// Webhook is one tenant-configured destination with its event subscriptions.
type Webhook struct {
	URL      string   `json:"url"`
	Platform string   `json:"platform,omitempty"`
	Events   []string `json:"events"`
}

// Subscribed reports whether the webhook wants the given event type.
func (w *Webhook) Subscribed(eventType string) bool {
	for _, e := range w.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

// DispatcherOptions tunes delivery behavior.
type DispatcherOptions struct {
	// Timeout bounds one delivery attempt. Default 10s.
	Timeout time.Duration
	// MaxRetries after the first attempt. Default 3.
	MaxRetries int
	// BackoffBase is the first retry delay, doubled per attempt. Default 1s.
	BackoffBase time.Duration
	// AllowHTTP permits plain-HTTP destinations (development only).
	AllowHTTP bool

	Logger  *slog.Logger
	Metrics *metrics.Registry
}

// Dispatcher posts formatted events to webhooks.
type Dispatcher struct {
	client      *http.Client
	maxRetries  int
	backoffBase time.Duration
	allowHTTP   bool
	log         *slog.Logger
	metrics     *metrics.Registry
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Dispatcher{
		client:      &http.Client{Timeout: opts.Timeout},
		maxRetries:  opts.MaxRetries,
		backoffBase: opts.BackoffBase,
		allowHTTP:   opts.AllowHTTP,
		log:         opts.Logger,
		metrics:     opts.Metrics,
	}
}

// Send delivers ev to the webhook if it is subscribed to the event type.
// Unsubscribed events are silently skipped. Unsafe URLs are rejected without
// any network attempt.
func (d *Dispatcher) Send(ctx context.Context, wh *Webhook, ev *Event) error {
	if !wh.Subscribed(ev.Type) {
		return nil
	}

	platform := wh.Platform
	if platform == "" {
		platform = DetectPlatform(wh.URL)
	}

	if err := CheckURL(wh.URL, d.allowHTTP); err != nil {
		d.record(platform, "rejected")
		d.log.Warn("webhook url rejected",
			slog.String("workspace_id", ev.WorkspaceID),
			slog.String("error", err.Error()),
		)
		return err
	}

	body, err := FormatPayload(platform, ev)
	if err != nil {
		return fmt.Errorf("notify: format payload: %w", err)
	}

	return d.post(ctx, wh.URL, platform, body)
}

// TestConnection sends a minimal ping through the same safety and delivery
// path, letting a tenant verify configuration.
func (d *Dispatcher) TestConnection(ctx context.Context, rawURL, platform string) error {
	if platform == "" {
		platform = DetectPlatform(rawURL)
	}
	if err := CheckURL(rawURL, d.allowHTTP); err != nil {
		d.record(platform, "rejected")
		return err
	}

	body, err := FormatPayload(platform, &Event{
		Type:        EventWarn,
		Explanation: "Connection test from the gateway. Your webhook is configured correctly.",
		RiskLevel:   "low",
		At:          time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("notify: format payload: %w", err)
	}
	return d.post(ctx, rawURL, platform, body)
}

// SendSample delivers a synthetic event at the given risk level.
func (d *Dispatcher) SendSample(ctx context.Context, rawURL, platform, riskLevel string) error {
	if platform == "" {
		platform = DetectPlatform(rawURL)
	}
	if err := CheckURL(rawURL, d.allowHTTP); err != nil {
		d.record(platform, "rejected")
		return err
	}

	evType := EventWarn
	score := 55.0
	if riskLevel == "high" {
		evType = EventBlock
		score = 85.0
	}

	body, err := FormatPayload(platform, &Event{
		Type:        evType,
		WorkspaceID: "sample-workspace",
		Provider:    "openai",
		Model:       "gpt-4o-mini",
		RiskLevel:   riskLevel,
		RiskScore:   score,
		Explanation: "Sample notification. No real request was evaluated.",
		TraceID:     "sample-trace",
		At:          time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("notify: format payload: %w", err)
	}
	return d.post(ctx, rawURL, platform, body)
}

func (d *Dispatcher) post(ctx context.Context, url, platform string, body []byte) error {
	var lastErr error

	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		if attempt > 0 {
			delay := d.backoffBase << (attempt - 1)
			select {
			case <-ctx.Done():
				d.record(platform, "canceled")
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		lastErr = d.attempt(ctx, url, body)
		if lastErr == nil {
			d.record(platform, "delivered")
			return nil
		}
	}

	d.record(platform, "dropped")
	d.log.Error("webhook delivery dropped",
		slog.String("platform", platform),
		slog.Int("attempts", d.maxRetries+1),
		slog.String("error", lastErr.Error()),
	)
	return lastErr
}

func (d *Dispatcher) attempt(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("notify: webhook returned status %d", resp.StatusCode)
}

func (d *Dispatcher) record(platform, outcome string) {
	if d.metrics != nil {
		d.metrics.RecordNotification(platform, outcome)
	}
}

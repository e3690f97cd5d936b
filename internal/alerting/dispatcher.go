// Package alerting renders transition events and hands them to the
// configured notifier. Delivery is best-effort and never retried here.
package alerting

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/uptimepipeline/internal/domain"
	"github.com/hamed0406/uptimepipeline/internal/metrics"
	"github.com/hamed0406/uptimepipeline/internal/notify"
	"github.com/hamed0406/uptimepipeline/internal/stream"
)

const (
	TitleDown = "🚨 MONITOR CRITICAL: Site is DOWN! 🚨"
	TitleUp   = "✅ MONITOR RECOVERY: Site back ONLINE! ✅"
)

type Dispatcher struct {
	Logger   *zap.Logger
	Notifier notify.Notifier // nil disables delivery
	Timeout  time.Duration
}

func New(logger *zap.Logger, n notify.Notifier) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{Logger: logger, Notifier: n, Timeout: 15 * time.Second}
}

// Render builds the title and body for ev.
func Render(ev domain.TransitionEvent) (title, body string) {
	var b strings.Builder
	fmt.Fprintf(&b, "*URL:* %s\n", ev.URL)
	if ev.EventType == domain.StateUp {
		fmt.Fprintf(&b, "*Latency:* %dms", ev.LatencyMS)
		return TitleUp, b.String()
	}

	code := "N/A"
	if ev.StatusCode != nil {
		code = strconv.Itoa(*ev.StatusCode)
	}
	details := "N/A"
	if ev.Error != nil && *ev.Error != "" {
		details = *ev.Error
	}
	fmt.Fprintf(&b, "*Status Code:* %s\n", code)
	fmt.Fprintf(&b, "*Latency:* %dms\n", ev.LatencyMS)
	fmt.Fprintf(&b, "*Error Details:* %s", details)
	return TitleDown, b.String()
}

// Dispatch sends ev. Missing configuration and delivery failures are logged.
func (d *Dispatcher) Dispatch(ctx context.Context, ev domain.TransitionEvent) {
	_ = d.dispatch(ctx, ev)
}

// dispatch returns an error only when ctx ended before delivery finished.
func (d *Dispatcher) dispatch(ctx context.Context, ev domain.TransitionEvent) error {
	log := d.Logger.With(
		zap.String("target_id", string(ev.TargetID)),
		zap.String("event_type", string(ev.EventType)),
	)
	if d.Notifier == nil {
		metrics.IncAlert("skipped")
		log.Warn("alert_skipped_no_channel", zap.String("url", ev.URL))
		return nil
	}

	title, body := Render(ev)
	sctx := ctx
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	if err := d.Notifier.Send(sctx, title, body); err != nil {
		if ctx.Err() != nil {
			log.Warn("alert_send_interrupted", zap.Error(err))
			return ctx.Err()
		}
		metrics.IncAlert("failed")
		log.Error("alert_send_error", zap.Error(err))
		return nil
	}
	metrics.IncAlert("sent")
	log.Info("alert_sent", zap.String("url", ev.URL))
	return nil
}

// HandleMessage decodes a transition-stream message and dispatches it.
func (d *Dispatcher) HandleMessage(ctx context.Context, m stream.Message) error {
	var ev domain.TransitionEvent
	if err := stream.DecodeJSON(m, &ev); err != nil {
		return err
	}
	switch ev.EventType {
	case domain.StateUp, domain.StateDown:
	default:
		return stream.Malformed(fmt.Errorf("event_type %q", ev.EventType))
	}
	return d.dispatch(ctx, ev)
}

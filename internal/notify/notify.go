package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BKBLABS/monitoring-platform/internal/bus"
	"github.com/BKBLABS/monitoring-platform/internal/pipeline"
)

// Channel is one delivery binding. Send delivers a rendered notification
// to the channel's destination; recipient may be empty, in which case the
// channel falls back to its configured audience.
type Channel interface {
	Name() string
	Send(ctx context.Context, subject, body, recipient string) error
}

// Publisher is the bus surface the router needs.
type Publisher interface {
	Publish(subject string, payload any) error
}

// Router fans one alert event out to the channels its severity routes to:
// email and the bus for every severity, the webhook only for CRITICAL.
// Delivery succeeds when at least one channel succeeds; with no channels
// configured the alert is logged and counted as delivered.
type Router struct {
	Email     Channel
	Webhook   Channel
	Publisher Publisher
	Recipient string
	Logger    *slog.Logger
}

func (r *Router) Send(ctx context.Context, evt pipeline.AlertEvent) error {
	subject := Subject(evt)
	body := Body(evt)

	type attempt struct {
		name string
		err  error
	}
	attempts := []attempt{}
	if r.Email != nil {
		attempts = append(attempts, attempt{r.Email.Name(), r.Email.Send(ctx, subject, body, r.Recipient)})
	}
	if r.Webhook != nil && evt.Severity == pipeline.SeverityCritical {
		attempts = append(attempts, attempt{r.Webhook.Name(), r.Webhook.Send(ctx, subject, body, r.Recipient)})
	}
	if r.Publisher != nil {
		attempts = append(attempts, attempt{"bus", r.Publisher.Publish(bus.SubjectAlerts, evt)})
	}
	if len(attempts) == 0 {
		r.logger().Warn("no notification channels configured, logging alert",
			slog.String("subject", subject),
			slog.String("fingerprint", evt.Fingerprint),
			slog.String("message", evt.Message))
		return nil
	}

	sent := 0
	var errs []error
	for _, a := range attempts {
		if a.err != nil {
			r.logger().Warn("notification channel failed",
				slog.String("channel", a.name),
				slog.String("fingerprint", evt.Fingerprint),
				slog.String("error", a.err.Error()))
			errs = append(errs, fmt.Errorf("%s: %w", a.name, a.err))
			continue
		}
		sent++
	}
	if sent == 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (r *Router) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func Subject(evt pipeline.AlertEvent) string {
	return fmt.Sprintf("[%s] %s", evt.Severity, evt.RuleName)
}

func Body(evt pipeline.AlertEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rule: %s (%s)\n", evt.RuleName, evt.RuleID)
	fmt.Fprintf(&b, "Severity: %s\n", evt.Severity)
	fmt.Fprintf(&b, "Message: %s\n", evt.Message)
	fmt.Fprintf(&b, "Observed value: %g\n", evt.Observed)
	if evt.AppKey != "" {
		fmt.Fprintf(&b, "App record: %s @ %d\n", evt.AppKey, evt.AppTimestamp)
	}
	external := "none"
	if len(evt.ExternalKeys) > 0 {
		external = strings.Join(evt.ExternalKeys, ", ")
	}
	fmt.Fprintf(&b, "External items: %s\n", external)
	fmt.Fprintf(&b, "Window start: %d\n", evt.WindowStart)
	fmt.Fprintf(&b, "Fingerprint: %s\n", evt.Fingerprint)
	fmt.Fprintf(&b, "Created: %s\n", evt.CreatedAt.Format("2006-01-02 15:04:05 UTC"))
	return b.String()
}

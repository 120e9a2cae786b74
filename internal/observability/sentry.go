// Package observability wraps Sentry error capture and tracing, and exposes the trading
// Prometheus metrics. Every helper is a no-op when Sentry was never initialised.
package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/irfndi/neurastock/internal/config"
)

// Span operations used across the service.
const (
	SpanOpTradingCycle   = "trading.cycle"
	SpanOpPositionUpdate = "trading.monitor"
	SpanOpDecision       = "trading.decision"
	SpanOpOrder          = "trading.order"
	SpanOpBroker         = "broker.call"
	SpanOpScreening      = "screening.run"
	SpanOpBacktest       = "backtest.run"
	SpanOpDBQuery        = "db.query"
	SpanOpCache          = "cache.redis"
)

const flushTimeout = 2 * time.Second

// InitSentry configures the global client. A disabled config or an empty DSN leaves Sentry off.
func InitSentry(cfg config.SentryConfig, release, environment string) error {
	if !cfg.Enabled || cfg.DSN == "" {
		return nil
	}
	if cfg.Release != "" {
		release = cfg.Release
	}
	if cfg.Environment != "" {
		environment = cfg.Environment
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Release:          release,
		Environment:      environment,
		EnableTracing:    cfg.TracesSampleRate > 0,
		TracesSampleRate: cfg.TracesSampleRate,
		AttachStacktrace: true,
	})
	if err != nil {
		return fmt.Errorf("sentry init: %w", err)
	}
	return nil
}

// Flush waits for buffered events, bounded by ctx or a short default.
func Flush(ctx context.Context) {
	timeout := flushTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if timeout > 0 {
		sentry.Flush(timeout)
	}
}

func hubFrom(ctx context.Context) *sentry.Hub {
	if ctx != nil {
		if hub := sentry.GetHubFromContext(ctx); hub != nil {
			return hub
		}
	}
	return sentry.CurrentHub()
}

// CaptureException reports err on the request's hub, or the global one.
func CaptureException(ctx context.Context, err error) {
	if err == nil {
		return
	}
	hubFrom(ctx).CaptureException(err)
}

// CaptureExceptionWithTags scopes the tags to this one event.
func CaptureExceptionWithTags(ctx context.Context, err error, tags map[string]string) {
	if err == nil {
		return
	}
	hub := hubFrom(ctx)
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		hub.CaptureException(err)
	})
}

func AddBreadcrumb(ctx context.Context, category, message string, level sentry.Level) {
	hubFrom(ctx).AddBreadcrumb(&sentry.Breadcrumb{
		Category:  category,
		Message:   message,
		Level:     level,
		Timestamp: time.Now(),
	}, nil)
}

// StartSpan starts a child of the span in ctx, or a new transaction.
func StartSpan(ctx context.Context, op, description string) (context.Context, *sentry.Span) {
	span := sentry.StartSpan(ctx, op, sentry.WithDescription(description))
	return span.Context(), span
}

func StartSpanWithTags(ctx context.Context, op, description string, tags map[string]string) (context.Context, *sentry.Span) {
	spanCtx, span := StartSpan(ctx, op, description)
	for k, v := range tags {
		span.SetTag(k, v)
	}
	return spanCtx, span
}

// FinishSpan marks the span failed when err is non-nil. A nil span is ignored.
func FinishSpan(span *sentry.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.Status = sentry.SpanStatusInternalError
		span.SetData("error", err.Error())
	} else if span.Status == sentry.SpanStatusUndefined {
		span.Status = sentry.SpanStatusOK
	}
	span.Finish()
}

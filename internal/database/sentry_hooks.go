package database

import (
	"context"
	"net"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
)

// RedisSentryHook leaves a breadcrumb for every failed Redis command. A cache miss is not a failure.
type RedisSentryHook struct{}

var _ redis.Hook = RedisSentryHook{}

func (RedisSentryHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			addBreadcrumb(ctx, "redis", "dial "+addr+": "+err.Error())
		}
		return conn, err
	}
}

func (RedisSentryHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if err != nil && err != redis.Nil {
			addBreadcrumb(ctx, "redis", cmd.Name()+": "+err.Error())
		}
		return err
	}
}

func (RedisSentryHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		if err != nil && err != redis.Nil {
			addBreadcrumb(ctx, "redis", "pipeline: "+err.Error())
		}
		return err
	}
}

// PostgresSentryTracer records failed statements as breadcrumbs.
type PostgresSentryTracer struct{}

type pgTraceKey struct{}

var _ pgx.QueryTracer = (*PostgresSentryTracer)(nil)

func (t *PostgresSentryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, pgTraceKey{}, data.SQL)
}

func (t *PostgresSentryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	if data.Err == nil {
		return
	}
	query, _ := ctx.Value(pgTraceKey{}).(string)
	addBreadcrumb(ctx, "postgres", firstLine(query)+": "+data.Err.Error())
}

func addBreadcrumb(ctx context.Context, category, message string) {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.AddBreadcrumb(&sentry.Breadcrumb{
		Category: category,
		Message:  message,
		Level:    sentry.LevelError,
	}, nil)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

package observability

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/duckmesh/querygrid/internal/config"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

const redacted = "[redacted]"

// secretAttrs never reach the log output; connection specs carry them.
var secretAttrs = map[string]bool{
	"api_key":           true,
	"dsn":               true,
	"password":          true,
	"secret_access_key": true,
}

func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	options := &slog.HandlerOptions{Level: cfg.Observability.LogLevel, ReplaceAttr: redactSecrets}
	var handler slog.Handler
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, options)
	} else {
		handler = slog.NewTextHandler(writer, options)
	}
	return slog.New(handler).With(
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
	)
}

func redactSecrets(_ []string, attr slog.Attr) slog.Attr {
	if secretAttrs[strings.ToLower(attr.Key)] {
		return slog.String(attr.Key, redacted)
	}
	return attr
}

// ConnectionLogger scopes logger to one named connection and the request's
// trace.
func ConnectionLogger(ctx context.Context, logger *slog.Logger, name, kind, dialect string) *slog.Logger {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return logger.With(
		slog.String("trace_id", TraceIDFromContext(ctx)),
		slog.Group("connection",
			slog.String("name", name),
			slog.String("kind", kind),
			slog.String("dialect", dialect),
		),
	)
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func TraceIDFromContext(ctx context.Context) string {
	value, ok := ctx.Value(traceIDKey).(string)
	if !ok {
		return ""
	}
	return value
}

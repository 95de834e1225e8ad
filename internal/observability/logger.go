package observability

import (
	"context"
	"io"
	"log/slog"

	"github.com/duckmesh/duckmesh-source/internal/config"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	options := &slog.HandlerOptions{
		Level:       cfg.Observability.LogLevel,
		ReplaceAttr: redactSecretAttrs,
	}
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

var secretAttrKeys = map[string]bool{
	"secret":            true,
	"secret_access_key": true,
	"secretAccessKey":   true,
	"password":          true,
	"api_key":           true,
}

// redactSecretAttrs masks attributes whose key names a credential, wherever
// they appear in a group.
func redactSecretAttrs(_ []string, attr slog.Attr) slog.Attr {
	if secretAttrKeys[attr.Key] {
		return slog.String(attr.Key, "[REDACTED]")
	}
	return attr
}

// WithRun tags every record of one enumeration or query run.
func WithRun(logger *slog.Logger, runID string) *slog.Logger {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return logger.With(slog.String("run_id", runID))
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

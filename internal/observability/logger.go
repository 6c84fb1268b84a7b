package observability

import (
	"context"
	"io"
	"log/slog"

	"github.com/duckmesh/rsbulk/internal/config"
)

type ctxKey string

const operationIDKey ctxKey = "operation_id"

func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	var handler slog.Handler
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: cfg.Observability.LogLevel})
	} else {
		handler = slog.NewTextHandler(writer, &slog.HandlerOptions{Level: cfg.Observability.LogLevel})
	}
	return slog.New(handler).With(
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
	)
}

func ContextWithOperationID(ctx context.Context, operationID string) context.Context {
	return context.WithValue(ctx, operationIDKey, operationID)
}

func OperationIDFromContext(ctx context.Context) string {
	value, ok := ctx.Value(operationIDKey).(string)
	if !ok {
		return ""
	}
	return value
}

// LoggerFromContext tags logger with the operation id carried by ctx, if any.
func LoggerFromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if id := OperationIDFromContext(ctx); id != "" {
		return logger.With(slog.String("operation_id", id))
	}
	return logger
}

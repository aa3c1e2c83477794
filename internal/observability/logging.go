// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Logger wraps slog.Logger to provide specialized logging methods.
type Logger struct {
	*slog.Logger
}

// GlobalLogger is the default logger instance for the application.
var GlobalLogger *Logger

func init() {
	GlobalLogger = NewLogger(slog.LevelInfo)
}

// NewLogger builds a JSON logger writing to stdout.
func NewLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{Logger: slog.New(handler)}
}

// SetLevel replaces GlobalLogger with one at the named level (debug, info, warn, error).
func SetLevel(name string) {
	level := slog.LevelInfo
	switch strings.ToLower(name) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	GlobalLogger = NewLogger(level)
}

// LogContextKey is a type for context keys used by the logging package.
type LogContextKey string

// CorrelationID is the context key of the request correlation id.
const CorrelationID LogContextKey = "correlation_id"

// LoggingConfig defines which types of automated logging are enabled.
type LoggingConfig struct {
	EnableStoreLogging bool
	EnableWSLogging    bool
}

var (
	// Config holds the current logging configuration.
	Config = LoggingConfig{
		EnableStoreLogging: true,
		EnableWSLogging:    true,
	}
)

// GenerateCorrelationID creates a new unique correlation ID.
func GenerateCorrelationID() string {
	return uuid.NewString()
}

// WithCorrelationID returns a new context with the given correlation ID.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationID, id)
}

// ExtractCorrelationID retrieves the correlation ID from the context.
func ExtractCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationID).(string); ok {
		return id
	}
	return ""
}

// StoreLogger provides structured logging for document store and comment operations.
type StoreLogger struct {
	collection string
}

// NewStoreLogger creates a new StoreLogger for the given collection.
func NewStoreLogger(collection string) *StoreLogger {
	return &StoreLogger{collection: collection}
}

func (l *StoreLogger) attrs(ctx context.Context, operation string, fields map[string]interface{}) []any {
	attrs := []any{
		slog.String("collection", l.collection),
		slog.String("operation", operation),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	return attrs
}

// LogWrite logs a successful mutation.
func (l *StoreLogger) LogWrite(ctx context.Context, operation string, fields map[string]interface{}) {
	if !Config.EnableStoreLogging {
		return
	}
	GlobalLogger.InfoContext(ctx, "store write", l.attrs(ctx, operation, fields)...)
}

// LogRead logs a read or subscription event.
func (l *StoreLogger) LogRead(ctx context.Context, operation string, fields map[string]interface{}) {
	if !Config.EnableStoreLogging {
		return
	}
	GlobalLogger.DebugContext(ctx, "store read", l.attrs(ctx, operation, fields)...)
}

// LogRefused logs a mutation refused before any write was attempted.
func (l *StoreLogger) LogRefused(ctx context.Context, operation, reason string, fields map[string]interface{}) {
	if !Config.EnableStoreLogging {
		return
	}
	attrs := append(l.attrs(ctx, operation, fields), slog.String("reason", reason))
	GlobalLogger.WarnContext(ctx, "store mutation refused", attrs...)
}

// LogError logs a store error.
func (l *StoreLogger) LogError(ctx context.Context, err error, operation string, fields map[string]interface{}) {
	if !Config.EnableStoreLogging {
		return
	}
	attrs := append(l.attrs(ctx, operation, fields), slog.String("error", err.Error()))
	GlobalLogger.ErrorContext(ctx, "store error", attrs...)
}

// WSLogger provides structured logging for WebSocket operations.
type WSLogger struct {
	hubName string
}

// NewWSLogger creates a new WSLogger for the given hub.
func NewWSLogger(hubName string) *WSLogger {
	return &WSLogger{hubName: hubName}
}

// LogConnect logs a WebSocket connection event.
func (l *WSLogger) LogConnect(ctx context.Context, userID, roomID string) {
	if !Config.EnableWSLogging {
		return
	}
	GlobalLogger.InfoContext(ctx, "websocket connected",
		slog.String("hub", l.hubName),
		slog.String("user_id", userID),
		slog.String("room_id", roomID),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}

// LogDisconnect logs a WebSocket disconnection event.
func (l *WSLogger) LogDisconnect(ctx context.Context, userID, roomID, reason string) {
	if !Config.EnableWSLogging {
		return
	}
	GlobalLogger.InfoContext(ctx, "websocket disconnected",
		slog.String("hub", l.hubName),
		slog.String("user_id", userID),
		slog.String("room_id", roomID),
		slog.String("reason", reason),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}

// LogError logs a WebSocket error event.
func (l *WSLogger) LogError(ctx context.Context, userID, roomID string, err error, eventType string) {
	if !Config.EnableWSLogging {
		return
	}
	GlobalLogger.ErrorContext(ctx, "websocket error",
		slog.String("hub", l.hubName),
		slog.String("user_id", userID),
		slog.String("room_id", roomID),
		slog.String("event_type", eventType),
		slog.String("error", err.Error()),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}

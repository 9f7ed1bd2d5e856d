package dbrouter

import (
	"context"
	"log"
	"log/slog"
)

// Logger receives every event reported by pools and connectors.
type Logger interface {
	Report(event LogEvent)
}

type SlogLogger struct {
	logger *slog.Logger
	ctx    context.Context
}

func NewSlogLogger(logger *slog.Logger) SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return SlogLogger{
		logger: logger,
		ctx:    context.Background(),
	}
}

func (l *SlogLogger) WithContext(ctx context.Context) SlogLogger {
	return SlogLogger{
		logger: l.logger,
		ctx:    ctx,
	}
}

func (l SlogLogger) Report(event LogEvent) {
	attrs := append(event.LogAttrs(), slog.String("event", event.EventName()))
	l.logger.LogAttrs(l.ctx, event.LogLevel(), event.Message(), attrs...)
}

type SimpleLogger struct{}

func (l SimpleLogger) Report(event LogEvent) {
	log.Printf("[%s] %s [event=%s]", event.LogLevel(), event.Message(), event.EventName())

	for _, attr := range event.LogAttrs() {
		if attr.Key == "error" {
			log.Printf("  Error: %v", attr.Value.Any())
		}
	}
}

// NopLogger drops every event.
type NopLogger struct{}

func (NopLogger) Report(LogEvent) {}

// LoggerOrDefault returns l, or SimpleLogger if l is nil.
func LoggerOrDefault(l Logger) Logger {
	if l == nil {
		return SimpleLogger{}
	}
	return l
}

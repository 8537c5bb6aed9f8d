package logging

import (
	"context"
	"log/slog"
	"os"
	"time"
)

type contextKey string

const (
	RequestIDKey      contextKey = "request_id"
	NotificationIDKey contextKey = "notification_id"
	RecipientKey      contextKey = "recipient"
	ChannelKey        contextKey = "channel"
)

// MultiHandler sends log records to multiple handlers.
type MultiHandler struct {
	handlers []slog.Handler
}

func (m *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *MultiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.handlers {
		if err := h.Handle(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newHandlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		newHandlers[i] = h.WithAttrs(attrs)
	}
	return &MultiHandler{handlers: newHandlers}
}

func (m *MultiHandler) WithGroup(name string) slog.Handler {
	newHandlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		newHandlers[i] = h.WithGroup(name)
	}
	return &MultiHandler{handlers: newHandlers}
}

// Init installs the default logger: text to stdout plus JSON to a log
// file when one can be opened.
func Init(logFilePath string) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					return slog.String(a.Key, t.Format("2006:01:02:15:04:05"))
				}
			}
			return a
		},
	}

	stdoutHandler := slog.NewTextHandler(os.Stdout, opts)

	if logFilePath == "" {
		slog.SetDefault(slog.New(stdoutHandler))
		return
	}

	logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		slog.Error("failed to open log file", slog.Any("error", err))
		slog.SetDefault(slog.New(stdoutHandler))
		return
	}

	jsonHandler := slog.NewJSONHandler(logFile, opts)

	slog.SetDefault(slog.New(&MultiHandler{
		handlers: []slog.Handler{stdoutHandler, jsonHandler},
	}))
}

// FromContext returns the default logger enriched with any dispatch
// identifiers carried by the context.
func FromContext(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if val, ok := ctx.Value(RequestIDKey).(string); ok {
		l = l.With("request_id", val)
	}
	if val, ok := ctx.Value(NotificationIDKey).(string); ok {
		l = l.With("notification_id", val)
	}
	if val, ok := ctx.Value(RecipientKey).(string); ok {
		l = l.With("recipient", val)
	}
	if val, ok := ctx.Value(ChannelKey).(string); ok {
		l = l.With("channel", val)
	}
	return l
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

func WithNotificationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, NotificationIDKey, id)
}

func WithRecipient(ctx context.Context, recipient string) context.Context {
	return context.WithValue(ctx, RecipientKey, recipient)
}

func WithChannel(ctx context.Context, channel string) context.Context {
	return context.WithValue(ctx, ChannelKey, channel)
}

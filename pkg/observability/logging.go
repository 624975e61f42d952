package observability

import (
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

// Logger is a structured logger for strand components
type Logger struct {
	*slog.Logger
}

var levelVar = func() *slog.LevelVar {
	v := &slog.LevelVar{}
	v.Set(slog.LevelInfo)
	return v
}()

// writerBox keeps logOutput stores monomorphic; atomic.Value rejects
// successive stores of different dynamic types.
type writerBox struct {
	w io.Writer
}

var logOutput atomic.Value // writerBox

// SetLevel adjusts the level of every logger created by NewLogger.
// Safe to call while loggers are in use; config hot-reload uses this.
func SetLevel(level slog.Level) {
	levelVar.Set(level)
}

// SetOutput redirects logger output, primarily for tests.
func SetOutput(w io.Writer) {
	logOutput.Store(writerBox{w: w})
}

func output() io.Writer {
	if box, ok := logOutput.Load().(writerBox); ok && box.w != nil {
		return box.w
	}
	return os.Stderr
}

// NewLogger creates a new structured logger
func NewLogger(component string) *Logger {
	opts := &slog.HandlerOptions{
		Level: levelVar,
	}

	handler := slog.NewJSONHandler(output(), opts)

	logger := slog.New(handler).With(
		slog.String("component", component),
		slog.String("system", "strand"),
	)

	return &Logger{Logger: logger}
}

// WithThread returns a logger with thread-specific fields
func (l *Logger) WithThread(threadID string) *Logger {
	return &Logger{
		Logger: l.Logger.With(
			slog.String("thread_id", threadID),
		),
	}
}

// WithSession returns a logger with session-specific fields
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{
		Logger: l.Logger.With(
			slog.String("session_id", sessionID),
		),
	}
}

// EventDecoded logs a successfully decoded wire event
func (l *Logger) EventDecoded(eventType string, payloadSize int) {
	l.Debug("event decoded",
		slog.String("event_type", eventType),
		slog.Int("payload_size", payloadSize),
	)
}

// DecodeFailed logs a wire event that could not be decoded. The event is
// dropped; the stream keeps running.
func (l *Logger) DecodeFailed(eventType, snippet string, err error) {
	l.Debug("event decode failed",
		slog.String("event_type", eventType),
		slog.String("payload_snippet", snippet),
		slog.String("error", err.Error()),
	)
}

// ConnectionStateChanged logs a websocket state transition
func (l *Logger) ConnectionStateChanged(from, to string, attempt int) {
	l.Info("connection state changed",
		slog.String("from_state", from),
		slog.String("to_state", to),
		slog.Int("attempt", attempt),
	)
}

// MessageSent logs an outgoing control message
func (l *Logger) MessageSent(messageType string, payloadSize int) {
	l.Debug("message sent",
		slog.String("message_type", messageType),
		slog.Int("payload_size", payloadSize),
	)
}

// ThreadReconciled logs a pending to real thread id move
func (l *Logger) ThreadReconciled(pendingID, realID string) {
	l.Info("thread reconciled",
		slog.String("pending_id", pendingID),
		slog.String("real_id", realID),
	)
}

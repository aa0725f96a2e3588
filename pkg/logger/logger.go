package logger

import (
	"context"
	"log/slog"
	"os"
)

// Logger is the logging surface every scenesync component depends on.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
	Debug(msg string, args ...any)
}

type SlogHandler struct {
	logger *slog.Logger
}

var _ Logger = (*SlogHandler)(nil)

func New(h slog.Handler) *SlogHandler {
	return &SlogHandler{logger: slog.New(h)}
}

// Default logs text lines to stdout at info level.
func Default() *SlogHandler {
	return New(slog.NewTextHandler(os.Stdout, nil))
}

func (handler *SlogHandler) Error(msg string, args ...any) {
	handler.logger.Error(msg, args...)
}

func (handler *SlogHandler) Warn(msg string, args ...any) {
	handler.logger.Warn(msg, args...)
}

func (handler *SlogHandler) Info(msg string, args ...any) {
	handler.logger.Info(msg, args...)
}

func (handler *SlogHandler) Debug(msg string, args ...any) {
	handler.logger.Debug(msg, args...)
}

// With returns a logger that adds args to every record.
func (handler *SlogHandler) With(args ...any) *SlogHandler {
	return &SlogHandler{logger: handler.logger.With(args...)}
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Discard drops everything. Components fall back to it when constructed without a logger.
func Discard() Logger {
	return New(discardHandler{})
}

// OrDiscard returns l, or Discard() when l is nil.
func OrDiscard(l Logger) Logger {
	if l == nil {
		return Discard()
	}
	return l
}

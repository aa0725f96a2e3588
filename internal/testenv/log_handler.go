// Package testenv holds helpers shared by scenesync tests.
package testenv

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// LogHandler is a slog.Handler that writes the record index (starting from
// 0), level, message and attributes without a timestamp, so example output
// stays deterministic. Handlers derived with WithAttrs or WithGroup share
// the index and the writer.
type LogHandler struct {
	out    *output
	attrs  []slog.Attr
	groups []string

	ignoreDebug    bool
	ignorePrefixes []string
}

type output struct {
	mu    sync.Mutex
	w     io.Writer
	index int
}

type LogHandlerOption func(*LogHandler)

// WithWriter sends output to w instead of stdout.
func WithWriter(w io.Writer) LogHandlerOption {
	return func(h *LogHandler) {
		h.out.w = w
	}
}

func WithIgnoreDebug() LogHandlerOption {
	return func(h *LogHandler) {
		h.ignoreDebug = true
	}
}

// WithIgnorePrefixes drops records whose message starts with one of
// prefixes, at any level.
func WithIgnorePrefixes(prefixes ...string) LogHandlerOption {
	return func(h *LogHandler) {
		h.ignorePrefixes = append(h.ignorePrefixes, prefixes...)
	}
}

func NewLogHandler(opts ...LogHandlerOption) *LogHandler {
	h := &LogHandler{out: &output{w: os.Stdout}}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *LogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return !(h.ignoreDebug && level == slog.LevelDebug)
}

//nolint:gocritic
func (h *LogHandler) Handle(_ context.Context, r slog.Record) error {
	if r.Level == slog.LevelDebug && h.ignoreDebug {
		return nil
	}
	for _, p := range h.ignorePrefixes {
		if strings.HasPrefix(r.Message, p) {
			return nil
		}
	}

	parts := make([]string, 0, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		parts = appendAttr(parts, a, "")
	}
	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	r.Attrs(func(a slog.Attr) bool {
		parts = appendAttr(parts, a, prefix)
		return true
	})

	h.out.mu.Lock()
	defer h.out.mu.Unlock()
	var err error
	if len(parts) > 0 {
		_, err = fmt.Fprintf(h.out.w, "[%d] %s: %s %s\n", h.out.index, r.Level, r.Message, strings.Join(parts, ", "))
	} else {
		_, err = fmt.Fprintf(h.out.w, "[%d] %s: %s\n", h.out.index, r.Level, r.Message)
	}
	h.out.index++
	return err
}

func appendAttr(parts []string, a slog.Attr, prefix string) []string {
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			parts = appendAttr(parts, ga, prefix+a.Key+".")
		}
		return parts
	}
	return append(parts, fmt.Sprintf("%s%s=%v", prefix, a.Key, a.Value))
}

func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	next := *h
	next.attrs = h.attrs[:len(h.attrs):len(h.attrs)]
	for _, a := range attrs {
		if prefix != "" {
			a = slog.Attr{Key: prefix + a.Key, Value: a.Value}
		}
		next.attrs = append(next.attrs, a)
	}
	return &next
}

func (h *LogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.groups = append(h.groups[:len(h.groups):len(h.groups)], name)
	return &next
}

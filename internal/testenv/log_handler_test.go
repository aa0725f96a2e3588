package testenv

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func ExampleNewLogHandler() {
	log := slog.New(NewLogHandler())

	log.Info("session opened", slog.String("document_id", "doc-1"))
	log.Warn("failed to broadcast local changes")
	log.Debug("flush applied remote update", slog.Int("applied_count", 3))

	// Output:
	// [0] INFO: session opened document_id=doc-1
	// [1] WARN: failed to broadcast local changes
	// [2] DEBUG: flush applied remote update applied_count=3
}

func ExampleWithIgnoreDebug() {
	log := slog.New(NewLogHandler(WithIgnoreDebug()))

	log.Debug("skipping save of stale snapshot")
	log.Info("saved")

	// Output:
	// [0] INFO: saved
}

func TestLogHandlerSharesIndexAcrossDerived(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(NewLogHandler(WithWriter(&buf)))
	scoped := base.With("document_id", "doc-1").WithGroup("save")

	base.Info("first")
	scoped.Info("second", "version", 4)

	assert.Equal(t, "[0] INFO: first\n[1] INFO: second document_id=doc-1, save.version=4\n", buf.String())
}

func TestLogHandlerIgnorePrefixes(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewLogHandler(WithWriter(&buf), WithIgnorePrefixes("BUG:")))

	log.Error("BUG: duplicate frame")
	log.Error("real failure")

	assert.Equal(t, "[0] ERROR: real failure\n", buf.String())
}

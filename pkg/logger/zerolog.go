package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

const (
	permission = 0664
)

// ZerologLogger adapts a zerolog.Logger to Logger. Args are key/value pairs
// in the same shape slog takes them.
type ZerologLogger struct {
	Logger  zerolog.Logger
	LogFile *os.File
}

var _ Logger = (*ZerologLogger)(nil)

func NewZerolog(l zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{Logger: l}
}

func (z *ZerologLogger) Error(msg string, args ...any) {
	withFields(z.Logger.Error(), args).Msg(msg)
}

func (z *ZerologLogger) Warn(msg string, args ...any) {
	withFields(z.Logger.Warn(), args).Msg(msg)
}

func (z *ZerologLogger) Info(msg string, args ...any) {
	withFields(z.Logger.Info(), args).Msg(msg)
}

func (z *ZerologLogger) Debug(msg string, args ...any) {
	withFields(z.Logger.Debug(), args).Msg(msg)
}

// Close closes the log file when the logger was built with FromPath.
func (z *ZerologLogger) Close() error {
	if z.LogFile == nil {
		return nil
	}
	return z.LogFile.Close()
}

func withFields(e *zerolog.Event, args []any) *zerolog.Event {
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		if i+1 >= len(args) {
			e = e.Str("!BADKEY", key)
			break
		}
		switch v := args[i+1].(type) {
		case error:
			e = e.AnErr(key, v)
		default:
			e = e.Interface(key, v)
		}
	}
	return e
}

// LogBuild assembles a zerolog-backed Logger writing to a file or writer.
type LogBuild struct {
	writer io.Writer
	path   string
	level  zerolog.Level
}

func Build() *LogBuild {
	return &LogBuild{level: zerolog.InfoLevel}
}

func (build *LogBuild) FromPath(path string) *LogBuild {
	build.path = path
	return build
}

func (build *LogBuild) FromWriter(w io.Writer) *LogBuild {
	build.writer = w
	return build
}

func (build *LogBuild) Level(level zerolog.Level) *LogBuild {
	build.level = level
	return build
}

func (build *LogBuild) Make() (*ZerologLogger, error) {
	z := new(ZerologLogger)
	var w io.Writer = os.Stdout
	if build.writer != nil {
		w = build.writer
	}
	if build.path != "" {
		f, err := os.OpenFile(build.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
		if err != nil {
			return nil, err
		}
		z.LogFile = f
		w = zerolog.SyncWriter(f)
	}
	z.Logger = zerolog.New(w).Level(build.level).With().Timestamp().Logger()
	return z, nil
}

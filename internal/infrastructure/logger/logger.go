// Package logger builds the zap loggers used by the command line tool and
// carries them through context.Context.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const defaultTimeFormat = "15:04:05.000"

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // console or json
	Output     string // stderr, stdout or a file path
	TimeFormat string // Go time layout
}

// New creates a logger for cfg. Output "stderr" and the empty output write to
// stderr, which the caller supplies so command output and logs can be
// captured separately. Stdout is never the default so piped results stay clean.
func New(cfg Config, stderr io.Writer) (*zap.Logger, error) {
	var w io.Writer
	switch strings.ToLower(cfg.Output) {
	case "", "stderr":
		w = stderr
		if w == nil {
			w = os.Stderr
		}
	case "stdout":
		w = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		w = f
	}

	core := zapcore.NewCore(encoder(cfg), zapcore.AddSync(w), level(cfg.Level))
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

// level parses a level name; unknown names fall back to warn
func level(name string) zapcore.Level {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "warning" {
		return zapcore.WarnLevel
	}
	l, err := zapcore.ParseLevel(name)
	if err != nil || name == "" {
		return zapcore.WarnLevel
	}
	return l
}

func encoder(cfg Config) zapcore.Encoder {
	layout := cfg.TimeFormat
	if layout == "" {
		layout = defaultTimeFormat
	}
	ec := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout(layout),
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if strings.EqualFold(cfg.Format, "json") {
		return zapcore.NewJSONEncoder(ec)
	}
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(ec)
}

// Sync flushes buffered entries. Sync errors on terminals are ignored.
func Sync(l *zap.Logger) {
	_ = l.Sync()
}

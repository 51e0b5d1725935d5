// Package logger provides structured logging using zerolog.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config represents logger configuration.
type Config struct {
	Output     string // "stdout", "stderr", or file path
	Level      string // "debug", "info", "warn", "error"
	MaxSizeMB  int    // rotate file output after this size
	MaxBackups int    // rotated files to keep
}

// Init initializes the global zerolog logger with the given configuration.
// It returns a closer for the underlying writer; console outputs return a no-op closer.
func Init(cfg Config) (io.Closer, error) {
	level := parseLevel(cfg.Level)
	writer, console := newWriter(cfg)

	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.TimeOnly
	zerolog.TimestampFieldName = "time"
	zerolog.LevelFieldName = "level"
	zerolog.MessageFieldName = "message"
	zerolog.CallerMarshalFunc = shortCaller

	logger := build(writer, console, level)
	zerolog.DefaultContextLogger = &logger
	zlog.Logger = logger

	if c, ok := writer.(io.Closer); ok && !console {
		return c, nil
	}
	return io.NopCloser(nil), nil
}

// newWriter picks the output sink. File paths are rotated through lumberjack.
func newWriter(cfg Config) (io.Writer, bool) {
	switch strings.ToLower(cfg.Output) {
	case "stdout", "":
		return os.Stdout, true
	case "stderr":
		return os.Stderr, true
	default:
		return &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}, false
	}
}

// build creates the logger. Console output is colored, file output is JSON.
// Caller info is only attached at DEBUG level.
func build(writer io.Writer, console bool, level zerolog.Level) zerolog.Logger {
	if !console {
		base := zerolog.New(writer).With().Timestamp()
		if level == zerolog.DebugLevel {
			return base.Caller().Logger()
		}
		return base.Logger()
	}

	if level == zerolog.DebugLevel {
		return zerolog.New(zerolog.ConsoleWriter{
			Out:        writer,
			TimeFormat: time.TimeOnly,
			PartsOrder: []string{"time", "level", "message", "caller"},
			FormatCaller: func(i interface{}) string {
				return "(" + i.(string) + ")"
			},
		}).With().Timestamp().Caller().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{
		Out:        writer,
		TimeFormat: time.TimeOnly,
	}).With().Timestamp().Logger()
}

func shortCaller(pc uintptr, file string, line int) string {
	parts := strings.Split(file, string(filepath.Separator))
	if len(parts) > 1 {
		return filepath.Join(parts[len(parts)-2:]...) + ":" + strconv.Itoa(line)
	}
	return filepath.Base(file) + ":" + strconv.Itoa(line)
}

// parseLevel parses the log level string.
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Package logging builds the zap logger shared by every opnsensectl command.
//
// Lines go to stdout through a console encoder and, when a file is
// configured, to that file as JSON. Both carry timestamp, logger name,
// level, caller and message.
package logging

import (
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultFile is the log file written next to the working directory.
const DefaultFile = "opnsense-config.log"

// Options configures New.
type Options struct {
	// Name is the logger name printed on every line.
	Name string
	// File is the path of the log file. Empty disables file output.
	File string
	// Debug lowers the level to debug on both sinks.
	Debug bool
	// Stdout receives console output. Defaults to os.Stdout.
	Stdout io.Writer
}

// New returns a logger and a closer for the log file. The closer is safe to
// call when no file was opened.
func New(opts Options) (*zap.Logger, func() error, error) {
	level := zap.InfoLevel
	if opts.Debug {
		level = zap.DebugLevel
	}
	out := opts.Stdout
	if out == nil {
		out = os.Stdout
	}

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(ConsoleEncoderConfig()), zapcore.Lock(zapcore.AddSync(out)), level),
	}

	closer := func() error { return nil }
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "open log file %s", opts.File)
		}
		closer = f.Close
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(FileEncoderConfig()), zapcore.AddSync(f), level))
	}

	name := opts.Name
	if name == "" {
		name = "opnsense-config"
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)).
		Named(name).
		With(zap.String("run_id", uuid.NewString()))
	return logger, closer, nil
}

// ConsoleEncoderConfig mirrors the classic "time - source - level - message"
// line layout.
func ConsoleEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "T"
	cfg.LevelKey = "L"
	cfg.NameKey = "N"
	cfg.CallerKey = "C"
	cfg.MessageKey = "M"
	cfg.StacktraceKey = ""
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.ConsoleSeparator = " - "
	return cfg
}

// FileEncoderConfig is used for the JSON log file.
func FileEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}

// OrNop returns l, or a no-op logger when l is nil. Components call it on
// injected loggers so a zero value is usable.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

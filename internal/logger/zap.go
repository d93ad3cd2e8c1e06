package logger

import (
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options tunes the zap encoder behind a Logger.
type Options struct {
	// Format is "json" (default) or "console".
	Format string
	// Service is added to every entry as service_name when set.
	Service string
}

type zapLogger struct {
	l *zap.Logger
}

// NewZapLogger builds a Logger writing to w at the given minimum level.
// opts may be nil.
func NewZapLogger(w io.Writer, level LogLevel, opts *Options) Logger {
	if opts == nil {
		opts = &Options{}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if strings.EqualFold(opts.Format, "console") {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(w), zap.NewAtomicLevelAt(ParseLevel(string(level))))
	l := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	if opts.Service != "" {
		l = l.With(zap.String("service_name", opts.Service))
	}
	return &zapLogger{l: l}
}

// NewConsole returns a stdout logger, used before configuration is loaded.
func NewConsole(level LogLevel) Logger {
	return NewZapLogger(os.Stdout, level, &Options{Format: "console"})
}

// ParseLevel maps a level name to a zap level; unknown names map to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case string(LogLevelDebug):
		return zapcore.DebugLevel
	case string(LogLevelWarn), "warning":
		return zapcore.WarnLevel
	case string(LogLevelError):
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func (z *zapLogger) Debug(msg string, fields ...Field) { z.l.Debug(msg, fields...) }
func (z *zapLogger) Info(msg string, fields ...Field)  { z.l.Info(msg, fields...) }
func (z *zapLogger) Warn(msg string, fields ...Field)  { z.l.Warn(msg, fields...) }
func (z *zapLogger) Error(msg string, fields ...Field) { z.l.Error(msg, fields...) }

func (z *zapLogger) With(fields ...Field) Logger {
	return &zapLogger{l: z.l.With(fields...)}
}

func (z *zapLogger) Module(name string) Logger {
	return &zapLogger{l: z.l.With(zap.String("module", name))}
}

func (z *zapLogger) Sync() error {
	return z.l.Sync()
}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return &zapLogger{l: zap.NewNop()}
}

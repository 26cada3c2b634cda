package logger

import (
	"context"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger keeps the structured *zap.Logger used by the pipeline components
// together with its sugared form, which the CLI uses for operator output.
type Logger struct {
	*zap.Logger
	*zap.SugaredLogger
}

// New builds a JSON logger writing to stdout.
// Accepted levels (case-insensitive): "debug", "info", "warn", "error".
func New(level string) (*Logger, error) {
	return NewWithWriter(level, os.Stdout)
}

// NewWithWriter is New with an explicit sink.
func NewWithWriter(level string, w io.Writer) (*Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.Lock(zapcore.AddSync(w)),
		zapLevel,
	)

	zapLogger := zap.New(core, zap.AddCaller()).With(zap.String("service", "rankwatch"))

	return &Logger{
		Logger:        zapLogger,
		SugaredLogger: zapLogger.Sugar(),
	}, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	l := zap.NewNop()
	return &Logger{Logger: l, SugaredLogger: l.Sugar()}
}

type loggerKey struct{}

// WithContext returns a copy of ctx carrying l.
func WithContext(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// FromContext returns the logger stored in ctx, or fallback when none is set.
func FromContext(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	if fallback == nil {
		return zap.NewNop()
	}
	return fallback
}

// WithRequestID returns a copy of the logger with a req_id field attached.
func WithRequestID(l *zap.Logger, reqID string) *zap.Logger {
	return l.With(zap.String("req_id", reqID))
}

// Flush writes out any buffered entries. Call it just before exit.
func Flush(l *zap.Logger) {
	// Sync on a console fd returns EINVAL on some platforms; nothing to do about it.
	_ = l.Sync()
}

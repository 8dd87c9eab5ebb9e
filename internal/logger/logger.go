package logger

import (
	"context"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger bundles the structured zap.Logger with its sugared variant so
// command code can use `Infof` while library packages take *zap.Logger.
type Logger struct {
	*zap.Logger
	*zap.SugaredLogger
}

// New creates a JSON logger writing to stderr at the given level.
// Accepted levels (case-insensitive): "debug", "info", "warn", "error".
func New(level string) (*Logger, error) {
	return NewWithWriter(level, os.Stderr)
}

// NewWithWriter is New with an explicit destination. stdout stays free for
// exported data and summaries.
func NewWithWriter(level string, w io.Writer) (*Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.Lock(zapcore.AddSync(w)),
		lvl,
	)

	zl := zap.New(core, zap.AddCaller())
	return &Logger{
		Logger:        zl,
		SugaredLogger: zl.Sugar(),
	}, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	zl := zap.NewNop()
	return &Logger{Logger: zl, SugaredLogger: zl.Sugar()}
}

type loggerKey struct{}

// WithContext returns a context carrying l.
func WithContext(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// FromContext extracts the logger stored by WithContext, or fallback.
func FromContext(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// WithRun tags l with a stored recording id.
func WithRun(l *zap.Logger, runID int64) *zap.Logger {
	return l.With(zap.Int64("run_id", runID))
}

// Flush writes out buffered entries. Call it from main before exiting.
func Flush(l *zap.Logger) {
	// Sync on a terminal returns EINVAL on some platforms; nothing to do about it.
	_ = l.Sync()
}

package logger

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"devpulse/internal/config"
	"devpulse/pkg/logging"
)

type Logger interface {
	Debug(args ...interface{})
	Debugf(template string, args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	Info(args ...interface{})
	Infof(template string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warn(args ...interface{})
	Warnf(template string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Error(args ...interface{})
	Errorf(template string, args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
	Fatal(args ...interface{})
	Fatalf(template string, args ...interface{})
	Sync() error

	DebugwCtx(ctx context.Context, msg string, keysAndValues ...interface{})
	InfowCtx(ctx context.Context, msg string, keysAndValues ...interface{})
	WarnwCtx(ctx context.Context, msg string, keysAndValues ...interface{})
	ErrorwCtx(ctx context.Context, msg string, keysAndValues ...interface{})
}

// SugaredLogger is the zap-backed Logger. The Ctx variants prepend the
// delivery, entity and connection ids carried by ctx and, when ctx holds a
// recording span, its trace and span ids.
type SugaredLogger struct {
	*zap.SugaredLogger
	serviceName string
}

func (l *SugaredLogger) SetServiceName(name string) {
	l.serviceName = name
}

// New builds the process logger. Format "console" switches to zap's
// development encoder for local runs; anything else logs JSON.
func New(cfg config.LoggingConfig) (Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var zcfg zap.Config
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zcfg = zap.NewProductionConfig()
		zcfg.Encoding = "json"
		zcfg.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
		zcfg.EncoderConfig.MessageKey = "message"
		zcfg.EncoderConfig.TimeKey = "timestamp"
	}
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zcfg.Level = zap.NewAtomicLevelAt(level)

	zapLogger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return &SugaredLogger{SugaredLogger: zapLogger.Sugar()}, nil
}

// Named returns a child logger tagged with a component name.
func Named(l Logger, component string) Logger {
	sl, ok := l.(*SugaredLogger)
	if !ok {
		return l
	}
	return &SugaredLogger{
		SugaredLogger: sl.SugaredLogger.Named(component),
		serviceName:   sl.serviceName,
	}
}

func (l *SugaredLogger) DebugwCtx(ctx context.Context, msg string, keysAndValues ...interface{}) {
	l.logCtx(ctx, zapcore.DebugLevel, msg, keysAndValues)
}

func (l *SugaredLogger) InfowCtx(ctx context.Context, msg string, keysAndValues ...interface{}) {
	l.logCtx(ctx, zapcore.InfoLevel, msg, keysAndValues)
}

func (l *SugaredLogger) WarnwCtx(ctx context.Context, msg string, keysAndValues ...interface{}) {
	l.logCtx(ctx, zapcore.WarnLevel, msg, keysAndValues)
}

func (l *SugaredLogger) ErrorwCtx(ctx context.Context, msg string, keysAndValues ...interface{}) {
	l.logCtx(ctx, zapcore.ErrorLevel, msg, keysAndValues)
}

func (l *SugaredLogger) logCtx(ctx context.Context, level zapcore.Level, msg string, keysAndValues []interface{}) {
	// Skip collecting fields for entries the core would drop anyway.
	if !l.Desugar().Core().Enabled(level) {
		return
	}
	l.Logw(level, msg, append(l.contextFields(ctx), keysAndValues...)...)
}

func (l *SugaredLogger) contextFields(ctx context.Context) []interface{} {
	fields := logging.GetLogFields(ctx)

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		if logging.GetTraceID(ctx) == "" {
			fields = append(fields, "trace_id", sc.TraceID().String())
		}
		fields = append(fields, "span_id", sc.SpanID().String())
	}

	if l.serviceName != "" && logging.GetServiceName(ctx) == "" {
		fields = append(fields, "service_name", l.serviceName)
	}
	return fields
}

func NopLogger() Logger {
	return &SugaredLogger{SugaredLogger: zap.NewNop().Sugar()}
}

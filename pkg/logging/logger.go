// Package logging wraps zap behind core.ILogger. Entries go to a console
// sink and, through the otelzap bridge, to the global OTel log provider.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"liqrisk/internal/core"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceName is the instrumentation scope reported through the OTel bridge
const ServiceName = "liqrisk"

// Level is a zap level accepted in config files
type Level = zapcore.Level

const (
	DebugLevel = zapcore.DebugLevel
	InfoLevel  = zapcore.InfoLevel
	WarnLevel  = zapcore.WarnLevel
	ErrorLevel = zapcore.ErrorLevel
	FatalLevel = zapcore.FatalLevel
)

// ParseLevel accepts DEBUG, INFO, WARN/WARNING, ERROR and FATAL in any case.
// An empty string is INFO.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return InfoLevel, nil
	case "WARNING":
		return WarnLevel, nil
	case "DEBUG", "INFO", "WARN", "ERROR", "FATAL":
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(s)))); err != nil {
			return InfoLevel, err
		}
		return lvl, nil
	default:
		return InfoLevel, fmt.Errorf("invalid log level: %s", s)
	}
}

// Options configures New
type Options struct {
	Level  string
	Writer io.Writer // stdout when nil
	JSON   bool      // JSON lines instead of console columns
}

// ZapLogger implements core.ILogger
type ZapLogger struct {
	z *zap.Logger
}

var _ core.ILogger = (*ZapLogger)(nil)

// New builds a logger teeing the console sink into the OTel bridge
func New(opts Options) (*ZapLogger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewConsoleEncoder(encCfg)
	if opts.JSON {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	sink := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(w)), level)
	bridge := otelzap.NewCore(ServiceName, otelzap.WithLoggerProvider(global.GetLoggerProvider()))

	z := zap.New(zapcore.NewTee(sink, bridge), zap.AddCaller(), zap.AddCallerSkip(1))
	return &ZapLogger{z: z}, nil
}

// NewZapLogger creates a console logger on stdout
func NewZapLogger(level string) (*ZapLogger, error) {
	return New(Options{Level: level})
}

// NewZapLoggerWithWriter creates a console logger on w
func NewZapLoggerWithWriter(level string, w io.Writer) (*ZapLogger, error) {
	return New(Options{Level: level, Writer: w})
}

// NewNopLogger returns a logger that discards everything
func NewNopLogger() *ZapLogger {
	return &ZapLogger{z: zap.NewNop()}
}

// kvFields turns alternating keys and values into zap fields. Error values
// keep their type; a trailing key without a value is dropped.
func kvFields(kv []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		if err, isErr := kv[i+1].(error); isErr {
			fields = append(fields, zap.NamedError(key, err))
			continue
		}
		fields = append(fields, zap.Any(key, kv[i+1]))
	}
	return fields
}

func (l *ZapLogger) Debug(msg string, kv ...interface{}) { l.z.Debug(msg, kvFields(kv)...) }
func (l *ZapLogger) Info(msg string, kv ...interface{})  { l.z.Info(msg, kvFields(kv)...) }
func (l *ZapLogger) Warn(msg string, kv ...interface{})  { l.z.Warn(msg, kvFields(kv)...) }
func (l *ZapLogger) Error(msg string, kv ...interface{}) { l.z.Error(msg, kvFields(kv)...) }
func (l *ZapLogger) Fatal(msg string, kv ...interface{}) { l.z.Fatal(msg, kvFields(kv)...) }

// WithField returns a child logger carrying key
func (l *ZapLogger) WithField(key string, value interface{}) core.ILogger {
	return &ZapLogger{z: l.z.With(zap.Any(key, value))}
}

// WithFields returns a child logger carrying every entry of fields
func (l *ZapLogger) WithFields(fields map[string]interface{}) core.ILogger {
	kv := make([]interface{}, 0, 2*len(fields))
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	return &ZapLogger{z: l.z.With(kvFields(kv)...)}
}

// Sync flushes buffered entries
func (l *ZapLogger) Sync() error {
	return l.z.Sync()
}

type globalHolder struct{ logger core.ILogger }

var defaultLogger atomic.Pointer[globalHolder]

func init() {
	logger, _ := NewZapLogger("INFO")
	SetGlobalLogger(logger)
}

// SetGlobalLogger replaces the process-wide logger
func SetGlobalLogger(logger core.ILogger) {
	defaultLogger.Store(&globalHolder{logger: logger})
}

// GetGlobalLogger returns the process-wide logger
func GetGlobalLogger() core.ILogger {
	return defaultLogger.Load().logger
}

func Debug(msg string, kv ...interface{}) { GetGlobalLogger().Debug(msg, kv...) }
func Info(msg string, kv ...interface{})  { GetGlobalLogger().Info(msg, kv...) }
func Warn(msg string, kv ...interface{})  { GetGlobalLogger().Warn(msg, kv...) }
func Error(msg string, kv ...interface{}) { GetGlobalLogger().Error(msg, kv...) }
func Fatal(msg string, kv ...interface{}) { GetGlobalLogger().Fatal(msg, kv...) }

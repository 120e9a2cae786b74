package logging

import (
	"os"
	"strings"

	zaplogrus "github.com/irfndi/neurastock/internal/logging/zaplogrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// StandardLogger wraps a zap logger with the field conventions used across the service.
type StandardLogger struct {
	logger *zap.Logger
}

// NewStandardLogger builds a JSON logger for production and a console logger elsewhere.
func NewStandardLogger(logLevel, environment string) *StandardLogger {
	level := getZapLevel(logLevel)

	var encoderCfg zapcore.EncoderConfig
	var encoder zapcore.Encoder
	if environment == "production" {
		encoderCfg = zap.NewProductionEncoderConfig()
		encoderCfg.TimeKey = "time"
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	} else {
		encoderCfg = zap.NewDevelopmentEncoderConfig()
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level)
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)).
		With(zap.String("service", "neurastock"), zap.String("environment", environment))

	return &StandardLogger{logger: logger}
}

// NewFromZap wraps an existing zap logger, mostly for tests.
func NewFromZap(logger *zap.Logger) *StandardLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StandardLogger{logger: logger}
}

func getZapLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "info":
		return zapcore.InfoLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLogrusLevel maps a textual level onto the logrus-compatible facade.
func ParseLogrusLevel(level string) zaplogrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zaplogrus.DebugLevel
	case "warn", "warning":
		return zaplogrus.WarnLevel
	case "error":
		return zaplogrus.ErrorLevel
	default:
		return zaplogrus.InfoLevel
	}
}

// Logger returns the underlying zap logger.
func (l *StandardLogger) Logger() *zap.Logger {
	return l.logger
}

func (l *StandardLogger) WithService(service string) *zap.Logger {
	return l.logger.With(zap.String("service", service))
}

func (l *StandardLogger) WithComponent(component string) *zap.Logger {
	return l.logger.With(zap.String("component", component))
}

func (l *StandardLogger) WithOperation(operation string) *zap.Logger {
	return l.logger.With(zap.String("operation", operation))
}

func (l *StandardLogger) WithStock(code string) *zap.Logger {
	return l.logger.With(zap.String("stock_code", code))
}

func (l *StandardLogger) WithError(err error) *zap.Logger {
	return l.logger.With(zap.Error(err))
}

func (l *StandardLogger) WithFields(fields map[string]interface{}) *zap.Logger {
	zapFields := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zapFields = append(zapFields, zap.Any(k, v))
	}
	return l.logger.With(zapFields...)
}

// LogStartup records a service start event.
func (l *StandardLogger) LogStartup(service, version string, port int) {
	l.logger.Info("Service starting",
		zap.String("event", "startup"),
		zap.String("service", service),
		zap.String("version", version),
		zap.Int("port", port),
	)
}

// LogShutdown records a service stop event.
func (l *StandardLogger) LogShutdown(service, reason string) {
	l.logger.Info("Service shutting down",
		zap.String("event", "shutdown"),
		zap.String("service", service),
		zap.String("reason", reason),
	)
}

// LogBusinessEvent records trading events such as fills and exits.
func (l *StandardLogger) LogBusinessEvent(eventType string, details map[string]interface{}) {
	fields := []zap.Field{
		zap.String("event", "business_event"),
		zap.String("type", eventType),
	}
	for k, v := range details {
		fields = append(fields, zap.Any(k, v))
	}
	l.logger.Info("Business event", fields...)
}

func (l *StandardLogger) Sync() error {
	return l.logger.Sync()
}

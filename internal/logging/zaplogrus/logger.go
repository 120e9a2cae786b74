// Package logrus is a logrus-shaped facade over zap used by the long-running trading services.
package logrus

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level int8

const (
	PanicLevel Level = iota
	FatalLevel
	ErrorLevel
	WarnLevel
	InfoLevel
	DebugLevel
)

var zapLevels = [...]zapcore.Level{
	PanicLevel: zapcore.PanicLevel,
	FatalLevel: zapcore.FatalLevel,
	ErrorLevel: zapcore.ErrorLevel,
	WarnLevel:  zapcore.WarnLevel,
	InfoLevel:  zapcore.InfoLevel,
	DebugLevel: zapcore.DebugLevel,
}

func toZapLevel(level Level) zapcore.Level {
	if level < 0 || int(level) >= len(zapLevels) {
		return zapcore.InfoLevel
	}
	return zapLevels[level]
}

func fromZapLevel(level zapcore.Level) Level {
	for l, z := range zapLevels {
		if z == level {
			return Level(l)
		}
	}
	return InfoLevel
}

type Fields map[string]interface{}

// printer holds the leveled print methods shared by Logger and Entry.
type printer struct {
	z *zap.Logger
}

func (p printer) Debug(args ...interface{}) { p.z.Debug(fmt.Sprint(args...)) }
func (p printer) Info(args ...interface{})  { p.z.Info(fmt.Sprint(args...)) }
func (p printer) Warn(args ...interface{})  { p.z.Warn(fmt.Sprint(args...)) }
func (p printer) Error(args ...interface{}) { p.z.Error(fmt.Sprint(args...)) }

func (p printer) Debugf(format string, args ...interface{}) { p.z.Debug(fmt.Sprintf(format, args...)) }
func (p printer) Infof(format string, args ...interface{})  { p.z.Info(fmt.Sprintf(format, args...)) }
func (p printer) Warnf(format string, args ...interface{})  { p.z.Warn(fmt.Sprintf(format, args...)) }
func (p printer) Errorf(format string, args ...interface{}) { p.z.Error(fmt.Sprintf(format, args...)) }

// Logger is the root of a field chain. The zero value is not usable; use New, NewWithCore or
// FromZap.
type Logger struct {
	printer
	level zap.AtomicLevel
}

// Entry is a Logger with fields attached. Each With call returns a new Entry and leaves the
// receiver untouched.
type Entry struct {
	printer
}

// New returns a JSON logger writing to stdout at info level.
func New() *Logger {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "time"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.Lock(os.Stdout), level)
	z := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))
	return &Logger{printer: printer{z: z}, level: level}
}

// NewWithCore wires the facade onto an arbitrary core, typically zaptest/observer in tests.
func NewWithCore(core zapcore.Core) *Logger {
	return &Logger{printer: printer{z: zap.New(core)}, level: zap.NewAtomicLevelAt(zapcore.DebugLevel)}
}

// FromZap adapts an already configured zap logger. A nil logger discards everything.
func FromZap(l *zap.Logger) *Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return &Logger{printer: printer{z: l}, level: zap.NewAtomicLevelAt(l.Level())}
}

// SetLevel changes the threshold of loggers built by New. Loggers built on a caller-owned core
// only record the value.
func (l *Logger) SetLevel(level Level) { l.level.SetLevel(toZapLevel(level)) }

func (l *Logger) GetLevel() Level { return fromZapLevel(l.level.Level()) }

// Zap exposes the wrapped logger for packages that take a *zap.Logger.
func (l *Logger) Zap() *zap.Logger { return l.z }

func (l *Logger) Sync() error { return l.z.Sync() }

func (l *Logger) WithField(key string, value interface{}) *Entry { return with(l.z, zap.Any(key, value)) }
func (l *Logger) WithFields(fields Fields) *Entry                 { return with(l.z, toZapFields(fields)...) }
func (l *Logger) WithError(err error) *Entry                      { return with(l.z, zap.Error(err)) }

func (e *Entry) WithField(key string, value interface{}) *Entry { return with(e.z, zap.Any(key, value)) }
func (e *Entry) WithFields(fields Fields) *Entry                 { return with(e.z, toZapFields(fields)...) }
func (e *Entry) WithError(err error) *Entry                      { return with(e.z, zap.Error(err)) }

func with(z *zap.Logger, fields ...zap.Field) *Entry {
	return &Entry{printer: printer{z: z.With(fields...)}}
}

func toZapFields(fields Fields) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for key, value := range fields {
		out = append(out, zap.Any(key, value))
	}
	return out
}

package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	ZapLogger   *zap.SugaredLogger
	atomicLevel zap.AtomicLevel
}

type Config struct {
	Level       string
	Environment string
}

func parseLevel(level string) (zapcore.Level, bool) {
	switch strings.ToLower(level) {
	case "debug":
		return zap.DebugLevel, true
	case "info":
		return zap.InfoLevel, true
	case "warn", "warning":
		return zap.WarnLevel, true
	case "error":
		return zap.ErrorLevel, true
	}
	return zap.InfoLevel, false
}

func New(cfg Config) *Logger {
	logLevel, ok := parseLevel(cfg.Level)
	if !ok {
		fmt.Printf("WARN: Invalid log level '%s' specified, defaulting to INFO\n", cfg.Level)
	}
	atomicLevel := zap.NewAtomicLevelAt(logLevel)

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.LevelKey = "severity"
	encoderConfig.MessageKey = "message"
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	encoder := zapcore.NewConsoleEncoder(encoderConfig)
	if cfg.Environment == "production" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), atomicLevel)

	// AddCallerSkip(1) so the caller is the code using Logger, not this file
	zapLogger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))

	l := &Logger{
		ZapLogger:   zapLogger.Sugar(),
		atomicLevel: atomicLevel,
	}
	l.ZapLogger.Infof("Logger initialized. Level: %s", logLevel.String())
	return l
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{
		ZapLogger:   zap.NewNop().Sugar(),
		atomicLevel: zap.NewAtomicLevelAt(zap.InfoLevel),
	}
}

func (l *Logger) Zap() *zap.SugaredLogger {
	return l.ZapLogger
}

// With returns a child logger carrying the given key-values on every entry.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{
		ZapLogger:   l.ZapLogger.With(keysAndValues...),
		atomicLevel: l.atomicLevel,
	}
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.ZapLogger.Debugw(msg, keysAndValues...)
}

func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.ZapLogger.Infow(msg, keysAndValues...)
}

func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.ZapLogger.Warnw(msg, keysAndValues...)
}

func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.ZapLogger.Errorw(msg, keysAndValues...)
}

func (l *Logger) Fatal(msg string, keysAndValues ...interface{}) {
	l.ZapLogger.Fatalw(msg, keysAndValues...)
}

func (l *Logger) Sync() {
	_ = l.ZapLogger.Sync()
}

func (l *Logger) SetLevel(level string) {
	logLevel, ok := parseLevel(level)
	if !ok {
		l.ZapLogger.Warnf("Invalid log level '%s' provided to SetLevel, level unchanged.", level)
		return
	}
	l.atomicLevel.SetLevel(logLevel)
	l.ZapLogger.Infof("Logger level changed to: %s", logLevel.String())
}

// Level reports the current minimum enabled level.
func (l *Logger) Level() string {
	return l.atomicLevel.Level().String()
}

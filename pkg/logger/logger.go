package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls how log lines are written.
type Config struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string `yaml:"level"`
	// Format is console or json. Defaults to console.
	Format string `yaml:"format"`
	// File appends log lines to a file instead of stderr.
	File string `yaml:"file"`
}

// Logger provides structured logging for one service
type Logger struct {
	serviceName string
	version     string
	sugar       *zap.SugaredLogger
	level       zap.AtomicLevel
	closeFile   func()
}

// New creates a new logger instance writing colored console lines at info level
func New(serviceName, version string) *Logger {
	l, err := NewWithConfig(serviceName, version, Config{})
	if err != nil {
		// The default configuration always builds.
		panic(err)
	}
	return l
}

// NewWithConfig creates a logger from cfg
func NewWithConfig(serviceName, version string, cfg Config) (*Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	atomic := zap.NewAtomicLevelAt(level)

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")

	var encoder zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case "", "console":
		if isTerminal() {
			encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		}
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	default:
		return nil, fmt.Errorf("unknown log format '%s'", cfg.Format)
	}

	var (
		out       zapcore.WriteSyncer = zapcore.Lock(os.Stderr)
		closeFile func()
	)
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		out, closeFile, err = zap.Open(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
	}

	core := zapcore.NewCore(encoder, out, atomic)
	base := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).
		Named(serviceName).
		With(zap.String("version", version))

	return &Logger{
		serviceName: serviceName,
		version:     version,
		sugar:       base.Sugar(),
		level:       atomic,
		closeFile:   closeFile,
	}, nil
}

// NewNop returns a logger that discards everything. Tests use it.
func NewNop() *Logger {
	return &Logger{
		serviceName: "nop",
		sugar:       zap.NewNop().Sugar(),
		level:       zap.NewAtomicLevelAt(zapcore.FatalLevel),
	}
}

// FromZap wraps an existing zap logger.
func FromZap(serviceName string, z *zap.Logger) *Logger {
	return &Logger{
		serviceName: serviceName,
		sugar:       z.WithOptions(zap.AddCallerSkip(1)).Sugar(),
		level:       zap.NewAtomicLevelAt(z.Level()),
	}
}

// ParseLevel parses a level name. An empty name is info.
func ParseLevel(name string) (zapcore.Level, error) {
	if name == "" {
		return zapcore.InfoLevel, nil
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(name))); err != nil {
		return level, fmt.Errorf("unknown log level '%s'", name)
	}
	return level, nil
}

// isTerminal checks if we're outputting to a terminal (for color support)
func isTerminal() bool {
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	fileInfo, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

// SetLevel changes the minimum level at runtime
func (l *Logger) SetLevel(level zapcore.Level) {
	l.level.SetLevel(level)
}

// ServiceName returns the name the logger was created with
func (l *Logger) ServiceName() string {
	return l.serviceName
}

// Sync flushes buffered entries
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

// Close flushes the logger and releases its log file, if any.
func (l *Logger) Close() error {
	err := l.sugar.Sync()
	if l.closeFile != nil {
		l.closeFile()
		l.closeFile = nil
	}
	return err
}

// Named returns a child logger for a component of the service
func (l *Logger) Named(component string) *Logger {
	return &Logger{
		serviceName: l.serviceName + "." + component,
		version:     l.version,
		sugar:       l.sugar.Named(component),
		level:       l.level,
	}
}

// With returns a child logger that adds key/value pairs to every entry
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{
		serviceName: l.serviceName,
		version:     l.version,
		sugar:       l.sugar.With(keysAndValues...),
		level:       l.level,
	}
}

// Debug logs a debug message with optional formatting
func (l *Logger) Debug(message string, args ...interface{}) {
	if len(args) > 0 {
		l.sugar.Debugf(message, args...)
	} else {
		l.sugar.Debug(message)
	}
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// Info logs an info message with optional formatting
func (l *Logger) Info(message string, args ...interface{}) {
	if len(args) > 0 {
		l.sugar.Infof(message, args...)
	} else {
		l.sugar.Info(message)
	}
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// Warn logs a warning message with optional formatting
func (l *Logger) Warn(message string, args ...interface{}) {
	if len(args) > 0 {
		l.sugar.Warnf(message, args...)
	} else {
		l.sugar.Warn(message)
	}
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// Error logs an error message with optional formatting
func (l *Logger) Error(message string, args ...interface{}) {
	if len(args) > 0 {
		l.sugar.Errorf(message, args...)
	} else {
		l.sugar.Error(message)
	}
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(message string) {
	l.sugar.Fatal(message)
}

// Fatalf logs a formatted fatal message and exits
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.sugar.Fatalf(format, args...)
}

// WithFields logs a message with additional fields
func (l *Logger) WithFields(fields map[string]string) *LogContext {
	kv := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	return &LogContext{sugar: l.sugar.With(kv...)}
}

// LogContext provides field-based logging
type LogContext struct {
	sugar *zap.SugaredLogger
}

func (c *LogContext) Debug(message string) {
	c.sugar.Debug(message)
}

func (c *LogContext) Info(message string) {
	c.sugar.Info(message)
}

func (c *LogContext) Warn(message string) {
	c.sugar.Warn(message)
}

func (c *LogContext) Error(message string) {
	c.sugar.Error(message)
}

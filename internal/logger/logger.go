// Package logger wires the process-wide structured logger.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/opensource-finance/returnguard/internal/domain"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultDir        = "logs"
	defaultFilename   = "returnguard.log"
	defaultMaxSizeMB  = 100
	defaultMaxBackups = 7
	defaultMaxAgeDays = 30
)

var (
	mu     sync.RWMutex
	global *zap.Logger

	fallbackOnce sync.Once
	fallback     *zap.Logger
)

// Init builds the logger from cfg and installs it globally.
func Init(cfg domain.LoggingConfig) *zap.Logger {
	l := New(cfg)
	mu.Lock()
	global = l
	mu.Unlock()
	zap.ReplaceGlobals(l)
	return l
}

// New builds a logger. Debug mode writes console lines to stdout;
// any other mode writes JSON to a rotating file, or to stdout if the
// file cannot be opened.
func New(cfg domain.LoggingConfig) *zap.Logger {
	debug := strings.EqualFold(strings.TrimSpace(cfg.Mode), "debug")

	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if debug {
		level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	enc := encoderConfig()
	if debug {
		core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(os.Stdout), level)
		return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	}

	sink, err := fileSink(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "log file unavailable, writing to stdout: %v\n", err)
		sink = zapcore.AddSync(os.Stdout)
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), sink, level)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
}

// Z returns the installed logger, or a stdout logger before Init.
func Z() *zap.Logger {
	mu.RLock()
	l := global
	mu.RUnlock()
	if l != nil {
		return l
	}
	return fallbackLogger()
}

// S returns the sugared form of Z.
func S() *zap.SugaredLogger {
	return Z().Sugar()
}

// With returns a sugared logger carrying the given key/value pairs.
func With(kv ...interface{}) *zap.SugaredLogger {
	return S().With(kv...)
}

// Debugw logs msg at debug level with key/value pairs.
func Debugw(msg string, kv ...interface{}) {
	S().Debugw(msg, kv...)
}

// Infow logs msg at info level with key/value pairs.
func Infow(msg string, kv ...interface{}) {
	S().Infow(msg, kv...)
}

// Warnw logs msg at warn level with key/value pairs.
func Warnw(msg string, kv ...interface{}) {
	S().Warnw(msg, kv...)
}

// Errorw logs msg at error level with key/value pairs.
func Errorw(msg string, kv ...interface{}) {
	S().Errorw(msg, kv...)
}

// Sync flushes buffered entries.
func Sync() {
	_ = Z().Sync()
}

func encoderConfig() zapcore.EncoderConfig {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "time"
	enc.MessageKey = "message"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeDuration = zapcore.MillisDurationEncoder
	enc.EncodeLevel = zapcore.LowercaseLevelEncoder
	enc.EncodeCaller = zapcore.ShortCallerEncoder
	return enc
}

func fallbackLogger() *zap.Logger {
	fallbackOnce.Do(func() {
		core := zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderConfig()),
			zapcore.AddSync(os.Stdout),
			zap.NewAtomicLevelAt(zap.InfoLevel),
		)
		fallback = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	})
	return fallback
}

func fileSink(cfg domain.LoggingConfig) (zapcore.WriteSyncer, error) {
	path, err := logFilePath(cfg)
	if err != nil {
		return nil, err
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    positiveOr(cfg.MaxSizeMB, defaultMaxSizeMB),
		MaxBackups: positiveOr(cfg.MaxBackups, defaultMaxBackups),
		MaxAge:     positiveOr(cfg.MaxAgeDays, defaultMaxAgeDays),
		Compress:   cfg.Compress,
	}), nil
}

func logFilePath(cfg domain.LoggingConfig) (string, error) {
	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolve working directory: %w", err)
		}
		dir = filepath.Join(wd, defaultDir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create log directory: %w", err)
	}

	name := strings.TrimSpace(cfg.Filename)
	if name == "" {
		name = defaultFilename
	}
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("open log file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close log file: %w", err)
	}
	return path, nil
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

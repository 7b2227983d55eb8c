// Package logging provides structured logging with file and console output.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Entry is a single log line kept in the in-memory history for
// streaming to connected surfaces
type Entry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// Config holds logger configuration
type Config struct {
	LogDir     string // Directory for log files (default: ~/.gazeprobe/logs)
	Level      string // Minimum log level (default: debug)
	MaxHistory int    // Max entries to keep in memory (default: 1000)
	Console    bool   // Also log to console (default: true)
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		LogDir:     filepath.Join(home, ".gazeprobe", "logs"),
		Level:      "debug",
		MaxHistory: 1000,
		Console:    true,
	}
}

// Logger wraps zerolog with file output and a bounded history ring
type Logger struct {
	zlog    zerolog.Logger
	file    *os.File
	logPath string

	mu      sync.RWMutex
	history []Entry
	maxHist int
	onLog   func(Entry)
}

// New creates a Logger writing to a date-named file and optionally the
// console
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.LogDir == "" {
		cfg.LogDir = DefaultConfig().LogDir
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 1000
	}

	if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	logPath := filepath.Join(cfg.LogDir, fmt.Sprintf("gazeprobe_%s.log", time.Now().Format("2006-01-02")))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	writers := []io.Writer{file}
	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		})
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.DebugLevel
	}

	logger := &Logger{
		file:    file,
		logPath: logPath,
		history: make([]Entry, 0, cfg.MaxHistory),
		maxHist: cfg.MaxHistory,
	}

	logger.zlog = zerolog.New(io.MultiWriter(writers...)).
		Level(level).
		Hook(historyHook{logger}).
		With().
		Timestamp().
		Str("app", "gazeprobe").
		Logger()

	logger.zlog.Info().Str("logFile", logPath).Str("level", level.String()).Msg("Logger initialized")

	return logger, nil
}

// Component returns a zerolog.Logger tagged with the component field
func (l *Logger) Component(name string) zerolog.Logger {
	return l.zlog.With().Str("component", name).Logger()
}

// Zerolog returns the underlying zerolog.Logger
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

// SetOnLog sets a callback for real-time log streaming
func (l *Logger) SetOnLog(fn func(Entry)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onLog = fn
}

// History returns up to limit recent log entries, newest last
func (l *Logger) History(limit int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit <= 0 || limit > len(l.history) {
		limit = len(l.history)
	}

	result := make([]Entry, limit)
	copy(result, l.history[len(l.history)-limit:])
	return result
}

// Path returns the current log file path
func (l *Logger) Path() string {
	return l.logPath
}

// Close closes the log file
func (l *Logger) Close() error {
	l.zlog.Info().Msg("Logger shutting down")
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *Logger) addToHistory(entry Entry) {
	l.mu.Lock()
	l.history = append(l.history, entry)
	if len(l.history) > l.maxHist {
		l.history = l.history[len(l.history)-l.maxHist:]
	}
	onLog := l.onLog
	l.mu.Unlock()

	if onLog != nil {
		go onLog(entry)
	}
}

// historyHook mirrors every emitted event into the history ring
type historyHook struct {
	logger *Logger
}

func (h historyHook) Run(_ *zerolog.Event, level zerolog.Level, msg string) {
	if level == zerolog.NoLevel {
		return
	}
	h.logger.addToHistory(Entry{
		Timestamp: time.Now().Format("15:04:05.000"),
		Level:     level.String(),
		Message:   msg,
	})
}

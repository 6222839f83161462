package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level orders log severities. Entries below the logger's level are dropped.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	default:
		return "ERROR"
	}
}

// ParseLevel maps a config string to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger writes one line per entry: "[ts] LEVEL: message k=v ...".
type Logger struct {
	mu     sync.Mutex
	out    io.Writer
	closer io.Closer
	level  Level
}

type LogEntry struct {
	Timestamp time.Time
	Level     Level
	Message   string
	Details   map[string]interface{}
}

var globalLogger *Logger
var loggerMu sync.Mutex

// New returns a logger writing to w.
func New(w io.Writer, level Level) *Logger {
	return &Logger{out: w, level: level}
}

// Init opens a timestamped log file under dir and installs it as the global
// logger. With echo set, entries are copied to stderr as well. The MCP server
// runs without echo since its stdio carries JSON-RPC. The stdlib log package
// is routed to the same writer.
func Init(dir string, subcommand string, level Level, echo bool) (*Logger, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create log dir: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405")
	logPath := filepath.Join(dir, fmt.Sprintf("ctxportal-%s-%s.log", subcommand, timestamp))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, "", fmt.Errorf("open log file: %w", err)
	}

	var w io.Writer = file
	if echo {
		w = io.MultiWriter(os.Stderr, file)
	}
	logger := &Logger{out: w, closer: file, level: level}
	log.SetOutput(w)

	SetGlobal(logger)
	logger.Debug("logger initialized", map[string]interface{}{"log_file": logPath})
	return logger, logPath, nil
}

func (l *Logger) log(level Level, message string, details map[string]interface{}) {
	if l == nil || level < l.level {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
		Details:   details,
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: %s", entry.Timestamp.Format("2006-01-02 15:04:05.000"), entry.Level, entry.Message)

	// Stable key order keeps log lines diffable.
	keys := make([]string, 0, len(entry.Details))
	for k := range entry.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry.Details[k])
	}
	b.WriteByte('\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	io.WriteString(l.out, b.String())
}

func (l *Logger) Info(message string, details map[string]interface{}) {
	l.log(LevelInfo, message, details)
}

func (l *Logger) Warn(message string, details map[string]interface{}) {
	l.log(LevelWarn, message, details)
}

func (l *Logger) Error(message string, details map[string]interface{}) {
	l.log(LevelError, message, details)
}

func (l *Logger) Debug(message string, details map[string]interface{}) {
	l.log(LevelDebug, message, details)
}

func (l *Logger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// SetGlobal replaces the process-wide logger and returns the previous one.
func SetGlobal(l *Logger) *Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	prev := globalLogger
	globalLogger = l
	return prev
}

func Global() *Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	return globalLogger
}

func Info(message string, details map[string]interface{}) {
	if logger := Global(); logger != nil {
		logger.Info(message, details)
	}
}

func Warn(message string, details map[string]interface{}) {
	if logger := Global(); logger != nil {
		logger.Warn(message, details)
	}
}

func Error(message string, details map[string]interface{}) {
	if logger := Global(); logger != nil {
		logger.Error(message, details)
	}
}

func Debug(message string, details map[string]interface{}) {
	if logger := Global(); logger != nil {
		logger.Debug(message, details)
	}
}

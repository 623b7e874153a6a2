package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel converts a string to LogLevel, defaulting to INFO.
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// Logger is a leveled logger writing to stdout, a log file, or both.
type Logger struct {
	level   LogLevel
	output  string
	logFile *os.File
	mu      sync.Mutex
}

var (
	globalLogger *Logger
	once         sync.Once
)

// InitLogger initializes the global logger from viper config. Safe to call
// more than once; only the first call takes effect.
func InitLogger() error {
	var err error
	once.Do(func() {
		globalLogger, err = NewLogger()
	})
	return err
}

// GetLogger returns the global logger, falling back to a stdout INFO logger
// when InitLogger was never called.
func GetLogger() *Logger {
	if globalLogger == nil {
		globalLogger = &Logger{level: INFO, output: "stdout"}
	}
	return globalLogger
}

// NewLogger creates a logger instance using the global viper config.
func NewLogger() (*Logger, error) {
	logger := &Logger{
		level:  ParseLogLevel(viper.GetString("logging.level")),
		output: viper.GetString("logging.output"),
	}

	if logger.output == "file" || logger.output == "both" {
		dir := viper.GetString("logging.dir")
		if dir == "" {
			dir = "logs"
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		path := filepath.Join(dir, time.Now().Format("2006-01-02")+".log")
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		logger.logFile = file
	}

	return logger, nil
}

func (l *Logger) writer() io.Writer {
	switch l.output {
	case "file":
		if l.logFile != nil {
			return l.logFile
		}
		return os.Stdout
	case "both":
		if l.logFile != nil {
			return io.MultiWriter(os.Stdout, l.logFile)
		}
		return os.Stdout
	default:
		return os.Stdout
	}
}

func (l *Logger) log(level LogLevel, msg string, fields map[string]interface{}) {
	if level < l.level {
		return
	}

	line := fmt.Sprintf("%s [%s] %s", time.Now().Format("2006-01-02 15:04:05.000"), level.String(), msg)
	if len(fields) > 0 {
		line += " |"
		for k, v := range fields {
			line += fmt.Sprintf(" %s=%v", k, v)
		}
	}

	l.mu.Lock()
	fmt.Fprintln(l.writer(), line)
	l.mu.Unlock()

	if level == FATAL {
		os.Exit(1)
	}
}

// Close closes the log file if one is open.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.logFile != nil {
		return l.logFile.Close()
	}
	return nil
}

func (l *Logger) Debug(msg string, fields ...map[string]interface{}) { l.log(DEBUG, msg, first(fields)) }
func (l *Logger) Info(msg string, fields ...map[string]interface{})  { l.log(INFO, msg, first(fields)) }
func (l *Logger) Warn(msg string, fields ...map[string]interface{})  { l.log(WARN, msg, first(fields)) }
func (l *Logger) Error(msg string, fields ...map[string]interface{}) { l.log(ERROR, msg, first(fields)) }
func (l *Logger) Fatal(msg string, fields ...map[string]interface{}) { l.log(FATAL, msg, first(fields)) }

func (l *Logger) Debugf(format string, args ...interface{}) { l.Debug(fmt.Sprintf(format, args...)) }
func (l *Logger) Infof(format string, args ...interface{})  { l.Info(fmt.Sprintf(format, args...)) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.Warn(fmt.Sprintf(format, args...)) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.Error(fmt.Sprintf(format, args...)) }
func (l *Logger) Fatalf(format string, args ...interface{}) { l.Fatal(fmt.Sprintf(format, args...)) }

func first(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

// Global convenience functions

func Debug(msg string, fields ...map[string]interface{}) { GetLogger().Debug(msg, fields...) }
func Info(msg string, fields ...map[string]interface{})  { GetLogger().Info(msg, fields...) }
func Warn(msg string, fields ...map[string]interface{})  { GetLogger().Warn(msg, fields...) }
func Error(msg string, fields ...map[string]interface{}) { GetLogger().Error(msg, fields...) }
func Fatal(msg string, fields ...map[string]interface{}) { GetLogger().Fatal(msg, fields...) }

func Debugf(format string, args ...interface{}) { GetLogger().Debugf(format, args...) }
func Infof(format string, args ...interface{})  { GetLogger().Infof(format, args...) }
func Warnf(format string, args ...interface{})  { GetLogger().Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { GetLogger().Errorf(format, args...) }
func Fatalf(format string, args ...interface{}) { GetLogger().Fatalf(format, args...) }

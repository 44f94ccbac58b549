package lib

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	LogDirectory = "logs"
	LogFileName  = "log"
)

/*
	This file implements a leveled logging system with colored output.
	The Logger can write to stdout and to auto-rotating log files.
*/

func init() {
	color.NoColor = false
}

// LoggerI defines the interface for the various logging levels and formatted output
type LoggerI interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)
	Fatal(msg string)
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

const (
	DebugLevel int32 = -4
	InfoLevel  int32 = 0
	WarnLevel  int32 = 4
	ErrorLevel int32 = 8
)

var _ LoggerI = &Logger{}

// LoggerConfig holds the logging level and the output writer
type LoggerConfig struct {
	Level int32 `json:"level"`
	Out   io.Writer
}

// Logger is the concrete implementation of LoggerI
type Logger struct {
	config LoggerConfig
}

// Debug() logs a message at the Debug level with blue color
func (l *Logger) Debug(msg string) {
	if l.config.Level <= DebugLevel {
		l.write(color.BlueString("DEBUG: " + msg))
	}
}

// Info() logs a message at the Info level with green color
func (l *Logger) Info(msg string) {
	if l.config.Level <= InfoLevel {
		l.write(color.GreenString("INFO: " + msg))
	}
}

// Warn() logs a message at the Warn level with yellow color
func (l *Logger) Warn(msg string) {
	if l.config.Level <= WarnLevel {
		l.write(color.YellowString("WARN: " + msg))
	}
}

// Error() logs a message at the Error level with red color
func (l *Logger) Error(msg string) {
	if l.config.Level <= ErrorLevel {
		l.write(color.RedString("ERROR: " + msg))
	}
}

// Fatal() logs an error message and terminates the program
func (l *Logger) Fatal(msg string) {
	l.write(color.RedString("FATAL: " + msg))
	os.Exit(1)
}

// Debugf() logs a formatted message at the Debug level
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.Debug(fmt.Sprintf(format, args...))
}

// Infof() logs a formatted message at the Info level
func (l *Logger) Infof(format string, args ...interface{}) {
	l.Info(fmt.Sprintf(format, args...))
}

// Warnf() logs a formatted message at the Warn level
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.Warn(fmt.Sprintf(format, args...))
}

// Errorf() logs a formatted message at the Error level
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.Error(fmt.Sprintf(format, args...))
}

// Fatalf() logs a formatted error message and terminates the program
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.Fatal(fmt.Sprintf(format, args...))
}

// write() outputs the log message with a timestamp to the configured writer
func (l *Logger) write(msg string) {
	stamp := color.HiBlackString(time.Now().Format(time.StampMilli))
	if _, err := l.config.Out.Write([]byte(fmt.Sprintf("%s %s\n", stamp, msg))); err != nil {
		fmt.Println(newLogError(err))
	}
}

// NewLogger() creates a new Logger instance with the specified configuration and optional data directory path
func NewLogger(config LoggerConfig, dataDirPath ...string) LoggerI {
	if config.Out == nil {
		if dataDirPath == nil || dataDirPath[0] == "" {
			dataDirPath = []string{DefaultDataDirPath()}
		}
		logPath := filepath.Join(dataDirPath[0], LogDirectory, LogFileName)
		if _, err := os.Stat(logPath); errors.Is(err, os.ErrNotExist) {
			if err = os.MkdirAll(filepath.Join(dataDirPath[0], LogDirectory), os.ModePerm); err != nil {
				panic(err)
			}
		}
		logFile := &lumberjack.Logger{
			Filename:   logPath,
			MaxSize:    1, // megabyte
			MaxBackups: 100,
			MaxAge:     14, // days
			Compress:   true,
		}
		config.Out = io.MultiWriter(os.Stdout, logFile)
	}
	return &Logger{config: config}
}

// NewDefaultLogger() creates a Logger with default settings, logging at the Debug level to stdout
func NewDefaultLogger() LoggerI {
	return NewLogger(LoggerConfig{Level: DebugLevel, Out: os.Stdout})
}

// NewNullLogger() creates a Logger that discards all log output
func NewNullLogger() LoggerI {
	return NewLogger(LoggerConfig{Level: DebugLevel, Out: io.Discard})
}

// ParseLogLevel() converts a config string like 'info' into a log level
func ParseLogLevel(s string) int32 {
	switch strings.ToLower(s) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

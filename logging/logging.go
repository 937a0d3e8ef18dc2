// Package logging configures the process wide slog logger.
package logging

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gorm.io/gorm/logger"
)

// ParseLogLevel converts a string log level to slog.Level
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "silent", "none":
		return slog.Level(1000)
	default:
		return slog.LevelInfo
	}
}

func ValidLogLevels() []string {
	return []string{"debug", "info", "warning", "error", "silent"}
}

// InitLogging installs a text handler on stderr as the default logger.
func InitLogging(logLevel string) *slog.Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: ParseLogLevel(logLevel),
	})
	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}

// GormLogLevel maps a log level to the gorm logger level. Gorm only logs
// bookkeeping SQL at debug.
func GormLogLevel(logLevel string) logger.LogLevel {
	switch level := ParseLogLevel(logLevel); {
	case level <= slog.LevelDebug:
		return logger.Info
	case level <= slog.LevelWarn:
		return logger.Warn
	case level <= slog.LevelError:
		return logger.Error
	}
	return logger.Silent
}

// LogLevel is the value of the --log-level flag.
var LogLevel = &logLevelFlag{value: "info"}

type logLevelFlag struct {
	value string
	set   bool
}

func (l *logLevelFlag) Set(value string) error {
	if !slices.Contains(ValidLogLevels(), value) {
		return fmt.Errorf("invalid value '%s'. Allowed values: %s",
			value, strings.Join(ValidLogLevels(), ", "))
	}
	l.value = value
	l.set = true
	return nil
}

func (l *logLevelFlag) String() string {
	return l.value
}

func (l *logLevelFlag) Type() string {
	return fmt.Sprintf("one of [%s]", strings.Join(ValidLogLevels(), "|"))
}

func (l *logLevelFlag) IsSet() bool {
	return l.set
}

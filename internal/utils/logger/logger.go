package logger

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/fatih/color"
)

var (
	infoColor    = color.New(color.FgCyan).SprintFunc()
	successColor = color.New(color.FgGreen).SprintFunc()
	warnColor    = color.New(color.FgYellow).SprintFunc()
	errorColor   = color.New(color.FgRed, color.Bold).SprintFunc()
	debugColor   = color.New(color.FgMagenta).SprintFunc()
	tagColor     = color.New(color.FgHiBlack).SprintFunc()
)

// Logger is a tagged, colorized logger used by every component
type Logger struct {
	tag   string
	debug bool
	out   *log.Logger
}

// New creates a logger that prefixes every line with tag
func New(tag string) *Logger {
	return &Logger{
		tag:   tag,
		debug: strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug"),
		out:   log.New(os.Stdout, "", log.LstdFlags),
	}
}

// With returns a child logger with a nested tag
func (l *Logger) With(tag string) *Logger {
	return &Logger{
		tag:   l.tag + ":" + tag,
		debug: l.debug,
		out:   l.out,
	}
}

func (l *Logger) print(level string, format string, args ...interface{}) {
	l.out.Printf("%s %s %s", tagColor("["+l.tag+"]"), level, fmt.Sprintf(format, args...))
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.print(infoColor("INFO"), format, args...)
}

// Success logs a completed operation
func (l *Logger) Success(format string, args ...interface{}) {
	l.print(successColor("OK"), format, args...)
}

// Warn logs a recoverable problem
func (l *Logger) Warn(format string, args ...interface{}) {
	l.print(warnColor("WARN"), format, args...)
}

// Debug logs only when LOG_LEVEL=debug
func (l *Logger) Debug(format string, args ...interface{}) {
	if !l.debug {
		return
	}
	l.print(debugColor("DEBUG"), format, args...)
}

// Error logs msg with err and returns them wrapped, so callers can
// `return log.Error("...", err)`
func (l *Logger) Error(msg string, err error) error {
	if err == nil {
		l.print(errorColor("ERROR"), "%s", msg)
		return fmt.Errorf("%s", msg)
	}
	l.print(errorColor("ERROR"), "%s: %v", msg, err)
	return fmt.Errorf("%s: %w", msg, err)
}

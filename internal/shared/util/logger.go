package util

import (
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"time"
)

const (
	Reset   = "\033[0m"
	Red     = "\033[31m"
	Green   = "\033[32m"
	Yellow  = "\033[33m"
	Blue    = "\033[34m"
	Magenta = "\033[35m"
	Cyan    = "\033[36m"
	White   = "\033[37m"
)

const timeLayout = "2006-01-02 15:04:05.000"

type level struct {
	name  string
	color string
}

var (
	levelInfo  = level{"INFO", Green}
	levelOK    = level{"OK", Green}
	levelWarn  = level{"WARN", Yellow}
	levelError = level{"ERROR", Red}
	levelFatal = level{"FATAL", Red}
)

var methodColors = map[string]string{
	"GET":     Blue,
	"POST":    Green,
	"PUT":     Magenta,
	"PATCH":   Magenta,
	"DELETE":  Red,
	"OPTIONS": Yellow,
}

// Logger prints one line per event: timestamp, level, the component
// ("instance") that emitted it, and the message.
type Logger struct {
	std   *log.Logger
	color bool
}

// New logs to stdout. Setting NO_COLOR disables ANSI colors.
func New() *Logger {
	l := NewWithWriter(os.Stdout)
	_, noColor := os.LookupEnv("NO_COLOR")
	l.color = !noColor
	return l
}

// NewWithWriter builds an uncolored logger that writes to w. Tests pass io.Discard.
func NewWithWriter(w io.Writer) *Logger {
	return &Logger{std: log.New(w, "", 0)}
}

func (l *Logger) Info(instance, message string) { l.write(levelInfo, instance, message) }

func (l *Logger) OK(instance, message string) { l.write(levelOK, instance, message) }

func (l *Logger) Warn(instance, message string) { l.write(levelWarn, instance, message) }

func (l *Logger) Error(instance, message string, err error) {
	l.write(levelError, instance, withErr(message, err))
}

// Fatal logs and exits the process with status 1.
func (l *Logger) Fatal(instance, message string, err error) {
	l.write(levelFatal, instance, withErr(message, err))
	os.Exit(1)
}

// HTTP logs one served request.
func (l *Logger) HTTP(status int, elapsed time.Duration, host, method, path, requestID string) {
	l.std.Printf("%s|%s| %10s | %-20s | %s %s | %s\n",
		time.Now().Format(timeLayout),
		l.paint(statusColor(status), strconv.Itoa(status)),
		elapsed.Round(time.Microsecond), host,
		l.paint(methodColor(method), fmt.Sprintf("%-6s", method)),
		path, requestID)
}

func (l *Logger) write(lv level, instance, message string) {
	l.std.Printf("%s|%s | %-28s | %s\n",
		time.Now().Format(timeLayout),
		l.paint(lv.color, fmt.Sprintf("%-5s", lv.name)),
		instance, message)
}

func (l *Logger) paint(color, s string) string {
	if !l.color {
		return s
	}
	return color + s + Reset
}

func withErr(message string, err error) string {
	if err == nil {
		return message
	}
	return message + ": " + err.Error()
}

func methodColor(method string) string {
	if c, ok := methodColors[method]; ok {
		return c
	}
	return White
}

func statusColor(code int) string {
	switch {
	case code >= 500:
		return Red
	case code >= 400:
		return Yellow
	case code >= 300:
		return Cyan
	case code >= 200:
		return Green
	}
	return White
}

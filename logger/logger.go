// Package logger provides application-wide logging built on op/go-logging,
// with an in-memory buffer of recent entries for the admin API.
package logger

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/op/go-logging"
)

var logger *logging.Logger

// LogEntry is one buffered log record.
type LogEntry struct {
	Time    time.Time
	Level   logging.Level
	Message string
}

var (
	bufferMu  sync.Mutex
	logBuffer []LogEntry
)

const maxBufferedLogs = 10240

func init() {
	InitLogger(logging.INFO)
}

// InitLogger configures the backend and minimum level for the process logger.
func InitLogger(level logging.Level) {
	newLogger := logging.MustGetLogger("1000proxy")

	backend := logging.NewLogBackend(os.Stderr, "", 0)
	format := logging.MustStringFormatter(`%{time:2006/01/02 15:04:05} %{level} - %{message}`)
	backendFormatter := logging.NewBackendFormatter(backend, format)
	backendLeveled := logging.AddModuleLevel(backendFormatter)
	backendLeveled.SetLevel(level, "1000proxy")
	newLogger.SetBackend(backendLeveled)

	logger = newLogger
}

func Debug(args ...any) {
	logger.Debug(args...)
	addToBuffer(logging.DEBUG, fmt.Sprint(args...))
}

func Debugf(format string, args ...any) {
	logger.Debugf(format, args...)
	addToBuffer(logging.DEBUG, fmt.Sprintf(format, args...))
}

func Info(args ...any) {
	logger.Info(args...)
	addToBuffer(logging.INFO, fmt.Sprint(args...))
}

func Infof(format string, args ...any) {
	logger.Infof(format, args...)
	addToBuffer(logging.INFO, fmt.Sprintf(format, args...))
}

func Warning(args ...any) {
	logger.Warning(args...)
	addToBuffer(logging.WARNING, fmt.Sprint(args...))
}

func Warningf(format string, args ...any) {
	logger.Warningf(format, args...)
	addToBuffer(logging.WARNING, fmt.Sprintf(format, args...))
}

func Error(args ...any) {
	logger.Error(args...)
	addToBuffer(logging.ERROR, fmt.Sprint(args...))
}

func Errorf(format string, args ...any) {
	logger.Errorf(format, args...)
	addToBuffer(logging.ERROR, fmt.Sprintf(format, args...))
}

func addToBuffer(level logging.Level, message string) {
	bufferMu.Lock()
	defer bufferMu.Unlock()
	if len(logBuffer) >= maxBufferedLogs {
		logBuffer = logBuffer[1:]
	}
	logBuffer = append(logBuffer, LogEntry{Time: time.Now(), Level: level, Message: message})
}

// GetRecentLogs returns up to count of the most recent buffered entries.
func GetRecentLogs(count int) []LogEntry {
	bufferMu.Lock()
	defer bufferMu.Unlock()
	if count <= 0 || count > len(logBuffer) {
		count = len(logBuffer)
	}
	out := make([]LogEntry, count)
	copy(out, logBuffer[len(logBuffer)-count:])
	return out
}

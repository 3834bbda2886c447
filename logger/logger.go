// logger/logger.go
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorGray   = "\033[90m"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// ParseLevel maps a config string to a level, defaulting to INFO
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// sink pairs a level prefix with the writers it goes to
type sink struct {
	console *log.Logger
	file    *log.Logger
}

type Logger struct {
	sinks         map[LogLevel]sink
	file          *os.File
	consoleOutput io.Writer
	fileOutput    io.Writer
	minLevel      LogLevel
}

var (
	defaultLogger *Logger
	once          sync.Once
	mu            sync.RWMutex
)

var levelPrefixes = map[LogLevel][2]string{
	DEBUG: {colorGray + "[DEBUG] " + colorReset, "[DEBUG] "},
	INFO:  {colorReset + "[INFO]  " + colorReset, "[INFO]  "},
	WARN:  {colorYellow + "[WARN]  " + colorReset, "[WARN]  "},
	ERROR: {colorRed + "[ERROR] " + colorReset, "[ERROR] "},
}

// ensureInitialized creates a default console logger if Init was never called
func ensureInitialized() {
	once.Do(func() {
		mu.Lock()
		defer mu.Unlock()
		if defaultLogger != nil {
			return
		}
		defaultLogger = &Logger{
			consoleOutput: os.Stdout,
			minLevel:      INFO,
		}
		defaultLogger.setupLoggers()
	})
}

// Init configures the logger.
// An empty filename logs only to console; console=false logs only to file.
func Init(filename string, console bool, level LogLevel) error {
	mu.Lock()
	defer mu.Unlock()

	if defaultLogger != nil && defaultLogger.file != nil {
		defaultLogger.file.Close()
	}

	l := &Logger{minLevel: level}

	if filename != "" {
		file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		l.file = file
		l.fileOutput = file
	}

	if console {
		l.consoleOutput = os.Stdout
	}

	if l.fileOutput == nil && l.consoleOutput == nil {
		return fmt.Errorf("no output destination specified")
	}

	l.setupLoggers()
	defaultLogger = l
	return nil
}

// SetOutput redirects console output, used by tests to capture log lines
func SetOutput(w io.Writer) {
	ensureInitialized()
	mu.Lock()
	defer mu.Unlock()
	defaultLogger.consoleOutput = w
	defaultLogger.setupLoggers()
}

// SetLevel sets the minimum level; messages below it are dropped
func SetLevel(level LogLevel) {
	ensureInitialized()
	mu.Lock()
	defer mu.Unlock()
	defaultLogger.minLevel = level
}

func (l *Logger) setupLoggers() {
	flags := log.Ldate | log.Ltime | log.Lshortfile
	l.sinks = make(map[LogLevel]sink, len(levelPrefixes))
	for level, prefixes := range levelPrefixes {
		var s sink
		if l.consoleOutput != nil {
			s.console = log.New(l.consoleOutput, prefixes[0], flags)
		}
		if l.fileOutput != nil {
			s.file = log.New(l.fileOutput, prefixes[1], flags)
		}
		l.sinks[level] = s
	}
}

// Close closes the log file if one is open
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if defaultLogger != nil && defaultLogger.file != nil {
		defaultLogger.file.Close()
		defaultLogger.file = nil
		defaultLogger.fileOutput = nil
		defaultLogger.setupLoggers()
	}
}

func output(level LogLevel, msg string) {
	ensureInitialized()
	mu.RLock()
	defer mu.RUnlock()

	l := defaultLogger
	if level < l.minLevel {
		return
	}
	s := l.sinks[level]
	// depth 3: output -> Infof -> caller
	if s.console != nil {
		s.console.Output(3, msg)
	}
	if s.file != nil {
		s.file.Output(3, msg)
	}
}

func Debug(v ...interface{}) { output(DEBUG, fmt.Sprint(v...)) }

func Debugf(format string, v ...interface{}) { output(DEBUG, fmt.Sprintf(format, v...)) }

func Info(v ...interface{}) { output(INFO, fmt.Sprint(v...)) }

func Infof(format string, v ...interface{}) { output(INFO, fmt.Sprintf(format, v...)) }

func Warn(v ...interface{}) { output(WARN, fmt.Sprint(v...)) }

func Warnf(format string, v ...interface{}) { output(WARN, fmt.Sprintf(format, v...)) }

func Error(v ...interface{}) { output(ERROR, fmt.Sprint(v...)) }

func Errorf(format string, v ...interface{}) { output(ERROR, fmt.Sprintf(format, v...)) }

// Fatal logs an error message and exits the program
func Fatal(v ...interface{}) {
	output(ERROR, fmt.Sprint(v...))
	os.Exit(1)
}

// Fatalf logs a formatted error message and exits the program
func Fatalf(format string, v ...interface{}) {
	output(ERROR, fmt.Sprintf(format, v...))
	os.Exit(1)
}

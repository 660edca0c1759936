// Package log is the process-wide logger. Records fan out to stderr and to a
// per-application log file under the XDG state directory.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/adrg/xdg"
	slogmulti "github.com/samber/slog-multi"
)

var (
	fileLevel   = new(slog.LevelVar)
	stderrLevel = new(slog.LevelVar)

	mu     sync.RWMutex
	logger = newLogger(os.Stderr, nil)
	file   *os.File
)

func init() {
	stderrLevel.Set(slog.LevelWarn)
}

func newLogger(stderr io.Writer, fileOut io.Writer) *slog.Logger {
	handlers := []slog.Handler{
		slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: stderrLevel}),
	}
	if fileOut != nil {
		handlers = append(handlers, slog.NewTextHandler(fileOut, &slog.HandlerOptions{Level: fileLevel}))
	}
	return slog.New(slogmulti.Fanout(handlers...))
}

// Init opens $XDG_STATE_HOME/<name>/<name>.log and routes records to it in
// addition to stderr.
func Init(name string) error {
	return InitWithDir(name, filepath.Join(xdg.StateHome, name))
}

// InitWithDir is Init with an explicit log directory.
func InitWithDir(name, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, name+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		file.Close()
	}
	file = f
	logger = newLogger(os.Stderr, f)
	return nil
}

// SetOutput replaces both sinks with w. Used by tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger = newLogger(w, nil)
}

// SetLevel sets the file log level: debug, info, warn or error.
func SetLevel(name string) {
	fileLevel.Set(parseLevel(name))
}

// SetVerbose lowers the stderr threshold to debug.
func SetVerbose(verbose bool) {
	if verbose {
		stderrLevel.Set(slog.LevelDebug)
		return
	}
	stderrLevel.Set(slog.LevelWarn)
}

func parseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Close flushes and closes the log file, if any.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		file.Close()
		file = nil
	}
	logger = newLogger(os.Stderr, nil)
}

// Logger returns the underlying structured logger.
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func Debugf(format string, args ...any) { Logger().Debug(fmt.Sprintf(format, args...)) }
func Infof(format string, args ...any)  { Logger().Info(fmt.Sprintf(format, args...)) }
func Warnf(format string, args ...any)  { Logger().Warn(fmt.Sprintf(format, args...)) }
func Errorf(format string, args ...any) { Logger().Error(fmt.Sprintf(format, args...)) }

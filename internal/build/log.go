package build

import (
	"fmt"
	"os"
	"sync"

	"github.com/btcsuite/btclog"
	btclogv2 "github.com/btcsuite/btclog/v2"
)

// logMgr is the process-wide logging state. The console handler is always
// present; the file handler is attached once InitFileLogging is called.
var logMgr = struct {
	sync.Mutex

	root    *HandlerSet
	writer  *RotatingLogWriter
	loggers map[string]btclogv2.Logger
}{
	root: NewHandlerSet(
		btclogv2.NewDefaultHandler(os.Stdout),
	),
	loggers: make(map[string]btclogv2.Logger),
}

// NewSubLogger returns a structured logger tagged with the given sub-system
// name. Loggers are cached so repeated calls with the same tag return the
// same instance.
func NewSubLogger(tag string) btclogv2.Logger {
	logMgr.Lock()
	defer logMgr.Unlock()

	if logger, ok := logMgr.loggers[tag]; ok {
		return logger
	}

	logger := btclogv2.NewSLogger(logMgr.root.SubSystem(tag))
	logMgr.loggers[tag] = logger

	return logger
}

// InitFileLogging attaches a rotating file handler to the root handler set.
// Loggers created before this call keep writing to the console only, so it
// should run early in process startup.
func InitFileLogging(cfg *LogRotatorConfig) error {
	logMgr.Lock()
	defer logMgr.Unlock()

	if logMgr.writer != nil {
		return nil
	}

	writer := NewRotatingLogWriter()
	if err := writer.InitLogRotator(cfg); err != nil {
		return fmt.Errorf("init log rotator: %w", err)
	}

	logMgr.writer = writer
	logMgr.root = NewHandlerSet(
		btclogv2.NewDefaultHandler(os.Stdout),
		btclogv2.NewDefaultHandler(writer),
	)

	return nil
}

// SetLogLevel applies the given level string (trace, debug, info, warn,
// error, critical) to all handlers. Unknown strings are rejected.
func SetLogLevel(level string) error {
	lvl, ok := btclog.LevelFromString(level)
	if !ok {
		return fmt.Errorf("unknown log level %q", level)
	}

	logMgr.Lock()
	defer logMgr.Unlock()

	logMgr.root.SetLevel(lvl)

	return nil
}

// ShutdownLogging flushes and closes the file log writer, if any.
func ShutdownLogging() {
	logMgr.Lock()
	defer logMgr.Unlock()

	if logMgr.writer != nil {
		_ = logMgr.writer.Close()
		logMgr.writer = nil
	}
}

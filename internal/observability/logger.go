// Package observability holds the process-wide CLI logger.
package observability

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the logger used by commands for diagnostics. Command
// results are written to the command's output stream, never here.
//
// It is a no-op logger until InitCLILogger is called.
var CLILogger = zap.NewNop()

var (
	levelMu sync.Mutex
	level   = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// InitCLILogger builds the CLI logger writing console-encoded entries to
// stderr. verbose enables debug entries with caller information.
func InitCLILogger(name string, verbose bool) {
	levelMu.Lock()
	defer levelMu.Unlock()

	if verbose {
		level.SetLevel(zapcore.DebugLevel)
	} else {
		level.SetLevel(zapcore.InfoLevel)
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = ""
	if !verbose {
		encCfg.CallerKey = ""
		encCfg.NameKey = ""
	}
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		level,
	)

	opts := []zap.Option{}
	if verbose {
		opts = append(opts, zap.AddCaller())
	}
	CLILogger = zap.New(core, opts...).Named(name)
}

// SetLevel changes the CLI log level at runtime. Unknown levels are
// ignored and reported as false.
func SetLevel(name string) bool {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(name)))); err != nil {
		return false
	}
	levelMu.Lock()
	defer levelMu.Unlock()
	level.SetLevel(lvl)
	return true
}

// Level returns the current CLI log level.
func Level() zapcore.Level {
	return level.Level()
}

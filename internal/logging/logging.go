package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.Mutex
	logger *zap.Logger
	sugar  *zap.SugaredLogger
)

// Init initialises the global logger. It is safe to call multiple times; the
// first successful call wins.
//
// Console output goes to stderr in a compact human format. A JSON copy of every
// entry is appended to a local log file so operators can review history even
// when stderr is ephemeral. The level and path are controlled by
// NDBCTL_LOG_LEVEL and NDBCTL_LOG_FILE.
func Init() error {
	mu.Lock()
	defer mu.Unlock()

	if logger != nil {
		return nil
	}

	lvl := parseLevel(os.Getenv("NDBCTL_LOG_LEVEL"))

	consoleCfg := zap.NewDevelopmentEncoderConfig()
	consoleCfg.EncodeTime = zapcore.RFC3339TimeEncoder
	consoleCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	consoleCfg.EncodeCaller = nil
	consoleCfg.CallerKey = ""

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.Lock(os.Stderr), lvl),
	}

	logPath := strings.TrimSpace(os.Getenv("NDBCTL_LOG_FILE"))
	if logPath == "" {
		logPath = "ndbctl.log"
	}

	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		// The logger is not up yet, so warn on stderr directly and carry on.
		fmt.Fprintf(os.Stderr, "WARN failed to open log file %s: %v\n", logPath, err)
	} else {
		fileCfg := zap.NewProductionEncoderConfig()
		fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), zapcore.AddSync(file), lvl))
	}

	logger = zap.New(zapcore.NewTee(cores...))
	sugar = logger.Sugar()
	return nil
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// L returns the process-wide logger, initialising it on first use if needed.
func L() *zap.SugaredLogger {
	mu.Lock()
	s := sugar
	mu.Unlock()
	if s != nil {
		return s
	}

	if err := Init(); err != nil {
		return zap.NewNop().Sugar()
	}

	mu.Lock()
	defer mu.Unlock()
	return sugar
}

// Replace swaps the global logger and returns a function restoring the previous one.
func Replace(l *zap.Logger) func() {
	mu.Lock()
	defer mu.Unlock()

	prevLogger, prevSugar := logger, sugar
	logger = l
	sugar = l.Sugar()

	return func() {
		mu.Lock()
		defer mu.Unlock()
		logger, sugar = prevLogger, prevSugar
	}
}

// Sync flushes any buffered log entries.
func Sync() {
	mu.Lock()
	defer mu.Unlock()

	if logger == nil {
		return
	}
	_ = logger.Sync()
}

// Mask hides all but the first few characters of a secret.
func Mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:8] + "****"
}

// FormatNodeMessage formats a log message with a node identifier.
// Format: "prefix [ip - role] message"
// If role is blank: "prefix [ip] message"
// Example: FormatNodeMessage("→", "10.0.0.5", "storage", "mounting share")
//
//	-> "→ [10.0.0.5 - storage] mounting share"
func FormatNodeMessage(prefix, ip, role, message string) string {
	identifier := ip
	if role != "" {
		identifier = fmt.Sprintf("%s - %s", ip, role)
	}
	return fmt.Sprintf("%s [%s] %s", prefix, identifier, message)
}

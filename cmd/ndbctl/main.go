package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"ndbctl/cmd/ndbctl/commands"
	"ndbctl/internal/logging"
)

// Version information - set via ldflags during build
var (
	// Version is the build version in yyyy-MM-dd-HHmm format
	Version = "dev"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

func main() {
	if err := logging.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logging: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	commands.SetVersionInfo(Version, BuildTime)
	err := commands.Root().ExecuteContext(ctx)
	stop()
	logging.Sync()

	if err != nil {
		fmt.Fprintf(os.Stderr, "\nError:\n  %s\n\n", formatError(err))
		os.Exit(1)
	}
}

// formatError formats a nested error with each level on a separate line
func formatError(err error) string {
	if err == nil {
		return ""
	}

	var lines []string
	for current := err; current != nil; {
		msg := current.Error()
		unwrapped := errors.Unwrap(current)
		if unwrapped != nil {
			msg = strings.TrimSuffix(msg, ": "+unwrapped.Error())
		}
		lines = append(lines, msg)
		current = unwrapped
	}

	var formatted strings.Builder
	for i, line := range lines {
		if i > 0 {
			formatted.WriteString("\n  ")
			formatted.WriteString(strings.Repeat("→ ", i))
		}
		formatted.WriteString(line)
	}
	return formatted.String()
}

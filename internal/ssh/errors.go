package ssh

import (
	"fmt"
	"strings"
)

// ConnectionError is returned when a node cannot be reached: dial, auth or
// jump-host failures. It is never retried by the executor.
type ConnectionError struct {
	Host string
	Via  string // ingress public IP when the connection was tunneled
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Via != "" {
		return fmt.Sprintf("failed to connect to %s via %s: %v", e.Host, e.Via, e.Err)
	}
	return fmt.Sprintf("failed to connect to %s: %v", e.Host, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// CommandError reports a command that exited non-zero.
type CommandError struct {
	Host     string
	Command  string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command on %s exited with status %d: %s", e.Host, e.ExitCode, abbreviate(e.Command, 120))
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += fmt.Sprintf(" (stderr: %s)", abbreviate(s, 400))
	}
	return msg
}

// TransferError reports a failed file copy in either direction.
type TransferError struct {
	Host      string
	Direction Direction
	Local     string
	Remote    string
	Err       error
}

func (e *TransferError) Error() string {
	if e.Direction == Get {
		return fmt.Sprintf("failed to download %s:%s to %s: %v", e.Host, e.Remote, e.Local, e.Err)
	}
	return fmt.Sprintf("failed to upload %s to %s:%s: %v", e.Local, e.Host, e.Remote, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

func abbreviate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

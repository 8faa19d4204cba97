package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"

	"ndbctl/internal/defaults"
)

// Client wraps an SSH client connection for remote command execution.
type Client struct {
	client *ssh.Client
	host   string
}

// AuthConfig contains SSH authentication and timeout settings for one hop.
type AuthConfig struct {
	Username         string
	Methods          []ssh.AuthMethod
	Port             int           // SSH port (default: 22)
	DialTimeout      time.Duration // TCP connect bound (default: 30s)
	HandshakeTimeout time.Duration // banner + auth bound (default: 60s)
}

// Output is the captured result of one remote command.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

func (a AuthConfig) clientConfig() (*ssh.ClientConfig, error) {
	if a.Username == "" {
		return nil, errors.New("ssh username is required")
	}
	if len(a.Methods) == 0 {
		return nil, errors.New("no authentication method provided")
	}
	return &ssh.ClientConfig{
		User: a.Username,
		Auth: a.Methods,
		// Host keys are not pinned: unknown keys are accepted.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         a.dialTimeout(),
	}, nil
}

func (a AuthConfig) addr(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	port := defaults.SSHPort
	if a.Port > 0 {
		port = a.Port
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func (a AuthConfig) dialTimeout() time.Duration {
	if a.DialTimeout > 0 {
		return a.DialTimeout
	}
	return defaults.SSHDialTimeout
}

func (a AuthConfig) handshakeTimeout() time.Duration {
	if a.HandshakeTimeout > 0 {
		return a.HandshakeTimeout
	}
	return defaults.SSHHandshakeTimeout
}

// NewClient creates a direct SSH connection to host.
func NewClient(ctx context.Context, host string, auth AuthConfig) (*Client, error) {
	config, err := auth.clientConfig()
	if err != nil {
		return nil, err
	}

	addr := auth.addr(host)
	dialer := &net.Dialer{Timeout: auth.dialTimeout()}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	client, err := handshake(ctx, conn, addr, config, auth.handshakeTimeout())
	if err != nil {
		return nil, err
	}
	return &Client{client: client, host: host}, nil
}

// NewJumpClient opens a direct-tcpip channel from this (ingress) connection to
// host and layers a new SSH handshake over it.
func (c *Client) NewJumpClient(ctx context.Context, host string, auth AuthConfig) (*Client, error) {
	config, err := auth.clientConfig()
	if err != nil {
		return nil, err
	}

	addr := auth.addr(host)
	dialCtx, cancel := context.WithTimeout(ctx, auth.dialTimeout())
	defer cancel()

	conn, err := c.client.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to open tunnel from %s to %s: %w", c.host, addr, err)
	}

	client, err := handshake(ctx, conn, addr, config, auth.handshakeTimeout())
	if err != nil {
		return nil, err
	}
	return &Client{client: client, host: host}, nil
}

// handshake bounds the SSH handshake by closing the underlying connection
// when the timeout or the caller's context expires. Tunneled connections do
// not support deadlines.
func handshake(ctx context.Context, conn net.Conn, addr string, config *ssh.ClientConfig, timeout time.Duration) (*ssh.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if !stop() {
		if err == nil {
			_ = sshConn.Close()
		}
		return nil, fmt.Errorf("ssh handshake with %s aborted: %w", addr, ctx.Err())
	}
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to establish ssh connection to %s: %w", addr, err)
	}

	return ssh.NewClient(sshConn, chans, reqs), nil
}

// Exec runs a command and captures its output. A non-zero exit status is
// reported through Output.ExitCode; the error is reserved for session and
// transport failures.
func (c *Client) Exec(ctx context.Context, command string) (Output, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return Output{}, fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	errChan := make(chan error, 1)
	go func() {
		errChan <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return Output{}, ctx.Err()
	case err := <-errChan:
		out := Output{Stdout: stdoutBuf.String(), Stderr: stderrBuf.String()}
		if err == nil {
			return out, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitStatus()
			return out, nil
		}
		return out, fmt.Errorf("failed to run command: %w", err)
	}
}

// Close closes the SSH connection.
func (c *Client) Close() error {
	return c.client.Close()
}

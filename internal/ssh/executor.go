package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/crypto/ssh"

	"ndbctl/internal/logging"
	"ndbctl/internal/topology"
)

// Mode selects how the commands of a batch are executed.
type Mode int

const (
	// Joined runs all commands as one "c1 && c2 && ..." command. The first
	// failure stops the chain.
	Joined Mode = iota
	// Sequential runs every command on its own channel and keeps going after
	// failures.
	Sequential
)

func (m Mode) String() string {
	if m == Sequential {
		return "sequential"
	}
	return "joined"
}

// Batch is an ordered list of shell commands for one node.
type Batch struct {
	Commands []string
	Mode     Mode
	// ExpectStderr suppresses the stderr warning for commands that report
	// success on stderr (nc -zv).
	ExpectStderr bool
	// Sensitive keeps the command text out of the logs.
	Sensitive bool
}

// Join builds a joined batch.
func Join(commands ...string) Batch {
	return Batch{Commands: commands, Mode: Joined}
}

// Sequence builds a sequential batch.
func Sequence(commands ...string) Batch {
	return Batch{Commands: commands, Mode: Sequential}
}

// Result holds per-command output. A joined batch has a single entry.
type Result struct {
	Host      string
	Commands  []string
	Stdout    []string
	Stderr    []string
	ExitCodes []int
}

// Output is the concatenated stdout of all commands.
func (r *Result) Output() string {
	if r == nil {
		return ""
	}
	return strings.Join(r.Stdout, "")
}

// Err aggregates a CommandError for every command that exited non-zero.
func (r *Result) Err() error {
	if r == nil {
		return nil
	}
	var errs error
	for i, code := range r.ExitCodes {
		if code != 0 {
			errs = multierr.Append(errs, &CommandError{
				Host:     r.Host,
				Command:  r.Commands[i],
				ExitCode: code,
				Stderr:   r.Stderr[i],
			})
		}
	}
	return errs
}

func (r *Result) add(command string, out Output) {
	r.Commands = append(r.Commands, command)
	r.Stdout = append(r.Stdout, out.Stdout)
	r.Stderr = append(r.Stderr, out.Stderr)
	r.ExitCodes = append(r.ExitCodes, out.ExitCode)
}

// Runner executes batches and transfers files on cluster nodes addressed by
// private IP. Stages depend on this interface only.
type Runner interface {
	Run(ctx context.Context, ip string, batch Batch) (*Result, error)
	Transfer(ctx context.Context, ip, local, remote string, dir Direction) error
}

// Route holds everything needed to decide how a node is reached.
type Route struct {
	IngressPublicIP  string
	IngressPrivateIP string
	IngressUser      string
	NodeUser         string
}

// RouteFor derives the route from a topology.
func RouteFor(topo *topology.Topology) Route {
	ingress := topo.Ingress()
	return Route{
		IngressPublicIP:  ingress.Ingress.PublicIP,
		IngressPrivateIP: ingress.PrivateIP,
		IngressUser:      ingress.Ingress.SSHUsername,
		NodeUser:         topo.SSHUsername(),
	}
}

// UseJump reports whether ip must be reached through the ingress node.
func (r Route) UseJump(ip string) bool {
	return ip != r.IngressPrivateIP
}

// Options configures the executor transport.
type Options struct {
	Identity         Identity
	Port             int
	DialTimeout      time.Duration
	HandshakeTimeout time.Duration
}

// Executor runs commands on cluster nodes. Every node except the ingress is
// reached by tunneling through the ingress node's public address. Each batch
// gets its own connection, which is closed afterwards.
type Executor struct {
	route  Route
	opts   Options
	auth   []ssh.AuthMethod
	closer io.Closer
}

var _ Runner = (*Executor)(nil)

// NewExecutor resolves the SSH identity and returns an executor for route.
func NewExecutor(route Route, opts Options) (*Executor, error) {
	if route.IngressPublicIP == "" || route.IngressPrivateIP == "" {
		return nil, errors.New("route requires the ingress public and private ip")
	}
	if route.IngressUser == "" || route.NodeUser == "" {
		return nil, errors.New("route requires the ingress and node ssh usernames")
	}

	methods, closer, err := opts.Identity.authMethods()
	if err != nil {
		return nil, err
	}
	return &Executor{route: route, opts: opts, auth: methods, closer: closer}, nil
}

// Close releases the ssh-agent connection, if one was opened.
func (e *Executor) Close() error {
	if e.closer == nil {
		return nil
	}
	return e.closer.Close()
}

func (e *Executor) authFor(user string) AuthConfig {
	return AuthConfig{
		Username:         user,
		Methods:          e.auth,
		Port:             e.opts.Port,
		DialTimeout:      e.opts.DialTimeout,
		HandshakeTimeout: e.opts.HandshakeTimeout,
	}
}

// Session is an open, routed connection to one node.
type Session struct {
	ip      string
	target  *Client
	bastion *Client
}

// Exec runs a single command on the node.
func (s *Session) Exec(ctx context.Context, command string) (Output, error) {
	return s.target.Exec(ctx, command)
}

// Close closes the node connection and then the tunnel, if any.
func (s *Session) Close() error {
	err := s.target.Close()
	if s.bastion != nil {
		err = multierr.Append(err, s.bastion.Close())
	}
	return err
}

// Connect opens a session to the node with the given private IP.
func (e *Executor) Connect(ctx context.Context, ip string) (*Session, error) {
	if !e.route.UseJump(ip) {
		client, err := NewClient(ctx, e.route.IngressPublicIP, e.authFor(e.route.IngressUser))
		if err != nil {
			return nil, &ConnectionError{Host: ip, Err: err}
		}
		return &Session{ip: ip, target: client}, nil
	}

	bastion, err := NewClient(ctx, e.route.IngressPublicIP, e.authFor(e.route.IngressUser))
	if err != nil {
		return nil, &ConnectionError{Host: ip, Via: e.route.IngressPublicIP, Err: err}
	}
	target, err := bastion.NewJumpClient(ctx, ip, e.authFor(e.route.NodeUser))
	if err != nil {
		_ = bastion.Close()
		return nil, &ConnectionError{Host: ip, Via: e.route.IngressPublicIP, Err: err}
	}
	return &Session{ip: ip, target: target, bastion: bastion}, nil
}

// Run executes a batch on the node. Joined batches return a CommandError on
// the first non-zero exit. Sequential batches always run every command and
// report failures through Result.Err.
func (e *Executor) Run(ctx context.Context, ip string, batch Batch) (*Result, error) {
	session, err := e.Connect(ctx, ip)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	return runBatch(ctx, ip, session.Exec, batch)
}

type execFunc func(ctx context.Context, command string) (Output, error)

func runBatch(ctx context.Context, host string, exec execFunc, batch Batch) (*Result, error) {
	log := logging.L().With("component", "ssh", "node", host)
	res := &Result{Host: host}
	if len(batch.Commands) == 0 {
		return res, nil
	}

	commands := batch.Commands
	if batch.Mode == Joined {
		commands = []string{strings.Join(batch.Commands, " && ")}
	}

	for _, command := range commands {
		if batch.Sensitive {
			log.Debugw("running command", "mode", batch.Mode.String(), "command", "<redacted>")
		} else {
			log.Debugw("running command", "mode", batch.Mode.String(), "command", command)
		}

		out, err := exec(ctx, command)
		if err != nil {
			return res, fmt.Errorf("failed to run command on %s: %w", host, err)
		}
		res.add(command, out)

		if stderr := strings.TrimSpace(out.Stderr); stderr != "" && !batch.ExpectStderr {
			log.Warnw("command wrote to stderr", "exit_code", out.ExitCode, "stderr", abbreviate(stderr, 400))
		}

		if out.ExitCode != 0 && batch.Mode == Joined {
			return res, &CommandError{Host: host, Command: command, ExitCode: out.ExitCode, Stderr: out.Stderr}
		}
	}
	return res, nil
}

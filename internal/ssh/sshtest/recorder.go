// Package sshtest provides a scripted, recording ssh.Runner for stage tests.
package sshtest

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"ndbctl/internal/ssh"
)

// Response is the scripted outcome of one command.
type Response struct {
	Stdout   string
	Stderr   string
	ExitCode int
	// Err simulates a transport failure.
	Err error
}

// Command is one recorded command, in global execution order.
type Command struct {
	IP   string
	Text string
	Mode ssh.Mode
}

// Transfer is one recorded file transfer. Data holds the uploaded content.
type Transfer struct {
	IP        string
	Local     string
	Remote    string
	Direction ssh.Direction
	Data      []byte
}

type rule struct {
	ip      string
	substr  string
	respond func(ip, cmd string) Response
}

// Recorder implements ssh.Runner. Commands answer with the most recently
// registered matching rule, or an empty successful response.
type Recorder struct {
	mu          sync.Mutex
	rules       []rule
	unreachable map[string]error
	files       map[string][]byte
	commands    []Command
	transfers   []Transfer
}

var _ ssh.Runner = (*Recorder)(nil)

// New returns an empty recorder.
func New() *Recorder {
	return &Recorder{unreachable: map[string]error{}, files: map[string][]byte{}}
}

// On scripts every command containing substr, on any node.
func (r *Recorder) On(substr string, resp Response) *Recorder {
	return r.OnNode("", substr, resp)
}

// OnNode scripts commands containing substr on one node.
func (r *Recorder) OnNode(ip, substr string, resp Response) *Recorder {
	return r.OnFunc(ip, substr, func(string, string) Response { return resp })
}

// OnFunc scripts commands containing substr with a computed response.
// An empty ip matches every node.
func (r *Recorder) OnFunc(ip, substr string, respond func(ip, cmd string) Response) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule{ip: ip, substr: substr, respond: respond})
	return r
}

// Unreachable makes every operation on ip fail with a ConnectionError.
func (r *Recorder) Unreachable(ip string) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unreachable[ip] = &ssh.ConnectionError{Host: ip, Err: fmt.Errorf("connection refused")}
	return r
}

// SetFile makes remote downloadable from any node.
func (r *Recorder) SetFile(remote string, data []byte) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[remote] = data
	return r
}

func (r *Recorder) respond(ip, cmd string, mode ssh.Mode) Response {
	r.mu.Lock()
	r.commands = append(r.commands, Command{IP: ip, Text: cmd, Mode: mode})
	var respond func(ip, cmd string) Response
	for i := len(r.rules) - 1; i >= 0; i-- {
		rl := r.rules[i]
		if (rl.ip == "" || rl.ip == ip) && strings.Contains(cmd, rl.substr) {
			respond = rl.respond
			break
		}
	}
	r.mu.Unlock()

	if respond == nil {
		return Response{}
	}
	return respond(ip, cmd)
}

func (r *Recorder) connErr(ip string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unreachable[ip]
}

// Run simulates the executor: joined batches stop at the first failing
// command, sequential batches run everything.
func (r *Recorder) Run(ctx context.Context, ip string, batch ssh.Batch) (*ssh.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := r.connErr(ip); err != nil {
		return nil, err
	}

	res := &ssh.Result{Host: ip}
	if len(batch.Commands) == 0 {
		return res, nil
	}

	if batch.Mode == ssh.Joined {
		joined := strings.Join(batch.Commands, " && ")
		var stdout, stderr strings.Builder
		code := 0
		for _, cmd := range batch.Commands {
			resp := r.respond(ip, cmd, batch.Mode)
			if resp.Err != nil {
				return res, resp.Err
			}
			stdout.WriteString(resp.Stdout)
			stderr.WriteString(resp.Stderr)
			if resp.ExitCode != 0 {
				code = resp.ExitCode
				break
			}
		}
		res.Commands = []string{joined}
		res.Stdout = []string{stdout.String()}
		res.Stderr = []string{stderr.String()}
		res.ExitCodes = []int{code}
		if code != 0 {
			return res, &ssh.CommandError{Host: ip, Command: joined, ExitCode: code, Stderr: stderr.String()}
		}
		return res, nil
	}

	for _, cmd := range batch.Commands {
		resp := r.respond(ip, cmd, batch.Mode)
		if resp.Err != nil {
			return res, resp.Err
		}
		res.Commands = append(res.Commands, cmd)
		res.Stdout = append(res.Stdout, resp.Stdout)
		res.Stderr = append(res.Stderr, resp.Stderr)
		res.ExitCodes = append(res.ExitCodes, resp.ExitCode)
	}
	return res, nil
}

// Transfer records the transfer. Uploads capture the local file content;
// downloads are served from SetFile.
func (r *Recorder) Transfer(ctx context.Context, ip, local, remote string, dir ssh.Direction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.connErr(ip); err != nil {
		return err
	}

	t := Transfer{IP: ip, Local: local, Remote: remote, Direction: dir}
	if dir == ssh.Put {
		data, err := os.ReadFile(local)
		if err != nil {
			return &ssh.TransferError{Host: ip, Direction: dir, Local: local, Remote: remote, Err: err}
		}
		t.Data = data
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.transfers = append(r.transfers, t)

	if dir == ssh.Get {
		data, ok := r.files[remote]
		if !ok {
			return &ssh.TransferError{Host: ip, Direction: dir, Local: local, Remote: remote, Err: os.ErrNotExist}
		}
		if err := os.WriteFile(local, data, 0o600); err != nil {
			return &ssh.TransferError{Host: ip, Direction: dir, Local: local, Remote: remote, Err: err}
		}
	} else {
		r.files[remote] = t.Data
	}
	return nil
}

// Commands returns every recorded command in execution order.
func (r *Recorder) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Command(nil), r.commands...)
}

// CommandsOn returns the command texts run on ip, in order.
func (r *Recorder) CommandsOn(ip string) []string {
	var out []string
	for _, c := range r.Commands() {
		if c.IP == ip {
			out = append(out, c.Text)
		}
	}
	return out
}

// Index returns the position of the first command containing substr, or -1.
func (r *Recorder) Index(substr string) int {
	for i, c := range r.Commands() {
		if strings.Contains(c.Text, substr) {
			return i
		}
	}
	return -1
}

// Find returns the first command containing substr.
func (r *Recorder) Find(substr string) (Command, bool) {
	if i := r.Index(substr); i >= 0 {
		return r.Commands()[i], true
	}
	return Command{}, false
}

// Count returns how many commands contain substr.
func (r *Recorder) Count(substr string) int {
	n := 0
	for _, c := range r.Commands() {
		if strings.Contains(c.Text, substr) {
			n++
		}
	}
	return n
}

// Transfers returns every recorded transfer.
func (r *Recorder) Transfers() []Transfer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Transfer(nil), r.transfers...)
}

// Uploaded returns the content last uploaded to remote.
func (r *Recorder) Uploaded(remote string) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.transfers) - 1; i >= 0; i-- {
		t := r.transfers[i]
		if t.Direction == ssh.Put && t.Remote == remote {
			return t.Data, true
		}
	}
	return nil, false
}

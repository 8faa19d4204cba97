package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"ndbctl/internal/defaults"
	"ndbctl/internal/logging"
	"ndbctl/internal/ssh"
	"ndbctl/internal/topology"
)

// Check names used in reports.
const (
	CheckSSH       = "ssh_and_privilege"
	CheckInternet  = "internet"
	CheckResources = "resources"
	CheckOSVersion = "os_version"
)

// CheckResult holds the outcome of every check on one node.
type CheckResult struct {
	SSHAndPrivilege bool
	Internet        bool
	ResourcesOK     bool
	OSVersionOK     bool
	Ports           map[int]bool
}

// Failed lists the names of the failed checks.
func (c CheckResult) Failed() []string {
	var out []string
	if !c.SSHAndPrivilege {
		out = append(out, CheckSSH)
	}
	if !c.Internet {
		out = append(out, CheckInternet)
	}
	if !c.ResourcesOK {
		out = append(out, CheckResources)
	}
	if !c.OSVersionOK {
		out = append(out, CheckOSVersion)
	}
	ports := make([]int, 0, len(c.Ports))
	for p := range c.Ports {
		ports = append(ports, p)
	}
	slices.Sort(ports)
	for _, p := range ports {
		if !c.Ports[p] {
			out = append(out, "port_"+strconv.Itoa(p))
		}
	}
	return out
}

// ValidationFailure is one failed check on one node. Failures are reported,
// never fatal on their own.
type ValidationFailure struct {
	Node  string
	Check string
}

func (f ValidationFailure) Error() string {
	return fmt.Sprintf("node %s failed check %s", f.Node, f.Check)
}

// Report maps node private IP to its check results.
type Report map[string]CheckResult

// Passed reports whether every check on every node succeeded.
func (r Report) Passed() bool {
	return len(r.Failures()) == 0
}

// Failures lists every failed check ordered by node then check.
func (r Report) Failures() []ValidationFailure {
	ips := make([]string, 0, len(r))
	for ip := range r {
		ips = append(ips, ip)
	}
	slices.Sort(ips)

	var out []ValidationFailure
	for _, ip := range ips {
		for _, check := range r[ip].Failed() {
			out = append(out, ValidationFailure{Node: ip, Check: check})
		}
	}
	return out
}

// Err joins the failures into one error, or nil.
func (r Report) Err() error {
	var errs []error
	for _, f := range r.Failures() {
		errs = append(errs, f)
	}
	return errors.Join(errs...)
}

// Validator probes every node for the prerequisites of the bring-up.
type Validator struct {
	cluster Cluster
	ports   []int
}

// NewValidator returns a validator probing the default port set.
func NewValidator(c Cluster) *Validator {
	return &Validator{cluster: c, ports: defaults.ValidatorPorts}
}

// Validate runs every check on every node. Nodes are probed in parallel;
// errors and empty output count as failed checks.
func (v *Validator) Validate(ctx context.Context) Report {
	log := logging.L().With("component", "validator")
	nodes := v.cluster.Topology.Nodes()
	log.Infow(fmt.Sprintf("validating %d nodes", len(nodes)))

	var mu sync.Mutex
	report := make(Report, len(nodes))

	var g errgroup.Group
	g.SetLimit(v.cluster.limit())
	for _, n := range nodes {
		g.Go(func() error {
			res := v.checkNode(ctx, n)
			mu.Lock()
			report[n.PrivateIP] = res
			mu.Unlock()

			if failed := res.Failed(); len(failed) > 0 {
				log.Warnw(nodeMsg(n, "⚠️ validation failed"), "checks", strings.Join(failed, ","))
			} else {
				log.Infow(nodeMsg(n, "✓ all checks passed"))
			}
			return nil
		})
	}
	_ = g.Wait()
	return report
}

func (v *Validator) checkNode(ctx context.Context, n topology.Node) CheckResult {
	res := CheckResult{Ports: make(map[int]bool, len(v.ports))}

	if out, ok := v.output(ctx, n, ssh.Join("sudo -n echo "+defaults.SudoCheckReply)); ok {
		res.SSHAndPrivilege = strings.Contains(out, defaults.SudoCheckReply)
	}
	if out, ok := v.output(ctx, n, ssh.Join("ping -c 3 "+defaults.PingHost)); ok {
		res.Internet = strings.Contains(out, " 0% packet loss")
	}
	if r, err := v.cluster.Runner.Run(ctx, n.PrivateIP, ssh.Sequence("grep MemTotal /proc/meminfo", "nproc")); err == nil && len(r.Stdout) == 2 {
		gib, cpus, err := ParseResources(r.Stdout[0], r.Stdout[1])
		res.ResourcesOK = err == nil && gib >= defaults.MinMemoryGiB && cpus >= defaults.MinCPUs
	}
	if out, ok := v.output(ctx, n, ssh.Join("lsb_release -a")); ok {
		res.OSVersionOK = strings.Contains(out, defaults.OSRelease)
	}

	for _, port := range v.ports {
		batch := ssh.Join(fmt.Sprintf("nc -zv %s %d", n.PrivateIP, port))
		batch.ExpectStderr = true
		r, err := v.cluster.Runner.Run(ctx, n.PrivateIP, batch)
		res.Ports[port] = err == nil && strings.Contains(strings.Join(append(r.Stdout, r.Stderr...), "\n"), "succeeded")
		if !res.Ports[port] {
			logging.L().Warnw(nodeMsg(n, fmt.Sprintf("port %d is not reachable; check the firewall rules", port)))
		}
	}
	return res
}

func (v *Validator) output(ctx context.Context, n topology.Node, batch ssh.Batch) (string, bool) {
	res, err := v.cluster.Runner.Run(ctx, n.PrivateIP, batch)
	if err != nil {
		logging.L().Debugw(nodeMsg(n, "check failed"), "error", err)
		return "", false
	}
	out := res.Output()
	return out, strings.TrimSpace(out) != ""
}

// ParseResources reads total memory in GiB from a /proc/meminfo MemTotal
// line and the CPU count from nproc output.
func ParseResources(meminfo, nproc string) (float64, int, error) {
	fields := strings.Fields(meminfo)
	if len(fields) < 2 || fields[0] != "MemTotal:" {
		return 0, 0, fmt.Errorf("unexpected meminfo output %q", strings.TrimSpace(meminfo))
	}
	kb, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("unexpected meminfo output %q: %w", strings.TrimSpace(meminfo), err)
	}
	cpus, err := strconv.Atoi(strings.TrimSpace(nproc))
	if err != nil {
		return 0, 0, fmt.Errorf("unexpected nproc output %q: %w", strings.TrimSpace(nproc), err)
	}
	return kb / (1024 * 1024), cpus, nil
}

package orchestrator

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/alessio/shellescape"

	"ndbctl/internal/defaults"
	"ndbctl/internal/logging"
	"ndbctl/internal/ssh"
	"ndbctl/internal/topology"
)

// NodeStatus is the outcome of one node's sentinel write.
type NodeStatus struct {
	IP  string
	Err error
}

// Verification is the parsed content of the sentinel file.
type Verification struct {
	Expected   int
	Seen       int
	Missing    []string
	Duplicated []string
	Foreign    []string
}

// Readiness proves that every node can write to the shared directory by
// having each append "{ip} | success" to a sentinel file and reading it back
// from the ingress node.
type Readiness struct {
	cluster Cluster
}

// NewReadiness returns the readiness stage.
func NewReadiness(c Cluster) *Readiness {
	return &Readiness{cluster: c}
}

// StatusFile is the sentinel path under the shared directory.
func StatusFile(sharedDir string) string {
	return sharedDir + "/" + defaults.StatusFileName
}

// StatusLine is the line a node appends to the sentinel file.
func StatusLine(ip string) string {
	return fmt.Sprintf("%s | %s", ip, defaults.StatusSuccess)
}

func (r *Readiness) file() string {
	return StatusFile(r.cluster.Topology.SharedDir())
}

// Check writes, verifies and always removes the sentinel file.
func (r *Readiness) Check(ctx context.Context) (err error) {
	log := logging.L().With("component", "orchestrator", "phase", "readiness")
	log.Infow("checking shared directory access from every node", "file", r.file())

	defer func() {
		if cleanupErr := r.CleanUp(context.WithoutCancel(ctx)); cleanupErr != nil {
			log.Warnw("⚠️ failed to remove status file", "error", cleanupErr)
		}
	}()

	// A file left over from an interrupted run would show up as duplicates.
	if err := r.CleanUp(ctx); err != nil {
		return fmt.Errorf("failed to reset status file: %w", err)
	}

	for _, st := range r.WriteStatus(ctx) {
		if st.Err != nil {
			log.Warnw(fmt.Sprintf("⚠️ node %s could not write its status", st.IP), "error", st.Err)
		}
	}

	v, ok, err := r.VerifyStatus(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("shared directory is not accessible by every node: %d/%d ok, missing=%v duplicated=%v foreign=%v",
			v.Seen, v.Expected, v.Missing, v.Duplicated, v.Foreign)
	}
	log.Infow("✅ shared directory is accessible by every node", "nodes", v.Expected)
	return nil
}

// WriteStatus has every node append its status line. Failures are recorded
// per node and surface as missing lines during verification.
func (r *Readiness) WriteStatus(ctx context.Context) []NodeStatus {
	nodes := r.cluster.Topology.Nodes()
	out := make([]NodeStatus, len(nodes))
	file := shellescape.Quote(r.file())

	_ = r.cluster.forEach(ctx, nodes, func(ctx context.Context, n topology.Node) error {
		i := slices.IndexFunc(nodes, func(m topology.Node) bool { return m.PrivateIP == n.PrivateIP })
		cmd := fmt.Sprintf("echo %s | sudo tee -a %s > /dev/null", shellescape.Quote(StatusLine(n.PrivateIP)), file)
		_, err := r.cluster.run(ctx, n, ssh.Join(cmd))
		out[i] = NodeStatus{IP: n.PrivateIP, Err: err}
		return nil
	})
	return out
}

// VerifyStatus reads the sentinel file on the ingress node and checks that
// every node wrote exactly one line.
func (r *Readiness) VerifyStatus(ctx context.Context) (Verification, bool, error) {
	ingress := r.cluster.Topology.Ingress()
	res, err := r.cluster.run(ctx, ingress, ssh.Join("sudo cat "+shellescape.Quote(r.file())))
	if err != nil {
		return Verification{}, false, fmt.Errorf("failed to read status file: %w", err)
	}
	v, ok := ParseStatus(res.Output(), r.cluster.Topology.IPs())
	return v, ok, nil
}

// CleanUp removes the sentinel file.
func (r *Readiness) CleanUp(ctx context.Context) error {
	_, err := r.cluster.run(ctx, r.cluster.Topology.Ingress(), ssh.Join("sudo rm -f "+shellescape.Quote(r.file())))
	return err
}

// ParseStatus checks the sentinel content against the expected IPs. It is
// ok only if every IP appears exactly once and nothing else is present.
func ParseStatus(content string, ips []string) (Verification, bool) {
	counts := make(map[string]int, len(ips))
	v := Verification{Expected: len(ips)}

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		ip, status, found := strings.Cut(line, "|")
		ip, status = strings.TrimSpace(ip), strings.TrimSpace(status)
		if !found || status != defaults.StatusSuccess || !slices.Contains(ips, ip) {
			v.Foreign = append(v.Foreign, line)
			continue
		}
		counts[ip]++
	}

	for _, ip := range ips {
		switch counts[ip] {
		case 0:
			v.Missing = append(v.Missing, ip)
		case 1:
			v.Seen++
		default:
			v.Seen++
			v.Duplicated = append(v.Duplicated, ip)
		}
	}

	ok := len(v.Missing) == 0 && len(v.Duplicated) == 0 && len(v.Foreign) == 0
	return v, ok
}

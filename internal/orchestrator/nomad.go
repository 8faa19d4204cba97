package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/alessio/shellescape"

	"ndbctl/internal/defaults"
	"ndbctl/internal/logging"
	"ndbctl/internal/ssh"
	"ndbctl/internal/topology"
)

// Tokens are the ACL secrets produced by the bootstrap.
type Tokens struct {
	Management string
	TaskRunner string
}

// Scheduler installs Nomad on every node, starts the bootstrap server,
// initialises ACLs and joins the remaining nodes as clients.
type Scheduler struct {
	cluster Cluster
	poll    Poll
	varMu   sync.Mutex
}

// NewScheduler returns the scheduler stage.
func NewScheduler(c Cluster, p Poll) *Scheduler {
	return &Scheduler{cluster: c, poll: p}
}

func tokenPath(name string) string {
	return path.Join(defaults.NomadDataDir, name)
}

// Bootstrap runs the whole scheduler sequence and returns the ACL tokens.
func (s *Scheduler) Bootstrap(ctx context.Context) (Tokens, error) {
	log := logging.L().With("component", "orchestrator", "phase", "nomad")
	server := s.cluster.Topology.SchedulerServer()
	clients := s.cluster.Topology.Others(server.PrivateIP)

	log.Infow(fmt.Sprintf("starting Nomad setup: server=%s clients=%d version=%s",
		server.PrivateIP, len(clients), defaults.NomadVersion))

	// Phase 1: Install Nomad and its dependencies everywhere
	log.Infow(fmt.Sprintf("phase 1: installing Nomad on %d nodes", len(clients)+1))
	if err := s.Install(ctx); err != nil {
		return Tokens{}, fmt.Errorf("failed to install nomad: %w", err)
	}

	// Phase 2: Start the bootstrap server and wait for a leader
	log.Infow("phase 2: starting Nomad server")
	if err := s.StartServer(ctx); err != nil {
		return Tokens{}, fmt.Errorf("failed to start nomad server: %w", err)
	}

	// Phase 3: ACL bootstrap
	log.Infow("phase 3: bootstrapping ACL system")
	tokens, err := s.BootstrapACL(ctx)
	if err != nil {
		return Tokens{}, fmt.Errorf("failed to bootstrap ACLs: %w", err)
	}

	// Phase 4: Join the clients
	if len(clients) > 0 {
		log.Infow(fmt.Sprintf("phase 4: starting %d Nomad clients", len(clients)))
		if err := s.StartClients(ctx); err != nil {
			return Tokens{}, fmt.Errorf("failed to start nomad clients: %w", err)
		}
	}

	// Phase 5: Verify membership
	log.Infow("phase 5: waiting for every node to register")
	if err := s.WaitForNodes(ctx, tokens.Management); err != nil {
		return Tokens{}, fmt.Errorf("failed to verify nomad nodes: %w", err)
	}

	log.Infow("✅ Nomad setup completed successfully", "nodes", len(clients)+1)
	return tokens, nil
}

func installCommands() []string {
	keyring := "/usr/share/keyrings/hashicorp-archive-keyring.gpg"
	return []string{
		"sudo apt update",
		"(command -v wget >/dev/null || sudo apt install -y wget)",
		"(command -v docker >/dev/null || (wget -O get-docker.sh https://get.docker.com/ && sudo bash get-docker.sh))",
		"(command -v tmux >/dev/null || sudo apt install -y tmux)",
		fmt.Sprintf(`(sudo rm -f %[1]s; wget -O- https://apt.releases.hashicorp.com/gpg | sudo gpg --batch --dearmor -o %[1]s && echo "deb [signed-by=%[1]s] https://apt.releases.hashicorp.com $(lsb_release -cs) main" | sudo tee /etc/apt/sources.list.d/hashicorp.list > /dev/null)`, keyring),
		"sudo apt-get update",
		fmt.Sprintf("sudo apt-get install -y nomad=%s", shellescape.Quote(defaults.NomadVersion)),
		fmt.Sprintf("([ -d %s ] || git clone -b %s %s)", defaults.RepoDir, defaults.RepoBranch, defaults.RepoURL),
		fmt.Sprintf("(cd %s && git pull)", defaults.RepoDir),
	}
}

// Install installs Docker, tmux and Nomad and checks out the deployment
// repository on every node.
func (s *Scheduler) Install(ctx context.Context) error {
	cmds := installCommands()
	return s.cluster.forEach(ctx, s.cluster.Topology.Nodes(), func(ctx context.Context, n topology.Node) error {
		logging.L().Infow(nodeMsg(n, "installing nomad "+defaults.NomadVersion))
		if _, err := s.cluster.run(ctx, n, ssh.Join(cmds...)); err != nil {
			return err
		}
		logging.L().Infow(nodeMsg(n, "✓ installed"))
		return nil
	})
}

// agentCommands restarts the agent's tmux session.
func (s *Scheduler) agentCommands(n topology.Node, server bool) []string {
	topo := s.cluster.Topology
	serverIP := topo.SchedulerServer().PrivateIP
	script := fmt.Sprintf("cd %s; bash %s %t true %s %s %s %s > head.log 2> head.err",
		defaults.RepoDir, defaults.AgentScript, server,
		topo.NodePool(n), topo.NodeClass(n), serverIP, n.PrivateIP)
	return []string{
		fmt.Sprintf("(tmux has-session -t %[1]s 2>/dev/null && tmux kill-session -t %[1]s || true)", defaults.NomadSession),
		fmt.Sprintf("tmux new-session -d -s %s %s", defaults.NomadSession, shellescape.Quote(script)),
	}
}

// StartServer starts the bootstrap server and waits until it reports a
// leader.
func (s *Scheduler) StartServer(ctx context.Context) error {
	server := s.cluster.Topology.SchedulerServer()
	logging.L().Infow(nodeMsg(server, "starting nomad server agent"),
		"pool", s.cluster.Topology.NodePool(server), "class", s.cluster.Topology.NodeClass(server))

	if _, err := s.cluster.run(ctx, server, ssh.Join(s.agentCommands(server, true)...)); err != nil {
		return err
	}

	var leader string
	err := waitFor(ctx, s.poll, "nomad leader", func(ctx context.Context) (bool, error) {
		res, err := s.cluster.run(ctx, server, ssh.Join("curl -s "+defaults.NomadAPI+"/v1/status/leader"))
		if err != nil {
			return false, err
		}
		var ok bool
		leader, ok = ParseLeader(res.Output())
		return ok, nil
	})
	if err != nil {
		return err
	}
	logging.L().Infow(nodeMsg(server, "✓ nomad leader elected"), "leader", leader)
	return nil
}

// BootstrapACL bootstraps the ACL system once, applies the task-runner
// policy, creates its token once and publishes it to the job variables.
func (s *Scheduler) BootstrapACL(ctx context.Context) (Tokens, error) {
	server := s.cluster.Topology.SchedulerServer()
	mgmtFile := tokenPath(defaults.ManagementTokenFile)
	runnerFile := tokenPath(defaults.TaskRunnerTokenFile)

	bootstrap := ssh.Join(
		"sudo mkdir -p "+defaults.NomadDataDir,
		fmt.Sprintf("(sudo grep -q 'Secret ID' %[1]s 2>/dev/null || sudo bash -c 'nomad acl bootstrap > %[1]s 2>&1')", mgmtFile),
	)
	if _, err := s.cluster.run(ctx, server, bootstrap); err != nil {
		return Tokens{}, fmt.Errorf("acl bootstrap failed: %w", err)
	}

	var tokens Tokens
	var err error
	if tokens.Management, err = s.readToken(ctx, server, mgmtFile); err != nil {
		return Tokens{}, fmt.Errorf("failed to read management token: %w", err)
	}
	logging.L().Infow(nodeMsg(server, "✓ management token extracted"), "token", logging.Mask(tokens.Management))

	mgmt := shellescape.Quote(tokens.Management)
	policy := ssh.Join(fmt.Sprintf("cd %s && nomad acl policy apply -description 'Task Runner policy' -token %s %s %s",
		defaults.RepoDir, mgmt, defaults.TaskRunnerPolicy, defaults.TaskRunnerPolicyFile))
	policy.Sensitive = true
	if _, err := s.cluster.run(ctx, server, policy); err != nil {
		return Tokens{}, fmt.Errorf("failed to apply %s policy: %w", defaults.TaskRunnerPolicy, err)
	}

	create := ssh.Join(fmt.Sprintf("(sudo grep -q 'Secret ID' %[1]s 2>/dev/null || nomad acl token create -name='Task Runner token' -policy=%[2]s -type=client -token %[3]s 2>&1 | sudo tee %[1]s > /dev/null)",
		runnerFile, defaults.TaskRunnerPolicy, mgmt))
	create.Sensitive = true
	if _, err := s.cluster.run(ctx, server, create); err != nil {
		return Tokens{}, fmt.Errorf("failed to create task runner token: %w", err)
	}

	if tokens.TaskRunner, err = s.readToken(ctx, server, runnerFile); err != nil {
		return Tokens{}, fmt.Errorf("failed to read task runner token: %w", err)
	}
	logging.L().Infow(nodeMsg(server, "✓ task runner token extracted"), "token", logging.Mask(tokens.TaskRunner))

	put := ssh.Join(fmt.Sprintf("nomad var put -namespace %s -token %s -force %s task_runner_token=%s > /dev/null",
		defaults.VarNamespace, mgmt, defaults.VarPath, shellescape.Quote(tokens.TaskRunner)))
	put.Sensitive = true
	s.varMu.Lock()
	_, err = s.cluster.run(ctx, server, put)
	s.varMu.Unlock()
	if err != nil {
		return Tokens{}, fmt.Errorf("failed to store task runner token: %w", err)
	}
	return tokens, nil
}

func (s *Scheduler) readToken(ctx context.Context, n topology.Node, file string) (string, error) {
	batch := ssh.Join("sudo cat " + file)
	batch.Sensitive = true
	res, err := s.cluster.run(ctx, n, batch)
	if err != nil {
		return "", err
	}
	return ParseSecretID(res.Output())
}

// ManagementToken reads the management token back from the server node,
// where BootstrapACL stored it.
func (s *Scheduler) ManagementToken(ctx context.Context) (string, error) {
	server := s.cluster.Topology.SchedulerServer()
	token, err := s.readToken(ctx, server, tokenPath(defaults.ManagementTokenFile))
	if err != nil {
		return "", fmt.Errorf("failed to read management token on %s: %w", server.PrivateIP, err)
	}
	return token, nil
}

// StartClients starts a client agent on every node except the server.
func (s *Scheduler) StartClients(ctx context.Context) error {
	server := s.cluster.Topology.SchedulerServer()
	return s.cluster.forEach(ctx, s.cluster.Topology.Others(server.PrivateIP), func(ctx context.Context, n topology.Node) error {
		logging.L().Infow(nodeMsg(n, "starting nomad client agent"),
			"pool", s.cluster.Topology.NodePool(n), "class", s.cluster.Topology.NodeClass(n))
		if _, err := s.cluster.run(ctx, n, ssh.Join(s.agentCommands(n, false)...)); err != nil {
			return err
		}
		logging.L().Infow(nodeMsg(n, "✓ client agent started"))
		return nil
	})
}

// WaitForNodes polls the server until every node is registered and ready.
func (s *Scheduler) WaitForNodes(ctx context.Context, mgmt string) error {
	server := s.cluster.Topology.SchedulerServer()
	want := s.cluster.Topology.IPs()

	batch := ssh.Join(fmt.Sprintf("curl -s -H %s %s/v1/nodes",
		shellescape.Quote("X-Nomad-Token: "+mgmt), defaults.NomadAPI))
	batch.Sensitive = true

	var missing []string
	err := waitFor(ctx, s.poll, "nomad nodes", func(ctx context.Context) (bool, error) {
		res, err := s.cluster.run(ctx, server, batch)
		if err != nil {
			return false, err
		}
		missing = MissingNodes(res.Output(), want)
		return len(missing) == 0, nil
	})
	if err != nil {
		return fmt.Errorf("nodes not ready %v: %w", missing, err)
	}
	logging.L().Infow(nodeMsg(server, "✓ all nodes registered"), "nodes", len(want))
	return nil
}

// PutVariable merges key=value into the shared job variables. Calls are
// serialised.
func (s *Scheduler) PutVariable(ctx context.Context, mgmt, key, value string) error {
	s.varMu.Lock()
	defer s.varMu.Unlock()

	server := s.cluster.Topology.SchedulerServer()
	token := shellescape.Quote(mgmt)
	batch := ssh.Join(fmt.Sprintf("nomad var get -namespace %[1]s -token %[2]s %[3]s | nomad var put -namespace %[1]s -token %[2]s -in=json -out=table - %[4]s > /dev/null",
		defaults.VarNamespace, token, defaults.VarPath, shellescape.Quote(key+"="+value)))
	batch.Sensitive = true

	if _, err := s.cluster.run(ctx, server, batch); err != nil {
		return fmt.Errorf("failed to set %s in %s: %w", key, defaults.VarPath, err)
	}
	logging.L().Infow(nodeMsg(server, "✓ variable stored"), "path", defaults.VarPath, "key", key)
	return nil
}

// ParseSecretID extracts the token from `nomad acl ... create` output.
func ParseSecretID(content string) (string, error) {
	for _, line := range strings.Split(content, "\n") {
		if !strings.Contains(line, "Secret ID") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) > 0 {
			if id := fields[len(fields)-1]; id != "ID" && id != "=" {
				return id, nil
			}
		}
	}
	first, _, _ := strings.Cut(strings.TrimSpace(content), "\n")
	if first == "" {
		return "", errors.New("token file is empty")
	}
	return "", fmt.Errorf("no Secret ID found (first line: %q)", first)
}

// ParseLeader reads /v1/status/leader output: a JSON string holding the
// leader's RPC address, empty while no leader is elected.
func ParseLeader(out string) (string, bool) {
	var leader string
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &leader); err != nil {
		return "", false
	}
	return leader, leader != ""
}

// MissingNodes returns the expected IPs not reported as ready by /v1/nodes.
func MissingNodes(out string, ips []string) []string {
	var nodes []struct {
		Address string `json:"Address"`
		Status  string `json:"Status"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &nodes); err != nil {
		return ips
	}
	ready := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if n.Status == "ready" {
			ready[n.Address] = true
		}
	}
	var missing []string
	for _, ip := range ips {
		if !ready[ip] {
			missing = append(missing, ip)
		}
	}
	return missing
}

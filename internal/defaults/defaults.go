// Package defaults provides centralized default values and constants used across the codebase.
// Change once, apply everywhere.
package defaults

import "time"

// =============================================================================
// SSH Defaults
// =============================================================================

const (
	// SSHPort is the default SSH port on every node.
	SSHPort = 22

	// SSHDialTimeout bounds the TCP connect to a node (or to the ingress for jumps).
	SSHDialTimeout = 30 * time.Second

	// SSHHandshakeTimeout bounds the banner exchange and authentication.
	SSHHandshakeTimeout = 60 * time.Second
)

// =============================================================================
// Shared Filesystem (NFS) Defaults
// =============================================================================

const (
	// SharedDir is the default export/mount path of the shared filesystem.
	SharedDir = "/opt/neuraldb_enterprise/model_bazaar"

	// NFSGroupName is the system group/user owning the shared tree.
	NFSGroupName = "nomad_nfs"

	// NFSGroupID must match the UID/GID the Nomad tasks run as.
	NFSGroupID = 4646

	// NFSServerService is the systemd unit of the NFS server.
	NFSServerService = "nfs-kernel-server"

	// ExportOptions are appended to every per-client export rule.
	ExportOptions = "rw,sync,no_subtree_check,all_squash,anonuid=4646,anongid=4646"

	// FstabOptions are used for the persistent client mount entry.
	FstabOptions = "nfs rw,hard,intr 0 0"
)

// SharedSubdirs are created under the shared directory on the storage host.
var SharedSubdirs = []string{"license", "models", "data", "users"}

// =============================================================================
// Readiness Defaults
// =============================================================================

const (
	// StatusFileName is the sentinel file written by every node under the shared dir.
	StatusFileName = "node_status"

	// StatusSuccess is the status recorded next to each node IP.
	StatusSuccess = "success"
)

// =============================================================================
// License Defaults
// =============================================================================

const (
	// LicenseFileName is the name the application expects under {shared}/license.
	LicenseFileName = "ndb_enterprise_license.json"
)

// =============================================================================
// Nomad Defaults
// =============================================================================

const (
	// NomadVersion is the apt package version installed on every node.
	NomadVersion = "1.6.2-1"

	// NomadPort is the HTTP API port of every agent.
	NomadPort = 4646

	// NomadAPI is the agent-local API base used from the nodes.
	NomadAPI = "http://localhost:4646"

	// NomadSession is the tmux session name the agent runs under.
	NomadSession = "nomad-agent"

	// NomadDataDir holds the bootstrap and task-runner token files.
	NomadDataDir = "/opt/neuraldb_enterprise/nomad_data"

	// ManagementTokenFile and TaskRunnerTokenFile live under NomadDataDir.
	ManagementTokenFile = "management_token.txt"
	TaskRunnerTokenFile = "task_runner_token.txt"

	// TaskRunnerPolicy is the ACL policy name granted to the task-runner token.
	TaskRunnerPolicy = "task-runner"

	// TaskRunnerPolicyFile is relative to the deployment repository.
	TaskRunnerPolicyFile = "./nomad/nomad_node_configs/task_runner.policy.hcl"

	// AgentScript is relative to the deployment repository.
	AgentScript = "./nomad/nomad_scripts/start_nomad_agent.sh"

	// VarNamespace and VarPath locate the shared variables read by jobs.
	VarNamespace = "default"
	VarPath      = "nomad/jobs"

	// Node pool and class labels.
	PoolDefault     = "default"
	PoolWebIngress  = "web_ingress"
	ClassDefault    = "default"
	ClassWebIngress = "web_ingress"

	// LeaderTimeout bounds the wait for the bootstrap server to elect itself.
	LeaderTimeout = 2 * time.Minute

	// PollInterval is the initial interval of readiness polls.
	PollInterval = 2 * time.Second
)

// =============================================================================
// Deployment Repository Defaults
// =============================================================================

const (
	RepoURL    = "https://github.com/ThirdAILabs/neuraldb-enterprise.git"
	RepoBranch = "acl"
	RepoDir    = "neuraldb-enterprise"
)

// =============================================================================
// PostgreSQL Defaults
// =============================================================================

const (
	DatabaseDir       = "/opt/neuraldb_enterprise/database"
	DatabasePassword  = "password"
	DatabaseName      = "modelbazaar"
	DatabaseUser      = "modelbazaaruser"
	DatabasePort      = 5432
	DatabaseContainer = "neuraldb-enterprise-postgresql-server"
	DatabaseImage     = "postgres"

	// DockerBridgeCIDR is always allowed so containers on the host can connect.
	DockerBridgeCIDR = "172.17.0.0/16"
)

// =============================================================================
// Job Defaults
// =============================================================================

const (
	// JobsDir holds the job templates on the control machine.
	JobsDir = "nomad/nomad_jobs"

	// RemoteStagingDir receives uploaded payloads on the ingress node.
	RemoteStagingDir = "/tmp/ndbctl"
)

// JobIDs are deregistered on teardown, in submission order.
var JobIDs = []string{"traefik", "model-bazaar", "nomad-autoscaler"}

// =============================================================================
// Validator Defaults
// =============================================================================

const (
	MinMemoryGiB   = 8
	MinCPUs        = 1
	OSRelease      = "Ubuntu 22.04"
	PingHost       = "www.google.com"
	SudoCheckReply = "Sudo check passed"
)

// ValidatorPorts are probed on every node.
var ValidatorPorts = []int{22, 80, 443, NomadPort, DatabasePort}

// =============================================================================
// Deployment Defaults
// =============================================================================

const (
	// Parallelism bounds per-node fan-out within one stage.
	Parallelism = 4

	// ArtifactPrefix names the resolved-cluster dump.
	ArtifactPrefix = "resolved-cluster"
)

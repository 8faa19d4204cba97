// Package topology models the cluster as an immutable, ordered set of nodes
// with roles. Every stage reads it; none mutates it.
package topology

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"ndbctl/internal/config"
	"ndbctl/internal/defaults"
)

// Role is a responsibility assigned to a node.
type Role string

const (
	RoleIngress           Role = "ingress"
	RoleSchedulerServer   Role = "scheduler_server"
	RoleSchedulerClient   Role = "scheduler_client"
	RoleDatabaseHost      Role = "database_host"
	RoleSharedStorageHost Role = "shared_storage_host"
)

// IngressDetail is only present on the ingress node.
type IngressDetail struct {
	PublicIP           string
	SSHUsername        string
	AcceptsInboundJobs bool
}

// DatabaseDetail is only present on the database host.
type DatabaseDetail struct {
	DataDir  string
	Password string
}

// StorageDetail is only present on the shared storage host.
type StorageDetail struct {
	SharedDir       string
	CreateNFSServer bool
}

// Node is a single cluster member.
type Node struct {
	PrivateIP string
	Roles     []Role
	Ingress   *IngressDetail
	Database  *DatabaseDetail
	Storage   *StorageDetail
}

// Has reports whether the node holds the role.
func (n Node) Has(r Role) bool {
	return slices.Contains(n.Roles, r)
}

// Label is a short human description used in log lines.
func (n Node) Label() string {
	var parts []string
	for _, r := range n.Roles {
		switch r {
		case RoleIngress:
			parts = append(parts, "ingress")
		case RoleSchedulerServer:
			parts = append(parts, "server")
		case RoleDatabaseHost:
			parts = append(parts, "database")
		case RoleSharedStorageHost:
			parts = append(parts, "storage")
		}
	}
	if len(parts) == 0 {
		return "client"
	}
	return strings.Join(parts, "+")
}

func (n Node) clone() Node {
	c := n
	c.Roles = slices.Clone(n.Roles)
	if n.Ingress != nil {
		d := *n.Ingress
		c.Ingress = &d
	}
	if n.Database != nil {
		d := *n.Database
		c.Database = &d
	}
	if n.Storage != nil {
		d := *n.Storage
		c.Storage = &d
	}
	return c
}

// Topology is the resolved cluster. It is immutable once built: accessors
// hand out copies.
type Topology struct {
	nodes       []Node
	sshUsername string
	keyRef      string
}

// New validates the node set and builds a topology.
func New(nodes []Node, sshUsername, keyRef string) (*Topology, error) {
	if len(nodes) == 0 {
		return nil, errors.New("topology has no nodes")
	}
	if sshUsername == "" {
		return nil, errors.New("node ssh username is required")
	}

	seen := make(map[string]bool, len(nodes))
	var ingress, storage, servers, databases int
	for i, n := range nodes {
		if n.PrivateIP == "" {
			return nil, fmt.Errorf("node %d: private ip is required", i)
		}
		if seen[n.PrivateIP] {
			return nil, fmt.Errorf("node %d: duplicate private ip %s", i, n.PrivateIP)
		}
		seen[n.PrivateIP] = true

		if n.Has(RoleIngress) {
			ingress++
			if n.Ingress == nil || n.Ingress.PublicIP == "" {
				return nil, fmt.Errorf("node %s: ingress node requires a public ip", n.PrivateIP)
			}
			if n.Ingress.SSHUsername == "" {
				return nil, fmt.Errorf("node %s: ingress node requires an ssh username", n.PrivateIP)
			}
		}
		if n.Has(RoleSharedStorageHost) {
			storage++
			if n.Storage == nil || n.Storage.SharedDir == "" {
				return nil, fmt.Errorf("node %s: shared storage host requires a shared dir", n.PrivateIP)
			}
		}
		if n.Has(RoleDatabaseHost) {
			databases++
			if n.Database == nil || n.Database.DataDir == "" {
				return nil, fmt.Errorf("node %s: database host requires a data dir", n.PrivateIP)
			}
		}
		if n.Has(RoleSchedulerServer) {
			servers++
		}
	}

	switch {
	case ingress != 1:
		return nil, fmt.Errorf("exactly one ingress node is required, found %d", ingress)
	case storage != 1:
		return nil, fmt.Errorf("exactly one shared storage host is required, found %d", storage)
	case servers < 1:
		return nil, errors.New("at least one scheduler server is required")
	case databases > 1:
		return nil, fmt.Errorf("at most one database host is allowed, found %d", databases)
	}

	t := &Topology{sshUsername: sshUsername, keyRef: keyRef}
	for _, n := range nodes {
		t.nodes = append(t.nodes, n.clone())
	}
	return t, nil
}

// FromConfig derives roles from the declarative node list.
func FromConfig(cfg *config.Config) (*Topology, error) {
	nodes := make([]Node, 0, len(cfg.Nodes))
	for _, nc := range cfg.Nodes {
		n := Node{PrivateIP: nc.PrivateIP}

		if nc.WebIngress != nil {
			n.Roles = append(n.Roles, RoleIngress)
			user := nc.WebIngress.SSHUsername
			if user == "" {
				user = cfg.SSHUsername
			}
			n.Ingress = &IngressDetail{
				PublicIP:           nc.WebIngress.PublicIP,
				SSHUsername:        user,
				AcceptsInboundJobs: nc.WebIngress.RunsJobs(),
			}
		}
		if nc.NomadServer {
			n.Roles = append(n.Roles, RoleSchedulerServer)
		} else {
			n.Roles = append(n.Roles, RoleSchedulerClient)
		}
		if nc.SQLServer != nil {
			n.Roles = append(n.Roles, RoleDatabaseHost)
			n.Database = &DatabaseDetail{
				DataDir:  orDefault(nc.SQLServer.DatabaseDir, defaults.DatabaseDir),
				Password: orDefault(nc.SQLServer.DatabasePassword, defaults.DatabasePassword),
			}
		}
		if nc.SharedFileSystem != nil {
			n.Roles = append(n.Roles, RoleSharedStorageHost)
			n.Storage = &StorageDetail{
				SharedDir:       orDefault(nc.SharedFileSystem.SharedDir, defaults.SharedDir),
				CreateNFSServer: nc.SharedFileSystem.CreateNFSServer,
			}
		}
		nodes = append(nodes, n)
	}

	return New(nodes, cfg.SSHUsername, cfg.SSHPrivateKey)
}

// NodeConfigs converts the topology back to the declarative form, used for
// the resolved-cluster dump.
func (t *Topology) NodeConfigs() []config.NodeConfig {
	out := make([]config.NodeConfig, 0, len(t.nodes))
	for _, n := range t.nodes {
		nc := config.NodeConfig{PrivateIP: n.PrivateIP, NomadServer: n.Has(RoleSchedulerServer)}
		if n.Ingress != nil {
			runJobs := n.Ingress.AcceptsInboundJobs
			nc.WebIngress = &config.WebIngressConfig{
				PublicIP:    n.Ingress.PublicIP,
				RunJobs:     &runJobs,
				SSHUsername: n.Ingress.SSHUsername,
			}
		}
		if n.Database != nil {
			nc.SQLServer = &config.SQLServerConfig{DatabaseDir: n.Database.DataDir, DatabasePassword: n.Database.Password}
		}
		if n.Storage != nil {
			nc.SharedFileSystem = &config.SharedFSConfig{CreateNFSServer: n.Storage.CreateNFSServer, SharedDir: n.Storage.SharedDir}
		}
		out = append(out, nc)
	}
	return out
}

// Nodes returns a copy of all nodes in declaration order.
func (t *Topology) Nodes() []Node {
	out := make([]Node, 0, len(t.nodes))
	for _, n := range t.nodes {
		out = append(out, n.clone())
	}
	return out
}

// IPs returns every private IP in declaration order.
func (t *Topology) IPs() []string {
	ips := make([]string, 0, len(t.nodes))
	for _, n := range t.nodes {
		ips = append(ips, n.PrivateIP)
	}
	return ips
}

// SSHUsername is the generic login used on every non-ingress node.
func (t *Topology) SSHUsername() string { return t.sshUsername }

// KeyRef is the SSH identity reference (private key path), possibly empty.
func (t *Topology) KeyRef() string { return t.keyRef }

func (t *Topology) first(r Role) (Node, bool) {
	for _, n := range t.nodes {
		if n.Has(r) {
			return n.clone(), true
		}
	}
	return Node{}, false
}

// Ingress returns the single ingress node.
func (t *Topology) Ingress() Node {
	n, _ := t.first(RoleIngress)
	return n
}

// SchedulerServer returns the elected bootstrap server (the first declared).
func (t *Topology) SchedulerServer() Node {
	n, _ := t.first(RoleSchedulerServer)
	return n
}

// StorageHost returns the shared storage host.
func (t *Topology) StorageHost() Node {
	n, _ := t.first(RoleSharedStorageHost)
	return n
}

// DatabaseHost returns the database host, if one is declared.
func (t *Topology) DatabaseHost() (Node, bool) {
	return t.first(RoleDatabaseHost)
}

// SharedDir is the export/mount path of the shared filesystem.
func (t *Topology) SharedDir() string {
	return t.StorageHost().Storage.SharedDir
}

// Others returns every node except the one with the given IP.
func (t *Topology) Others(ip string) []Node {
	var out []Node
	for _, n := range t.nodes {
		if n.PrivateIP != ip {
			out = append(out, n.clone())
		}
	}
	return out
}

// NodePool is "default" unless the node is an ingress that refuses inbound jobs.
func (t *Topology) NodePool(n Node) string {
	if n.Ingress != nil && !n.Ingress.AcceptsInboundJobs {
		return defaults.PoolWebIngress
	}
	return defaults.PoolDefault
}

// NodeClass distinguishes the ingress node for job placement constraints.
func (t *Topology) NodeClass(n Node) string {
	if n.PrivateIP == t.Ingress().PrivateIP {
		return defaults.ClassWebIngress
	}
	return defaults.ClassDefault
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Package topotest builds small topologies for tests.
package topotest

import (
	"testing"

	"ndbctl/internal/topology"
)

const (
	IngressPublicIP = "203.0.113.10"
	NodeUser        = "ubuntu"
	IngressUser     = "admin"
	SharedDir       = "/opt/neuraldb_enterprise/model_bazaar"
	DataDir         = "/opt/neuraldb_enterprise/database"
)

// HeadNode returns 10.0.0.4 as ingress + scheduler server + storage + database.
// The other two IPs are plain clients.
func HeadNode(t testing.TB) *topology.Topology {
	t.Helper()
	return mustNew(t, []topology.Node{
		{
			PrivateIP: "10.0.0.4",
			Roles: []topology.Role{
				topology.RoleIngress, topology.RoleSchedulerServer,
				topology.RoleDatabaseHost, topology.RoleSharedStorageHost,
			},
			Ingress:  &topology.IngressDetail{PublicIP: IngressPublicIP, SSHUsername: IngressUser, AcceptsInboundJobs: true},
			Database: &topology.DatabaseDetail{DataDir: DataDir, Password: "pw"},
			Storage:  &topology.StorageDetail{SharedDir: SharedDir, CreateNFSServer: true},
		},
		{PrivateIP: "10.0.0.5", Roles: []topology.Role{topology.RoleSchedulerClient}},
		{PrivateIP: "10.0.0.6", Roles: []topology.Role{topology.RoleSchedulerClient}},
	})
}

// Spread returns three nodes with split roles:
// 10.0.0.4 ingress + scheduler server, 10.0.0.5 storage + database, 10.0.0.6 plain client.
func Spread(t testing.TB) *topology.Topology {
	t.Helper()
	return mustNew(t, []topology.Node{
		{
			PrivateIP: "10.0.0.4",
			Roles:     []topology.Role{topology.RoleIngress, topology.RoleSchedulerServer},
			Ingress:   &topology.IngressDetail{PublicIP: IngressPublicIP, SSHUsername: IngressUser, AcceptsInboundJobs: true},
		},
		{
			PrivateIP: "10.0.0.5",
			Roles:     []topology.Role{topology.RoleSchedulerClient, topology.RoleDatabaseHost, topology.RoleSharedStorageHost},
			Database:  &topology.DatabaseDetail{DataDir: DataDir, Password: "pw"},
			Storage:   &topology.StorageDetail{SharedDir: SharedDir, CreateNFSServer: true},
		},
		{PrivateIP: "10.0.0.6", Roles: []topology.Role{topology.RoleSchedulerClient}},
	})
}

// RemoteServer keeps the scheduler server off the ingress node:
// 10.0.0.4 ingress only, 10.0.0.5 scheduler server + storage + database,
// 10.0.0.6 plain client.
func RemoteServer(t testing.TB) *topology.Topology {
	t.Helper()
	return mustNew(t, []topology.Node{
		{
			PrivateIP: "10.0.0.4",
			Roles:     []topology.Role{topology.RoleIngress, topology.RoleSchedulerClient},
			Ingress:   &topology.IngressDetail{PublicIP: IngressPublicIP, SSHUsername: IngressUser, AcceptsInboundJobs: true},
		},
		{
			PrivateIP: "10.0.0.5",
			Roles: []topology.Role{
				topology.RoleSchedulerServer, topology.RoleDatabaseHost, topology.RoleSharedStorageHost,
			},
			Database: &topology.DatabaseDetail{DataDir: DataDir, Password: "pw"},
			Storage:  &topology.StorageDetail{SharedDir: SharedDir, CreateNFSServer: true},
		},
		{PrivateIP: "10.0.0.6", Roles: []topology.Role{topology.RoleSchedulerClient}},
	})
}

func mustNew(t testing.TB, nodes []topology.Node) *topology.Topology {
	t.Helper()
	topo, err := topology.New(nodes, NodeUser, "")
	if err != nil {
		t.Fatalf("failed to build topology: %v", err)
	}
	return topo
}

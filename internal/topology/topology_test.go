package topology_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ndbctl/internal/config"
	"ndbctl/internal/topology"
	"ndbctl/internal/topology/topotest"
)

func TestFromConfigAssignsRoles(t *testing.T) {
	runJobs := false
	cfg := &config.Config{
		SSHUsername: "ubuntu",
		Nodes: []config.NodeConfig{
			{
				PrivateIP:        "10.0.0.4",
				WebIngress:       &config.WebIngressConfig{PublicIP: "203.0.113.10", RunJobs: &runJobs},
				SharedFileSystem: &config.SharedFSConfig{CreateNFSServer: true},
				NomadServer:      true,
			},
			{PrivateIP: "10.0.0.5", SQLServer: &config.SQLServerConfig{}},
		},
	}

	topo, err := topology.FromConfig(cfg)
	require.NoError(t, err)

	ingress := topo.Ingress()
	assert.Equal(t, "10.0.0.4", ingress.PrivateIP)
	assert.Equal(t, "ubuntu", ingress.Ingress.SSHUsername, "ingress user falls back to the node user")
	assert.True(t, ingress.Has(topology.RoleSchedulerServer))
	assert.False(t, ingress.Has(topology.RoleSchedulerClient))
	assert.Equal(t, "/opt/neuraldb_enterprise/model_bazaar", topo.SharedDir())

	db, ok := topo.DatabaseHost()
	require.True(t, ok)
	assert.Equal(t, "10.0.0.5", db.PrivateIP)
	assert.True(t, db.Has(topology.RoleSchedulerClient))
	assert.Equal(t, "/opt/neuraldb_enterprise/database", db.Database.DataDir)

	assert.Equal(t, "web_ingress", topo.NodePool(ingress))
	assert.Equal(t, "web_ingress", topo.NodeClass(ingress))
	assert.Equal(t, "default", topo.NodePool(db))
	assert.Equal(t, "default", topo.NodeClass(db))
}

func TestNewRejectsBrokenTopologies(t *testing.T) {
	ingress := topology.Node{
		PrivateIP: "10.0.0.4",
		Roles:     []topology.Role{topology.RoleIngress, topology.RoleSchedulerServer, topology.RoleSharedStorageHost},
		Ingress:   &topology.IngressDetail{PublicIP: "203.0.113.10", SSHUsername: "ubuntu"},
		Storage:   &topology.StorageDetail{SharedDir: "/share"},
	}

	tests := []struct {
		name    string
		nodes   []topology.Node
		wantErr string
	}{
		{"empty", nil, "no nodes"},
		{"duplicate ip", []topology.Node{ingress, {PrivateIP: "10.0.0.4"}}, "duplicate private ip"},
		{"missing ip", []topology.Node{ingress, {}}, "private ip is required"},
		{"no ingress", []topology.Node{{
			PrivateIP: "10.0.0.5",
			Roles:     []topology.Role{topology.RoleSchedulerServer, topology.RoleSharedStorageHost},
			Storage:   &topology.StorageDetail{SharedDir: "/share"},
		}}, "exactly one ingress"},
		{"two ingress", []topology.Node{ingress, {
			PrivateIP: "10.0.0.5",
			Roles:     []topology.Role{topology.RoleIngress},
			Ingress:   &topology.IngressDetail{PublicIP: "203.0.113.11", SSHUsername: "ubuntu"},
		}}, "exactly one ingress"},
		{"ingress without public ip", []topology.Node{{
			PrivateIP: "10.0.0.4",
			Roles:     []topology.Role{topology.RoleIngress},
			Ingress:   &topology.IngressDetail{SSHUsername: "ubuntu"},
		}}, "requires a public ip"},
		{"no server", []topology.Node{{
			PrivateIP: "10.0.0.4",
			Roles:     []topology.Role{topology.RoleIngress, topology.RoleSharedStorageHost},
			Ingress:   &topology.IngressDetail{PublicIP: "203.0.113.10", SSHUsername: "ubuntu"},
			Storage:   &topology.StorageDetail{SharedDir: "/share"},
		}}, "at least one scheduler server"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := topology.New(tt.nodes, "ubuntu", "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAccessorsReturnCopies(t *testing.T) {
	topo := topotest.HeadNode(t)

	nodes := topo.Nodes()
	nodes[0].Ingress.PublicIP = "198.51.100.1"
	nodes[0].Roles[0] = topology.RoleSchedulerClient

	assert.Equal(t, topotest.IngressPublicIP, topo.Ingress().Ingress.PublicIP)
	assert.True(t, topo.Nodes()[0].Has(topology.RoleIngress))
}

func TestOthersAndNodeConfigs(t *testing.T) {
	topo := topotest.Spread(t)

	others := topo.Others("10.0.0.5")
	require.Len(t, others, 2)
	assert.Equal(t, "10.0.0.4", others[0].PrivateIP)
	assert.Equal(t, "10.0.0.6", others[1].PrivateIP)

	ncs := topo.NodeConfigs()
	require.Len(t, ncs, 3)
	assert.True(t, ncs[0].NomadServer)
	require.NotNil(t, ncs[0].WebIngress)
	assert.Equal(t, topotest.IngressPublicIP, ncs[0].WebIngress.PublicIP)
	require.NotNil(t, ncs[1].SharedFileSystem)
	assert.True(t, ncs[1].SharedFileSystem.CreateNFSServer)
	require.NotNil(t, ncs[1].SQLServer)

	back, err := topology.FromConfig(&config.Config{SSHUsername: "ubuntu", Nodes: ncs})
	require.NoError(t, err)
	assert.Equal(t, topo.IPs(), back.IPs())
	assert.Equal(t, "ingress+server", back.Ingress().Label())
}

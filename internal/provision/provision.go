// Package provision resolves the node topology for each supported cluster
// type. Resolvers only discover machines that already exist; creating cloud
// resources is left to the provider tooling.
package provision

import (
	"context"
	"fmt"

	"ndbctl/internal/config"
	"ndbctl/internal/defaults"
	"ndbctl/internal/logging"
	"ndbctl/internal/topology"
)

// Resolver turns a cluster configuration into a topology.
type Resolver interface {
	Name() string
	Resolve(ctx context.Context) (*topology.Topology, error)
}

// New selects the resolver for the configured cluster type.
func New(cfg *config.Config) (Resolver, error) {
	switch cfg.ClusterType {
	case config.ClusterTypeSelfHosted:
		return &SelfHosted{cfg: cfg}, nil
	case config.ClusterTypeAWS:
		return &AWS{cfg: cfg}, nil
	case config.ClusterTypeAzure:
		return &Azure{cfg: cfg}, nil
	default:
		return nil, fmt.Errorf("unknown cluster type %q", cfg.ClusterType)
	}
}

// SelfHosted uses the node list from the configuration as-is.
type SelfHosted struct {
	cfg *config.Config
}

func (s *SelfHosted) Name() string { return string(config.ClusterTypeSelfHosted) }

func (s *SelfHosted) Resolve(_ context.Context) (*topology.Topology, error) {
	topo, err := topology.FromConfig(s.cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid node list: %w", err)
	}
	return topo, nil
}

// applyDiscovered replaces the node list with a head node carrying every
// service role plus one plain client per remaining address.
func applyDiscovered(cfg *config.Config, sshUsername, headPrivate, headPublic string, clients []string) (*topology.Topology, error) {
	runJobs := true
	nodes := []config.NodeConfig{{
		PrivateIP: headPrivate,
		WebIngress: &config.WebIngressConfig{
			PublicIP:    headPublic,
			RunJobs:     &runJobs,
			SSHUsername: sshUsername,
		},
		SQLServer:        &config.SQLServerConfig{DatabaseDir: defaults.DatabaseDir},
		SharedFileSystem: &config.SharedFSConfig{CreateNFSServer: true, SharedDir: defaults.SharedDir},
		NomadServer:      true,
	}}
	for _, ip := range clients {
		nodes = append(nodes, config.NodeConfig{PrivateIP: ip})
	}

	cfg.SSHUsername = sshUsername
	cfg.Nodes = nodes
	cfg.ApplyNodeDefaults()

	logging.L().Infow(fmt.Sprintf("✓ discovered %d nodes", len(nodes)),
		"cluster_type", cfg.ClusterType, "head_private_ip", headPrivate, "head_public_ip", headPublic)

	return topology.FromConfig(cfg)
}

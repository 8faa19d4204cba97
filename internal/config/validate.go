package config

import (
	"errors"
	"fmt"
)

// Validate checks the keys required for the configured cluster type. Node
// role invariants are enforced when the topology is built.
func (c *Config) Validate() error {
	var checks []check

	switch c.ClusterType {
	case ClusterTypeSelfHosted:
		checks = append(checks,
			check{"ssh_username", c.SSHUsername != ""},
			check{"nodes", len(c.Nodes) > 0},
		)
	case ClusterTypeAWS:
		checks = append(checks,
			check{"project.name", c.Project.Name != ""},
			check{"ssh.key_name", c.SSH.KeyName != ""},
			check{"ssh.public_key_path", c.SSH.PublicKeyPath != ""},
			check{"network.region", c.Network.Region != ""},
			check{"network.vpc_cidr_block", c.Network.VPCCIDRBlock != ""},
			check{"network.subnet_cidr_block", c.Network.SubnetCIDRBlock != ""},
			check{"vm_setup.type", c.VMSetup.Type != ""},
			check{"vm_setup.ssh_username", c.VMSetup.SSHUsername != ""},
			check{"vm_setup.vm_count", c.VMSetup.VMCount > 0},
		)
	case ClusterTypeAzure:
		checks = append(checks,
			check{"ssh.public_key_path", c.SSH.PublicKeyPath != ""},
			check{"azure_resources.location", c.Azure.Location != ""},
			check{"azure_resources.resource_group_name", c.Azure.ResourceGroupName != ""},
			check{"azure_resources.vnet_name", c.Azure.VNetName != ""},
			check{"azure_resources.subnet_name", c.Azure.SubnetName != ""},
			check{"azure_resources.head_node_ipname", c.Azure.HeadNodeIPName != ""},
			check{"vm_setup.type", c.VMSetup.Type != ""},
			check{"vm_setup.ssh_username", c.VMSetup.SSHUsername != ""},
			check{"vm_setup.vm_count", c.VMSetup.VMCount > 0},
		)
	case "":
		return errors.New("missing key: cluster_type_config")
	default:
		return fmt.Errorf("unknown cluster type %q (want aws, azure or self-hosted)", c.ClusterType)
	}

	checks = append(checks,
		check{"ndb_enterprise_version", c.Version != ""},
		check{"security.license_path", c.Security.LicensePath != ""},
		check{"security.jwt_secret", c.Security.JWTSecret != ""},
		check{"security.admin.email", c.Security.Admin.Email != ""},
		check{"security.admin.username", c.Security.Admin.Username != ""},
		check{"security.admin.password", c.Security.Admin.Password != ""},
	)

	for _, ch := range checks {
		if !ch.ok {
			return fmt.Errorf("missing key: %s", ch.key)
		}
	}

	if c.Autoscaling.Enabled && c.Autoscaling.MaxCount <= 0 {
		return errors.New("autoscaling.max_count must be positive when autoscaling is enabled")
	}

	return nil
}

type check struct {
	key string
	ok  bool
}

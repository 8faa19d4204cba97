package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"ndbctl/internal/defaults"
)

// ClusterType selects how the node topology is resolved.
type ClusterType string

const (
	ClusterTypeSelfHosted ClusterType = "self-hosted"
	ClusterTypeAWS        ClusterType = "aws"
	ClusterTypeAzure      ClusterType = "azure"
)

// Config represents the cluster configuration loaded from YAML.
type Config struct {
	ClusterType   ClusterType  `yaml:"cluster_type_config"`
	Version       string       `yaml:"ndb_enterprise_version"`
	SSHUsername   string       `yaml:"ssh_username,omitempty"`
	SSHPrivateKey string       `yaml:"ssh_private_key_path,omitempty"` // Identity file (optional, falls back to ssh-agent)
	Nodes         []NodeConfig `yaml:"nodes,omitempty"`

	Security    SecurityConfig    `yaml:"security"`
	API         APIConfig         `yaml:"api"`
	Autoscaling AutoscalingConfig `yaml:"autoscaling"`
	SQL         SQLConfig         `yaml:"sql_configuration,omitempty"`

	// AWS
	Project ProjectConfig `yaml:"project,omitempty"`
	SSH     SSHKeyConfig  `yaml:"ssh,omitempty"`
	Network NetworkConfig `yaml:"network,omitempty"`
	VMSetup VMSetupConfig `yaml:"vm_setup,omitempty"`

	// Azure
	Azure AzureConfig `yaml:"azure_resources,omitempty"`

	Deployment DeploymentConfig `yaml:"deployment,omitempty"`

	ConfigPath string `yaml:"-"` // Path to the config file (not serialized)

	databasePassword string // secret override, applied to nodes added after Load
}

// NodeConfig is one entry of the declarative node list. The presence of a
// section assigns the corresponding role.
type NodeConfig struct {
	PrivateIP        string            `yaml:"private_ip"`
	WebIngress       *WebIngressConfig `yaml:"web_ingress,omitempty"`
	SQLServer        *SQLServerConfig  `yaml:"sql_server,omitempty"`
	SharedFileSystem *SharedFSConfig   `yaml:"shared_file_system,omitempty"`
	NomadServer      bool              `yaml:"nomad_server,omitempty"`
}

// WebIngressConfig marks the single publicly reachable node.
type WebIngressConfig struct {
	PublicIP    string `yaml:"public_ip"`
	RunJobs     *bool  `yaml:"run_jobs,omitempty"`     // Accept inbound jobs (default: true)
	SSHUsername string `yaml:"ssh_username,omitempty"` // Default: top-level ssh_username
}

// SQLServerConfig marks the database host.
type SQLServerConfig struct {
	DatabaseDir      string `yaml:"database_dir,omitempty"`
	DatabasePassword string `yaml:"database_password,omitempty"`
}

// SharedFSConfig marks the shared storage host.
type SharedFSConfig struct {
	CreateNFSServer bool   `yaml:"create_nfs_server"`
	SharedDir       string `yaml:"shared_dir,omitempty"`
}

type SecurityConfig struct {
	LicensePath          string      `yaml:"license_path"`
	AirgappedLicensePath string      `yaml:"airgapped_license_path,omitempty"`
	JWTSecret            string      `yaml:"jwt_secret"`
	Admin                AdminConfig `yaml:"admin"`
}

type AdminConfig struct {
	Email    string `yaml:"email"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type APIConfig struct {
	GenAIKey string `yaml:"genai_key"`
}

type AutoscalingConfig struct {
	Enabled  bool `yaml:"enabled"`
	MaxCount int  `yaml:"max_count"`
}

// SQLConfig allows pointing the application at an externally managed database.
type SQLConfig struct {
	UseExternal    bool   `yaml:"use_external"`
	ExternalSQLURI string `yaml:"external_sql_uri,omitempty"`
}

type ProjectConfig struct {
	Name string `yaml:"name,omitempty"`
}

type SSHKeyConfig struct {
	KeyName       string `yaml:"key_name,omitempty"`
	PublicKeyPath string `yaml:"public_key_path,omitempty"`
}

type NetworkConfig struct {
	Region          string `yaml:"region,omitempty"`
	VPCCIDRBlock    string `yaml:"vpc_cidr_block,omitempty"`
	SubnetCIDRBlock string `yaml:"subnet_cidr_block,omitempty"`
}

type VMSetupConfig struct {
	Type        string `yaml:"type,omitempty"`
	SSHUsername string `yaml:"ssh_username,omitempty"`
	VMCount     int    `yaml:"vm_count,omitempty"`
}

type AzureConfig struct {
	Location          string `yaml:"location,omitempty"`
	ResourceGroupName string `yaml:"resource_group_name,omitempty"`
	VNetName          string `yaml:"vnet_name,omitempty"`
	SubnetName        string `yaml:"subnet_name,omitempty"`
	HeadNodeIPName    string `yaml:"head_node_ipname,omitempty"`
}

// DeploymentConfig tunes how the control machine drives the run.
type DeploymentConfig struct {
	Parallelism      int    `yaml:"parallelism,omitempty"`       // Per-stage worker pool size (default: 4)
	JobsDir          string `yaml:"jobs_dir,omitempty"`          // Job templates (default: nomad/nomad_jobs)
	ArtifactDir      string `yaml:"artifact_dir,omitempty"`      // Where the resolved cluster dump is written (default: .)
	ArtifactBucket   string `yaml:"artifact_bucket,omitempty"`   // Optional S3 mirror of the dump
	ArtifactRegion   string `yaml:"artifact_region,omitempty"`   // Region of the mirror bucket
	ArtifactEndpoint string `yaml:"artifact_endpoint,omitempty"` // S3-compatible endpoint (path style)
	StrictValidation bool   `yaml:"strict_validation,omitempty"` // Abort when the validator reports failures
}

// Load loads the configuration from a YAML file, overlays secrets from the
// environment (and a .env file next to the config), validates it and applies
// defaults.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		return nil, errors.New("config path is required")
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	if err := cfg.applySecrets(filepath.Join(filepath.Dir(configPath), ".env")); err != nil {
		return nil, fmt.Errorf("failed to load secrets: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg.ApplyDefaults()

	absPath, err := filepath.Abs(configPath)
	if err != nil {
		cfg.ConfigPath = configPath
	} else {
		cfg.ConfigPath = absPath
	}

	return cfg, nil
}

// Parse decodes YAML without validating it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Marshal encodes the configuration back to YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// ApplyDefaults applies default values to the configuration.
func (c *Config) ApplyDefaults() {
	d := &c.Deployment
	if d.Parallelism <= 0 {
		d.Parallelism = defaults.Parallelism
	}
	if d.JobsDir == "" {
		d.JobsDir = defaults.JobsDir
	}
	if d.ArtifactDir == "" {
		d.ArtifactDir = "."
	}

	c.ApplyNodeDefaults()
}

// ApplyNodeDefaults fills optional per-node fields. It is also called by the
// cloud resolvers after they populate the node list.
func (c *Config) ApplyNodeDefaults() {
	for i := range c.Nodes {
		n := &c.Nodes[i]
		if n.WebIngress != nil {
			if n.WebIngress.RunJobs == nil {
				runJobs := true
				n.WebIngress.RunJobs = &runJobs
			}
			if n.WebIngress.SSHUsername == "" {
				n.WebIngress.SSHUsername = c.SSHUsername
			}
		}
		if n.SQLServer != nil {
			if n.SQLServer.DatabaseDir == "" {
				n.SQLServer.DatabaseDir = defaults.DatabaseDir
			}
			if n.SQLServer.DatabasePassword == "" {
				n.SQLServer.DatabasePassword = c.databasePassword
			}
			if n.SQLServer.DatabasePassword == "" {
				n.SQLServer.DatabasePassword = defaults.DatabasePassword
			}
		}
		if n.SharedFileSystem != nil && n.SharedFileSystem.SharedDir == "" {
			n.SharedFileSystem.SharedDir = defaults.SharedDir
		}
	}
}

// RunsJobs reports whether the ingress node accepts inbound jobs.
func (w *WebIngressConfig) RunsJobs() bool {
	if w == nil || w.RunJobs == nil {
		return true
	}
	return *w.RunJobs
}

// ExternalSQLURI returns the externally managed database URI when the config
// asks for one and provides it.
func (c *Config) ExternalSQLURI() (string, bool) {
	if c.SQL.UseExternal && c.SQL.ExternalSQLURI != "" {
		return c.SQL.ExternalSQLURI, true
	}
	return "", false
}

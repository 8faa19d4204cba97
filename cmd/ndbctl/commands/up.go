package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"ndbctl/internal/config"
	"ndbctl/internal/deployer"
	"ndbctl/internal/logging"
)

// Up returns the up command.
func Up() *cobra.Command {
	var (
		configPath  string
		metricsFile string
		strict      bool
	)

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Deploy NeuralDB Enterprise onto the configured nodes",
		Long: `Up resolves the nodes (self-hosted list, AWS or Azure), writes a
resolved-cluster-<timestamp>.yaml artifact and runs every stage in order:

  validate → shared storage → readiness → license → scheduler → database → workloads

A failing stage stops the run and leaves the nodes as they are. Pass the
artifact to "ndbctl down" to remove what was installed.

Example:
  ndbctl up -c cluster.yaml --metrics-file /var/lib/node_exporter/ndbctl.prom`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			res, err := deployer.Deploy(cmd.Context(), cfg, deployer.Options{MetricsFile: metricsFile, Strict: strict})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "\nModel Bazaar is available at http://%s\n", res.IngressPublicIP)
			fmt.Fprintf(cmd.OutOrStdout(), "Resolved cluster written to %s\n", res.Artifact)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to cluster configuration file (required)")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write stage timings to this Prometheus textfile")
	cmd.Flags().BoolVar(&strict, "strict", false, "Abort when any node fails validation")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	log := logging.L()
	log.Infow("loading configuration", "configPath", path)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	log.Infow("configuration loaded successfully",
		"configFile", cfg.ConfigPath,
		"clusterType", cfg.ClusterType,
		"nodes", len(cfg.Nodes),
	)
	return cfg, nil
}

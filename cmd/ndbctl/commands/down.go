package commands

import (
	"github.com/spf13/cobra"

	"ndbctl/internal/deployer"
)

// Down returns the down command.
func Down() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "down",
		Short: "Remove NeuralDB Enterprise from the nodes of a resolved cluster",
		Long: `Down deregisters the jobs, removes the database container, stops
Nomad and unmounts the shared filesystem on every node. Every step is
attempted even when an earlier one fails.

Cloud resources (VMs, networks) are not deleted.

Example:
  ndbctl down -c resolved-cluster-20260314-092653.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return deployer.Teardown(cmd.Context(), cfg, deployer.Options{})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to resolved cluster file (required)")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

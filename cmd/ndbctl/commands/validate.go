package commands

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"ndbctl/internal/deployer"
	"ndbctl/internal/orchestrator"
)

// Validate returns the validate command.
func Validate() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check that every node meets the prerequisites",
		Long: `Validate connects to every node and checks sudo access, internet
access, memory and CPU, the OS release and the required ports. Nothing on
the nodes is changed. The command fails when any check fails.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			report, err := deployer.Validate(cmd.Context(), cfg, deployer.Options{})
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), report)
			return report.Err()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to cluster configuration file (required)")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func printReport(w io.Writer, report orchestrator.Report) {
	ips := make([]string, 0, len(report))
	for ip := range report {
		ips = append(ips, ip)
	}
	slices.Sort(ips)

	for _, ip := range ips {
		if failed := report[ip].Failed(); len(failed) > 0 {
			fmt.Fprintf(w, "✗ %-15s %s\n", ip, strings.Join(failed, ", "))
		} else {
			fmt.Fprintf(w, "✓ %-15s all checks passed\n", ip)
		}
	}
}

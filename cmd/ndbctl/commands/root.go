// Package commands defines the ndbctl command tree and flag bindings.
// Execution is delegated to the deployer package.
package commands

import "github.com/spf13/cobra"

// Root returns the root command for the ndbctl CLI.
func Root() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ndbctl",
		Short:         "Bring up and tear down NeuralDB Enterprise clusters over SSH",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(Up())
	cmd.AddCommand(Down())
	cmd.AddCommand(Validate())
	cmd.AddCommand(Version())

	return cmd
}

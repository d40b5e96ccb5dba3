package cli

import (
	"fmt"

	"github.com/picklr-io/eksstack/internal/engine"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the settings and the declared stack",
	Long: `Loads the settings, declares the stack and checks its dependency graph
without contacting AWS.`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	settings, cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	dag, err := engine.BuildDAG(cfg.Resources)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Fprintf(out, "Stack %s in %s declares %d resources and %d outputs.\n",
		settings.ClusterName, settings.AWSRegion, dag.Len(), len(cfg.Outputs))
	fmt.Fprintln(out, "Configuration is valid!")
	return nil
}

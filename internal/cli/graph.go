package cli

import (
	"fmt"

	"github.com/picklr-io/eksstack/internal/engine"
	"github.com/spf13/cobra"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Output the dependency graph in DOT format",
	Long: `Generates a visual representation of the resource dependency graph
in Graphviz DOT format. Pipe the output to 'dot' to generate an image:

  eksstack graph | dot -Tpng > graph.png`,
	Args: cobra.NoArgs,
	RunE: runGraph,
}

func runGraph(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return err
	}
	dag, err := engine.BuildDAG(cfg.Resources)
	if err != nil {
		return fmt.Errorf("failed to build graph: %w", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), dag.DOT())
	return nil
}

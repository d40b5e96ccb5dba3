package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/picklr-io/eksstack/internal/logging"
	"github.com/spf13/cobra"
)

var (
	cfgFile       string
	envFile       string
	setOverrides  map[string]string
	statePath     string
	backendType   string
	backendConfig []string
	awsProfile    string
	logLevel      string
	noColor       bool
	metricsFile   string
	parallelism   int
	dryProvider   bool
)

var rootCmd = &cobra.Command{
	Use:   "eksstack",
	Short: "Provision an EKS cluster with an autoscaling demo",
	Long: `eksstack declares an AWS network, an EKS cluster with a managed node group
and an optional Horizontal Pod Autoscaler demo, then reconciles it against the
observed state recorded by earlier runs.

Resources are created in dependency order with independent branches running
in parallel; destroy removes them in reverse order.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logLevel, noColor)
	},
}

// Execute runs the root command. An interrupt stops new resources from
// starting; operations already in flight are allowed to finish.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "Settings file (.yaml, .json, .toml or .pkl)")
	flags.StringVar(&envFile, "env-file", "", "Load environment variables from a .env file first")
	flags.StringToStringVar(&setOverrides, "set", nil, "Override a setting (format: key=value)")
	flags.StringVar(&statePath, "state", ".eksstack/state.json", "Path of the local state file")
	flags.StringVar(&backendType, "backend", "local", "State backend: local or s3")
	flags.StringArrayVar(&backendConfig, "backend-config", nil, "Backend setting as key=value (repeatable)")
	flags.StringVar(&awsProfile, "aws-profile", "", "Shared AWS config profile")
	flags.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	flags.BoolVar(&noColor, "no-color", false, "Disable colored output")
	flags.StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile after apply or destroy")
	flags.IntVar(&parallelism, "parallelism", 10, "Maximum concurrent provider operations")
	flags.BoolVar(&dryProvider, "dry-provider", false, "Use the in-memory provider instead of AWS and Kubernetes")
	_ = flags.MarkHidden("dry-provider")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(outputCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(versionCmd)
}

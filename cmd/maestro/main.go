package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var version = "0.9.0"

var (
	// Global flags
	stateDir string
	verbose  bool

	// Console logger for CLI output. Planning internals log through the
	// category file logger under the state dir; this one talks to the
	// operator.
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "maestro",
	Short: "maestro - adaptive orchestration planner",
	Long: `maestro plans multi-agent executions and learns from their outcomes.

It exposes a tool surface over MCP stdio: plan, coordinate, analyze,
predict_agents, analyze_failure, refine_plan, find_patterns, and the
registry tools. Every coordinated execution feeds the pattern memory,
the conflict graph, and the per-agent statistics that shape the next
plan.

Run "maestro serve" to start the stdio server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		config.OutputPaths = []string{"stderr"}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the maestro version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("maestro %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "State directory (default ~/.maestro)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// Package cmd provides the root command for the lifecycle orchestrator.
package cmd

import (
	"fmt"
	"os"

	"github.com/matthisholleville/lifecycle-orchestrator/cmd/serve"
	"github.com/spf13/cobra"
)

const programName = "lifecycle-orchestrator"

var rootCmd = &cobra.Command{
	Use:   programName,
	Short: "A pod lifecycle orchestrator",
	Long: `lifecycle-orchestrator drives a service's startup, readiness, and liveness
probes through a phase state machine, tracks in-flight connections, and runs
a multi-phase graceful shutdown sequence on SIGTERM/SIGINT.`,
}

// Execute executes the root command and exits the process with a non-zero
// code on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

//nolint:gochecknoinits // mirrors the root-command wiring used throughout this module's ancestry
func init() {
	rootCmd.AddCommand(serve.ServeCmd)
	rootCmd.PersistentFlags().StringVar(&serve.LogFormat, "log-format", "json", "Log format (json|text)")
	rootCmd.PersistentFlags().StringVar(&serve.LogLevel, "log-level", "info", "Log level (debug|info|warn|error|fatal|none)")
}

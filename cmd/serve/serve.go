// Package serve provides the command that runs the orchestrator's HTTP
// probe surface until a termination signal drains and stops it.
package serve

import (
	"fmt"
	"os"
	"strconv"

	"github.com/matthisholleville/lifecycle-orchestrator/internal/cfg"
	"github.com/matthisholleville/lifecycle-orchestrator/internal/clock"
	"github.com/matthisholleville/lifecycle-orchestrator/internal/orchestrator"
	"github.com/matthisholleville/lifecycle-orchestrator/internal/server"
	"github.com/matthisholleville/lifecycle-orchestrator/pkg/logger"
	"github.com/matthisholleville/lifecycle-orchestrator/pkg/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// LogFormat and LogLevel are bound to cmd's persistent flags.
	LogFormat string
	LogLevel  string

	httpAddr           string
	readyProbeInterval int64
	shutdownTimeout    int64
)

// ServeCmd runs the probe server and the lifecycle orchestrator until a
// termination signal drains and stops it.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the probe server and lifecycle orchestrator",
	Long:  `serve starts the readiness/liveness probe surface and drives it through the startup, running, and graceful-shutdown phases.`,
	PreRun: func(cmd *cobra.Command, args []string) {
		bindServeFlagsFunc(cmd.Flags())(cmd, args)
		pushFlagOverridesToEnv(cmd)
	},
	RunE: run,
}

//nolint:gochecknoinits // mirrors the flag registration pattern used throughout this module's ancestry
func init() {
	ServeCmd.Flags().StringVar(&httpAddr, "http-addr", "0.0.0.0:8080", "Address the probe server listens on")
	ServeCmd.Flags().Int64Var(&readyProbeInterval, "ready-probe-interval", 30, "Readiness probe interval in seconds, as configured on the container spec")
	ServeCmd.Flags().Int64Var(&shutdownTimeout, "shutdown-timeout", 540, "Hard deadline, in seconds, for the drain phase of shutdown")
}

// pushFlagOverridesToEnv reflects an explicitly-set flag into the
// environment variable cfg.Load reads, so a command-line override takes
// effect without cfg needing to depend on cobra.
func pushFlagOverridesToEnv(cmd *cobra.Command) {
	if cmd.Flags().Changed("http-addr") {
		_ = os.Setenv("ORCHESTRATOR_HTTP_ADDR", httpAddr)
	}
	if cmd.Flags().Changed("ready-probe-interval") {
		_ = os.Setenv("READYPROBE_INTERVAL", strconv.FormatInt(readyProbeInterval, 10))
	}
	if cmd.Flags().Changed("shutdown-timeout") {
		_ = os.Setenv("SHUTDOWN_TIMEOUT", strconv.FormatInt(shutdownTimeout, 10))
	}
}

func run(_ *cobra.Command, _ []string) error {
	log := logger.MustNew(LogFormat, LogLevel)
	defer func() { _ = log.Sync() }()

	config, err := cfg.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	orch := orchestrator.New(config.OrchestratorConfig(), clock.New(), log, nil)
	orch.OnStateChange(func(newPhase, oldPhase orchestrator.Phase) {
		log.Info("phase transition", zap.String("from", oldPhase.String()), zap.String("to", newPhase.String()))
	})

	srv := server.New(log, config, orch)

	sigHandler := signals.NewHandler(log)
	sigHandler.Listen(orch)
	defer sigHandler.Stop()

	log.Info("serving", zap.String("addr", config.HTTPAddr))
	if err := srv.ListenAndServe(); err != nil {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}

package serve

import (
	"github.com/matthisholleville/lifecycle-orchestrator/cmd/util"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// bindServeFlagsFunc binds the serve command's pflags to viper's global
// instance and their environment-variable equivalents, the same pflag/env
// double-binding the rest of this module's command tree uses. cfg.Load reads
// that same global instance, so a pflag explicitly set on the command line
// is observed there without cfg needing to know cobra or pflag exist.
// pushFlagOverridesToEnv (serve.go) additionally pushes an explicitly-set flag's
// value into the process environment, covering the env-var names the
// specification names directly (READYPROBE_INTERVAL, SHUTDOWN_TIMEOUT).
func bindServeFlagsFunc(flags *pflag.FlagSet) func(*cobra.Command, []string) {
	return func(_ *cobra.Command, _ []string) {
		util.MustBindPFlag("http_addr", flags.Lookup("http-addr"))
		util.MustBindEnv("http_addr", "ORCHESTRATOR_HTTP_ADDR")

		util.MustBindPFlag("ready_probe_interval_seconds", flags.Lookup("ready-probe-interval"))
		util.MustBindEnv("ready_probe_interval_seconds", "READYPROBE_INTERVAL")

		util.MustBindPFlag("shutdown_timeout_seconds", flags.Lookup("shutdown-timeout"))
		util.MustBindEnv("shutdown_timeout_seconds", "SHUTDOWN_TIMEOUT")
	}
}

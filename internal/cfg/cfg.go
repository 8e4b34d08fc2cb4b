// Package cfg loads the orchestrator's configuration from environment
// variables (and, where cmd/serve has bound one, a command-line flag) via
// viper, the way the rest of this module's ancestry binds pflags and env
// vars in cmd/serve.
package cfg

import (
	"strings"

	"github.com/matthisholleville/lifecycle-orchestrator/internal/orchestrator"
	"github.com/spf13/viper"
)

// Config mirrors the lifecycle specification's configuration table exactly:
// the three env vars it names, plus the derived/defaulted timing knobs and
// the probe-path overrides from the external-interfaces table.
type Config struct {
	// ReadyProbeIntervalSeconds is READYPROBE_INTERVAL; used only to derive
	// Phase1DurationMs. Default 30.
	ReadyProbeIntervalSeconds int64 `mapstructure:"ready_probe_interval_seconds"`
	// ShutdownTimeoutSeconds is SHUTDOWN_TIMEOUT; drainTimeoutMs = value *
	// 1000. Default 540.
	ShutdownTimeoutSeconds int64 `mapstructure:"shutdown_timeout_seconds"`
	// DevMode is derived from NODE_ENV != "production".
	DevMode bool `mapstructure:"dev_mode"`

	// ConnectionPollMs is the drain-poll interval. Default 1000.
	ConnectionPollMs int64 `mapstructure:"connection_poll_ms"`
	// ForceExitGraceMs is Phase 3's force-exit grace period. Default 5000.
	ForceExitGraceMs int64 `mapstructure:"force_exit_grace_ms"`

	// HTTPAddr is the address the demo server listens on.
	HTTPAddr string `mapstructure:"http_addr"`
	// ReadyPath, LivePath, and TestPath are the three probe routes from the
	// external-interfaces table. An empty string disables that route.
	ReadyPath string `mapstructure:"ready_path"`
	LivePath  string `mapstructure:"live_path"`
	TestPath  string `mapstructure:"test_path"`
}

const (
	defaultReadyProbeIntervalSeconds = 30
	defaultShutdownTimeoutSeconds    = 540
	defaultConnectionPollMs          = 1000
	defaultForceExitGraceMs          = 5000
	defaultHTTPAddr                  = "0.0.0.0:8080"
	defaultReadyPath                 = "/api/probe/ready"
	defaultLivePath                  = "/api/probe/live"
	defaultTestPath                  = "/api/probe/test"
)

// setDefaults registers every default with viper so Load never has to
// special-case an unset key.
func setDefaults(v *viper.Viper) {
	v.SetDefault("ready_probe_interval_seconds", defaultReadyProbeIntervalSeconds)
	v.SetDefault("shutdown_timeout_seconds", defaultShutdownTimeoutSeconds)
	v.SetDefault("connection_poll_ms", defaultConnectionPollMs)
	v.SetDefault("force_exit_grace_ms", defaultForceExitGraceMs)
	v.SetDefault("http_addr", defaultHTTPAddr)
	v.SetDefault("ready_path", defaultReadyPath)
	v.SetDefault("live_path", defaultLivePath)
	v.SetDefault("test_path", defaultTestPath)
}

// Load builds a Config from environment variables, binding
// READYPROBE_INTERVAL, SHUTDOWN_TIMEOUT, and NODE_ENV exactly as named by
// the specification, plus ORCHESTRATOR_-prefixed overrides for the knobs it
// leaves to implementation defaults. It reads viper's global instance, the
// same instance cmd/serve's flag binding writes to, so a pflag explicitly
// set on the command line is observed here without cfg needing to import
// cobra or pflag itself.
func Load() (*Config, error) {
	v := viper.GetViper()
	setDefaults(v)

	_ = v.BindEnv("ready_probe_interval_seconds", "READYPROBE_INTERVAL")
	_ = v.BindEnv("shutdown_timeout_seconds", "SHUTDOWN_TIMEOUT")
	_ = v.BindEnv("connection_poll_ms", "ORCHESTRATOR_CONNECTION_POLL_MS")
	_ = v.BindEnv("force_exit_grace_ms", "ORCHESTRATOR_FORCE_EXIT_GRACE_MS")
	_ = v.BindEnv("http_addr", "ORCHESTRATOR_HTTP_ADDR")
	_ = v.BindEnv("ready_path", "ORCHESTRATOR_READY_PATH")
	_ = v.BindEnv("live_path", "ORCHESTRATOR_LIVE_PATH")
	_ = v.BindEnv("test_path", "ORCHESTRATOR_TEST_PATH")

	_ = v.BindEnv("node_env", "NODE_ENV")

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}

	c.DevMode = strings.ToLower(v.GetString("node_env")) != "production"

	return &c, nil
}

// OrchestratorConfig derives orchestrator.Config's timing knobs from this
// Config, applying the specification's 1.5x derivation for Phase1DurationMs.
func (c *Config) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		Phase1DurationMs: int64(1.5 * float64(c.ReadyProbeIntervalSeconds) * 1000),
		DrainTimeoutMs:   c.ShutdownTimeoutSeconds * 1000,
		ConnectionPollMs: c.ConnectionPollMs,
		ForceExitGraceMs: c.ForceExitGraceMs,
		DevMode:          c.DevMode,
	}
}

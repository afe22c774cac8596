package config

import "time"

// Config holds all configuration for the proxy process.
type Config struct {
	Engine      EngineConfig      `yaml:"engine"`
	Targets     []TargetConfig    `yaml:"targets"`
	Logging     LoggingConfig     `yaml:"logging"`
	Engineering EngineeringConfig `yaml:"engineering"`
}

// FlowSteering selects how the NIC hash-steers inbound frames across RX
// queues, which in turn decides how ephemeral ports are partitioned
// per-core.
type FlowSteering string

const (
	FlowSteeringPort FlowSteering = "Port"
	FlowSteeringIP   FlowSteering = "Ip"
)

// EngineMode toggles whether select_server may defer backend choice until
// the first client payload arrives.
type EngineMode string

const (
	ModeDelayed   EngineMode = "Delayed"
	ModeDelayedV0 EngineMode = "DelayedV0"
)

// EngineConfig is the `engine.*` key family from spec 6.
type EngineConfig struct {
	Port            uint16           `yaml:"port"`
	IPNet           string           `yaml:"ipnet"`
	MAC             string           `yaml:"mac"`
	Namespace       string           `yaml:"namespace"`
	FlowSteering    FlowSteering     `yaml:"flow_steering"`
	Timeouts        TimeoutsConfig   `yaml:"timeouts"`
	DetailedRecords bool             `yaml:"detailed_records"`
	Mode            EngineMode       `yaml:"mode"`
	Balancer        string           `yaml:"balancer"`
	RateLimits      ConnectionLimits `yaml:"rate_limits"`
	TestSize        int              `yaml:"test_size"`
	Cores           int              `yaml:"cores"`
}

// TimeoutsConfig is `engine.timeouts.*`.
type TimeoutsConfig struct {
	Established time.Duration `yaml:"established"`
	Handshake   time.Duration `yaml:"handshake"`
}

// ConnectionLimits configures the SYN admission rate limiter
// (internal/adapter/security).
type ConnectionLimits struct {
	GlobalPerSecond int           `yaml:"global_per_second"`
	PerIPPerSecond  int           `yaml:"per_ip_per_second"`
	Burst           int           `yaml:"burst"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
}

// TargetConfig is one entry of `targets[]` from spec 6: a configured
// backend the balancer may route to.
type TargetConfig struct {
	ID       string  `yaml:"id"`
	IP       string  `yaml:"ip"`
	MAC      string  `yaml:"mac"`
	LinuxIf  string  `yaml:"linux_if"`
	Port     uint16  `yaml:"port"`
	Priority int     `yaml:"priority"`
	Weight   float64 `yaml:"weight"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// EngineeringConfig holds development/debugging configuration.
type EngineeringConfig struct {
	ShowNerdStats bool `yaml:"show_nerdstats"`
}

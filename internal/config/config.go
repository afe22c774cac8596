package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	DefaultPort      = 9443
	DefaultNamespace = "oxide0"

	DefaultEstablishedTimeout = 200 * time.Millisecond
	DefaultHandshakeTimeout   = 5 * time.Second

	// DefaultFileWriteDelay gives the editor time to finish writing before
	// the config is re-read off a fsnotify event.
	DefaultFileWriteDelay = 150 * time.Millisecond
)

var (
	lastReload  time.Time
	reloadMutex sync.Mutex
)

// DefaultConfig returns a configuration with sensible defaults: one target
// pointing at a loopback backend, priority balancing, no rate limiting.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Port:         DefaultPort,
			Namespace:    DefaultNamespace,
			FlowSteering: FlowSteeringIP,
			Timeouts: TimeoutsConfig{
				Established: DefaultEstablishedTimeout,
				Handshake:   DefaultHandshakeTimeout,
			},
			Mode:     ModeDelayed,
			Balancer: "priority",
			RateLimits: ConnectionLimits{
				GlobalPerSecond: 0,
				PerIPPerSecond:  0,
				Burst:           1,
				CleanupInterval: 5 * time.Minute,
				IdleTimeout:     10 * time.Minute,
			},
			Cores: 1,
		},
		Targets: []TargetConfig{
			{ID: "default", IP: "127.0.0.1", Port: 8080, Priority: 100, Weight: 1},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load loads configuration from file and environment variables, with the
// `OXIDE_` env prefix taking precedence over the file. onConfigChange is
// invoked (debounced) whenever the config file changes on disk.
func Load(onConfigChange func()) (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("OXIDE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if configFile := os.Getenv("OXIDE_CONFIG_FILE"); configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	viper.WatchConfig()

	if onConfigChange != nil {
		viper.OnConfigChange(func(e fsnotify.Event) {
			reloadMutex.Lock()
			defer reloadMutex.Unlock()

			now := time.Now()
			if now.Sub(lastReload) < 500*time.Millisecond {
				return // ignore rapid-fire duplicate events
			}
			lastReload = now

			time.Sleep(DefaultFileWriteDelay)
			onConfigChange()
		})
	}

	return cfg, nil
}

// Validate checks the engine.namespace / target invariants spec 7 calls
// Configuration errors: fatal at startup, never recovered at runtime.
func (c *Config) Validate() error {
	if c.Engine.Port == 0 {
		return fmt.Errorf("engine.port must be non-zero")
	}
	if c.Engine.Namespace == "" {
		return fmt.Errorf("engine.namespace must not be empty")
	}
	switch c.Engine.FlowSteering {
	case FlowSteeringPort, FlowSteeringIP:
	default:
		return fmt.Errorf("engine.flow_steering must be %q or %q, got %q", FlowSteeringPort, FlowSteeringIP, c.Engine.FlowSteering)
	}
	switch c.Engine.Mode {
	case ModeDelayed, ModeDelayedV0:
	default:
		return fmt.Errorf("engine.mode must be %q or %q, got %q", ModeDelayed, ModeDelayedV0, c.Engine.Mode)
	}
	if c.Engine.Timeouts.Established <= 0 {
		return fmt.Errorf("engine.timeouts.established must be positive")
	}
	if len(c.Targets) == 0 {
		return fmt.Errorf("targets must contain at least one entry")
	}
	seen := make(map[string]struct{}, len(c.Targets))
	for _, t := range c.Targets {
		if t.ID == "" {
			return fmt.Errorf("targets[].id must not be empty")
		}
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("targets[].id %q is duplicated", t.ID)
		}
		seen[t.ID] = struct{}{}
		if t.IP == "" {
			return fmt.Errorf("target %q: ip must not be empty", t.ID)
		}
		if t.Port == 0 {
			return fmt.Errorf("target %q: port must be non-zero", t.ID)
		}
	}
	return nil
}

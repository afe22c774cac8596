package config

import (
	"os"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Engine.Port != DefaultPort {
		t.Errorf("expected port %d, got %d", DefaultPort, cfg.Engine.Port)
	}
	if cfg.Engine.Namespace != DefaultNamespace {
		t.Errorf("expected namespace %s, got %s", DefaultNamespace, cfg.Engine.Namespace)
	}
	if cfg.Engine.FlowSteering != FlowSteeringIP {
		t.Errorf("expected flow steering %s, got %s", FlowSteeringIP, cfg.Engine.FlowSteering)
	}
	if cfg.Engine.Mode != ModeDelayed {
		t.Errorf("expected mode %s, got %s", ModeDelayed, cfg.Engine.Mode)
	}
	if cfg.Engine.Timeouts.Established != DefaultEstablishedTimeout {
		t.Errorf("expected established timeout %v, got %v", DefaultEstablishedTimeout, cfg.Engine.Timeouts.Established)
	}
	if len(cfg.Targets) != 1 {
		t.Fatalf("expected 1 default target, got %d", len(cfg.Targets))
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level info, got %s", cfg.Logging.Level)
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() returned unexpected error: %v", err)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	testCases := []struct {
		name        string
		modify      func(*Config)
		errContains string
	}{
		{"zero port", func(c *Config) { c.Engine.Port = 0 }, "engine.port"},
		{"empty namespace", func(c *Config) { c.Engine.Namespace = "" }, "engine.namespace"},
		{"bad flow steering", func(c *Config) { c.Engine.FlowSteering = "Bogus" }, "flow_steering"},
		{"bad mode", func(c *Config) { c.Engine.Mode = "Bogus" }, "engine.mode"},
		{"zero established timeout", func(c *Config) { c.Engine.Timeouts.Established = 0 }, "established"},
		{"no targets", func(c *Config) { c.Targets = nil }, "targets"},
		{"empty target id", func(c *Config) { c.Targets[0].ID = "" }, "id"},
		{"empty target ip", func(c *Config) { c.Targets[0].IP = "" }, "ip"},
		{"zero target port", func(c *Config) { c.Targets[0].Port = 0 }, "port"},
		{"duplicate target id", func(c *Config) {
			c.Targets = append(c.Targets, TargetConfig{ID: c.Targets[0].ID, IP: "10.0.0.2", Port: 80})
		}, "duplicated"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.modify(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tc.errContains)
			}
			if !contains(err.Error(), tc.errContains) {
				t.Errorf("expected error containing %q, got: %v", tc.errContains, err)
			}
		})
	}
}

func TestLoadConfigWithoutFile(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Engine.Port != DefaultPort {
		t.Errorf("expected default port %d, got %d", DefaultPort, cfg.Engine.Port)
	}
}

func TestLoadConfigWithEnvironmentVariables(t *testing.T) {
	testEnvVars := map[string]string{
		"OXIDE_ENGINE_PORT":      "9999",
		"OXIDE_ENGINE_NAMESPACE": "ns-test",
		"OXIDE_LOGGING_LEVEL":    "debug",
	}

	for key, value := range testEnvVars {
		os.Setenv(key, value)
	}
	defer func() {
		for key := range testEnvVars {
			os.Unsetenv(key)
		}
	}()

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load with env vars failed: %v", err)
	}

	if cfg.Engine.Port != 9999 {
		t.Errorf("expected port 9999 from env var, got %d", cfg.Engine.Port)
	}
	if cfg.Engine.Namespace != "ns-test" {
		t.Errorf("expected namespace ns-test from env var, got %s", cfg.Engine.Namespace)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug from env var, got %s", cfg.Logging.Level)
	}
}

func TestLoadConfigWithRateLimitEnvironmentVariables(t *testing.T) {
	testEnvVars := map[string]string{
		"OXIDE_ENGINE_RATE_LIMITS_GLOBAL_PER_SECOND": "500",
		"OXIDE_ENGINE_RATE_LIMITS_PER_IP_PER_SECOND": "50",
		"OXIDE_ENGINE_RATE_LIMITS_CLEANUP_INTERVAL":  "10m",
	}

	for key, value := range testEnvVars {
		os.Setenv(key, value)
	}
	defer func() {
		for key := range testEnvVars {
			os.Unsetenv(key)
		}
	}()

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load with rate limit env vars failed: %v", err)
	}

	if cfg.Engine.RateLimits.GlobalPerSecond != 500 {
		t.Errorf("expected global rate limit 500, got %d", cfg.Engine.RateLimits.GlobalPerSecond)
	}
	if cfg.Engine.RateLimits.PerIPPerSecond != 50 {
		t.Errorf("expected per-ip rate limit 50, got %d", cfg.Engine.RateLimits.PerIPPerSecond)
	}
	if cfg.Engine.RateLimits.CleanupInterval != 10*time.Minute {
		t.Errorf("expected cleanup interval 10m, got %v", cfg.Engine.RateLimits.CleanupInterval)
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return len(substr) == 0
}

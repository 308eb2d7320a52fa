// SPDX-License-Identifier: Apache-2.0

// Package config loads runtime configuration from defaults, an optional
// YAML file, and HELMSMAN_-prefixed environment variables, in that
// precedence order.
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Log          LogConfig          `koanf:"log"`
	Session      SessionConfig      `koanf:"session"`
	Retry        RetryConfig        `koanf:"retry"`
	Breaker      BreakerConfig      `koanf:"breaker"`
	Journal      JournalConfig      `koanf:"journal"`
	Policy       PolicyConfig       `koanf:"policy"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type SessionConfig struct {
	MaxIterations int           `koanf:"max_iterations"`
	MaxTokens     int           `koanf:"max_tokens"`
	MaxAPICalls   int           `koanf:"max_api_calls"`
	MaxDuration   time.Duration `koanf:"max_duration"`
	ExecTimeout   time.Duration `koanf:"exec_timeout"`
	KeepLast      int           `koanf:"keep_last"`
	MaxMessageAge time.Duration `koanf:"max_message_age"`
	// TerminateOnDependencyDown ends the session when the decision source
	// circuit opens; otherwise a degraded result is surfaced.
	TerminateOnDependencyDown bool `koanf:"terminate_on_dependency_down"`
}

type RetryConfig struct {
	MaxAttempts int           `koanf:"max_attempts"`
	BaseDelay   time.Duration `koanf:"base_delay"`
	MaxDelay    time.Duration `koanf:"max_delay"`
	Jitter      float64       `koanf:"jitter"`
}

type BreakerConfig struct {
	FailureThreshold int           `koanf:"failure_threshold"`
	SuccessThreshold int           `koanf:"success_threshold"`
	OpenDuration     time.Duration `koanf:"open_duration"`
}

type JournalConfig struct {
	Path       string `koanf:"path"`
	SQLitePath string `koanf:"sqlite_path"`
}

type PolicyRule struct {
	ID         string `koanf:"id"`
	Effect     string `koanf:"effect"` // allow, deny, confirm
	Type       string `koanf:"type"`
	Target     string `koanf:"target"`
	ArgPattern string `koanf:"arg_pattern"`
	Reason     string `koanf:"reason"`
}

type PolicyConfig struct {
	Rules []PolicyRule `koanf:"rules"`
}

type OrchestratorConfig struct {
	PhaseOrder          []string `koanf:"phase_order"`
	AbortOnPhaseFailure bool     `koanf:"abort_on_phase_failure"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Defaults
	k.Set("log.level", "info")
	k.Set("log.format", "text")

	k.Set("session.max_iterations", 50)
	k.Set("session.max_api_calls", 100)
	k.Set("session.max_duration", "10m")
	k.Set("session.exec_timeout", "2m")
	k.Set("session.keep_last", 20)
	k.Set("session.terminate_on_dependency_down", true)

	k.Set("retry.max_attempts", 3)
	k.Set("retry.base_delay", "1s")
	k.Set("retry.max_delay", "30s")
	k.Set("retry.jitter", 0.1)

	k.Set("breaker.failure_threshold", 5)
	k.Set("breaker.success_threshold", 2)
	k.Set("breaker.open_duration", "30s")

	k.Set("orchestrator.phase_order", []string{"analysis", "implementation", "review"})

	// 1. Load from file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// 2. Load from ENV (HELMSMAN_SESSION_MAX_ITERATIONS -> session.max_iterations)
	if err := k.Load(env.Provider("HELMSMAN_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "HELMSMAN_")), "_", ".", 1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

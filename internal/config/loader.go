package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/mender/internal/gate"
)

// DefaultPath is the config file looked up in the working directory.
const DefaultPath = "mender.yaml"

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := base()
	applyDefaults(cfg)
	return cfg
}

func base() *Config {
	return &Config{
		MaxIterations: 3,
		SandboxRoot:   "./sandbox",
		Python:        "python3",
		Concurrency:   1,
		Timeouts: Timeouts{
			Oracle:      "120s",
			HarnessLoad: "15s",
			Execution:   "30s",
			Analysis:    "60s",
		},
		Oracle: Oracle{
			Provider:    "gemini",
			Model:       "gemini-2.5-flash",
			MaxTokens:   8192,
			Temperature: 0.2,
		},
		Log: Log{
			Level:     "info",
			JSONLPath: filepath.Join("logs", "experiment_data.jsonl"),
		},
	}
}

// Load reads and parses a configuration from the given YAML file path.
// Scalars omitted from the file keep their defaults, so an explicit zero
// (for example max_iterations: 0) reaches Validate instead of being
// replaced. Collections are defaulted only when omitted entirely.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := base()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

// LoadDefault loads path when given. Otherwise it tries ./mender.yaml and
// ~/.mender/config.yaml and falls back to Default when neither exists.
func LoadDefault(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	candidates := []string{DefaultPath}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".mender", "config.yaml"))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return Load(p)
		}
	}
	return Default(), nil
}

func applyDefaults(cfg *Config) {
	if cfg.Denylist == nil {
		cfg.Denylist = gate.DefaultDenylist().Modules
	}
	if cfg.BuiltinsDenied == nil {
		cfg.BuiltinsDenied = gate.DefaultDenylist().Builtins
	}
	if cfg.Checks == nil {
		cfg.Checks = map[string]Check{
			"pylint": {
				Command: "pylint --output-format=parseable --disable=R {file}",
				Parser:  "pylint",
				Timeout: "60s",
			},
		}
	}
	if len(cfg.Log.Sinks) == 0 {
		cfg.Log.Sinks = []string{"jsonl"}
	}
	for name, c := range cfg.Checks {
		if c.Parser == "" {
			c.Parser = "generic"
		}
		if c.Timeout == "" {
			c.Timeout = cfg.Timeouts.Analysis
		}
		cfg.Checks[name] = c
	}
}

// GateDenylist returns the configured denylist in the gate's form.
func (c *Config) GateDenylist() gate.Denylist {
	return gate.Denylist{Modules: c.Denylist, Builtins: c.BuiltinsDenied}
}

// Duration parses s, returning def when s is empty or malformed. Validate
// reports malformed values separately.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

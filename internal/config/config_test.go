package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validConfig = `
max_iterations: 5
sandbox_root: /tmp/mender-sandbox
python: python3.12
concurrency: 4
timeouts:
  oracle: 90s
  execution: 20s
oracle:
  provider: anthropic
  model: claude-sonnet-4-5
  max_tokens: 4096
denylist:
  os: [remove, system]
  subprocess: ["*"]
builtins_denied: [eval]
checks:
  pylint:
    command: "pylint --output-format=parseable {file}"
    parser: pylint
  mypy:
    command: "mypy {file}"
log:
  level: debug
  sinks: [jsonl, sqlite]
  jsonl_path: out/steps.jsonl
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mender.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Valid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxIterations != 5 || cfg.Concurrency != 4 || cfg.Python != "python3.12" {
		t.Errorf("unexpected scalars: %+v", cfg)
	}
	if cfg.Oracle.Provider != "anthropic" || cfg.Oracle.MaxTokens != 4096 {
		t.Errorf("unexpected oracle: %+v", cfg.Oracle)
	}
	if cfg.Timeouts.Oracle != "90s" {
		t.Errorf("expected oracle timeout override, got %q", cfg.Timeouts.Oracle)
	}
	if cfg.Timeouts.HarnessLoad != "15s" {
		t.Errorf("omitted timeout should keep default, got %q", cfg.Timeouts.HarnessLoad)
	}
	if len(cfg.Denylist) != 2 {
		t.Errorf("file denylist should replace the default, got %v", cfg.Denylist)
	}
	if got := cfg.Checks["mypy"]; got.Parser != "generic" || got.Timeout != "60s" {
		t.Errorf("check defaults not applied: %+v", got)
	}
	if errs := Validate(cfg); len(errs) != 0 {
		t.Errorf("expected valid config, got %v", errs)
	}
}

func TestLoad_Missing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_BadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "max_iterations: [1"))
	if err == nil || !strings.Contains(err.Error(), "parsing config YAML") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestLoad_ExplicitZeroIterationsIsNotDefaulted(t *testing.T) {
	cfg, err := Load(writeConfig(t, "max_iterations: 0\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxIterations != 0 {
		t.Fatalf("expected 0 to survive loading, got %d", cfg.MaxIterations)
	}
	errs := Validate(cfg)
	if len(errs) != 1 || errs[0].Field != "max_iterations" {
		t.Errorf("expected one max_iterations error, got %v", errs)
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if errs := Validate(cfg); len(errs) != 0 {
		t.Fatalf("default config invalid: %v", errs)
	}
	if cfg.MaxIterations != 3 || cfg.Oracle.Provider != "gemini" {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if !cfg.GateDenylist().Whole("subprocess") {
		t.Error("default denylist should deny subprocess")
	}
	if _, ok := cfg.Checks["pylint"]; !ok {
		t.Error("default config should run pylint")
	}
}

func TestLoadDefault_FallsBack(t *testing.T) {
	dir := t.TempDir()
	wd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })
	t.Setenv("HOME", dir)

	cfg, err := LoadDefault("")
	if err != nil {
		t.Fatalf("load default: %v", err)
	}
	if cfg.MaxIterations != 3 {
		t.Errorf("expected built-in defaults, got %+v", cfg)
	}

	if err := os.WriteFile(filepath.Join(dir, DefaultPath), []byte("max_iterations: 7\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadDefault("")
	if err != nil {
		t.Fatalf("load default: %v", err)
	}
	if cfg.MaxIterations != 7 {
		t.Errorf("expected ./mender.yaml to be used, got %d", cfg.MaxIterations)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*Config)
		field string
	}{
		{"iterations too high", func(c *Config) { c.MaxIterations = 11 }, "max_iterations"},
		{"iterations negative", func(c *Config) { c.MaxIterations = -1 }, "max_iterations"},
		{"empty sandbox", func(c *Config) { c.SandboxRoot = "" }, "sandbox_root"},
		{"no python", func(c *Config) { c.Python = "" }, "python"},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }, "concurrency"},
		{"bad timeout", func(c *Config) { c.Timeouts.Execution = "soon" }, "timeouts.execution"},
		{"negative timeout", func(c *Config) { c.Timeouts.Oracle = "-5s" }, "timeouts.oracle"},
		{"bad provider", func(c *Config) { c.Oracle.Provider = "palm" }, "oracle.provider"},
		{"no model", func(c *Config) { c.Oracle.Model = "" }, "oracle.model"},
		{"bad parser", func(c *Config) { c.Checks["pylint"] = Check{Command: "pylint", Parser: "eslint"} }, "checks.pylint.parser"},
		{"no command", func(c *Config) { c.Checks["x"] = Check{Parser: "generic"} }, "checks.x.command"},
		{"empty denylist entry", func(c *Config) { c.Denylist["pickle"] = nil }, "denylist.pickle"},
		{"bad level", func(c *Config) { c.Log.Level = "trace" }, "log.level"},
		{"bad sink", func(c *Config) { c.Log.Sinks = []string{"kafka"} }, "log.sinks"},
		{"postgres without url", func(c *Config) { c.Log.Sinks = []string{"postgres"} }, "log.postgres_url"},
		{"jsonl without path", func(c *Config) { c.Log.JSONLPath = "" }, "log.jsonl_path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.edit(cfg)
			errs := Validate(cfg)
			if len(errs) != 1 {
				t.Fatalf("expected exactly one error, got %v", errs)
			}
			if errs[0].Field != tt.field {
				t.Errorf("field = %q, want %q", errs[0].Field, tt.field)
			}
		})
	}
}

func TestValidate_CollectsAll(t *testing.T) {
	cfg := Default()
	cfg.MaxIterations = 50
	cfg.Concurrency = 0
	cfg.Oracle.Provider = ""
	if errs := Validate(cfg); len(errs) != 3 {
		t.Errorf("expected 3 errors, got %v", errs)
	}
}

func TestValidateIterations(t *testing.T) {
	for n := MinIterations; n <= MaxIterations; n++ {
		if e := ValidateIterations(n); e != nil {
			t.Errorf("%d should be valid: %v", n, e)
		}
	}
	e := ValidateIterations(11)
	if e == nil || e.Error() != "max_iterations: must be between 1 and 10, got 11" {
		t.Errorf("unexpected error %v", e)
	}
}

func TestDuration(t *testing.T) {
	if d := Duration("", time.Second); d != time.Second {
		t.Errorf("empty: %v", d)
	}
	if d := Duration("bogus", time.Second); d != time.Second {
		t.Errorf("bogus: %v", d)
	}
	if d := Duration("250ms", time.Second); d != 250*time.Millisecond {
		t.Errorf("250ms: %v", d)
	}
}

func TestEnv_CredentialsAndOverrides(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "g-key")
	t.Setenv("MENDER_MAX_ITERATIONS", "2")
	t.Setenv("MENDER_MODEL", "gemini-2.5-pro")

	v, err := NewEnv("")
	if err != nil {
		t.Fatalf("env: %v", err)
	}
	key, err := APIKey(v, "gemini")
	if err != nil || key != "g-key" {
		t.Fatalf("APIKey = %q, %v", key, err)
	}

	cfg := Default()
	ApplyEnv(cfg, v)
	if cfg.MaxIterations != 2 || cfg.Oracle.Model != "gemini-2.5-pro" {
		t.Errorf("overrides not applied: %d %q", cfg.MaxIterations, cfg.Oracle.Model)
	}
	if cfg.Concurrency != 1 {
		t.Errorf("unset override changed concurrency to %d", cfg.Concurrency)
	}
}

func TestEnv_DotEnvFile(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("ANTHROPIC_API_KEY=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	v, err := NewEnv(path)
	if err != nil {
		t.Fatalf("env: %v", err)
	}
	key, err := APIKey(v, "anthropic")
	if err != nil || key != "from-file" {
		t.Fatalf("APIKey = %q, %v", key, err)
	}
}

func TestEnv_MissingCredentials(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("MENDER_OPENAI_API_KEY", "")
	v, err := NewEnv("")
	if err != nil {
		t.Fatal(err)
	}
	_, err = APIKey(v, "openai")
	if !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
	if !strings.Contains(err.Error(), "OPENAI_API_KEY") {
		t.Errorf("error should name the variable: %v", err)
	}
}

func TestMarshal_RoundTrip(t *testing.T) {
	data, err := Marshal(Default())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	cfg, err := Load(writeConfig(t, string(data)))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if errs := Validate(cfg); len(errs) != 0 {
		t.Errorf("round-tripped default invalid: %v", errs)
	}
}

package config

// Config is the top-level configuration parsed from mender.yaml.
type Config struct {
	MaxIterations  int                 `yaml:"max_iterations"`
	SandboxRoot    string              `yaml:"sandbox_root"`
	OutputDir      string              `yaml:"output_dir"`
	Python         string              `yaml:"python"`
	Concurrency    int                 `yaml:"concurrency"`
	Timeouts       Timeouts            `yaml:"timeouts"`
	Oracle         Oracle              `yaml:"oracle"`
	Denylist       map[string][]string `yaml:"denylist"`
	BuiltinsDenied []string            `yaml:"builtins_denied"`
	Checks         map[string]Check    `yaml:"checks"`
	Log            Log                 `yaml:"log"`
	MetricsPath    string              `yaml:"metrics_path"`
	PromptsDir     string              `yaml:"prompts_dir"`
	RunsDir        string              `yaml:"runs_dir"`
}

// Timeouts are Go duration strings ("30s", "2m").
type Timeouts struct {
	Oracle      string `yaml:"oracle"`
	HarnessLoad string `yaml:"harness_load"`
	Execution   string `yaml:"execution"`
	Analysis    string `yaml:"analysis"`
}

// Oracle selects the text-generation provider.
type Oracle struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// Check is an external analyzer run during ANALYZE. {file} in Command is
// replaced by the candidate's file name.
type Check struct {
	Command string `yaml:"command"`
	Parser  string `yaml:"parser"`
	Timeout string `yaml:"timeout"`
}

// Log configures operator logging and the step-log sinks.
type Log struct {
	Level       string   `yaml:"level"`
	Sinks       []string `yaml:"sinks"`
	JSONLPath   string   `yaml:"jsonl_path"`
	SQLitePath  string   `yaml:"sqlite_path"`
	PostgresURL string   `yaml:"postgres_url"`
}

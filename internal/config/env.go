package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MENDER"

// credentialKeys lists, per provider, the keys checked for an API key.
var credentialKeys = map[string][]string{
	"gemini":    {"gemini_api_key", "google_api_key"},
	"anthropic": {"anthropic_api_key"},
	"openai":    {"openai_api_key"},
}

// NewEnv returns a viper instance bound to MENDER_* variables and the
// provider credential variables. envFile, when it exists, is read as a
// dotenv file; process environment wins over it.
func NewEnv(envFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for _, keys := range credentialKeys {
		for _, k := range keys {
			upper := strings.ToUpper(k)
			if err := v.BindEnv(k, EnvPrefix+"_"+upper, upper); err != nil {
				return nil, fmt.Errorf("bind %s: %w", k, err)
			}
		}
	}

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			v.SetConfigFile(envFile)
			v.SetConfigType("env")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read %s: %w", envFile, err)
			}
		}
	}
	return v, nil
}

// ErrMissingCredentials is returned when the configured provider has no
// API key in the environment.
var ErrMissingCredentials = errors.New("missing API key")

// APIKey returns the credential for provider.
func APIKey(v *viper.Viper, provider string) (string, error) {
	keys, ok := credentialKeys[provider]
	if !ok {
		return "", fmt.Errorf("unrecognized provider %q", provider)
	}
	for _, k := range keys {
		if val := strings.TrimSpace(v.GetString(k)); val != "" {
			return val, nil
		}
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = strings.ToUpper(k)
	}
	return "", fmt.Errorf("%w for %s: set %s", ErrMissingCredentials, provider, strings.Join(names, " or "))
}

// ApplyEnv copies MENDER_* overrides onto cfg.
func ApplyEnv(cfg *Config, v *viper.Viper) {
	if v.IsSet("max_iterations") {
		cfg.MaxIterations = v.GetInt("max_iterations")
	}
	if v.IsSet("concurrency") {
		cfg.Concurrency = v.GetInt("concurrency")
	}
	if s := v.GetString("sandbox_root"); s != "" {
		cfg.SandboxRoot = s
	}
	if s := v.GetString("output_dir"); s != "" {
		cfg.OutputDir = s
	}
	if s := v.GetString("python"); s != "" {
		cfg.Python = s
	}
	if s := v.GetString("provider"); s != "" {
		cfg.Oracle.Provider = s
	}
	if s := v.GetString("model"); s != "" {
		cfg.Oracle.Model = s
	}
	if s := v.GetString("log_level"); s != "" {
		cfg.Log.Level = s
	}
	if s := v.GetString("postgres_url"); s != "" {
		cfg.Log.PostgresURL = s
	}
}

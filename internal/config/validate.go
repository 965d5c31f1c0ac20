package config

import (
	"fmt"
	"sort"
	"time"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Bounds for max_iterations. Values outside are rejected, never clamped.
const (
	MinIterations = 1
	MaxIterations = 10
)

var recognizedParsers = map[string]bool{
	"pylint":  true,
	"pytest":  true,
	"generic": true,
}

var recognizedProviders = map[string]bool{
	"gemini":    true,
	"anthropic": true,
	"openai":    true,
}

var recognizedSinks = map[string]bool{
	"jsonl":    true,
	"sqlite":   true,
	"postgres": true,
}

var recognizedLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// ValidateIterations checks the iteration budget on its own so callers can
// reject it before doing anything else.
func ValidateIterations(n int) *ValidationError {
	if n < MinIterations || n > MaxIterations {
		return &ValidationError{
			Field:   "max_iterations",
			Message: fmt.Sprintf("must be between %d and %d, got %d", MinIterations, MaxIterations, n),
		}
	}
	return nil
}

// Validate checks a Config for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError

	if e := ValidateIterations(cfg.MaxIterations); e != nil {
		errs = append(errs, *e)
	}
	if cfg.SandboxRoot == "" {
		errs = append(errs, ValidationError{Field: "sandbox_root", Message: "is required"})
	}
	if cfg.Python == "" {
		errs = append(errs, ValidationError{Field: "python", Message: "is required"})
	}
	if cfg.Concurrency < 1 {
		errs = append(errs, ValidationError{Field: "concurrency", Message: fmt.Sprintf("must be at least 1, got %d", cfg.Concurrency)})
	}

	for _, t := range []struct {
		field string
		value string
	}{
		{"timeouts.oracle", cfg.Timeouts.Oracle},
		{"timeouts.harness_load", cfg.Timeouts.HarnessLoad},
		{"timeouts.execution", cfg.Timeouts.Execution},
		{"timeouts.analysis", cfg.Timeouts.Analysis},
	} {
		validateDuration(t.field, t.value, &errs)
	}

	if !recognizedProviders[cfg.Oracle.Provider] {
		errs = append(errs, ValidationError{Field: "oracle.provider", Message: fmt.Sprintf("unrecognized provider %q", cfg.Oracle.Provider)})
	}
	if cfg.Oracle.Model == "" {
		errs = append(errs, ValidationError{Field: "oracle.model", Message: "is required"})
	}
	if cfg.Oracle.MaxTokens < 0 {
		errs = append(errs, ValidationError{Field: "oracle.max_tokens", Message: "must not be negative"})
	}

	for mod, attrs := range cfg.Denylist {
		if mod == "" {
			errs = append(errs, ValidationError{Field: "denylist", Message: "module name must not be empty"})
		}
		if len(attrs) == 0 {
			errs = append(errs, ValidationError{Field: "denylist." + mod, Message: "needs at least one attribute or \"*\""})
		}
	}

	names := make([]string, 0, len(cfg.Checks))
	for name := range cfg.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		check := cfg.Checks[name]
		prefix := "checks." + name
		if check.Command == "" {
			errs = append(errs, ValidationError{Field: prefix + ".command", Message: "is required"})
		}
		if check.Parser != "" && !recognizedParsers[check.Parser] {
			errs = append(errs, ValidationError{Field: prefix + ".parser", Message: fmt.Sprintf("unrecognized parser %q", check.Parser)})
		}
		validateDuration(prefix+".timeout", check.Timeout, &errs)
	}

	if !recognizedLevels[cfg.Log.Level] {
		errs = append(errs, ValidationError{Field: "log.level", Message: fmt.Sprintf("unrecognized level %q", cfg.Log.Level)})
	}
	for _, sink := range cfg.Log.Sinks {
		if !recognizedSinks[sink] {
			errs = append(errs, ValidationError{Field: "log.sinks", Message: fmt.Sprintf("unrecognized sink %q", sink)})
			continue
		}
		if sink == "jsonl" && cfg.Log.JSONLPath == "" {
			errs = append(errs, ValidationError{Field: "log.jsonl_path", Message: "is required for the jsonl sink"})
		}
		if sink == "postgres" && cfg.Log.PostgresURL == "" {
			errs = append(errs, ValidationError{Field: "log.postgres_url", Message: "is required for the postgres sink"})
		}
	}

	return errs
}

func validateDuration(field, value string, errs *[]ValidationError) {
	if value == "" {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, ValidationError{Field: field, Message: fmt.Sprintf("invalid duration %q", value)})
		return
	}
	if d <= 0 {
		*errs = append(*errs, ValidationError{Field: field, Message: "must be positive"})
	}
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lucasnoah/mender/internal/config"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var (
	configFile string
	envFile    string
	verbose    bool
	logger     = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "mender",
	Short: "mender: a self-healing repair loop for Python modules",
	Long: `mender repairs defective Python modules with a bounded loop:
analyze the source, ask a language model for a fix, then validate the fix by
generating and running tests in a sandbox. Failures are fed back into the
next attempt until the tests pass or the iteration budget runs out.

Step logs go to logs/experiment_data.jsonl and ~/.mender/mender.db by default.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = newLogger("warn", verbose)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to mender.yaml")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with provider credentials")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(promptsCmd)
	rootCmd.AddCommand(statsCmd)
}

// newLogger builds the operator logger on stderr. verbose forces debug.
func newLogger(level string, verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	if verbose {
		lvl = zapcore.DebugLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return l, nil
}

// loadConfig resolves the configuration file and MENDER_* overrides. The
// returned viper instance also carries provider credentials.
func loadConfig() (*config.Config, *viper.Viper, error) {
	cfg, err := config.LoadDefault(configFile)
	if err != nil {
		return nil, nil, err
	}
	v, err := config.NewEnv(envFile)
	if err != nil {
		return nil, nil, err
	}
	config.ApplyEnv(cfg, v)
	return cfg, v, nil
}

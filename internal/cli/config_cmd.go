package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/mender/internal/config"
	"github.com/lucasnoah/mender/internal/fsutil"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create, validate and inspect configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init [PATH]",
	Short: "Write the default configuration to mender.yaml",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.DefaultPath
		if len(args) == 1 {
			path = args[0]
		}
		force, _ := cmd.Flags().GetBool("force")
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		data, err := config.Marshal(config.Default())
		if err != nil {
			return fmt.Errorf("marshalling config: %w", err)
		}
		if err := fsutil.WriteAtomic(path, data, 0o644); err != nil {
			return err
		}
		cmd.Printf("Wrote %s.\n", path)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration file, environment overrides and credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, v, err := loadConfig()
		if err != nil {
			return err
		}

		errs := config.Validate(cfg)
		if _, err := config.APIKey(v, cfg.Oracle.Provider); err != nil {
			errs = append(errs, config.ValidationError{Field: "credentials", Message: err.Error()})
		}
		if len(errs) == 0 {
			cmd.Printf("[%s] configuration is valid (provider %s, model %s)\n", passLabel, cfg.Oracle.Provider, cfg.Oracle.Model)
			return nil
		}
		for _, e := range errs {
			cmd.Printf("[%s] %s\n", failLabel, e)
		}
		return fmt.Errorf("config has %d validation error(s)", len(errs))
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration with defaults and overrides applied",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		data, err := config.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshalling config: %w", err)
		}
		cmd.Print(string(data))
		return nil
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/mender/internal/prompt"
)

var promptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "Inspect and customise the oracle prompt templates",
}

var promptsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the built-in templates",
	Run: func(cmd *cobra.Command, args []string) {
		for _, n := range prompt.Names() {
			fmt.Fprintln(cmd.OutOrStdout(), n)
		}
	},
}

var promptsShowCmd = &cobra.Command{
	Use:   "show NAME",
	Short: "Print a template, honouring prompts_dir overrides",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		tmpl, err := prompt.Load(args[0], cfg.PromptsDir)
		if err != nil {
			return err
		}
		cmd.Print(tmpl)
		return nil
	},
}

var promptsInstallCmd = &cobra.Command{
	Use:   "install DIR",
	Short: "Copy the built-in templates into DIR for editing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		written, err := prompt.Install(args[0])
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if len(written) == 0 {
			fmt.Fprintln(w, "All templates already present.")
			return nil
		}
		for _, n := range written {
			fmt.Fprintf(w, "wrote %s\n", n)
		}
		fmt.Fprintf(w, "Set prompts_dir: %s in mender.yaml to use them.\n", args[0])
		return nil
	},
}

func init() {
	promptsCmd.AddCommand(promptsListCmd)
	promptsCmd.AddCommand(promptsShowCmd)
	promptsCmd.AddCommand(promptsInstallCmd)
}

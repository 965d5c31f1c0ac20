package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/mender/internal/checks"
	"github.com/lucasnoah/mender/internal/detect"
	"github.com/lucasnoah/mender/internal/gate"
)

var checkCmd = &cobra.Command{
	Use:   "check FILE",
	Short: "Run the content gate, pattern detector and analyzers on one file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		skipAnalyzers, _ := cmd.Flags().GetBool("no-analyzers")

		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		src, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		ctx := cmd.Context()
		w := cmd.OutOrStdout()
		failed := 0

		v := gate.New(cfg.GateDenylist()).Check(ctx, string(src))
		if !v.Valid {
			failed++
		}
		fmt.Fprintf(w, "[%s] gate: %s\n", verdictLabel(v.Valid), v)

		findings := detect.Detect(string(src))
		fmt.Fprintf(w, "[%s] detector: %s\n", verdictLabel(len(findings) == 0), detect.Summary(findings))
		if len(findings) > 0 {
			failed++
			fmt.Fprintln(w, indent(detect.Report(findings)))
		}

		if !skipAnalyzers && v.Valid {
			n, err := runAnalyzers(ctx, cmd, path, gateChecks(cfg))
			if err != nil {
				return err
			}
			failed += n
		}

		if failed > 0 {
			return fmt.Errorf("%d check(s) failed", failed)
		}
		fmt.Fprintln(w, "\nAll checks passed.")
		return nil
	},
}

func runAnalyzers(ctx context.Context, cmd *cobra.Command, path string, cfgs []checks.GateCheckConfig) (int, error) {
	if len(cfgs) == 0 {
		return 0, nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0, err
	}
	runner := checks.NewRunner(&checks.ExecRunner{})
	res, _, err := runner.RunGate(ctx, filepath.Dir(abs), checks.GateOpts{
		Gate:     "check",
		Item:     path,
		File:     filepath.Base(abs),
		Checks:   cfgs,
		Continue: true,
	})
	if err != nil {
		return 0, fmt.Errorf("run analyzers: %w", err)
	}
	w := cmd.OutOrStdout()
	for _, c := range res.Checks {
		fmt.Fprintf(w, "[%s] %s: %s\n", verdictLabel(c.Passed), c.Check, c.Summary)
	}
	return len(res.RemainingFailures), nil
}

func indent(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	return "    " + strings.Join(lines, "\n    ")
}

func init() {
	checkCmd.Flags().Bool("no-analyzers", false, "skip the configured external analyzers")
}

package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/mender/internal/orchestrator"
	"github.com/lucasnoah/mender/internal/runstore"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent item outcomes",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		d, cleanup, err := openDBAt(dbPathFor(cmd))
		if err != nil {
			return err
		}
		defer cleanup()

		runs, err := d.ListRuns(cmd.Context(), limit)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if len(runs) == 0 {
			fmt.Fprintln(w, "No runs recorded.")
			return nil
		}
		table := newTable(w, "Run", "Item", "Status", "Iterations", "Duration", "Finished")
		for _, r := range runs {
			_ = table.Append([]string{
				r.RunID,
				r.Item,
				statusColor(r.Status),
				strconv.Itoa(r.Iterations) + "/" + strconv.Itoa(r.MaxIterations),
				(time.Duration(r.DurationMs) * time.Millisecond).String(),
				r.FinishedAt,
			})
		}
		return table.Render()
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show RUN_ID",
	Short: "Show the archived state of one batch run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, err := archiveOrchestrator()
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if item, _ := cmd.Flags().GetString("item"); item != "" {
			n, _ := cmd.Flags().GetInt("iteration")
			it, err := orch.Iteration(args[0], item, n)
			if err != nil {
				return fmt.Errorf("iteration %d of %s: %w", n, item, err)
			}
			fmt.Fprintf(w, "Iteration %d of %s\n", it.N, item)
			if it.Failure != "" {
				fmt.Fprintf(w, "Failure:   %s\n", it.Failure)
			}
			for _, sec := range []struct{ title, body string }{
				{"Candidate", it.Candidate},
				{"Tests", it.Tests},
				{"Output", it.Output},
				{"Diagnostic", it.Diagnostic},
			} {
				if sec.body != "" {
					fmt.Fprintf(w, "\n%s:\n%s\n", bold(sec.title), strings.TrimRight(sec.body, "\n"))
				}
			}
			return nil
		}

		info, err := orch.Status(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Run:       %s\n", info.RunID)
		fmt.Fprintf(w, "Target:    %s\n", info.TargetDir)
		fmt.Fprintf(w, "Status:    %s\n", statusColor(info.Status))
		fmt.Fprintf(w, "Items:     %d\n", info.Items)
		fmt.Fprintf(w, "Started:   %s\n", info.CreatedAt)
		for _, k := range []string{"fixed", "unfixed-exhausted", "aborted"} {
			fmt.Fprintf(w, "  %-18s %d\n", k, info.Counts[k])
		}

		items, err := orch.ItemStatuses(args[0])
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		fmt.Fprintln(w)
		table := newTable(w, "Item", "Status", "Iterations", "Last failure", "Diagnostic")
		for _, it := range items {
			_ = table.Append([]string{
				it.Name,
				statusColor(it.Status),
				strconv.Itoa(it.Iterations) + "/" + strconv.Itoa(it.MaxIterations),
				it.LastFailure,
				truncate(firstLine(strings.TrimSpace(it.LastDiagnostic)), 60),
			})
		}
		return table.Render()
	},
}

var runsArchiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "List batch runs kept in the run archive",
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, err := archiveOrchestrator()
		if err != nil {
			return err
		}
		infos, err := orch.StatusAll()
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if len(infos) == 0 {
			fmt.Fprintln(w, "No archived runs.")
			return nil
		}
		table := newTable(w, "Run", "Target", "Status", "Items", "Started")
		for _, i := range infos {
			_ = table.Append([]string{i.RunID, i.TargetDir, statusColor(i.Status), strconv.Itoa(i.Items), i.CreatedAt})
		}
		return table.Render()
	},
}

var runsCleanCmd = &cobra.Command{
	Use:   "clean RUN_ID",
	Short: "Delete the archived files of a finished run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, err := archiveOrchestrator()
		if err != nil {
			return err
		}
		if err := orch.Cleanup(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed run %s.\n", args[0])
		return nil
	},
}

func init() {
	runsCmd.Flags().Int("limit", 20, "maximum rows to show (0 for all)")
	runsCmd.Flags().String("db", "", "database file (default ~/.mender/mender.db)")
	runsShowCmd.Flags().String("item", "", "show one archived iteration of this item")
	runsShowCmd.Flags().Int("iteration", 1, "iteration number to show with --item")
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsArchiveCmd)
	runsCmd.AddCommand(runsCleanCmd)
}

func dbPathFor(cmd *cobra.Command) string {
	if p, _ := cmd.Flags().GetString("db"); p != "" {
		return p
	}
	cfg, _, err := loadConfig()
	if err != nil {
		return ""
	}
	return cfg.Log.SQLitePath
}

// archiveOrchestrator opens the run archive read-side.
func archiveOrchestrator() (*orchestrator.Orchestrator, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store := runstore.NewStore(cfg.RunsDir)
	if cfg.RunsDir == "" {
		if store, err = runstore.DefaultStore(); err != nil {
			return nil, err
		}
	}
	return orchestrator.NewOrchestrator(orchestrator.Options{Store: store, Logger: logger}), nil
}

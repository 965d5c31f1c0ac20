package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/mender/internal/analytics"
	"github.com/lucasnoah/mender/internal/db"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Aggregate repair outcomes from the step database",
}

func withStatsDB(cmd *cobra.Command, fn func(d *db.DB, since string) error) error {
	since, _ := cmd.Flags().GetString("since")
	d, cleanup, err := openDBAt(dbPathFor(cmd))
	if err != nil {
		return err
	}
	defer cleanup()
	return fn(d, since)
}

func f1(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}

var statsOutcomesCmd = &cobra.Command{
	Use:   "outcomes",
	Short: "Fixed, exhausted and aborted rates",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStatsDB(cmd, func(d *db.DB, since string) error {
			r, err := analytics.QueryOutcomeRates(d, since)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if r.Total == 0 {
				fmt.Fprintln(w, "No runs recorded.")
				return nil
			}
			table := newTable(w, "Status", "Items", "Pct")
			_ = table.Append([]string{statusColor("fixed"), strconv.Itoa(r.Fixed), f1(r.FixedPct)})
			_ = table.Append([]string{statusColor("unfixed-exhausted"), strconv.Itoa(r.Exhausted), f1(r.ExhaustedPct)})
			_ = table.Append([]string{statusColor("aborted"), strconv.Itoa(r.Aborted), f1(r.AbortedPct)})
			if err := table.Render(); err != nil {
				return err
			}
			fmt.Fprintf(w, "\n%s items, %s%% of fixed items documented\n", bold(strconv.Itoa(r.Total)), f1(r.DocsPct))
			return nil
		})
	},
}

var statsIterationsCmd = &cobra.Command{
	Use:   "iterations",
	Short: "Iterations needed by fixed items, per budget",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStatsDB(cmd, func(d *db.DB, since string) error {
			results, err := analytics.QueryIterationDist(d, since)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(results) == 0 {
				fmt.Fprintln(w, "No fixed items recorded.")
				return nil
			}
			table := newTable(w, "Budget", "Fixed", "1 iter %", "2 iter %", "3+ iter %")
			for _, r := range results {
				_ = table.Append([]string{strconv.Itoa(r.Budget), strconv.Itoa(r.Total), f1(r.One), f1(r.Two), f1(r.ThreePlus)})
			}
			return table.Render()
		})
	},
}

var statsFailuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "Validation failure kinds across iterations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStatsDB(cmd, func(d *db.DB, since string) error {
			results, err := analytics.QueryFailureKinds(d, since)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(results) == 0 {
				fmt.Fprintln(w, "No failures recorded.")
				return nil
			}
			table := newTable(w, "Kind", "Count", "Items", "Pct")
			for _, r := range results {
				_ = table.Append([]string{r.Kind, strconv.Itoa(r.Count), strconv.Itoa(r.Items), f1(r.Pct)})
			}
			return table.Render()
		})
	},
}

var statsDurationsCmd = &cobra.Command{
	Use:   "durations",
	Short: "Average and percentile item durations per status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStatsDB(cmd, func(d *db.DB, since string) error {
			results, err := analytics.QueryItemDurations(d, since)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(results) == 0 {
				fmt.Fprintln(w, "No runs recorded.")
				return nil
			}
			table := newTable(w, "Status", "Items", "Avg s", "P50 s", "P95 s")
			for _, r := range results {
				_ = table.Append([]string{statusColor(r.Status), strconv.Itoa(r.Count), f1(r.Avg), f1(r.P50), f1(r.P95)})
			}
			return table.Render()
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{statsOutcomesCmd, statsIterationsCmd, statsFailuresCmd, statsDurationsCmd} {
		c.Flags().String("since", "", "only count items finished at or after this date (YYYY-MM-DD)")
		c.Flags().String("db", "", "database file (default ~/.mender/mender.db)")
		statsCmd.AddCommand(c)
	}
}

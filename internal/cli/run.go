package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/lucasnoah/mender/internal/artifact"
	"github.com/lucasnoah/mender/internal/checks"
	"github.com/lucasnoah/mender/internal/config"
	"github.com/lucasnoah/mender/internal/db"
	"github.com/lucasnoah/mender/internal/gate"
	"github.com/lucasnoah/mender/internal/harness"
	"github.com/lucasnoah/mender/internal/metrics"
	"github.com/lucasnoah/mender/internal/oracle"
	"github.com/lucasnoah/mender/internal/orchestrator"
	"github.com/lucasnoah/mender/internal/pgstore"
	"github.com/lucasnoah/mender/internal/repair"
	"github.com/lucasnoah/mender/internal/runstore"
	"github.com/lucasnoah/mender/internal/sandbox"
	"github.com/lucasnoah/mender/internal/steplog"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Repair every Python module under a directory",
	Long: `Discover *.py files under --target-dir and run the repair loop on each.
Repaired modules are written as <name>_fixed.py with a <name>_documentation.md
next to them (or into output_dir). The command succeeds once processing
completes, even when some modules could not be fixed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		targetDir, _ := cmd.Flags().GetString("target-dir")
		if targetDir == "" {
			return fmt.Errorf("--target-dir is required")
		}

		cfg, v, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("max-iterations") {
			cfg.MaxIterations, _ = cmd.Flags().GetInt("max-iterations")
		}
		if cmd.Flags().Changed("concurrency") {
			cfg.Concurrency, _ = cmd.Flags().GetInt("concurrency")
		}
		if cmd.Flags().Changed("output-dir") {
			cfg.OutputDir, _ = cmd.Flags().GetString("output-dir")
		}
		if errs := config.Validate(cfg); len(errs) > 0 {
			msgs := make([]string, len(errs))
			for i, e := range errs {
				msgs[i] = e.Error()
			}
			return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(msgs, "\n  - "))
		}

		if l, err := newLogger(cfg.Log.Level, verbose); err == nil {
			logger = l
		}

		info, err := os.Stat(targetDir)
		if err != nil {
			return fmt.Errorf("target dir: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("target dir %s is not a directory", targetDir)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		st, err := buildStack(ctx, cfg, v)
		if err != nil {
			return err
		}
		defer st.close()
		st.ctl.SetProgress(cmd.ErrOrStderr())
		st.orch.SetProgress(cmd.ErrOrStderr())

		sum, runErr := st.orch.Process(ctx, targetDir)
		if sum != nil {
			printSummary(cmd, sum)
		}
		if cfg.MetricsPath != "" {
			if err := st.metrics.WriteTextfile(cfg.MetricsPath); err != nil {
				logger.Warn("write metrics", zap.String("path", cfg.MetricsPath), zap.Error(err))
			}
		}
		if runErr != nil {
			if errors.Is(runErr, context.Canceled) {
				return fmt.Errorf("interrupted: %w", runErr)
			}
			return runErr
		}
		return nil
	},
}

func init() {
	runCmd.Flags().String("target-dir", "", "directory containing the Python modules to repair")
	runCmd.Flags().Int("max-iterations", config.Default().MaxIterations, "repair iterations per module (1-10)")
	runCmd.Flags().Int("concurrency", 1, "modules repaired in parallel")
	runCmd.Flags().String("output-dir", "", "where repaired modules are written (default: next to each input)")
}

// stack is the fully wired repair pipeline for one invocation.
type stack struct {
	ctl     *repair.Controller
	orch    *orchestrator.Orchestrator
	metrics *metrics.Metrics
	closers []func()
}

func (s *stack) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func buildStack(ctx context.Context, cfg *config.Config, v *viper.Viper) (*stack, error) {
	key, err := config.APIKey(v, cfg.Oracle.Provider)
	if err != nil {
		return nil, err
	}
	client, err := oracle.NewClient(ctx, oracle.ProviderConfig{
		Provider:    cfg.Oracle.Provider,
		Model:       cfg.Oracle.Model,
		MaxTokens:   cfg.Oracle.MaxTokens,
		Temperature: cfg.Oracle.Temperature,
		APIKey:      key,
	})
	if err != nil {
		return nil, err
	}
	orc := oracle.New(client, oracle.Options{
		Timeout:    config.Duration(cfg.Timeouts.Oracle, 2*time.Minute),
		PromptsDir: cfg.PromptsDir,
		Logger:     logger,
	})

	sb, err := sandbox.New(cfg.SandboxRoot)
	if err != nil {
		return nil, fmt.Errorf("sandbox: %w", err)
	}
	g := gate.New(cfg.GateDenylist())
	cmdRunner := &checks.ExecRunner{WaitDelay: 2 * time.Second}
	arts := artifact.NewManager(artifact.Options{OutputDir: cfg.OutputDir, Gate: g, Docs: orc, Logger: logger})

	st := &stack{metrics: metrics.New()}
	sinks, database, err := openSinks(ctx, cfg, st)
	if err != nil {
		st.close()
		return nil, err
	}

	store := runstore.NewStore(cfg.RunsDir)
	if cfg.RunsDir == "" {
		if store, err = runstore.DefaultStore(); err != nil {
			st.close()
			return nil, err
		}
	}

	st.ctl, err = repair.NewController(repair.Options{
		MaxIterations: cfg.MaxIterations,
		Sandbox:       sb,
		Gate:          g,
		Oracle:        orc,
		Harness:       harness.New(cmdRunner, cfg.Python, config.Duration(cfg.Timeouts.HarnessLoad, 15*time.Second)),
		Suite:         checks.NewSuiteRunner(cmdRunner, cfg.Python, config.Duration(cfg.Timeouts.Execution, 30*time.Second)),
		Artifacts:     arts,
		Analyzer:      checks.NewRunner(cmdRunner),
		Checks:        gateChecks(cfg),
		Sink:          sinks,
		Archive:       store,
		Metrics:       st.metrics,
		Logger:        logger,
	})
	if err != nil {
		st.close()
		return nil, err
	}

	opts := orchestrator.Options{
		Runner:      st.ctl,
		Store:       store,
		Artifacts:   arts,
		Concurrency: cfg.Concurrency,
		Skip:        []string{cfg.SandboxRoot, cfg.OutputDir},
		Logger:      logger,
	}
	if database != nil {
		opts.Runs = database
	}
	st.orch = orchestrator.NewOrchestrator(opts)
	return st, nil
}

// openSinks opens every configured step-log sink and registers closers on
// st. The SQLite handle is returned separately for run bookkeeping.
func openSinks(ctx context.Context, cfg *config.Config, st *stack) (steplog.Sink, *db.DB, error) {
	var sinks steplog.Multi
	var database *db.DB
	for _, name := range cfg.Log.Sinks {
		switch name {
		case "jsonl":
			j, err := steplog.OpenJSONL(cfg.Log.JSONLPath)
			if err != nil {
				return nil, nil, err
			}
			st.closers = append(st.closers, func() { _ = j.Close() })
			sinks = append(sinks, j)
		case "sqlite":
			d, cleanup, err := openDBAt(cfg.Log.SQLitePath)
			if err != nil {
				return nil, nil, err
			}
			st.closers = append(st.closers, cleanup)
			database = d
			sinks = append(sinks, d)
		case "postgres":
			pg, err := pgstore.Open(ctx, cfg.Log.PostgresURL)
			if err != nil {
				return nil, nil, err
			}
			st.closers = append(st.closers, pg.Close)
			if err := pg.Migrate(ctx); err != nil {
				return nil, nil, err
			}
			sinks = append(sinks, pg)
		}
	}
	return sinks, database, nil
}

// gateChecks converts the configured analyzers in name order.
func gateChecks(cfg *config.Config) []checks.GateCheckConfig {
	names := make([]string, 0, len(cfg.Checks))
	for n := range cfg.Checks {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]checks.GateCheckConfig, 0, len(names))
	for _, n := range names {
		c := cfg.Checks[n]
		out = append(out, checks.GateCheckConfig{
			Name:    n,
			Command: c.Command,
			Parser:  c.Parser,
			Timeout: config.Duration(c.Timeout, time.Minute),
		})
	}
	return out
}

func printSummary(cmd *cobra.Command, sum *orchestrator.Summary) {
	w := cmd.OutOrStdout()
	if sum.Total == 0 {
		fmt.Fprintln(w, "No Python modules found.")
		return
	}
	table := newTable(w, "Module", "Status", "Iterations", "Docs", "Last diagnostic")
	for _, r := range sum.Reports {
		docs := "-"
		if r.DocumentationCreated {
			docs = "yes"
		}
		diag := ""
		if r.Status != repair.StatusFixed {
			diag = truncate(firstLine(r.LastDiagnostic), 60)
		}
		_ = table.Append([]string{
			r.Name,
			statusColor(string(r.Status)),
			strconv.Itoa(r.Iterations) + "/" + strconv.Itoa(r.MaxIterations),
			docs,
			diag,
		})
	}
	_ = table.Render()

	fmt.Fprintf(w, "\n%s %d fixed, %d exhausted, %d aborted of %d (%s)\n",
		bold("Run "+sum.RunID+":"), sum.Fixed, sum.Exhausted, sum.Aborted, sum.Total, sum.Duration.Round(time.Millisecond))
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

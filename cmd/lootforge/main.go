// Command lootforge drives the asset pipeline: plan a manifest into a
// targets index, generate candidates through provider adapters, process
// and evaluate the outputs, lock the survivors, and package the pack.
// Every stage is also exposed over HTTP by the serve command.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lootforge/internal/config"
	"lootforge/internal/contract"
	"lootforge/internal/generate"
	"lootforge/internal/logging"
	"lootforge/internal/manifest"
	"lootforge/internal/paths"
	"lootforge/internal/plan"
	"lootforge/internal/provider"
	"lootforge/internal/score"
)

var (
	// Global flags
	verbose      bool
	outDir       string
	manifestFlag string

	// Shared state built in PersistentPreRunE
	logger  *zap.Logger
	runtime *config.Config
)

// Exit codes: 0 success, 1 stage failure or validation error, 2 a
// stage artifact violated its contract.
const (
	exitFailure  = 1
	exitContract = 2
)

var rootCmd = &cobra.Command{
	Use:   "lootforge",
	Short: "lootforge - deterministic game asset pipeline",
	Long: `lootforge turns an authored asset manifest into reviewed, packaged
game art: plan normalizes and routes targets, generate runs provider
adapters with retry and fallback, process applies the pixel chain and
hard acceptance checks, eval layers soft metrics and pack invariants,
select locks the approvals, and atlas/review/package ship the result.

Every stage reads and writes versioned JSON artifacts under one output
root, so stages can be re-run, diffed, and audited independently.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(config.DefaultPath())
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		runtime = cfg

		logger, err = logging.New(verbose || cfg.Logging.Level == "debug", cfg.Logging.Format)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&outDir, "out", "o", ".", "Output root directory")
	rootCmd.PersistentFlags().StringVarP(&manifestFlag, "manifest", "m", "", "Manifest path (default <out>/assets/imagegen/manifest.json)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(regenerateCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(atlasCmd)
	rootCmd.AddCommand(evalCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(selectCmd)
	rootCmd.AddCommand(packageCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var ce *contract.ContractError
		if errors.As(err, &ce) {
			os.Exit(exitContract)
		}
		os.Exit(exitFailure)
	}
}

// stageLayout maps the --out flag onto the artifact layout.
func stageLayout() paths.Layout {
	return paths.NewLayout(outDir)
}

// manifestPath honors --manifest, defaulting to the layout location.
func manifestPath(layout paths.Layout) string {
	if manifestFlag != "" {
		return manifestFlag
	}
	return layout.Manifest()
}

// runPlanner loads the manifest and plans it, optionally writing the
// targets index. Shared by plan and validate.
func runPlanner(write bool, stageLogger *zap.Logger) (*contract.TargetsIndex, *plan.Report, error) {
	layout := stageLayout()
	m, raw, err := manifest.Load(manifestPath(layout))
	if err != nil {
		return nil, nil, err
	}
	registry := provider.NewRegistry(runtime, m.Providers)
	index, rep := plan.NewPlanner(registry, layout.Root, stageLogger).Plan(m, raw)
	if !rep.OK() {
		return nil, rep, rep.Err()
	}
	if write {
		if err := contract.WriteFile(contract.KindTargetsIndex, layout.TargetsIndex(), index); err != nil {
			return nil, rep, err
		}
	}
	return index, rep, nil
}

// buildOrchestrator wires the generate orchestrator from the manifest's
// provider blocks and the runtime config.
func buildOrchestrator(stageLogger *zap.Logger) (*generate.Orchestrator, paths.Layout, error) {
	layout := stageLayout()
	m, _, err := manifest.Load(manifestPath(layout))
	if err != nil {
		return nil, layout, err
	}
	gate, err := score.NewGateEvaluator(runtime.VlmGate)
	if err != nil {
		return nil, layout, err
	}
	orch := generate.New(generate.Config{
		Source: provider.NewRegistry(runtime, m.Providers),
		Scorer: score.NewScorer(layout.Root, gate, stageLogger),
		Layout: layout,
		Sink:   generate.NewLogSink(stageLogger),
		Logger: stageLogger,
	})
	return orch, layout, nil
}

// printIssues writes planner findings to stderr, errors before
// warnings.
func printIssues(rep *plan.Report) {
	for _, issue := range rep.Errors {
		printIssue("error", issue)
	}
	for _, issue := range rep.Warnings {
		printIssue("warning", issue)
	}
}

func printIssue(level string, issue plan.Issue) {
	if issue.TargetId != "" {
		fmt.Fprintf(os.Stderr, "%s: %s: %s (%s)\n", level, issue.TargetId, issue.Message, issue.Code)
		return
	}
	fmt.Fprintf(os.Stderr, "%s: %s (%s)\n", level, issue.Message, issue.Code)
}

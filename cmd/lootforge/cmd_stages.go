package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"lootforge/internal/atlas"
	"lootforge/internal/evaluate"
	"lootforge/internal/generate"
	forgeinit "lootforge/internal/init"
	"lootforge/internal/logging"
	"lootforge/internal/pack"
	"lootforge/internal/process"
	"lootforge/internal/review"
	"lootforge/internal/selection"
)

var (
	initPackId string
	initForce  bool

	generateIds        []string
	generateProvider   string
	generateSkipLocked bool
	generateRunId      string

	regenerateIds   []string
	regenerateEdit  bool
	regenerateRunId string

	processStrict bool
	processRunId  string

	evalStrict bool
	evalRunId  string

	selectRunId string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold a workspace with a starter manifest",
	RunE:  runInit,
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Normalize the manifest into a stamped targets index",
	RunE:  runPlan,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the manifest without writing the targets index",
	RunE:  runValidate,
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate candidates for planned targets through provider adapters",
	RunE:  runGenerate,
}

var regenerateCmd = &cobra.Command{
	Use:   "regenerate",
	Short: "Regenerate targets, editing from the locked winner when the provider supports it",
	RunE:  runRegenerate,
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Post-process raw outputs and run hard acceptance checks",
	RunE:  runProcess,
}

var atlasCmd = &cobra.Command{
	Use:   "atlas",
	Short: "Pack processed sprites into atlas pages with frame metadata",
	RunE:  runAtlas,
}

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Score processed outputs and check pack-wide invariants",
	RunE:  runEval,
}

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Assemble the per-target review document",
	RunE:  runReview,
}

var selectCmd = &cobra.Command{
	Use:   "select",
	Short: "Lock approved winners into the selection lock",
	RunE:  runSelect,
}

var packageCmd = &cobra.Command{
	Use:   "package",
	Short: "Stage approved outputs into a shippable pack directory",
	RunE:  runPackage,
}

func init() {
	initCmd.Flags().StringVar(&initPackId, "pack-id", "", "Pack identifier for the starter manifest")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing manifest")

	generateCmd.Flags().StringSliceVar(&generateIds, "ids", nil, "Only generate these target ids")
	generateCmd.Flags().StringVar(&generateProvider, "provider", "", "Route every target to this provider")
	generateCmd.Flags().BoolVar(&generateSkipLocked, "skip-locked", false, "Skip targets already approved in the selection lock")
	generateCmd.Flags().StringVar(&generateRunId, "run-id", "", "Reuse a run id instead of minting one")

	regenerateCmd.Flags().StringSliceVar(&regenerateIds, "ids", nil, "Only regenerate these target ids")
	regenerateCmd.Flags().BoolVar(&regenerateEdit, "edit", true, "Seed the provider's edit pathway from the locked winner")
	regenerateCmd.Flags().StringVar(&regenerateRunId, "run-id", "", "Reuse a run id instead of minting one")

	processCmd.Flags().BoolVar(&processStrict, "strict", false, "Fail when any target fails a hard acceptance check")
	processCmd.Flags().StringVar(&processRunId, "run-id", "", "Stamp the report with this run id")

	evalCmd.Flags().BoolVar(&evalStrict, "strict", false, "Fail when any target fails a hard gate")
	evalCmd.Flags().StringVar(&evalRunId, "run-id", "", "Stamp the report with this run id")

	selectCmd.Flags().StringVar(&selectRunId, "run-id", "", "Stamp the lock with this run id")
}

func runInit(cmd *cobra.Command, args []string) error {
	layout := stageLayout()
	res, err := forgeinit.New(layout, logging.Stage(logger, "init")).
		Run(context.Background(), forgeinit.Options{PackId: initPackId, Force: initForce})
	if err != nil {
		return err
	}
	fmt.Printf("✅ Workspace ready: %s\n", res.ManifestPath)
	fmt.Println("Edit the manifest, then run: lootforge plan && lootforge generate")
	return nil
}

func runPlan(cmd *cobra.Command, args []string) error {
	index, rep, err := runPlanner(true, logging.Stage(logger, "plan"))
	if rep != nil {
		printIssues(rep)
	}
	if err != nil {
		return err
	}
	layout := stageLayout()
	fmt.Printf("Planned %d targets -> %s\n", len(index.Targets), layout.Rel(layout.TargetsIndex()))
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	_, rep, err := runPlanner(false, logging.Stage(logger, "validate"))
	if rep == nil {
		return err
	}
	printIssues(rep)
	if !rep.OK() {
		return fmt.Errorf("manifest invalid: %d error(s)", len(rep.Errors))
	}
	fmt.Printf("Manifest valid (%d warning(s))\n", len(rep.Warnings))
	return nil
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nGeneration cancelled")
		cancel()
	}()

	stageLogger := logging.Stage(logger, "generate")
	orch, layout, err := buildOrchestrator(stageLogger)
	if err != nil {
		return err
	}
	run, err := orch.Run(ctx, generate.Options{
		Ids:        generateIds,
		Provider:   generateProvider,
		SkipLocked: generateSkipLocked,
		RunId:      generateRunId,
	})
	if err != nil {
		return err
	}
	fmt.Printf("✅ Run %s: %d generated, %d skipped -> %s\n",
		run.RunId, len(run.Results), len(run.Skipped), layout.Rel(layout.Provenance()))
	return nil
}

func runRegenerate(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nRegeneration cancelled")
		cancel()
	}()

	stageLogger := logging.Stage(logger, "regenerate")
	orch, layout, err := buildOrchestrator(stageLogger)
	if err != nil {
		return err
	}
	run, err := orch.Run(ctx, generate.Options{
		Ids:   regenerateIds,
		Edit:  regenerateEdit,
		RunId: regenerateRunId,
	})
	if err != nil {
		return err
	}
	fmt.Printf("✅ Run %s: %d regenerated, %d skipped -> %s\n",
		run.RunId, len(run.Results), len(run.Skipped), layout.Rel(layout.Provenance()))
	return nil
}

func runProcess(cmd *cobra.Command, args []string) error {
	layout := stageLayout()
	report, err := process.New(layout, logging.Stage(logger, "process")).
		Run(context.Background(), process.Options{RunId: processRunId, Strict: processStrict})
	if err != nil {
		return err
	}
	fmt.Printf("Processed: %d passed, %d failed, %d warned -> %s\n",
		report.Summary.Passed, report.Summary.Failed, report.Summary.Warned,
		layout.Rel(layout.AcceptanceReport()))
	return nil
}

func runAtlas(cmd *cobra.Command, args []string) error {
	layout := stageLayout()
	report, err := atlas.New(layout, logging.Stage(logger, "atlas")).
		Run(context.Background(), atlas.Options{})
	if err != nil {
		return err
	}
	pages, frames := 0, 0
	for _, g := range report.Groups {
		pages += len(g.Pages)
		for _, page := range g.Pages {
			frames += len(page.Frames)
		}
	}
	fmt.Printf("Packed %d groups into %d pages (%d frames)\n", len(report.Groups), pages, frames)
	return nil
}

func runEval(cmd *cobra.Command, args []string) error {
	layout := stageLayout()
	report, err := evaluate.New(layout, runtime.Adapters, logging.Stage(logger, "eval")).
		Run(context.Background(), evaluate.Options{RunId: evalRunId, Strict: evalStrict})
	if err != nil {
		return err
	}
	fmt.Printf("Evaluated: %d passed hard gates, %d failed, %d pack invariants flagged -> %s\n",
		report.Summary.PassedHardGates, report.Summary.FailedHardGates,
		len(report.PackInvariants), layout.Rel(layout.EvalReport()))
	return nil
}

func runReview(cmd *cobra.Command, args []string) error {
	layout := stageLayout()
	doc, err := review.New(layout, logging.Stage(logger, "review")).
		Run(context.Background(), review.Options{})
	if err != nil {
		return err
	}
	fmt.Printf("Review ready: %d targets, %d approved -> %s\n",
		doc.Summary.Targets, doc.Summary.Approved, layout.Rel(layout.Review()))
	return nil
}

func runSelect(cmd *cobra.Command, args []string) error {
	layout := stageLayout()
	lock, err := selection.New(layout, logging.Stage(logger, "select")).
		Run(context.Background(), selection.Options{RunId: selectRunId})
	if err != nil {
		return err
	}
	approved := 0
	for _, entry := range lock.Targets {
		if entry.Approved {
			approved++
		}
	}
	fmt.Printf("Locked %d targets (%d approved) -> %s\n",
		len(lock.Targets), approved, layout.Rel(layout.SelectionLock()))
	return nil
}

func runPackage(cmd *cobra.Command, args []string) error {
	layout := stageLayout()
	m, err := pack.New(layout, logging.Stage(logger, "package")).
		Run(context.Background(), pack.Options{})
	if err != nil {
		return err
	}
	fmt.Printf("✅ Packaged %d files (%d bytes) -> %s\n",
		len(m.Files), m.TotalBytes, layout.Rel(layout.PackManifest()))
	return nil
}

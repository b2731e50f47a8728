package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/qasync/internal/report"
	"github.com/joescharf/qasync/internal/runlock"
	"github.com/joescharf/qasync/internal/store"
	"github.com/joescharf/qasync/internal/syncer"
	"github.com/joescharf/qasync/internal/telemetry"
)

var syncCmd = &cobra.Command{
	Use:   "sync [entity...]",
	Short: "Reconcile the JSON files with the database",
	Long: `Run a full reconciliation pass: create records missing from the database,
apply changed fields, regenerate each JSON file from the database, then link
defects to test cases and derive test case status.

Entities run in a fixed order: teams, cells, analysts, plans, test_cases,
defects, projects, relations. Naming entities restricts the pass to them.
Records that cannot be applied are reported and skipped; only store
failures stop the run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return syncRun(cmd.Context(), args)
	},
}

func init() {
	syncCmd.Flags().Bool("prune", false, "Delete rule-created relations that no longer match")
	syncCmd.Flags().Bool("fallback", false, "Map unresolved team/cell names to the first available one")
	syncCmd.Flags().Float64("threshold", 0, "Duplicate similarity threshold (default from match.duplicate_threshold)")
	_ = viper.BindPFlag("sync.prune_relations", syncCmd.Flags().Lookup("prune"))
	_ = viper.BindPFlag("sync.fallback_first_available", syncCmd.Flags().Lookup("fallback"))
	_ = viper.BindPFlag("match.duplicate_threshold", syncCmd.Flags().Lookup("threshold"))
	rootCmd.AddCommand(syncCmd)
}

func syncRun(ctx context.Context, entities []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := syncer.ParseEntities(entities); err != nil {
		return err
	}
	resolver, err := resolverFromConfig()
	if err != nil {
		return err
	}

	files := dataFiles()
	lock := runlock.New(files.Dir)
	if err := lock.Acquire(); err != nil {
		return err
	}
	defer lock.Release()

	opts := syncer.Options{
		DryRun:                 dryRun,
		FallbackFirstAvailable: viper.GetBool("sync.fallback_first_available"),
		PruneRelations:         viper.GetBool("sync.prune_relations"),
		DuplicateThreshold:     viper.GetFloat64("match.duplicate_threshold"),
		Resolver:               resolver,
		Entities:               entities,
	}
	if opts.FallbackFirstAvailable {
		ui.Warning("Team/cell fallback enabled: unresolved names map to the first available row")
	}
	ui.DryRunMsg("Classifying only, no writes to files or database")

	var rep *report.RunReport
	runErr := withStore(ctx, func(s store.Store) error {
		var err error
		rep, err = syncer.New(s, files, opts).Run(ctx)
		return err
	})
	if rep == nil {
		return runErr
	}
	return finishReport(ctx, rep, runErr)
}

// finishReport prints, persists and records the report. The run error, if
// any, takes precedence over reporting failures.
func finishReport(ctx context.Context, rep *report.RunReport, runErr error) error {
	if err := rep.Print(ui); err != nil {
		ui.Warning("Print summary: %v", err)
	}
	if dir := viper.GetString("results_dir"); dir != "" {
		path, err := rep.WriteJSON(dir)
		if err != nil {
			ui.Warning("Write report: %v", err)
		} else {
			ui.VerboseLog("Report written to %s", path)
		}
	}
	if err := rep.Emit(ctx, telemetry.Meter("")); err != nil {
		ui.Warning("Record metrics: %v", err)
	}

	if runErr != nil {
		if syncer.IsFatal(runErr) {
			ui.Error("Sync aborted")
		}
		return runErr
	}
	if n := rep.Skipped(); n > 0 {
		ui.Warning("%d record(s) skipped, see the summary above", n)
	} else {
		ui.Success("Sync complete")
	}
	return nil
}

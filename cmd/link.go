package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/joescharf/qasync/internal/output"
	"github.com/joescharf/qasync/internal/runlock"
	"github.com/joescharf/qasync/internal/status"
	"github.com/joescharf/qasync/internal/store"
	"github.com/joescharf/qasync/internal/syncer"
)

var linkCmd = &cobra.Command{
	Use:   "link <test-case-id> <defect-id>",
	Short: "Link a defect to a test case",
	Long: `Create a relation between a test case and a defect, re-derive the test
case's status and regenerate test_cases.json and defect_relations.json.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return linkRun(cmd.Context(), args[0], args[1], true)
	},
}

var unlinkCmd = &cobra.Command{
	Use:   "unlink <test-case-id> <defect-id>",
	Short: "Remove a defect from a test case",
	Long: `Delete the relation between a test case and a defect, re-derive the test
case's status and regenerate test_cases.json and defect_relations.json.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return linkRun(cmd.Context(), args[0], args[1], false)
	},
}

func init() {
	rootCmd.AddCommand(linkCmd)
	rootCmd.AddCommand(unlinkCmd)
}

func linkRun(ctx context.Context, testCaseID, defectID string, add bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	files := dataFiles()
	lock := runlock.New(files.Dir)
	if err := lock.Acquire(); err != nil {
		return err
	}
	defer lock.Release()

	return withStore(ctx, func(s store.Store) error {
		sy := syncer.New(s, files, syncer.Options{DryRun: dryRun})

		var (
			changed = true
			trs     []status.Transition
			err     error
		)
		if add {
			changed, trs, err = sy.Link(ctx, testCaseID, defectID)
		} else {
			trs, err = sy.Unlink(ctx, testCaseID, defectID)
		}
		if err != nil {
			return err
		}

		switch {
		case !changed:
			ui.Info("%s is already linked to %s", defectID, testCaseID)
		case dryRun:
			ui.DryRunMsg("Would update relation %s|%s", testCaseID, defectID)
		case add:
			ui.Success("Linked %s to %s", defectID, testCaseID)
		default:
			ui.Success("Unlinked %s from %s", defectID, testCaseID)
		}
		for _, tr := range trs {
			ui.Info("%s: %s -> %s", tr.TestCaseID, output.StatusColor(string(tr.From)), output.StatusColor(string(tr.To)))
		}
		return nil
	})
}

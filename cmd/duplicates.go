package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/qasync/internal/match"
	"github.com/joescharf/qasync/internal/models"
	"github.com/joescharf/qasync/internal/output"
	"github.com/joescharf/qasync/internal/store"
)

var duplicatesThreshold float64

var duplicatesCmd = &cobra.Command{
	Use:   "duplicates",
	Short: "List defects that look like duplicates on the same test case",
	Long: `Compare the descriptions of defects linked to the same test case and list
pairs whose token similarity is above the threshold. Nothing is merged or
deleted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return duplicatesRun(cmd.Context())
	},
}

func init() {
	duplicatesCmd.Flags().Float64Var(&duplicatesThreshold, "threshold", 0, "Similarity threshold (default from match.duplicate_threshold)")
	rootCmd.AddCommand(duplicatesCmd)
}

func duplicatesRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	threshold := duplicatesThreshold
	if threshold <= 0 {
		threshold = viper.GetFloat64("match.duplicate_threshold")
	}

	return withStore(ctx, func(s store.Store) error {
		defects, err := s.ListDefects(ctx)
		if err != nil {
			return err
		}
		rels, err := s.ListRelations(ctx)
		if err != nil {
			return err
		}

		byID := make(map[string]*models.Defect, len(defects))
		for _, d := range defects {
			byID[d.ID] = d
		}
		byCase := make(map[string][]*models.Defect)
		for _, r := range rels {
			if d := byID[r.DefectID]; d != nil {
				byCase[r.TestCaseID] = append(byCase[r.TestCaseID], d)
			}
		}

		pairs := match.FindDuplicates(byCase, threshold)
		if len(pairs) == 0 {
			ui.Success("No likely duplicates above %.0f%% similarity", threshold*100)
			return nil
		}

		table := ui.Table([]string{"Test case", "Defect A", "Defect B", "Similarity"})
		for _, p := range pairs {
			table.Append([]string{p.TestCaseID, p.DefectA, p.DefectB, output.SimilarityColor(p.Similarity, 0.9)})
		}
		if err := table.Render(); err != nil {
			return err
		}
		ui.Info("%d possible duplicate pair(s)", len(pairs))
		return nil
	})
}

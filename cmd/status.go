package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/qasync/internal/models"
	"github.com/joescharf/qasync/internal/output"
	"github.com/joescharf/qasync/internal/store"
)

var (
	statusProject  string
	statusFilter   string
	statusLinked   bool
	statusUnlinked bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show test case status and linked defects",
	Long: `List test cases from the database with their current status and the
number of linked defects.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return statusRun(cmd.Context())
	},
}

func init() {
	statusCmd.Flags().StringVarP(&statusProject, "project", "p", "", "Filter by project code")
	statusCmd.Flags().StringVarP(&statusFilter, "status", "s", "", "Filter by status (e.g. failed, \"En progreso\")")
	statusCmd.Flags().BoolVar(&statusLinked, "linked", false, "Only test cases with linked defects")
	statusCmd.Flags().BoolVar(&statusUnlinked, "unlinked", false, "Only test cases without linked defects")
	statusCmd.MarkFlagsMutuallyExclusive("linked", "unlinked")
	rootCmd.AddCommand(statusCmd)
}

func statusRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	filter := store.TestCaseFilter{ProjectID: statusProject}
	if statusFilter != "" {
		st, ok := models.ParseTestStatus(statusFilter)
		if !ok {
			return fmt.Errorf("unknown test status %q", statusFilter)
		}
		filter.Status = st
	}
	switch {
	case statusLinked:
		filter.HasDefects = &statusLinked
	case statusUnlinked:
		linked := false
		filter.HasDefects = &linked
	}

	return withStore(ctx, func(s store.Store) error {
		cases, err := s.ListTestCases(ctx, filter)
		if err != nil {
			return err
		}
		if len(cases) == 0 {
			ui.Info("No test cases found.")
			return nil
		}

		counts := make(map[models.TestStatus]int)
		table := ui.Table([]string{"Test case", "Project", "Code", "Name", "Status", "Defects"})
		for _, tc := range cases {
			counts[tc.Status]++
			label := string(tc.Status)
			if label == "" {
				label = "-"
			}
			table.Append([]string{
				tc.ID, tc.ProjectID, tc.CodeRef, tc.Name,
				output.StatusColor(label), fmt.Sprintf("%d", len(tc.LinkedDefectIDs)),
			})
		}
		if err := table.Render(); err != nil {
			return err
		}

		ui.Info("%d test case(s): %d failed, %d blocked, %d successful, %d not executed",
			len(cases), counts[models.TestStatusFailed], counts[models.TestStatusBlocked],
			counts[models.TestStatusSuccessful], counts[models.TestStatusNotExecuted])
		return nil
	})
}

package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/qasync/internal/match"
	"github.com/joescharf/qasync/internal/models"
	"github.com/joescharf/qasync/internal/output"
	"github.com/joescharf/qasync/internal/store"
)

var (
	matchProject string
	matchAll     bool
)

var matchCmd = &cobra.Command{
	Use:   "match <ticket>",
	Short: "Show which test cases a ticket code links to",
	Long: `Evaluate the match rules for a ticket code against every test case in
the database and show the rule that links each match.

With --all, every test case is listed with the outcome of each rule.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return matchRun(cmd.Context(), args[0])
	},
}

func init() {
	matchCmd.Flags().StringVarP(&matchProject, "project", "p", "", "Only test cases of this project")
	matchCmd.Flags().BoolVar(&matchAll, "all", false, "Show every test case with per-rule results")
	rootCmd.AddCommand(matchCmd)
}

func matchRun(ctx context.Context, ticket string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	resolver, err := resolverFromConfig()
	if err != nil {
		return err
	}
	defect := &models.Defect{ExternalTicketID: strings.TrimSpace(ticket)}

	return withStore(ctx, func(s store.Store) error {
		cases, err := s.ListTestCases(ctx, store.TestCaseFilter{ProjectID: matchProject})
		if err != nil {
			return err
		}
		if len(cases) == 0 {
			ui.Info("No test cases in the database. Run 'qasync sync' first.")
			return nil
		}

		if matchAll {
			return matchExplainTable(resolver, defect, cases)
		}

		table := ui.Table([]string{"Test case", "Project", "Code", "Status", "Rule"})
		found := 0
		for _, tc := range cases {
			res := resolver.Resolve(defect, tc)
			if !res.Matched {
				continue
			}
			found++
			table.Append([]string{tc.ID, tc.ProjectID, tc.CodeRef, output.StatusColor(string(tc.Status)), res.Rule})
		}
		if found == 0 {
			ui.Warning("No test case matches %q", defect.ExternalTicketID)
			return nil
		}
		if err := table.Render(); err != nil {
			return err
		}
		ui.Info("%d of %d test case(s) match", found, len(cases))
		return nil
	})
}

func matchExplainTable(resolver *match.Resolver, d *models.Defect, cases []*models.TestCase) error {
	rules := resolver.Rules()
	headers := append([]string{"Test case", "Code"}, rules...)
	table := ui.Table(headers)
	for _, tc := range cases {
		outcome := resolver.Explain(d, tc)
		row := []string{tc.ID, fmt.Sprintf("%s/%s", tc.ProjectID, tc.CodeRef)}
		for _, r := range rules {
			if outcome[r] {
				row = append(row, output.Green("yes"))
			} else {
				row = append(row, "-")
			}
		}
		table.Append(row)
	}
	return table.Render()
}

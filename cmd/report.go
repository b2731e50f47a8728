package cmd

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/qasync/internal/models"
	"github.com/joescharf/qasync/internal/store"
)

var (
	reportFormat string
	exportType   string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export data as JSON, CSV, or Markdown",
	Long:  "Export test cases, defects, or defect relations from the database in various formats.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return exportRun(cmd.Context())
	},
}

func init() {
	exportCmd.Flags().StringVar(&reportFormat, "format", "json", "Output format: json, csv, markdown")
	exportCmd.Flags().StringVar(&exportType, "type", "test_cases", "Data type: test_cases, defects, relations")
	rootCmd.AddCommand(exportCmd)
}

func exportRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return withStore(ctx, func(s store.Store) error {
		switch exportType {
		case "test_cases", "cases":
			return exportTestCases(ctx, s)
		case "defects":
			return exportDefects(ctx, s)
		case "relations":
			return exportRelations(ctx, s)
		default:
			return fmt.Errorf("unknown export type: %s (use: test_cases, defects, relations)", exportType)
		}
	})
}

func writeJSON(v any) error {
	enc := json.NewEncoder(ui.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func exportTestCases(ctx context.Context, s store.Store) error {
	cases, err := s.ListTestCases(ctx, store.TestCaseFilter{})
	if err != nil {
		return err
	}

	switch reportFormat {
	case "json":
		return writeJSON(cases)
	case "csv":
		w := csv.NewWriter(ui.Out)
		w.Write([]string{"ID", "ProjectID", "PlanID", "CodeRef", "Name", "Status", "Cycle", "Defects"})
		for _, tc := range cases {
			w.Write([]string{tc.ID, tc.ProjectID, tc.PlanID, tc.CodeRef, tc.Name, string(tc.Status),
				fmt.Sprintf("%d", tc.Cycle), strings.Join(tc.LinkedDefectIDs, " ")})
		}
		w.Flush()
		return w.Error()
	case "markdown":
		fmt.Fprintln(ui.Out, "# Test cases")
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, "| Project | Code | Name | Status | Defects |")
		fmt.Fprintln(ui.Out, "|---------|------|------|--------|---------|")
		for _, tc := range cases {
			fmt.Fprintf(ui.Out, "| %s | %s | %s | %s | %d |\n", tc.ProjectID, tc.CodeRef, tc.Name, tc.Status, len(tc.LinkedDefectIDs))
		}
		return nil
	default:
		return fmt.Errorf("unknown format: %s", reportFormat)
	}
}

func exportDefects(ctx context.Context, s store.Store) error {
	defects, err := s.ListDefects(ctx)
	if err != nil {
		return err
	}

	switch reportFormat {
	case "json":
		return writeJSON(defects)
	case "csv":
		w := csv.NewWriter(ui.Out)
		w.Write([]string{"ID", "Ticket", "Status", "Severity", "Created", "Resolved"})
		for _, d := range defects {
			resolved := ""
			if d.ResolvedAt != nil {
				resolved = d.ResolvedAt.Format("2006-01-02")
			}
			w.Write([]string{d.ID, d.ExternalTicketID, string(d.Status), d.Severity, d.CreatedAt.Format("2006-01-02"), resolved})
		}
		w.Flush()
		return w.Error()
	case "markdown":
		fmt.Fprintln(ui.Out, "# Defects")
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, "| Ticket | Status | Severity | Description |")
		fmt.Fprintln(ui.Out, "|--------|--------|----------|-------------|")
		for _, d := range defects {
			fmt.Fprintf(ui.Out, "| %s | %s | %s | %s |\n", d.ExternalTicketID, d.Status, d.Severity, d.Description)
		}
		return nil
	default:
		return fmt.Errorf("unknown format: %s", reportFormat)
	}
}

func exportRelations(ctx context.Context, s store.Store) error {
	rels, err := s.ListRelations(ctx)
	if err != nil {
		return err
	}

	switch reportFormat {
	case "json":
		return writeJSON(rels)
	case "csv":
		w := csv.NewWriter(ui.Out)
		w.Write([]string{"TestCaseID", "DefectID", "Rule", "Created"})
		for _, r := range rels {
			w.Write([]string{r.TestCaseID, r.DefectID, r.MatchedRule, r.CreatedAt.Format("2006-01-02T15:04:05Z")})
		}
		w.Flush()
		return w.Error()
	case "markdown":
		fmt.Fprintln(ui.Out, "# Defect relations")
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, "| Test case | Defect | Rule |")
		fmt.Fprintln(ui.Out, "|-----------|--------|------|")
		for _, r := range rels {
			fmt.Fprintf(ui.Out, "| %s | %s | %s |\n", r.TestCaseID, r.DefectID, r.MatchedRule)
		}
		return nil
	default:
		return fmt.Errorf("unknown format: %s", reportFormat)
	}
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate reports",
	Long:  "Generate summary reports of test execution and defects.",
}

var reportProjectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "Summarize test status and defects per project",
	RunE: func(cmd *cobra.Command, args []string) error {
		return reportProjectsRun(cmd.Context())
	},
}

func init() {
	reportCmd.AddCommand(reportProjectsCmd)
	rootCmd.AddCommand(reportCmd)
}

func reportProjectsRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return withStore(ctx, func(s store.Store) error {
		cases, err := s.ListTestCases(ctx, store.TestCaseFilter{})
		if err != nil {
			return err
		}
		defects, err := s.ListDefects(ctx)
		if err != nil {
			return err
		}
		open := make(map[string]bool)
		for _, d := range defects {
			if d.Status == models.DefectStatusOpen || d.Status == models.DefectStatusInProgress {
				open[d.ID] = true
			}
		}

		byProject := make(map[string][]*models.TestCase)
		for _, tc := range cases {
			byProject[tc.ProjectID] = append(byProject[tc.ProjectID], tc)
		}
		projects := make([]string, 0, len(byProject))
		for p := range byProject {
			projects = append(projects, p)
		}
		sort.Strings(projects)

		fmt.Fprintln(ui.Out, "# Test execution report")
		fmt.Fprintln(ui.Out)
		for _, p := range projects {
			counts := make(map[models.TestStatus]int)
			openDefects := make(map[string]bool)
			for _, tc := range byProject[p] {
				counts[tc.Status]++
				for _, id := range tc.LinkedDefectIDs {
					if open[id] {
						openDefects[id] = true
					}
				}
			}
			fmt.Fprintf(ui.Out, "## %s\n", p)
			fmt.Fprintf(ui.Out, "- Test cases: %d (%d successful, %d failed, %d blocked, %d in progress, %d not executed)\n",
				len(byProject[p]), counts[models.TestStatusSuccessful], counts[models.TestStatusFailed],
				counts[models.TestStatusBlocked], counts[models.TestStatusInProgress], counts[models.TestStatusNotExecuted])
			fmt.Fprintf(ui.Out, "- Open defects: %d\n", len(openDefects))
			fmt.Fprintln(ui.Out)
		}
		return nil
	})
}

// Package status derives a test case's execution status from the number of
// defects linked to it.
package status

import "github.com/joescharf/qasync/internal/models"

// Derive maps (current status, linked defect count) to the new status.
//
//   - defects present and status unset, not executed or successful: failed
//   - no defects and status unset or failed: not executed
//   - anything else is left as is (blocked and in progress are never
//     overridden)
func Derive(current models.TestStatus, defectCount int) models.TestStatus {
	switch {
	case defectCount > 0:
		switch current {
		case models.TestStatusNone, models.TestStatusNotExecuted, models.TestStatusSuccessful:
			return models.TestStatusFailed
		}
	case defectCount == 0:
		switch current {
		case models.TestStatusNone, models.TestStatusFailed:
			return models.TestStatusNotExecuted
		}
	}
	return current
}

// Transition is a status change applied to one test case.
type Transition struct {
	TestCaseID string            `json:"test_case_id"`
	From       models.TestStatus `json:"from"`
	To         models.TestStatus `json:"to"`
	Defects    int               `json:"defects"`
}

// Plan returns the transitions needed for the given test cases, using
// counts for their linked defect totals. Test cases whose status would not
// change are omitted.
func Plan(cases []*models.TestCase, counts map[string]int) []Transition {
	var out []Transition
	for _, tc := range cases {
		n := counts[tc.ID]
		next := Derive(tc.Status, n)
		if next == tc.Status {
			continue
		}
		out = append(out, Transition{TestCaseID: tc.ID, From: tc.Status, To: next, Defects: n})
	}
	return out
}

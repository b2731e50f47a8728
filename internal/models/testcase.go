package models

import "github.com/joescharf/qasync/internal/ident"

// TestStatus represents the execution state of a test case. The empty value
// means no status has been recorded yet.
type TestStatus string

const (
	TestStatusNone        TestStatus = ""
	TestStatusNotExecuted TestStatus = "not_executed"
	TestStatusSuccessful  TestStatus = "successful"
	TestStatusFailed      TestStatus = "failed"
	TestStatusBlocked     TestStatus = "blocked"
	TestStatusInProgress  TestStatus = "in_progress"
)

var testStatusLabels = map[string]TestStatus{
	"not executed": TestStatusNotExecuted,
	"no ejecutado": TestStatusNotExecuted,
	"pendiente":    TestStatusNotExecuted,
	"successful":   TestStatusSuccessful,
	"success":      TestStatusSuccessful,
	"passed":       TestStatusSuccessful,
	"exitoso":      TestStatusSuccessful,
	"failed":       TestStatusFailed,
	"fallido":      TestStatusFailed,
	"blocked":      TestStatusBlocked,
	"bloqueado":    TestStatusBlocked,
	"in progress":  TestStatusInProgress,
	"en progreso":  TestStatusInProgress,
	"en ejecucion": TestStatusInProgress,
}

// ParseTestStatus accepts a canonical status or a locale label. An empty
// label parses to TestStatusNone.
func ParseTestStatus(label string) (TestStatus, bool) {
	folded := ident.Fold(label)
	if folded == "" {
		return TestStatusNone, true
	}
	s, ok := testStatusLabels[folded]
	return s, ok
}

// TestStep is one ordered step of a test case.
type TestStep struct {
	Number   int
	Action   string
	Expected string
}

// TestCase is a test specification and its latest execution state.
type TestCase struct {
	ID              string
	ProjectID       string // project code, e.g. "KOIN-261"
	PlanID          string
	CodeRef         string // short code, e.g. "T003"
	Name            string
	Status          TestStatus
	Cycle           int
	LinkedDefectIDs []string
	Steps           []TestStep
}

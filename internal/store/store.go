package store

import (
	"context"
	"errors"

	"github.com/joescharf/qasync/internal/models"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a create collides with an existing
	// unique key.
	ErrDuplicate = errors.New("duplicate key")
)

// TestCaseFilter specifies filters for listing test cases.
type TestCaseFilter struct {
	ProjectID string
	Status    models.TestStatus
	// HasDefects restricts to test cases with (true) or without (false) at
	// least one linked defect. Nil means no restriction.
	HasDefects *bool
}

// Tables lists every table the sync core writes to.
var Tables = []string{
	"teams", "cells", "analysts", "plans", "plan_cycles",
	"test_cases", "test_steps", "defects", "projects", "defect_relations",
}

// Store defines the relational persistence interface used by the sync core.
// Reference foreign keys are passed as resolved ids; listings return the
// referenced names so records compare directly with the file store.
type Store interface {
	// Teams
	ListTeams(ctx context.Context) ([]*models.Team, error)
	GetTeamByName(ctx context.Context, name string) (*models.Team, error)
	FirstTeam(ctx context.Context) (*models.Team, error)
	CreateTeam(ctx context.Context, t *models.Team) error
	UpdateTeam(ctx context.Context, t *models.Team) error

	// Cells
	ListCells(ctx context.Context) ([]*models.Cell, error)
	GetCellByName(ctx context.Context, name string) (*models.Cell, error)
	FirstCell(ctx context.Context) (*models.Cell, error)
	CreateCell(ctx context.Context, c *models.Cell, teamID string) error
	UpdateCell(ctx context.Context, c *models.Cell, teamID string) error

	// Analysts
	ListAnalysts(ctx context.Context) ([]*models.Analyst, error)
	GetAnalystByEmail(ctx context.Context, email string) (*models.Analyst, error)
	CreateAnalyst(ctx context.Context, a *models.Analyst, cellID string) error
	UpdateAnalyst(ctx context.Context, a *models.Analyst, cellID string) error

	// Plans
	ListPlans(ctx context.Context) ([]*models.Plan, error)
	PlanExists(ctx context.Context, id string) (bool, error)
	CreatePlan(ctx context.Context, p *models.Plan, analystID string) error
	UpdatePlan(ctx context.Context, p *models.Plan, analystID string) error

	// Test cases
	ListTestCases(ctx context.Context, filter TestCaseFilter) ([]*models.TestCase, error)
	GetTestCase(ctx context.Context, id string) (*models.TestCase, error)
	CreateTestCase(ctx context.Context, tc *models.TestCase) error
	UpdateTestCase(ctx context.Context, tc *models.TestCase) error
	SetTestCaseStatus(ctx context.Context, id string, status models.TestStatus) error

	// Defects
	ListDefects(ctx context.Context) ([]*models.Defect, error)
	GetDefect(ctx context.Context, id string) (*models.Defect, error)
	FindDefectsByTicket(ctx context.Context, fragment string) ([]*models.Defect, error)
	CreateDefect(ctx context.Context, d *models.Defect) error
	UpdateDefect(ctx context.Context, d *models.Defect) error

	// Projects
	ListProjects(ctx context.Context) ([]*models.Project, error)
	CreateProject(ctx context.Context, p *models.Project, teamID, cellID string) error
	UpdateProject(ctx context.Context, p *models.Project, teamID, cellID string) error

	// Defect relations
	ListRelations(ctx context.Context) ([]*models.DefectRelation, error)
	CreateRelation(ctx context.Context, r *models.DefectRelation) error
	DeleteRelation(ctx context.Context, testCaseID, defectID string) error
	CountRelationsByTestCase(ctx context.Context) (map[string]int, error)

	// Lifecycle
	Count(ctx context.Context, table string) (int, error)
	VerifySchema(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

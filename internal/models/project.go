package models

import "time"

// Team is a reference entity that owns cells and projects.
type Team struct {
	ID          string
	Name        string
	Description string
}

// Cell is a sub-group of a team.
type Cell struct {
	ID       string
	Name     string
	TeamName string
}

// Analyst is a QA analyst assigned to a cell.
type Analyst struct {
	ID       string
	Name     string
	Email    string
	CellName string
}

// PlanCycle is one execution cycle of a test plan.
type PlanCycle struct {
	Number    int
	StartDate *time.Time
	EndDate   *time.Time
}

// Plan is a test plan for a project.
type Plan struct {
	ID           string
	ProjectID    string
	Name         string
	AnalystEmail string
	Status       string
	Cycles       []PlanCycle
}

// Project represents a tracked QA project. ID is the project code
// (e.g. "KOIN-261") that test cases and ticket codes refer to.
type Project struct {
	ID          string
	Name        string
	TeamName    string
	CellName    string
	Status      string
	Description string
}

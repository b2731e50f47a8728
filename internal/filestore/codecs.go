package filestore

import (
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/joescharf/qasync/internal/models"
)

// JSON object forms. Tags match the relational column names.

type teamJSON struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type cellJSON struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	TeamName string `json:"team_name"`
}

type analystJSON struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	CellName string `json:"cell_name,omitempty"`
}

type cycleJSON struct {
	Number    int        `json:"number"`
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
}

type planJSON struct {
	ID           string      `json:"id"`
	ProjectID    string      `json:"project_id"`
	Name         string      `json:"name"`
	AnalystEmail string      `json:"analyst_email,omitempty"`
	Status       string      `json:"status,omitempty"`
	Cycles       []cycleJSON `json:"cycles"`
}

type stepJSON struct {
	Number   int    `json:"number"`
	Action   string `json:"action"`
	Expected string `json:"expected,omitempty"`
}

type testCaseJSON struct {
	ID              string     `json:"id"`
	ProjectID       string     `json:"project_id"`
	PlanID          string     `json:"plan_id,omitempty"`
	CodeRef         string     `json:"code_ref"`
	Name            string     `json:"name"`
	Status          string     `json:"status"`
	Cycle           int        `json:"cycle"`
	LinkedDefectIDs []string   `json:"linked_defect_ids"`
	Steps           []stepJSON `json:"steps"`
}

type defectJSON struct {
	ID               string     `json:"id"`
	ExternalTicketID string     `json:"external_ticket_id"`
	Description      string     `json:"description"`
	Status           string     `json:"status"`
	Severity         string     `json:"severity,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
}

type projectJSON struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	TeamName    string `json:"team_name"`
	CellName    string `json:"cell_name"`
	Status      string `json:"status,omitempty"`
	Description string `json:"description,omitempty"`
}

type relationJSON struct {
	TestCaseID  string    `json:"test_case_id"`
	DefectID    string    `json:"defect_id"`
	MatchedRule string    `json:"matched_rule,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// required collects the first missing required field.
func required(r gjson.Result, keys ...string) error {
	for _, k := range keys {
		if Str(r, k) == "" {
			return fmt.Errorf("%w: %s", ErrMissingField, k)
		}
	}
	return nil
}

// TeamCodec decodes teams.json.
var TeamCodec = Codec[*models.Team]{
	Decode: func(r gjson.Result) (*models.Team, error) {
		if err := required(r, "id", "name"); err != nil {
			return nil, err
		}
		return &models.Team{
			ID:          Str(r, "id"),
			Name:        Str(r, "name"),
			Description: Str(r, "description"),
		}, nil
	},
	Encode: func(t *models.Team) any {
		return teamJSON{ID: t.ID, Name: t.Name, Description: t.Description}
	},
}

// CellCodec decodes cells.json.
var CellCodec = Codec[*models.Cell]{
	Decode: func(r gjson.Result) (*models.Cell, error) {
		if err := required(r, "id", "name"); err != nil {
			return nil, err
		}
		return &models.Cell{
			ID:       Str(r, "id"),
			Name:     Str(r, "name"),
			TeamName: Str(r, "team_name"),
		}, nil
	},
	Encode: func(c *models.Cell) any {
		return cellJSON{ID: c.ID, Name: c.Name, TeamName: c.TeamName}
	},
}

// AnalystCodec decodes analysts.json.
var AnalystCodec = Codec[*models.Analyst]{
	Decode: func(r gjson.Result) (*models.Analyst, error) {
		if err := required(r, "id", "name", "email"); err != nil {
			return nil, err
		}
		return &models.Analyst{
			ID:       Str(r, "id"),
			Name:     Str(r, "name"),
			Email:    Str(r, "email"),
			CellName: Str(r, "cell_name"),
		}, nil
	},
	Encode: func(a *models.Analyst) any {
		return analystJSON{ID: a.ID, Name: a.Name, Email: a.Email, CellName: a.CellName}
	},
}

// PlanCodec decodes plans.json, including the nested cycles.
var PlanCodec = Codec[*models.Plan]{
	Decode: func(r gjson.Result) (*models.Plan, error) {
		if err := required(r, "id", "project_id", "name"); err != nil {
			return nil, err
		}
		p := &models.Plan{
			ID:           Str(r, "id"),
			ProjectID:    Str(r, "project_id"),
			Name:         Str(r, "name"),
			AnalystEmail: Str(r, "analyst_email"),
			Status:       Str(r, "status"),
		}
		for i, c := range Array(r, "cycles") {
			n, err := Int(c, "number", i+1)
			if err != nil {
				return nil, fmt.Errorf("cycle %d: %w", i, err)
			}
			start, err := Time(c, "start_date")
			if err != nil {
				return nil, fmt.Errorf("cycle %d: %w", i, err)
			}
			end, err := Time(c, "end_date")
			if err != nil {
				return nil, fmt.Errorf("cycle %d: %w", i, err)
			}
			p.Cycles = append(p.Cycles, models.PlanCycle{Number: n, StartDate: start, EndDate: end})
		}
		return p, nil
	},
	Encode: func(p *models.Plan) any {
		out := planJSON{
			ID:           p.ID,
			ProjectID:    p.ProjectID,
			Name:         p.Name,
			AnalystEmail: p.AnalystEmail,
			Status:       p.Status,
			Cycles:       []cycleJSON{},
		}
		for _, c := range p.Cycles {
			out.Cycles = append(out.Cycles, cycleJSON{Number: c.Number, StartDate: c.StartDate, EndDate: c.EndDate})
		}
		return out
	},
}

// TestCaseCodec decodes test_cases.json, including the nested steps.
var TestCaseCodec = Codec[*models.TestCase]{
	Decode: func(r gjson.Result) (*models.TestCase, error) {
		if err := required(r, "id", "project_id", "code_ref", "name"); err != nil {
			return nil, err
		}
		label := Str(r, "status")
		st, ok := models.ParseTestStatus(label)
		if !ok {
			return nil, fmt.Errorf("%w: status=%q", ErrInvalidValue, label)
		}
		cycle, err := Int(r, "cycle", 1)
		if err != nil {
			return nil, err
		}
		if cycle < 1 {
			return nil, fmt.Errorf("%w: cycle=%d must be at least 1", ErrInvalidValue, cycle)
		}
		tc := &models.TestCase{
			ID:        Str(r, "id"),
			ProjectID: Str(r, "project_id"),
			PlanID:    Str(r, "plan_id"),
			CodeRef:   Str(r, "code_ref"),
			Name:      Str(r, "name"),
			Status:    st,
			Cycle:     cycle,
		}
		for _, id := range Array(r, "linked_defect_ids") {
			if s := id.String(); s != "" {
				tc.LinkedDefectIDs = append(tc.LinkedDefectIDs, s)
			}
		}
		for i, s := range Array(r, "steps") {
			n, err := Int(s, "number", i+1)
			if err != nil {
				return nil, fmt.Errorf("step %d: %w", i, err)
			}
			tc.Steps = append(tc.Steps, models.TestStep{
				Number:   n,
				Action:   Str(s, "action"),
				Expected: Str(s, "expected"),
			})
		}
		return tc, nil
	},
	Encode: func(tc *models.TestCase) any {
		out := testCaseJSON{
			ID:              tc.ID,
			ProjectID:       tc.ProjectID,
			PlanID:          tc.PlanID,
			CodeRef:         tc.CodeRef,
			Name:            tc.Name,
			Status:          string(tc.Status),
			Cycle:           tc.Cycle,
			LinkedDefectIDs: []string{},
			Steps:           []stepJSON{},
		}
		out.LinkedDefectIDs = append(out.LinkedDefectIDs, tc.LinkedDefectIDs...)
		for _, s := range tc.Steps {
			out.Steps = append(out.Steps, stepJSON{Number: s.Number, Action: s.Action, Expected: s.Expected})
		}
		return out
	},
}

// DefectCodec decodes defects.json.
var DefectCodec = Codec[*models.Defect]{
	Decode: func(r gjson.Result) (*models.Defect, error) {
		// A defect may not have a ticket yet; it is kept and never matches.
		if err := required(r, "id"); err != nil {
			return nil, err
		}
		label := Str(r, "status")
		st, ok := models.ParseDefectStatus(label)
		if !ok {
			return nil, fmt.Errorf("%w: status=%q", ErrInvalidValue, label)
		}
		created, err := Time(r, "created_at")
		if err != nil {
			return nil, err
		}
		resolved, err := Time(r, "resolved_at")
		if err != nil {
			return nil, err
		}
		d := &models.Defect{
			ID:               Str(r, "id"),
			ExternalTicketID: Str(r, "external_ticket_id"),
			Description:      Str(r, "description"),
			Status:           st,
			Severity:         Str(r, "severity"),
			ResolvedAt:       resolved,
		}
		if created != nil {
			d.CreatedAt = *created
		}
		return d, nil
	},
	Encode: func(d *models.Defect) any {
		return defectJSON{
			ID:               d.ID,
			ExternalTicketID: d.ExternalTicketID,
			Description:      d.Description,
			Status:           string(d.Status),
			Severity:         d.Severity,
			CreatedAt:        d.CreatedAt.UTC(),
			ResolvedAt:       utcPtr(d.ResolvedAt),
		}
	},
}

// ProjectCodec decodes projects.json.
var ProjectCodec = Codec[*models.Project]{
	Decode: func(r gjson.Result) (*models.Project, error) {
		if err := required(r, "id", "name"); err != nil {
			return nil, err
		}
		return &models.Project{
			ID:          Str(r, "id"),
			Name:        Str(r, "name"),
			TeamName:    Str(r, "team_name"),
			CellName:    Str(r, "cell_name"),
			Status:      Str(r, "status"),
			Description: Str(r, "description"),
		}, nil
	},
	Encode: func(p *models.Project) any {
		return projectJSON{
			ID:          p.ID,
			Name:        p.Name,
			TeamName:    p.TeamName,
			CellName:    p.CellName,
			Status:      p.Status,
			Description: p.Description,
		}
	},
}

// RelationCodec decodes defect_relations.json.
var RelationCodec = Codec[*models.DefectRelation]{
	Decode: func(r gjson.Result) (*models.DefectRelation, error) {
		if err := required(r, "test_case_id", "defect_id"); err != nil {
			return nil, err
		}
		created, err := Time(r, "created_at")
		if err != nil {
			return nil, err
		}
		rel := &models.DefectRelation{
			TestCaseID:  Str(r, "test_case_id"),
			DefectID:    Str(r, "defect_id"),
			MatchedRule: Str(r, "matched_rule"),
		}
		if created != nil {
			rel.CreatedAt = *created
		}
		return rel, nil
	},
	Encode: func(rel *models.DefectRelation) any {
		return relationJSON{
			TestCaseID:  rel.TestCaseID,
			DefectID:    rel.DefectID,
			MatchedRule: rel.MatchedRule,
			CreatedAt:   rel.CreatedAt.UTC(),
		}
	},
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

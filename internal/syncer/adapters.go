package syncer

import (
	"context"

	"github.com/joescharf/qasync/internal/diff"
	"github.com/joescharf/qasync/internal/filestore"
	"github.com/joescharf/qasync/internal/models"
	"github.com/joescharf/qasync/internal/store"
)

// entity implements Adapter from plain functions.
type entity[T any] struct {
	name   string
	file   *filestore.File[T]
	key    func(T) string
	fields func(T) diff.Record
	list   func(ctx context.Context) ([]T, error)
	create func(ctx context.Context, rec T) error
	update func(ctx context.Context, rec T) error
	// loaded, when set, sees the file snapshot before it is regenerated.
	loaded func(*filestore.Snapshot[T])
}

func (e *entity[T]) Entity() string               { return e.name }
func (e *entity[T]) Key(rec T) string             { return e.key(rec) }
func (e *entity[T]) Fields(rec T) diff.Record     { return e.fields(rec) }
func (e *entity[T]) WriteSnapshot(recs []T) error { return e.file.Save(recs) }

func (e *entity[T]) LoadPrimary(context.Context) (*filestore.Snapshot[T], error) {
	snap, err := e.file.Load()
	if err == nil && e.loaded != nil {
		e.loaded(snap)
	}
	return snap, err
}

func (e *entity[T]) LoadSecondary(ctx context.Context) ([]T, error) {
	return e.list(ctx)
}

func (e *entity[T]) Create(ctx context.Context, rec T) error { return e.create(ctx, rec) }
func (e *entity[T]) Update(ctx context.Context, rec T) error { return e.update(ctx, rec) }

func (s *Syncer) teams() Adapter[*models.Team] {
	return &entity[*models.Team]{
		name: EntityTeams,
		file: s.files.Teams,
		key:  func(t *models.Team) string { return t.ID },
		fields: func(t *models.Team) diff.Record {
			return diff.Record{"id": t.ID, "name": t.Name, "description": t.Description}
		},
		list:   s.store.ListTeams,
		create: s.store.CreateTeam,
		update: s.store.UpdateTeam,
	}
}

func (s *Syncer) cells() Adapter[*models.Cell] {
	return &entity[*models.Cell]{
		name: EntityCells,
		file: s.files.Cells,
		key:  func(c *models.Cell) string { return c.ID },
		fields: func(c *models.Cell) diff.Record {
			return diff.Record{"id": c.ID, "name": c.Name, "team_name": c.TeamName}
		},
		list: s.store.ListCells,
		create: func(ctx context.Context, c *models.Cell) error {
			teamID, err := s.refs.teamID(ctx, "cell "+c.ID, c.TeamName)
			if err != nil {
				return err
			}
			return s.store.CreateCell(ctx, c, teamID)
		},
		update: func(ctx context.Context, c *models.Cell) error {
			teamID, err := s.refs.teamID(ctx, "cell "+c.ID, c.TeamName)
			if err != nil {
				return err
			}
			return s.store.UpdateCell(ctx, c, teamID)
		},
	}
}

func (s *Syncer) analysts() Adapter[*models.Analyst] {
	return &entity[*models.Analyst]{
		name: EntityAnalysts,
		file: s.files.Analysts,
		key:  func(a *models.Analyst) string { return a.ID },
		fields: func(a *models.Analyst) diff.Record {
			return diff.Record{"id": a.ID, "name": a.Name, "email": a.Email, "cell_name": a.CellName}
		},
		list: s.store.ListAnalysts,
		create: func(ctx context.Context, a *models.Analyst) error {
			cellID, err := s.refs.optionalCellID(ctx, "analyst "+a.ID, a.CellName)
			if err != nil {
				return err
			}
			return s.store.CreateAnalyst(ctx, a, cellID)
		},
		update: func(ctx context.Context, a *models.Analyst) error {
			cellID, err := s.refs.optionalCellID(ctx, "analyst "+a.ID, a.CellName)
			if err != nil {
				return err
			}
			return s.store.UpdateAnalyst(ctx, a, cellID)
		},
	}
}

func (s *Syncer) plans() Adapter[*models.Plan] {
	return &entity[*models.Plan]{
		name: EntityPlans,
		file: s.files.Plans,
		key:  func(p *models.Plan) string { return p.ID },
		fields: func(p *models.Plan) diff.Record {
			return diff.Record{
				"id": p.ID, "project_id": p.ProjectID, "name": p.Name,
				"analyst_email": p.AnalystEmail, "status": p.Status, "cycles": p.Cycles,
			}
		},
		list: s.store.ListPlans,
		create: func(ctx context.Context, p *models.Plan) error {
			analystID, err := s.refs.analystID(ctx, "plan "+p.ID, p.AnalystEmail)
			if err != nil {
				return err
			}
			return s.store.CreatePlan(ctx, p, analystID)
		},
		update: func(ctx context.Context, p *models.Plan) error {
			analystID, err := s.refs.analystID(ctx, "plan "+p.ID, p.AnalystEmail)
			if err != nil {
				return err
			}
			return s.store.UpdatePlan(ctx, p, analystID)
		},
	}
}

func (s *Syncer) testCases() Adapter[*models.TestCase] {
	return &entity[*models.TestCase]{
		name:   EntityTestCases,
		file:   s.files.TestCases,
		key:    func(tc *models.TestCase) string { return tc.ID },
		fields: testCaseFields,
		loaded: func(snap *filestore.Snapshot[*models.TestCase]) {
			s.fileLinks = collectLinks(snap.Records)
		},
		list: func(ctx context.Context) ([]*models.TestCase, error) {
			return s.store.ListTestCases(ctx, store.TestCaseFilter{})
		},
		create: func(ctx context.Context, tc *models.TestCase) error {
			if err := s.refs.checkPlan(ctx, "test case "+tc.ID, tc.PlanID); err != nil {
				return err
			}
			return s.store.CreateTestCase(ctx, tc)
		},
		update: func(ctx context.Context, tc *models.TestCase) error {
			if err := s.refs.checkPlan(ctx, "test case "+tc.ID, tc.PlanID); err != nil {
				return err
			}
			return s.store.UpdateTestCase(ctx, tc)
		},
	}
}

func testCaseFields(tc *models.TestCase) diff.Record {
	return diff.Record{
		"id": tc.ID, "project_id": tc.ProjectID, "plan_id": tc.PlanID,
		"code_ref": tc.CodeRef, "name": tc.Name, "status": tc.Status, "cycle": tc.Cycle,
		"steps": tc.Steps, "linked_defect_ids": tc.LinkedDefectIDs,
	}
}

func (s *Syncer) defects() Adapter[*models.Defect] {
	return &entity[*models.Defect]{
		name: EntityDefects,
		file: s.files.Defects,
		key:  func(d *models.Defect) string { return d.ID },
		fields: func(d *models.Defect) diff.Record {
			return diff.Record{
				"id": d.ID, "external_ticket_id": d.ExternalTicketID, "description": d.Description,
				"status": d.Status, "severity": d.Severity, "created_at": d.CreatedAt, "resolved_at": d.ResolvedAt,
			}
		},
		list:   s.store.ListDefects,
		create: s.store.CreateDefect,
		update: s.store.UpdateDefect,
	}
}

func (s *Syncer) projects() Adapter[*models.Project] {
	resolve := func(ctx context.Context, p *models.Project) (string, string, error) {
		owner := "project " + p.ID
		teamID, err := s.refs.teamID(ctx, owner, p.TeamName)
		if err != nil {
			return "", "", err
		}
		cellID, err := s.refs.cellID(ctx, owner, p.CellName)
		if err != nil {
			return "", "", err
		}
		return teamID, cellID, nil
	}
	return &entity[*models.Project]{
		name: EntityProjects,
		file: s.files.Projects,
		key:  func(p *models.Project) string { return p.ID },
		fields: func(p *models.Project) diff.Record {
			return diff.Record{
				"id": p.ID, "name": p.Name, "team_name": p.TeamName, "cell_name": p.CellName,
				"status": p.Status, "description": p.Description,
			}
		},
		list: s.store.ListProjects,
		create: func(ctx context.Context, p *models.Project) error {
			teamID, cellID, err := resolve(ctx, p)
			if err != nil {
				return err
			}
			return s.store.CreateProject(ctx, p, teamID, cellID)
		},
		update: func(ctx context.Context, p *models.Project) error {
			teamID, cellID, err := resolve(ctx, p)
			if err != nil {
				return err
			}
			return s.store.UpdateProject(ctx, p, teamID, cellID)
		},
	}
}

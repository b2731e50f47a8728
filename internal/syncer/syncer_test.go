package syncer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/qasync/internal/filestore"
	"github.com/joescharf/qasync/internal/match"
	"github.com/joescharf/qasync/internal/models"
	"github.com/joescharf/qasync/internal/report"
	"github.com/joescharf/qasync/internal/store"
)

type testEnv struct {
	dir   string
	store *store.SQLiteStore
	files *filestore.Files
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	s, err := store.NewSQLiteStore(filepath.Join(dir, "qasync.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return &testEnv{dir: dir, store: s, files: filestore.Open(filepath.Join(dir, "data"))}
}

func (e *testEnv) write(t *testing.T, name string, records []map[string]any) {
	t.Helper()
	data, err := json.Marshal(records)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(e.files.Dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(e.files.Dir, name), data, 0644))
}

func (e *testEnv) read(t *testing.T, name string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(e.files.Dir, name))
	require.NoError(t, err)
	var out []map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func (e *testEnv) run(t *testing.T, opts Options) *report.RunReport {
	t.Helper()
	rep, err := New(e.store, e.files, opts).Run(context.Background())
	require.NoError(t, err)
	return rep
}

// seed writes a consistent data set for every entity.
func (e *testEnv) seed(t *testing.T) {
	t.Helper()
	e.write(t, filestore.TeamsFile, []map[string]any{
		{"id": "team-1", "name": "Payments"},
	})
	e.write(t, filestore.CellsFile, []map[string]any{
		{"id": "cell-1", "name": "Checkout", "team_name": "Payments"},
	})
	e.write(t, filestore.AnalystsFile, []map[string]any{
		{"id": "an-1", "name": "Ana", "email": "ana@example.com", "cell_name": "Checkout"},
	})
	e.write(t, filestore.PlansFile, []map[string]any{
		{"id": "plan-1", "project_id": "KOIN-261", "name": "Release 1", "analyst_email": "ana@example.com",
			"cycles": []map[string]any{{"number": 1, "start_date": "2024-03-01"}}},
	})
	e.write(t, filestore.TestCasesFile, []map[string]any{
		{"id": "tc-1", "project_id": "KOIN-261", "plan_id": "plan-1", "code_ref": "T003", "name": "Login",
			"status": "not_executed", "cycle": 1, "steps": []map[string]any{{"number": 1, "action": "open login"}}},
		{"id": "tc-2", "project_id": "ABC-1", "code_ref": "T010", "name": "Logout", "status": "successful", "cycle": 1},
	})
	e.write(t, filestore.DefectsFile, []map[string]any{
		{"id": "d-1", "external_ticket_id": "KOIN-261-T003", "description": "Login page crashes when password field contains unicode",
			"status": "open", "created_at": "2024-03-02T10:00:00Z"},
	})
	e.write(t, filestore.ProjectsFile, []map[string]any{
		{"id": "KOIN-261", "name": "Koin", "team_name": "Payments", "cell_name": "Checkout"},
	})
}

func TestParseEntities(t *testing.T) {
	all, err := ParseEntities(nil)
	require.NoError(t, err)
	assert.Equal(t, Order, all)

	got, err := ParseEntities([]string{"relations", "cases", "Teams"})
	require.NoError(t, err)
	assert.Equal(t, []string{EntityTeams, EntityTestCases, EntityRelations}, got)

	_, err = ParseEntities([]string{"widgets"})
	assert.Error(t, err)
}

func TestComputePlan(t *testing.T) {
	p := ComputePlan([]string{"a", "b", "b", "c"}, []string{"a", "c", "d"})
	assert.Equal(t, []string{"a", "c"}, p.Kept)
	assert.Equal(t, []string{"b"}, p.Removed)
	assert.Equal(t, []string{"d"}, p.Added)
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify(nil))

	err := classify(filestore.ErrMissingField)
	assert.True(t, errors.Is(err, ErrValidation))

	err = classify(store.ErrNotFound)
	assert.True(t, errors.Is(err, ErrRecordSkipped))
	assert.True(t, errors.Is(err, store.ErrNotFound))

	f := fatal("load", errors.New("boom"))
	assert.Same(t, f, classify(f))
	assert.True(t, IsFatal(f))

	assert.True(t, IsFatal(classify(sql.ErrConnDone)))
	assert.True(t, IsFatal(classify(context.Canceled)))
}

func TestRun_FullPass(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	rep := env.run(t, Options{})

	for _, name := range []string{EntityTeams, EntityCells, EntityAnalysts, EntityPlans, EntityDefects, EntityProjects} {
		res := rep.Lookup(name)
		require.NotNil(t, res, name)
		assert.Equal(t, 1, res.Created, name)
		assert.Equal(t, 0, res.Skipped, name)
	}
	assert.Equal(t, 2, rep.Lookup(EntityTestCases).Created)

	for table, want := range map[string]int{"teams": 1, "cells": 1, "analysts": 1, "plans": 1, "plan_cycles": 1,
		"test_cases": 2, "test_steps": 1, "defects": 1, "projects": 1, "defect_relations": 1} {
		n, err := env.store.Count(context.Background(), table)
		require.NoError(t, err)
		assert.Equal(t, want, n, table)
	}
}

// Scenario A: a composite ticket links the defect and fails the test case.
func TestRun_LinksAndDerivesStatus(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	rep := env.run(t, Options{})

	assert.Equal(t, 1, rep.Relations.Linked)
	assert.Equal(t, 1, rep.Relations.ByRule[match.RuleComposite])
	require.Len(t, rep.Transitions, 1)
	assert.Equal(t, "tc-1", rep.Transitions[0].TestCaseID)
	assert.Equal(t, models.TestStatusNotExecuted, rep.Transitions[0].From)
	assert.Equal(t, models.TestStatusFailed, rep.Transitions[0].To)

	tc, err := env.store.GetTestCase(context.Background(), "tc-1")
	require.NoError(t, err)
	assert.Equal(t, models.TestStatusFailed, tc.Status)

	cases := env.read(t, filestore.TestCasesFile)
	require.Len(t, cases, 2)
	assert.Equal(t, "failed", cases[0]["status"])
	assert.Equal(t, []any{"d-1"}, cases[0]["linked_defect_ids"])

	rels := env.read(t, filestore.RelationsFile)
	require.Len(t, rels, 1)
	assert.Equal(t, "composite", rels[0]["matched_rule"])
	assert.Equal(t, 1, rep.Lookup(EntityRelations).Restored)
}

func TestRun_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	env.run(t, Options{})

	rep := env.run(t, Options{})
	for _, res := range rep.Entities {
		assert.Equal(t, 0, res.Created, res.Entity)
		assert.Equal(t, 0, res.Updated, res.Entity)
		assert.Equal(t, 0, res.Deleted, res.Entity)
		assert.Equal(t, 0, res.Restored, res.Entity)
		assert.Equal(t, 0, res.Skipped, res.Entity)
		assert.Equal(t, res.Total, res.Unchanged, res.Entity)
	}
	assert.Equal(t, 0, rep.Relations.Linked)
	assert.Empty(t, rep.Transitions)
}

func TestRun_UpdatesChangedFields(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	env.run(t, Options{})

	env.write(t, filestore.DefectsFile, []map[string]any{
		{"id": "d-1", "external_ticket_id": "KOIN-261-T003", "description": "Login page crashes when password field contains unicode",
			"status": "Resuelto", "created_at": "2024-03-02T10:00:00Z", "resolved_at": "2024-03-04"},
	})
	rep := env.run(t, Options{Entities: []string{EntityDefects}})

	require.Len(t, rep.Entities, 1)
	res := rep.Lookup(EntityDefects)
	assert.Equal(t, 1, res.Updated)
	require.Len(t, res.Diffs, 1)
	assert.Equal(t, []string{"resolved_at", "status"}, res.Diffs[0].Changes.Fields())

	d, err := env.store.GetDefect(context.Background(), "d-1")
	require.NoError(t, err)
	assert.Equal(t, models.DefectStatusResolved, d.Status)
	require.NotNil(t, d.ResolvedAt)
}

func TestRun_ReplacesChildCollectionsOnUpdate(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	env.run(t, Options{})

	env.write(t, filestore.PlansFile, []map[string]any{
		{"id": "plan-1", "project_id": "KOIN-261", "name": "Release 1.1", "analyst_email": "ana@example.com",
			"cycles": []map[string]any{{"number": 1}, {"number": 2}}},
	})
	rep := env.run(t, Options{Entities: []string{EntityPlans}})
	assert.Equal(t, 1, rep.Lookup(EntityPlans).Updated)

	n, err := env.store.Count(context.Background(), "plan_cycles")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

// Records only in the file that never reach the database are dropped from
// the regenerated file.
func TestRun_DeletionPropagation(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	env.write(t, filestore.CellsFile, []map[string]any{
		{"id": "cell-1", "name": "Checkout", "team_name": "Payments"},
		{"id": "cell-2", "name": "Orphan", "team_name": "No such team"},
	})

	rep := env.run(t, Options{})

	res := rep.Lookup(EntityCells)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, []string{"cell-2"}, res.DeletedKeys)

	cells := env.read(t, filestore.CellsFile)
	require.Len(t, cells, 1)
	assert.Equal(t, "cell-1", cells[0]["id"])
}

func TestRun_RestoresDatabaseOnlyRecords(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	require.NoError(t, env.store.CreateTeam(context.Background(), &models.Team{ID: "team-0", Name: "Platform"}))

	rep := env.run(t, Options{Entities: []string{EntityTeams}})
	assert.Equal(t, []string{"team-0"}, rep.Lookup(EntityTeams).RestoredKeys)
	assert.Len(t, env.read(t, filestore.TeamsFile), 2)
}

// Scenario D: an unresolvable project is skipped and the run completes.
func TestRun_UnresolvedProjectSkipped(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	env.write(t, filestore.ProjectsFile, []map[string]any{
		{"id": "KOIN-261", "name": "Koin", "team_name": "Ghost team", "cell_name": "Checkout"},
	})

	rep := env.run(t, Options{})

	res := rep.Lookup(EntityProjects)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, res.Failures, 1)
	assert.Contains(t, res.Failures[0].Reason, "Ghost team")
	n, err := env.store.Count(context.Background(), "projects")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRun_FallbackFirstAvailable(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	env.write(t, filestore.ProjectsFile, []map[string]any{
		{"id": "KOIN-261", "name": "Koin", "team_name": "Ghost team"},
	})

	rep := env.run(t, Options{FallbackFirstAvailable: true})

	assert.Equal(t, 1, rep.Lookup(EntityProjects).Created)
	projects := env.read(t, filestore.ProjectsFile)
	require.Len(t, projects, 1)
	assert.Equal(t, "Payments", projects[0]["team_name"])
	assert.Equal(t, "Checkout", projects[0]["cell_name"])
}

func TestRun_MissingRequiredFieldIsValidation(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, filestore.TeamsFile, []map[string]any{
		{"id": "team-1"},
		{"id": "team-2", "name": "Ops"},
		{"id": "team-2", "name": "Ops again"},
	})

	rep := env.run(t, Options{Entities: []string{EntityTeams}})
	res := rep.Lookup(EntityTeams)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, res.Total, res.Created+res.Updated+res.Skipped+res.Unchanged)
}

// Scenario B: similar defects on one test case are flagged and kept.
func TestRun_FlagsDuplicates(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	env.write(t, filestore.DefectsFile, []map[string]any{
		{"id": "d-1", "external_ticket_id": "KOIN-261-T003", "description": "Login page crashes when password field contains unicode",
			"status": "open", "created_at": "2024-03-02T10:00:00Z"},
		{"id": "d-2", "external_ticket_id": "KOIN-261-T003", "description": "login page crashes, when password field contains emoji chars",
			"status": "open", "created_at": "2024-03-03T10:00:00Z"},
	})

	rep := env.run(t, Options{})

	require.Len(t, rep.Duplicates, 1)
	assert.Equal(t, "tc-1", rep.Duplicates[0].TestCaseID)
	assert.InDelta(t, 0.7, rep.Duplicates[0].Similarity, 1e-9)

	n, err := env.store.Count(context.Background(), "defect_relations")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRun_RelationImportIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	env.write(t, filestore.RelationsFile, []map[string]any{
		{"test_case_id": "tc-2", "defect_id": "d-1"},
		{"testCaseId": "tc-2", "defectId": "d-1"},
		{"test_case_id": "tc-9", "defect_id": "d-1"},
	})

	rep := env.run(t, Options{})

	res := rep.Lookup(EntityRelations)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Unchanged)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, rep.Relations.Imported)

	rels, err := env.store.ListRelations(context.Background())
	require.NoError(t, err)
	assert.Len(t, rels, 2) // imported tc-2 plus the composite match on tc-1

	// The imported relation fails tc-2 as well.
	tc, err := env.store.GetTestCase(context.Background(), "tc-2")
	require.NoError(t, err)
	assert.Equal(t, models.TestStatusFailed, tc.Status)
}

func TestRun_PruneStaleRuleLinks(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	env.run(t, Options{})

	env.write(t, filestore.DefectsFile, []map[string]any{
		{"id": "d-1", "external_ticket_id": "ZZZ-9-T999", "description": "Login page crashes",
			"status": "open", "created_at": "2024-03-02T10:00:00Z"},
	})

	kept := env.run(t, Options{})
	assert.Equal(t, 0, kept.Relations.Pruned)

	rep := env.run(t, Options{PruneRelations: true})
	assert.Equal(t, 1, rep.Relations.Pruned)
	assert.Equal(t, []string{"tc-1|d-1"}, rep.Lookup(EntityRelations).DeletedKeys)
	require.Len(t, rep.Transitions, 1)
	assert.Equal(t, models.TestStatusNotExecuted, rep.Transitions[0].To)
	assert.Empty(t, env.read(t, filestore.RelationsFile))
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	before, err := os.ReadFile(filepath.Join(env.files.Dir, filestore.TestCasesFile))
	require.NoError(t, err)

	rep := env.run(t, Options{DryRun: true})

	assert.True(t, rep.DryRun)
	assert.Equal(t, 1, rep.Lookup(EntityTeams).Created)
	assert.Equal(t, 2, rep.Lookup(EntityTestCases).Created)
	for _, table := range store.Tables {
		n, err := env.store.Count(context.Background(), table)
		require.NoError(t, err)
		assert.Zero(t, n, table)
	}
	after, err := os.ReadFile(filepath.Join(env.files.Dir, filestore.TestCasesFile))
	require.NoError(t, err)
	assert.Equal(t, before, after)
	_, err = os.Stat(filepath.Join(env.files.Dir, filestore.RelationsFile))
	assert.True(t, os.IsNotExist(err))
}

func TestRun_RestrictedRules(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	rules, err := match.RulesByName([]string{match.RuleExact})
	require.NoError(t, err)

	rep := env.run(t, Options{Resolver: match.NewResolver(rules...)})
	assert.Equal(t, 0, rep.Relations.Linked)
	assert.Empty(t, rep.Transitions)
}

func TestRun_UnmigratedStoreIsFatal(t *testing.T) {
	dir := t.TempDir()
	s, err := store.NewSQLiteStore(filepath.Join(dir, "empty.db"))
	require.NoError(t, err)
	defer s.Close()

	_, err = New(s, filestore.Open(dir), Options{}).Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsFatal(err))
}

func TestRun_UnparseableFileIsFatal(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.MkdirAll(env.files.Dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(env.files.Dir, filestore.TeamsFile), []byte(`{"not": "an array"}`), 0644))

	rep, err := New(env.store, env.files, Options{}).Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.NotNil(t, rep)
}

func TestRun_UnknownEntity(t *testing.T) {
	env := newTestEnv(t)
	_, err := New(env.store, env.files, Options{Entities: []string{"widgets"}}).Run(context.Background())
	assert.Error(t, err)
}

// Scenario C: losing the only defect resets a failed test case.
func TestUnlink_ResetsStatus(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	env.run(t, Options{})
	ctx := context.Background()

	trs, err := New(env.store, env.files, Options{}).Unlink(ctx, "tc-1", "d-1")
	require.NoError(t, err)
	require.Len(t, trs, 1)
	assert.Equal(t, models.TestStatusFailed, trs[0].From)
	assert.Equal(t, models.TestStatusNotExecuted, trs[0].To)

	tc, err := env.store.GetTestCase(ctx, "tc-1")
	require.NoError(t, err)
	assert.Equal(t, models.TestStatusNotExecuted, tc.Status)
	assert.Empty(t, tc.LinkedDefectIDs)

	cases := env.read(t, filestore.TestCasesFile)
	assert.Equal(t, "not_executed", cases[0]["status"])
	assert.Empty(t, env.read(t, filestore.RelationsFile))

	_, err = New(env.store, env.files, Options{}).Unlink(ctx, "tc-1", "d-1")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestLink(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	env.run(t, Options{})
	ctx := context.Background()
	s := New(env.store, env.files, Options{})

	created, trs, err := s.Link(ctx, "tc-2", "d-1")
	require.NoError(t, err)
	assert.True(t, created)
	require.Len(t, trs, 1)
	assert.Equal(t, models.TestStatusFailed, trs[0].To)

	created, trs, err = s.Link(ctx, "tc-2", "d-1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Empty(t, trs)

	_, _, err = s.Link(ctx, "tc-404", "d-1")
	assert.True(t, errors.Is(err, store.ErrNotFound))
	assert.Len(t, env.read(t, filestore.RelationsFile), 2)
}

// failingStore fails selected writes and delegates everything else.
type failingStore struct {
	store.Store
	createRelation error
	setStatus      error
}

func (f *failingStore) CreateRelation(ctx context.Context, r *models.DefectRelation) error {
	if f.createRelation != nil {
		return f.createRelation
	}
	return f.Store.CreateRelation(ctx, r)
}

func (f *failingStore) SetTestCaseStatus(ctx context.Context, id string, st models.TestStatus) error {
	if f.setStatus != nil {
		return f.setStatus
	}
	return f.Store.SetTestCaseStatus(ctx, id, st)
}

func TestRun_TicketlessDefectKept(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	env.write(t, filestore.DefectsFile, []map[string]any{
		{"id": "d-1", "external_ticket_id": "KOIN-261-T003", "description": "Login fails",
			"status": "open", "created_at": "2024-03-02T10:00:00Z"},
		{"id": "d-2", "description": "Reported by phone, no ticket yet", "status": "open"},
	})

	rep := env.run(t, Options{})
	res := rep.Lookup(EntityDefects)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 0, res.Skipped)
	assert.Equal(t, 0, res.Deleted)

	defects := env.read(t, filestore.DefectsFile)
	require.Len(t, defects, 2)
	assert.Equal(t, "d-2", defects[1]["id"])
	assert.Equal(t, "", defects[1]["external_ticket_id"])
	assert.NotEmpty(t, defects[1]["created_at"])

	rels, err := env.store.ListRelations(context.Background())
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "d-1", rels[0].DefectID)

	again := env.run(t, Options{})
	assert.Equal(t, 2, again.Lookup(EntityDefects).Unchanged)
}

func TestRun_ImportsTestCaseLinks(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	env.write(t, filestore.TestCasesFile, []map[string]any{
		{"id": "tc-1", "project_id": "KOIN-261", "code_ref": "T003", "name": "Login", "status": "not_executed", "cycle": 1},
		{"id": "tc-2", "project_id": "ABC-1", "code_ref": "T010", "name": "Logout", "status": "successful", "cycle": 1,
			"linked_defect_ids": []string{"d-9", "d-404", "d-9"}},
	})
	env.write(t, filestore.DefectsFile, []map[string]any{
		{"id": "d-1", "external_ticket_id": "KOIN-261-T003", "description": "Login fails",
			"status": "open", "created_at": "2024-03-02T10:00:00Z"},
		{"id": "d-9", "external_ticket_id": "ZZZ-999", "description": "Session survives logout",
			"status": "open", "created_at": "2024-03-05T10:00:00Z"},
	})

	rep := env.run(t, Options{})
	res := rep.Lookup(EntityRelations)
	assert.Equal(t, 1, rep.Relations.Imported)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "tc-2|d-404", res.Failures[0].Key)

	tc, err := env.store.GetTestCase(context.Background(), "tc-2")
	require.NoError(t, err)
	assert.Equal(t, models.TestStatusFailed, tc.Status)
	assert.Equal(t, []string{"d-9"}, tc.LinkedDefectIDs)

	cases := env.read(t, filestore.TestCasesFile)
	require.Len(t, cases, 2)
	assert.Equal(t, []any{"d-9"}, cases[1]["linked_defect_ids"])
	assert.Equal(t, "failed", cases[1]["status"])

	again := env.run(t, Options{})
	assert.Equal(t, 0, again.Lookup(EntityRelations).Created)
	assert.Equal(t, 0, again.Lookup(EntityRelations).Skipped)
	assert.Empty(t, again.Transitions)
}

func TestRun_RelationsOnlyReadsTestCaseLinks(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	env.run(t, Options{})

	cases := env.read(t, filestore.TestCasesFile)
	require.Len(t, cases, 2)
	cases[1]["linked_defect_ids"] = []string{"d-1"}
	env.write(t, filestore.TestCasesFile, cases)

	rep := env.run(t, Options{Entities: []string{EntityRelations}})
	assert.Equal(t, 1, rep.Relations.Imported)

	rels, err := env.store.ListRelations(context.Background())
	require.NoError(t, err)
	assert.Len(t, rels, 2)
	tc, err := env.store.GetTestCase(context.Background(), "tc-2")
	require.NoError(t, err)
	assert.Equal(t, models.TestStatusFailed, tc.Status)
}

func TestRun_LinkFailuresAreCounted(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	st := &failingStore{Store: env.store, createRelation: errors.New("disk I/O error")}

	rep, err := New(st, env.files, Options{}).Run(context.Background())
	require.NoError(t, err)

	res := rep.Lookup(EntityRelations)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "tc-1|d-1", res.Failures[0].Key)
	assert.Contains(t, res.Failures[0].Reason, ErrRecordSkipped.Error())
	assert.Equal(t, 0, rep.Relations.Linked)
	assert.Empty(t, rep.Transitions)
	assert.Equal(t, 1, rep.Skipped())
}

func TestRun_StatusFailuresAreCounted(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	st := &failingStore{Store: env.store, setStatus: errors.New("attempt to write a readonly database")}

	rep, err := New(st, env.files, Options{}).Run(context.Background())
	require.NoError(t, err)

	res := rep.Lookup(EntityRelations)
	assert.Equal(t, 1, rep.Relations.Linked)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "tc-1", res.Failures[0].Key)
	assert.Empty(t, rep.Transitions)
}

func TestRun_LostConnectionWhileLinkingIsFatal(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	st := &failingStore{Store: env.store, createRelation: sql.ErrConnDone}

	_, err := New(st, env.files, Options{}).Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.True(t, errors.Is(err, sql.ErrConnDone))
}

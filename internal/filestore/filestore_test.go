package filestore

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/qasync/internal/models"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	files := Open(t.TempDir())

	snap, err := files.Defects.Load()
	require.NoError(t, err)
	assert.False(t, snap.Exists)
	assert.Empty(t, snap.Records)
	assert.Empty(t, snap.Errors)
}

func TestLoad_EmptyFileIsEmpty(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, TeamsFile, "  \n")

	snap, err := Open(dir).Teams.Load()
	require.NoError(t, err)
	assert.True(t, snap.Exists)
	assert.Empty(t, snap.Records)
}

func TestLoad_NotAnArray(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, TeamsFile, `{"id": "t1"}`)

	_, err := Open(dir).Teams.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected a JSON array")
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, TeamsFile, `[{"id": "t1",`)

	_, err := Open(dir).Teams.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")
}

func TestLoad_PerRecordErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, DefectsFile, `[
		{"id": "d1", "external_ticket_id": "KOIN-261-T003", "status": "Abierto", "created_at": "2024-03-01"},
		{"id": "d2", "status": "open"},
		{"id": "d3", "external_ticket_id": "X", "status": "whatever", "created_at": "2024-03-01"},
		"not an object",
		{"id": "d5", "external_ticket_id": "Y", "status": "closed", "created_at": "yesterday"},
		{"external_ticket_id": "Z", "status": "open"}
	]`)

	snap, err := Open(dir).Defects.Load()
	require.NoError(t, err)
	require.Len(t, snap.Records, 2)
	assert.Equal(t, "d1", snap.Records[0].ID)
	assert.Equal(t, models.DefectStatusOpen, snap.Records[0].Status)

	// No ticket and no creation time are both allowed.
	assert.Equal(t, "d2", snap.Records[1].ID)
	assert.Empty(t, snap.Records[1].ExternalTicketID)
	assert.True(t, snap.Records[1].CreatedAt.IsZero())

	require.Len(t, snap.Errors, 4)
	assert.True(t, errors.Is(snap.Errors[0], ErrInvalidValue))
	assert.Equal(t, "d3", snap.Errors[0].Key)
	assert.Equal(t, 3, snap.Errors[1].Index)
	assert.True(t, errors.Is(snap.Errors[2], ErrInvalidValue))
	assert.Equal(t, 5, snap.Errors[3].Index)
	assert.True(t, errors.Is(snap.Errors[3], ErrMissingField))
}

func TestLoad_PermissiveFields(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, TestCasesFile, `[
		{
			"id": 17,
			"projectId": "KOIN-261",
			"codeRef": "T003",
			"name": "Login",
			"status": "En Ejecución",
			"cycle": "2",
			"linkedDefectIds": ["d1", 42],
			"steps": [{"action": "open page"}, {"number": "5", "action": "submit", "expected": "ok"}]
		}
	]`)

	snap, err := Open(dir).TestCases.Load()
	require.NoError(t, err)
	require.Empty(t, snap.Errors)
	require.Len(t, snap.Records, 1)

	tc := snap.Records[0]
	assert.Equal(t, "17", tc.ID)
	assert.Equal(t, "KOIN-261", tc.ProjectID)
	assert.Equal(t, "T003", tc.CodeRef)
	assert.Equal(t, models.TestStatusInProgress, tc.Status)
	assert.Equal(t, 2, tc.Cycle)
	assert.Equal(t, []string{"d1", "42"}, tc.LinkedDefectIDs)
	require.Len(t, tc.Steps, 2)
	assert.Equal(t, 1, tc.Steps[0].Number)
	assert.Equal(t, 5, tc.Steps[1].Number)
	assert.Equal(t, "ok", tc.Steps[1].Expected)
}

func TestLoad_TestCaseDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, TestCasesFile, `[
		{"id": "tc1", "project_id": "P", "code_ref": "T1", "name": "n"},
		{"id": "tc2", "project_id": "P", "code_ref": "T1", "name": "n", "cycle": 0},
		{"id": "tc3", "project_id": "P", "code_ref": "T1", "name": "n", "cycle": 1.5}
	]`)

	snap, err := Open(dir).TestCases.Load()
	require.NoError(t, err)
	require.Len(t, snap.Records, 1)
	assert.Equal(t, models.TestStatusNone, snap.Records[0].Status)
	assert.Equal(t, 1, snap.Records[0].Cycle)
	require.Len(t, snap.Errors, 2)
	assert.Equal(t, "tc2", snap.Errors[0].Key)
	assert.Equal(t, "tc3", snap.Errors[1].Key)
}

func TestTime_Formats(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, DefectsFile, `[
		{"id": "a", "external_ticket_id": "X", "status": "open", "created_at": "2024-03-01T10:00:00Z"},
		{"id": "b", "external_ticket_id": "X", "status": "open", "created_at": "2024-03-01 10:00:00"},
		{"id": "c", "external_ticket_id": "X", "status": "open", "created_at": "01/03/2024"},
		{"id": "d", "external_ticket_id": "X", "status": "open", "createdAt": 1709287200000}
	]`)

	snap, err := Open(dir).Defects.Load()
	require.NoError(t, err)
	require.Empty(t, snap.Errors)
	require.Len(t, snap.Records, 4)

	want := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	assert.True(t, want.Equal(snap.Records[0].CreatedAt))
	assert.True(t, want.Equal(snap.Records[1].CreatedAt))
	assert.True(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).Equal(snap.Records[2].CreatedAt))
	assert.True(t, want.Equal(snap.Records[3].CreatedAt))
}

func TestCamel(t *testing.T) {
	assert.Equal(t, "externalTicketId", camel("external_ticket_id"))
	assert.Equal(t, "id", camel("id"))
	assert.Equal(t, "linkedDefectIds", camel("linked_defect_ids"))
}

func TestSave_RoundTripAndReplace(t *testing.T) {
	dir := t.TempDir()
	files := Open(filepath.Join(dir, "data"))

	resolved := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	in := []*models.Defect{
		{ID: "d1", ExternalTicketID: "KOIN-261-T003", Description: "crash", Status: models.DefectStatusResolved,
			CreatedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), ResolvedAt: &resolved},
		{ID: "d2", ExternalTicketID: "KOIN-261-T004", Status: models.DefectStatusOpen,
			CreatedAt: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)},
	}
	require.NoError(t, files.Defects.Save(in))

	snap, err := files.Defects.Load()
	require.NoError(t, err)
	require.Len(t, snap.Records, 2)
	assert.Equal(t, in[0].ExternalTicketID, snap.Records[0].ExternalTicketID)
	require.NotNil(t, snap.Records[0].ResolvedAt)
	assert.True(t, resolved.Equal(*snap.Records[0].ResolvedAt))
	assert.Nil(t, snap.Records[1].ResolvedAt)

	// Save replaces wholesale.
	require.NoError(t, files.Defects.Save(in[1:]))
	snap, err = files.Defects.Load()
	require.NoError(t, err)
	require.Len(t, snap.Records, 1)
	assert.Equal(t, "d2", snap.Records[0].ID)
}

func TestSave_EmptyWritesArray(t *testing.T) {
	dir := t.TempDir()
	files := Open(dir)
	require.NoError(t, files.Relations.Save(nil))

	data, err := os.ReadFile(filepath.Join(dir, RelationsFile))
	require.NoError(t, err)
	var out []any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Empty(t, out)
	assert.NotNil(t, out)
}

func TestSave_TestCaseUsesColumnNames(t *testing.T) {
	dir := t.TempDir()
	files := Open(dir)
	require.NoError(t, files.TestCases.Save([]*models.TestCase{
		{ID: "tc1", ProjectID: "P", CodeRef: "T1", Name: "n", Status: models.TestStatusFailed, Cycle: 1},
	}))

	data, err := os.ReadFile(filepath.Join(dir, TestCasesFile))
	require.NoError(t, err)
	var out []map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	require.Len(t, out, 1)
	assert.Equal(t, "failed", out[0]["status"])
	assert.Equal(t, "T1", out[0]["code_ref"])
	assert.Equal(t, []any{}, out[0]["linked_defect_ids"])
	assert.NotContains(t, out[0], "plan_id")
}

func TestPlanCycles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, PlansFile, `[
		{"id": "p1", "project_id": "KOIN-261", "name": "Release 1", "analystEmail": "ana@example.com",
		 "cycles": [{"number": 1, "start_date": "2024-03-01", "end_date": null}, {"number": 2}]}
	]`)

	snap, err := Open(dir).Plans.Load()
	require.NoError(t, err)
	require.Len(t, snap.Records, 1)
	p := snap.Records[0]
	assert.Equal(t, "ana@example.com", p.AnalystEmail)
	require.Len(t, p.Cycles, 2)
	require.NotNil(t, p.Cycles[0].StartDate)
	assert.Nil(t, p.Cycles[0].EndDate)
	assert.Equal(t, 2, p.Cycles[1].Number)
}

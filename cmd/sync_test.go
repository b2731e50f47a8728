package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/qasync/internal/filestore"
	"github.com/joescharf/qasync/internal/runlock"
)

func writeData(t *testing.T, name string, records []map[string]any) {
	t.Helper()
	dir := viper.GetString("data_dir")
	require.NoError(t, os.MkdirAll(dir, 0755))
	data, err := json.Marshal(records)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0644))
}

func readData(t *testing.T, name string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(viper.GetString("data_dir"), name))
	require.NoError(t, err)
	var out []map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func seedData(t *testing.T) {
	t.Helper()
	writeData(t, filestore.TestCasesFile, []map[string]any{
		{"id": "tc-1", "project_id": "KOIN-261", "code_ref": "T003", "name": "Login", "status": "not_executed"},
		{"id": "tc-2", "project_id": "ABC-1", "code_ref": "T010", "name": "Logout", "status": "successful"},
	})
	writeData(t, filestore.DefectsFile, []map[string]any{
		{"id": "d-1", "external_ticket_id": "KOIN-261-T003", "description": "Login fails", "status": "open",
			"created_at": "2024-03-02T10:00:00Z"},
	})
}

func caseStatus(t *testing.T, id string) any {
	t.Helper()
	for _, tc := range readData(t, filestore.TestCasesFile) {
		if tc["id"] == id {
			return tc["status"]
		}
	}
	t.Fatalf("test case %s not in file", id)
	return nil
}

func TestSyncRun_EndToEnd(t *testing.T) {
	dir, out := testEnv(t)
	seedData(t)

	require.NoError(t, syncRun(context.Background(), nil))
	assert.Contains(t, out.String(), "Sync complete")

	assert.Equal(t, "failed", caseStatus(t, "tc-1"))
	assert.Equal(t, "successful", caseStatus(t, "tc-2"))

	rels := readData(t, filestore.RelationsFile)
	require.Len(t, rels, 1)
	assert.Equal(t, "tc-1", rels[0]["test_case_id"])
	assert.Equal(t, "d-1", rels[0]["defect_id"])

	reports, err := filepath.Glob(filepath.Join(dir, "results", "sync-*.json"))
	require.NoError(t, err)
	assert.Len(t, reports, 1)

	_, err = os.Stat(filepath.Join(viper.GetString("data_dir"), runlock.FileName))
	assert.True(t, os.IsNotExist(err), "lock should be released")

	// A second pass changes nothing.
	out.Reset()
	require.NoError(t, syncRun(context.Background(), nil))
	assert.Equal(t, "failed", caseStatus(t, "tc-1"))
	assert.Len(t, readData(t, filestore.RelationsFile), 1)
}

func TestSyncRun_DryRunLeavesFiles(t *testing.T) {
	testEnv(t)
	seedData(t)
	dryRun = true
	ui.DryRun = true
	t.Cleanup(func() { dryRun = false })

	require.NoError(t, syncRun(context.Background(), nil))

	assert.Equal(t, "not_executed", caseStatus(t, "tc-1"))
	_, err := os.Stat(filepath.Join(viper.GetString("data_dir"), filestore.RelationsFile))
	assert.True(t, os.IsNotExist(err))
}

func TestSyncRun_Locked(t *testing.T) {
	testEnv(t)
	seedData(t)

	lockPath := filepath.Join(viper.GetString("data_dir"), runlock.FileName)
	require.NoError(t, os.WriteFile(lockPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644))

	err := syncRun(context.Background(), nil)
	assert.True(t, errors.Is(err, runlock.ErrLocked))
}

func TestSyncRun_UnknownEntity(t *testing.T) {
	testEnv(t)
	err := syncRun(context.Background(), []string{"widgets"})
	assert.Error(t, err)
}

func TestSyncRun_BadRuleConfig(t *testing.T) {
	testEnv(t)
	viper.Set("match.rules", []string{"no-such-rule"})
	err := syncRun(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "match.rules")
}

func TestStatusRun(t *testing.T) {
	_, out := testEnv(t)
	seedData(t)
	require.NoError(t, syncRun(context.Background(), nil))

	out.Reset()
	statusLinked, statusUnlinked, statusProject, statusFilter = true, false, "", ""
	t.Cleanup(func() { statusLinked = false })
	require.NoError(t, statusRun(context.Background()))
	assert.Contains(t, out.String(), "tc-1")
	assert.NotContains(t, out.String(), "tc-2")

	out.Reset()
	statusLinked, statusFilter = false, "bogus"
	t.Cleanup(func() { statusFilter = "" })
	assert.Error(t, statusRun(context.Background()))
}

func TestMatchRun(t *testing.T) {
	_, out := testEnv(t)
	seedData(t)
	require.NoError(t, syncRun(context.Background(), nil))

	out.Reset()
	matchProject, matchAll = "", false
	require.NoError(t, matchRun(context.Background(), "KOIN-261-T003"))
	assert.Contains(t, out.String(), "tc-1")
	assert.NotContains(t, out.String(), "tc-2")
}

func TestLinkAndUnlinkRun(t *testing.T) {
	_, out := testEnv(t)
	seedData(t)
	require.NoError(t, syncRun(context.Background(), nil))

	out.Reset()
	require.NoError(t, linkRun(context.Background(), "tc-2", "d-1", true))
	assert.Contains(t, out.String(), "Linked d-1 to tc-2")
	assert.Equal(t, "failed", caseStatus(t, "tc-2"))
	assert.Len(t, readData(t, filestore.RelationsFile), 2)

	out.Reset()
	require.NoError(t, linkRun(context.Background(), "tc-2", "d-1", true))
	assert.Contains(t, out.String(), "already linked")

	require.NoError(t, linkRun(context.Background(), "tc-2", "d-1", false))
	assert.Len(t, readData(t, filestore.RelationsFile), 1)
}

func TestExportRun(t *testing.T) {
	_, out := testEnv(t)
	seedData(t)
	require.NoError(t, syncRun(context.Background(), nil))
	t.Cleanup(func() { exportType, reportFormat = "test_cases", "json" })

	out.Reset()
	exportType, reportFormat = "relations", "json"
	require.NoError(t, exportRun(context.Background()))
	var rels []map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &rels))
	require.Len(t, rels, 1)
	assert.Equal(t, "tc-1", rels[0]["TestCaseID"])

	out.Reset()
	exportType, reportFormat = "defects", "csv"
	require.NoError(t, exportRun(context.Background()))
	assert.Contains(t, out.String(), "ID,Ticket,Status,Severity,Created,Resolved")
	assert.Contains(t, out.String(), "d-1,KOIN-261-T003,open")

	out.Reset()
	exportType, reportFormat = "test_cases", "markdown"
	require.NoError(t, exportRun(context.Background()))
	assert.Contains(t, out.String(), "| KOIN-261 | T003 | Login | failed | 1 |")

	exportType = "widgets"
	assert.Error(t, exportRun(context.Background()))
}

func TestReportProjectsRun(t *testing.T) {
	_, out := testEnv(t)
	seedData(t)
	require.NoError(t, syncRun(context.Background(), nil))

	out.Reset()
	require.NoError(t, reportProjectsRun(context.Background()))
	assert.Contains(t, out.String(), "## KOIN-261")
	assert.Contains(t, out.String(), "Test cases: 1 (0 successful, 1 failed")
	assert.Contains(t, out.String(), "## ABC-1")
	assert.Contains(t, out.String(), "Open defects: 1")
}

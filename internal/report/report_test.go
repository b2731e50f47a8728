package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/joescharf/qasync/internal/diff"
	"github.com/joescharf/qasync/internal/match"
	"github.com/joescharf/qasync/internal/models"
	"github.com/joescharf/qasync/internal/output"
	"github.com/joescharf/qasync/internal/status"
)

func sampleReport() *RunReport {
	r := New(false)
	e := r.Entity("defects")
	e.AddCreated()
	e.AddUpdated("d2", diff.Changes{"status": {A: "open", B: "closed"}})
	e.AddUnchanged()
	e.AddSkipped("d4", errors.New("missing required field: external_ticket_id"))
	e.AddDeleted("d9")
	r.LinkedBy(match.RuleExact)
	r.LinkedBy(match.RuleExact)
	r.LinkedBy(match.RuleTicketNumber)
	r.Transitions = append(r.Transitions, status.Transition{TestCaseID: "tc1", From: models.TestStatusNone, To: models.TestStatusFailed, Defects: 1})
	r.Duplicates = append(r.Duplicates, match.DuplicatePair{TestCaseID: "tc1", DefectA: "d1", DefectB: "d2", Similarity: 0.7})
	r.Finish()
	return r
}

func TestEntityResult_CountsPartitionTotal(t *testing.T) {
	e := sampleReport().Lookup("defects")
	require.NotNil(t, e)
	assert.Equal(t, 4, e.Total)
	assert.Equal(t, e.Total, e.Created+e.Updated+e.Skipped+e.Unchanged)
	assert.Equal(t, 1, e.Deleted)
	assert.Equal(t, []string{"d9"}, e.DeletedKeys)
	require.Len(t, e.Failures, 1)
	assert.Equal(t, "d4", e.Failures[0].Key)
}

func TestEntity_KeepsFirstUseOrder(t *testing.T) {
	r := New(false)
	r.Entity("teams")
	r.Entity("cells")
	r.Entity("teams").AddCreated()

	require.Len(t, r.Entities, 2)
	assert.Equal(t, "teams", r.Entities[0].Entity)
	assert.Equal(t, 1, r.Entities[0].Created)
	assert.Nil(t, r.Lookup("plans"))
}

func TestAdd_Replaces(t *testing.T) {
	r := New(false)
	r.Entity("teams").AddCreated()
	r.Add(&EntityResult{Entity: "teams", Unchanged: 2, Total: 2})
	r.Add(&EntityResult{Entity: "cells"})

	require.Len(t, r.Entities, 2)
	assert.Equal(t, 0, r.Entities[0].Created)
	assert.Equal(t, 2, r.Entities[0].Unchanged)
}

func TestLinkedBy(t *testing.T) {
	r := sampleReport()
	assert.Equal(t, 3, r.Relations.Linked)
	assert.Equal(t, 2, r.Relations.ByRule[match.RuleExact])
	assert.Equal(t, 1, r.Skipped())
}

func TestPrint(t *testing.T) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	ui := &output.UI{Out: out, ErrOut: errOut, Verbose: true}

	require.NoError(t, sampleReport().Print(ui))

	assert.Contains(t, out.String(), "defects")
	assert.Contains(t, out.String(), "Status changes")
	assert.Contains(t, out.String(), "Possible duplicate defects")
	assert.Contains(t, out.String(), "d2 changed: [status]")
	assert.Contains(t, errOut.String(), "defects d4 skipped")
}

func TestWriteJSON(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "results")
	r := sampleReport()

	path, err := r.WriteJSON(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "sync-"+r.RunID+".json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, r.RunID, got["run_id"])

	entities := got["entities"].([]any)
	require.Len(t, entities, 1)
	defects := entities[0].(map[string]any)
	assert.EqualValues(t, 1, defects["skipped_or_errored"])
	assert.EqualValues(t, 4, defects["total"])
}

func TestEmit(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	ctx := context.Background()

	require.NoError(t, sampleReport().Emit(ctx, mp.Meter("report-test")))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	names := map[string]bool{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		names[m.Name] = true
	}
	assert.True(t, names["qasync.sync.records"])
	assert.True(t, names["qasync.sync.relations.linked"])
	assert.True(t, names["qasync.sync.duplicates"])
}

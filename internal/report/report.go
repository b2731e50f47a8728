// Package report accumulates the outcome of one sync run and renders it as
// a terminal summary, a JSON file, and OpenTelemetry counters.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/natefinch/atomic"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joescharf/qasync/internal/diff"
	"github.com/joescharf/qasync/internal/match"
	"github.com/joescharf/qasync/internal/output"
	"github.com/joescharf/qasync/internal/status"
)

// Failure is a record that was skipped or failed.
type Failure struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// RecordDiff lists the scalar fields that changed on one updated record.
type RecordDiff struct {
	Key     string       `json:"key"`
	Changes diff.Changes `json:"changes"`
}

// EntityResult holds the counters for one entity type. Created, Updated,
// Skipped and Unchanged partition Total; Deleted and Restored describe the
// regenerated file snapshot.
type EntityResult struct {
	Entity    string `json:"entity"`
	Created   int    `json:"created"`
	Updated   int    `json:"updated"`
	Deleted   int    `json:"deleted"`
	Restored  int    `json:"restored"`
	Skipped   int    `json:"skipped_or_errored"`
	Unchanged int    `json:"unchanged"`
	Total     int    `json:"total"`

	DeletedKeys  []string     `json:"deleted_keys,omitempty"`
	RestoredKeys []string     `json:"restored_keys,omitempty"`
	Failures     []Failure    `json:"failures,omitempty"`
	Diffs        []RecordDiff `json:"diffs,omitempty"`
}

func (e *EntityResult) AddCreated() {
	e.Created++
	e.Total++
}

func (e *EntityResult) AddUpdated(key string, ch diff.Changes) {
	e.Updated++
	e.Total++
	e.Diffs = append(e.Diffs, RecordDiff{Key: key, Changes: ch})
}

func (e *EntityResult) AddUnchanged() {
	e.Unchanged++
	e.Total++
}

// AddSkipped counts a record that was not applied, keeping the reason.
func (e *EntityResult) AddSkipped(key string, err error) {
	e.Skipped++
	e.Total++
	e.Failures = append(e.Failures, Failure{Key: key, Reason: err.Error()})
}

// AddDeleted counts a file-only record dropped by regeneration.
func (e *EntityResult) AddDeleted(key string) {
	e.Deleted++
	e.DeletedKeys = append(e.DeletedKeys, key)
}

// AddRestored counts a DB-only record added to the file by regeneration.
func (e *EntityResult) AddRestored(key string) {
	e.Restored++
	e.RestoredKeys = append(e.RestoredKeys, key)
}

// RelationSummary describes the linking pass.
type RelationSummary struct {
	Imported int            `json:"imported"`
	Linked   int            `json:"linked"`
	Pruned   int            `json:"pruned"`
	ByRule   map[string]int `json:"by_rule,omitempty"`
}

// RunReport is the result of one sync run.
type RunReport struct {
	RunID       string                `json:"run_id"`
	StartedAt   time.Time             `json:"started_at"`
	FinishedAt  time.Time             `json:"finished_at"`
	DryRun      bool                  `json:"dry_run"`
	Entities    []*EntityResult       `json:"entities"`
	Relations   RelationSummary       `json:"relations"`
	Transitions []status.Transition   `json:"status_transitions"`
	Duplicates  []match.DuplicatePair `json:"duplicates"`
}

// New starts a report for a run.
func New(dryRun bool) *RunReport {
	return &RunReport{
		RunID:       ulid.Make().String(),
		StartedAt:   time.Now().UTC(),
		DryRun:      dryRun,
		Transitions: []status.Transition{},
		Duplicates:  []match.DuplicatePair{},
	}
}

// Entity returns the result for name, creating it on first use. Results
// keep the order in which entities were first requested.
func (r *RunReport) Entity(name string) *EntityResult {
	for _, e := range r.Entities {
		if e.Entity == name {
			return e
		}
	}
	e := &EntityResult{Entity: name}
	r.Entities = append(r.Entities, e)
	return e
}

// Add appends e, replacing an earlier result for the same entity.
func (r *RunReport) Add(e *EntityResult) {
	for i, old := range r.Entities {
		if old.Entity == e.Entity {
			r.Entities[i] = e
			return
		}
	}
	r.Entities = append(r.Entities, e)
}

// Lookup returns the result for name, or nil.
func (r *RunReport) Lookup(name string) *EntityResult {
	for _, e := range r.Entities {
		if e.Entity == name {
			return e
		}
	}
	return nil
}

// LinkedBy records a relation created by the named match rule.
func (r *RunReport) LinkedBy(rule string) {
	r.Relations.Linked++
	if r.Relations.ByRule == nil {
		r.Relations.ByRule = make(map[string]int)
	}
	r.Relations.ByRule[rule]++
}

// Finish stamps the end time.
func (r *RunReport) Finish() {
	r.FinishedAt = time.Now().UTC()
}

// Skipped returns the total skipped count across entities.
func (r *RunReport) Skipped() int {
	n := 0
	for _, e := range r.Entities {
		n += e.Skipped
	}
	return n
}

// Print renders the summary table and the advisory sections.
func (r *RunReport) Print(ui *output.UI) error {
	ui.Heading("Sync summary (run %s)", r.RunID)
	if r.DryRun {
		ui.DryRunMsg("no changes were written")
	}

	table := ui.Table([]string{"Entity", "Created", "Updated", "Deleted", "Restored", "Skipped", "Unchanged", "Total"})
	for _, e := range r.Entities {
		table.Append([]string{
			e.Entity,
			output.CountColor(e.Created, false),
			output.CountColor(e.Updated, false),
			output.CountColor(e.Deleted, true),
			output.CountColor(e.Restored, false),
			output.CountColor(e.Skipped, true),
			fmt.Sprintf("%d", e.Unchanged),
			fmt.Sprintf("%d", e.Total),
		})
	}
	if err := table.Render(); err != nil {
		return err
	}

	ui.Info("Relations: %d imported, %d linked by matching, %d pruned",
		r.Relations.Imported, r.Relations.Linked, r.Relations.Pruned)
	rules := make([]string, 0, len(r.Relations.ByRule))
	for rule := range r.Relations.ByRule {
		rules = append(rules, rule)
	}
	sort.Strings(rules)
	for _, rule := range rules {
		ui.VerboseLog("%s: %d", rule, r.Relations.ByRule[rule])
	}

	for _, e := range r.Entities {
		for _, f := range e.Failures {
			ui.Warning("%s %s skipped: %s", e.Entity, f.Key, f.Reason)
		}
		for _, d := range e.Diffs {
			ui.VerboseLog("%s %s changed: %v", e.Entity, d.Key, d.Changes.Fields())
		}
	}

	if len(r.Transitions) > 0 {
		ui.Heading("Status changes")
		t := ui.Table([]string{"Test case", "From", "To", "Defects"})
		for _, tr := range r.Transitions {
			t.Append([]string{tr.TestCaseID, output.StatusColor(string(tr.From)), output.StatusColor(string(tr.To)), fmt.Sprintf("%d", tr.Defects)})
		}
		if err := t.Render(); err != nil {
			return err
		}
	}

	if len(r.Duplicates) > 0 {
		ui.Heading("Possible duplicate defects")
		t := ui.Table([]string{"Test case", "Defect A", "Defect B", "Similarity"})
		for _, d := range r.Duplicates {
			t.Append([]string{d.TestCaseID, d.DefectA, d.DefectB, output.SimilarityColor(d.Similarity, 0.9)})
		}
		if err := t.Render(); err != nil {
			return err
		}
	}
	return nil
}

// WriteJSON persists the report as dir/sync-<run id>.json and returns the
// path.
func (r *RunReport) WriteJSON(dir string) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create results directory: %w", err)
	}
	path := filepath.Join(dir, "sync-"+r.RunID+".json")
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

// Emit records the run counters on m.
func (r *RunReport) Emit(ctx context.Context, m metric.Meter) error {
	records, err := m.Int64Counter("qasync.sync.records",
		metric.WithDescription("Records processed per entity and outcome"))
	if err != nil {
		return err
	}
	for _, e := range r.Entities {
		entity := attribute.String("entity", e.Entity)
		for outcome, n := range map[string]int{
			"created":   e.Created,
			"updated":   e.Updated,
			"deleted":   e.Deleted,
			"restored":  e.Restored,
			"skipped":   e.Skipped,
			"unchanged": e.Unchanged,
		} {
			if n > 0 {
				records.Add(ctx, int64(n), metric.WithAttributes(entity, attribute.String("outcome", outcome)))
			}
		}
	}

	links, err := m.Int64Counter("qasync.sync.relations.linked")
	if err != nil {
		return err
	}
	for rule, n := range r.Relations.ByRule {
		links.Add(ctx, int64(n), metric.WithAttributes(attribute.String("rule", rule)))
	}

	transitions, err := m.Int64Counter("qasync.sync.status_transitions")
	if err != nil {
		return err
	}
	transitions.Add(ctx, int64(len(r.Transitions)))

	dups, err := m.Int64Counter("qasync.sync.duplicates")
	if err != nil {
		return err
	}
	dups.Add(ctx, int64(len(r.Duplicates)))
	return nil
}

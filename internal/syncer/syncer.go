// Package syncer reconciles the JSON file store with the relational store,
// one entity type at a time in dependency order, and links defects to test
// cases.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/joescharf/qasync/internal/filestore"
	"github.com/joescharf/qasync/internal/logging"
	"github.com/joescharf/qasync/internal/match"
	"github.com/joescharf/qasync/internal/report"
	"github.com/joescharf/qasync/internal/store"
)

// Entity names, also accepted on the command line.
const (
	EntityTeams     = "teams"
	EntityCells     = "cells"
	EntityAnalysts  = "analysts"
	EntityPlans     = "plans"
	EntityTestCases = "test_cases"
	EntityDefects   = "defects"
	EntityProjects  = "projects"
	EntityRelations = "relations"
)

// Order is the fixed processing order. Later entities resolve references
// to earlier ones.
var Order = []string{
	EntityTeams, EntityCells, EntityAnalysts, EntityPlans,
	EntityTestCases, EntityDefects, EntityProjects, EntityRelations,
}

var entityAliases = map[string]string{
	"cases":            EntityTestCases,
	"testcases":        EntityTestCases,
	"defect_relations": EntityRelations,
}

// ParseEntities validates entity names and returns them in processing
// order. No names selects every entity.
func ParseEntities(names []string) ([]string, error) {
	if len(names) == 0 {
		return slices.Clone(Order), nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if alias, ok := entityAliases[n]; ok {
			n = alias
		}
		if !slices.Contains(Order, n) {
			return nil, fmt.Errorf("unknown entity %q (use: %s)", n, strings.Join(Order, ", "))
		}
		want[n] = true
	}
	var out []string
	for _, n := range Order {
		if want[n] {
			out = append(out, n)
		}
	}
	return out, nil
}

// Options controls a run.
type Options struct {
	// DryRun classifies and reports without writing to either store.
	DryRun bool
	// FallbackFirstAvailable maps unresolved team and cell names of
	// cells, analysts and projects to the first available row.
	FallbackFirstAvailable bool
	// PruneRelations deletes rule-created relations whose defect and test
	// case no longer match.
	PruneRelations bool
	// DuplicateThreshold is the similarity above which two defects on the
	// same test case are flagged. Zero means match.DefaultDuplicateThreshold.
	DuplicateThreshold float64
	// Resolver links defects to test cases. Nil means the default rules.
	Resolver *match.Resolver
	// Entities restricts the run. Empty means all, in Order.
	Entities []string
	Logger   *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return logging.New("syncer")
}

func (o Options) resolver() *match.Resolver {
	if o.Resolver != nil {
		return o.Resolver
	}
	return match.NewResolver()
}

// Syncer runs sync passes over one data directory and one database. The
// store handle is owned by the caller.
type Syncer struct {
	store store.Store
	files *filestore.Files
	opts  Options
	log   *slog.Logger
	refs  *refs

	// fileLinks is linked_defect_ids per test case as read by the test
	// cases pass of the current run. Nil until that pass loads the file.
	fileLinks map[string][]string
}

// New creates a Syncer.
func New(st store.Store, files *filestore.Files, opts Options) *Syncer {
	log := opts.logger()
	opts.Logger = log
	return &Syncer{
		store: st,
		files: files,
		opts:  opts,
		log:   log,
		refs:  &refs{st: st, fallback: opts.FallbackFirstAvailable, log: log},
	}
}

// Run executes every selected entity pass in order. The report is returned
// even when a fatal error stops the run part way.
func (s *Syncer) Run(ctx context.Context) (*report.RunReport, error) {
	rep := report.New(s.opts.DryRun)
	defer rep.Finish()
	s.fileLinks = nil

	entities, err := ParseEntities(s.opts.Entities)
	if err != nil {
		return rep, err
	}
	if err := s.store.VerifySchema(ctx); err != nil {
		return rep, fatal("verify schema", err)
	}

	s.log.Info("sync started", "run", rep.RunID, "entities", entities, "dry_run", s.opts.DryRun)
	for _, name := range entities {
		if err := s.runEntity(ctx, name, rep); err != nil {
			s.log.Error("sync aborted", "entity", name, "error", err)
			return rep, err
		}
	}
	s.log.Info("sync finished", "run", rep.RunID, "skipped", rep.Skipped())
	return rep, nil
}

func (s *Syncer) runEntity(ctx context.Context, name string, rep *report.RunReport) error {
	var (
		res *report.EntityResult
		err error
	)
	switch name {
	case EntityTeams:
		res, err = Sync(ctx, s.teams(), s.opts)
	case EntityCells:
		res, err = Sync(ctx, s.cells(), s.opts)
	case EntityAnalysts:
		res, err = Sync(ctx, s.analysts(), s.opts)
	case EntityPlans:
		res, err = Sync(ctx, s.plans(), s.opts)
	case EntityTestCases:
		res, err = Sync(ctx, s.testCases(), s.opts)
	case EntityDefects:
		res, err = Sync(ctx, s.defects(), s.opts)
	case EntityProjects:
		res, err = Sync(ctx, s.projects(), s.opts)
	case EntityRelations:
		return s.linkRelations(ctx, rep)
	default:
		return fmt.Errorf("unknown entity %q", name)
	}
	if res != nil {
		rep.Add(res)
	}
	return err
}

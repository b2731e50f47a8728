package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/joescharf/qasync/internal/match"
	"github.com/joescharf/qasync/internal/models"
	"github.com/joescharf/qasync/internal/report"
	"github.com/joescharf/qasync/internal/status"
	"github.com/joescharf/qasync/internal/store"
)

// linkState is the in-memory relation set of one relations pass.
type linkState struct {
	cases    map[string]*models.TestCase
	defects  map[string]*models.Defect
	linked   map[string]*models.DefectRelation
	affected map[string]bool
}

func (l *linkState) counts() map[string]int {
	counts := make(map[string]int)
	for _, rel := range l.linked {
		counts[rel.TestCaseID]++
	}
	return counts
}

// link creates rel unless it already exists. created is false for an
// existing pair.
func (s *Syncer) link(ctx context.Context, rel *models.DefectRelation) (bool, error) {
	if s.opts.DryRun {
		return true, nil
	}
	err := s.store.CreateRelation(ctx, rel)
	if isDuplicate(err) {
		return false, nil
	}
	return err == nil, err
}

// linkRelations imports defect_relations.json, links every matching
// (defect, test case) pair, optionally prunes stale rule links, re-derives
// the status of every test case whose relations changed and regenerates
// defect_relations.json and test_cases.json.
func (s *Syncer) linkRelations(ctx context.Context, rep *report.RunReport) error {
	log := s.log.With("entity", EntityRelations)
	res := &report.EntityResult{Entity: EntityRelations}
	rep.Add(res)
	resolver := s.opts.resolver()

	snap, err := s.files.Relations.Load()
	if err != nil {
		return fatal("load relations file", err)
	}
	st, err := s.loadLinkState(ctx)
	if err != nil {
		return err
	}

	// Import relations listed in the file.
	var fileKeys []string
	for _, re := range snap.Errors {
		key := recordErrorKey(re)
		fileKeys = append(fileKeys, key)
		err := classify(re.Err)
		log.Warn("record skipped", "key", key, "error", err)
		res.AddSkipped(key, err)
	}
	for _, rel := range snap.Records {
		key := rel.Key()
		fileKeys = append(fileKeys, key)
		if _, ok := st.linked[key]; ok {
			res.AddUnchanged()
			continue
		}
		var skip error
		switch {
		case st.cases[rel.TestCaseID] == nil:
			skip = skipf("test case %q not found", rel.TestCaseID)
		case st.defects[rel.DefectID] == nil:
			skip = skipf("defect %q not found", rel.DefectID)
		}
		if skip == nil {
			created, err := s.link(ctx, rel)
			if err != nil {
				if skip = classify(err); IsFatal(skip) {
					return skip
				}
			} else if !created {
				res.AddUnchanged()
				continue
			}
		}
		if skip != nil {
			log.Warn("record skipped", "key", key, "error", skip)
			res.AddSkipped(key, skip)
			continue
		}
		st.linked[key] = rel
		st.affected[rel.TestCaseID] = true
		rep.Relations.Imported++
		res.AddCreated()
	}

	// Import links listed on the test cases themselves.
	links, err := s.testCaseLinks()
	if err != nil {
		return err
	}
	for _, caseID := range sortedKeys(links) {
		if st.cases[caseID] == nil {
			continue
		}
		for _, defectID := range links[caseID] {
			rel := &models.DefectRelation{TestCaseID: caseID, DefectID: defectID}
			key := rel.Key()
			fileKeys = append(fileKeys, key)
			if _, ok := st.linked[key]; ok {
				continue
			}
			if st.defects[defectID] == nil {
				err := skipf("test case %s links unknown defect %q", caseID, defectID)
				log.Warn("record skipped", "key", key, "error", err)
				res.AddSkipped(key, err)
				continue
			}
			created, err := s.link(ctx, rel)
			if err != nil {
				if err = classify(err); IsFatal(err) {
					return err
				}
				log.Warn("record skipped", "key", key, "error", err)
				res.AddSkipped(key, err)
				continue
			}
			if !created {
				continue
			}
			st.linked[key] = rel
			st.affected[caseID] = true
			rep.Relations.Imported++
			res.AddCreated()
		}
	}

	// Link every pair the resolver accepts.
	caseIDs := sortedKeys(st.cases)
	for _, defectID := range sortedKeys(st.defects) {
		d := st.defects[defectID]
		for _, caseID := range caseIDs {
			tc := st.cases[caseID]
			rel := &models.DefectRelation{TestCaseID: tc.ID, DefectID: d.ID}
			if _, ok := st.linked[rel.Key()]; ok {
				continue
			}
			m := resolver.Resolve(d, tc)
			if !m.Matched {
				continue
			}
			rel.MatchedRule = m.Rule
			created, err := s.link(ctx, rel)
			if err != nil {
				if err = classify(err); IsFatal(err) {
					return err
				}
				log.Warn("link failed", "key", rel.Key(), "rule", m.Rule, "error", err)
				res.AddSkipped(rel.Key(), err)
				continue
			}
			if !created {
				continue
			}
			log.Debug("linked", "test_case", tc.ID, "defect", d.ID, "rule", m.Rule)
			st.linked[rel.Key()] = rel
			st.affected[tc.ID] = true
			rep.LinkedBy(m.Rule)
		}
	}

	if s.opts.PruneRelations {
		if err := s.prune(ctx, st, resolver, rep, res); err != nil {
			return err
		}
	}

	transitions, err := s.derive(ctx, st, res)
	if err != nil {
		return err
	}
	rep.Transitions = append(rep.Transitions, transitions...)

	byCase := make(map[string][]*models.Defect)
	for _, key := range sortedKeys(st.linked) {
		rel := st.linked[key]
		if d := st.defects[rel.DefectID]; d != nil {
			byCase[rel.TestCaseID] = append(byCase[rel.TestCaseID], d)
		}
	}
	rep.Duplicates = append(rep.Duplicates, match.FindDuplicates(byCase, s.opts.DuplicateThreshold)...)

	// Regenerate both snapshots from the relational store.
	finalKeys := sortedKeys(st.linked)
	if !s.opts.DryRun {
		final, err := s.store.ListRelations(ctx)
		if err != nil {
			return fatal("reload relations", err)
		}
		finalKeys = finalKeys[:0]
		for _, rel := range final {
			finalKeys = append(finalKeys, rel.Key())
		}
		if snap.Exists || len(final) > 0 {
			if err := s.files.Relations.Save(final); err != nil {
				return fatal("write relations file", err)
			}
		}
		if err := s.regenerateTestCases(ctx); err != nil {
			return err
		}
	}
	plan := ComputePlan(fileKeys, finalKeys)
	for _, k := range plan.Removed {
		res.AddDeleted(k)
	}
	for _, k := range plan.Added {
		res.AddRestored(k)
	}

	log.Info("relations synced",
		"imported", rep.Relations.Imported, "linked", rep.Relations.Linked, "pruned", rep.Relations.Pruned,
		"transitions", len(transitions), "duplicates", len(rep.Duplicates))
	return nil
}

func (s *Syncer) loadLinkState(ctx context.Context) (*linkState, error) {
	cases, err := s.store.ListTestCases(ctx, store.TestCaseFilter{})
	if err != nil {
		return nil, fatal("load test cases", err)
	}
	defects, err := s.store.ListDefects(ctx)
	if err != nil {
		return nil, fatal("load defects", err)
	}
	rels, err := s.store.ListRelations(ctx)
	if err != nil {
		return nil, fatal("load relations", err)
	}

	st := &linkState{
		cases:    make(map[string]*models.TestCase, len(cases)),
		defects:  make(map[string]*models.Defect, len(defects)),
		linked:   make(map[string]*models.DefectRelation, len(rels)),
		affected: make(map[string]bool),
	}
	for _, tc := range cases {
		st.cases[tc.ID] = tc
	}
	for _, d := range defects {
		st.defects[d.ID] = d
	}
	for _, rel := range rels {
		st.linked[rel.Key()] = rel
	}
	return st, nil
}

// prune removes rule-created relations the resolver no longer accepts.
// Relations imported without a rule are left alone.
func (s *Syncer) prune(ctx context.Context, st *linkState, resolver *match.Resolver, rep *report.RunReport, res *report.EntityResult) error {
	for _, key := range sortedKeys(st.linked) {
		rel := st.linked[key]
		if rel.MatchedRule == "" {
			continue
		}
		d, tc := st.defects[rel.DefectID], st.cases[rel.TestCaseID]
		if d == nil || tc == nil || resolver.Matches(d, tc) {
			continue
		}
		if !s.opts.DryRun {
			err := s.store.DeleteRelation(ctx, rel.TestCaseID, rel.DefectID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				if err = classify(err); IsFatal(err) {
					return err
				}
				s.log.Warn("prune failed", "key", key, "error", err)
				res.AddSkipped(key, err)
				continue
			}
		}
		s.log.Debug("pruned", "key", key, "rule", rel.MatchedRule)
		delete(st.linked, key)
		st.affected[rel.TestCaseID] = true
		rep.Relations.Pruned++
	}
	return nil
}

// derive applies the status rules to every affected test case. Failed
// updates are counted on res; with a nil res the first failure is returned.
func (s *Syncer) derive(ctx context.Context, st *linkState, res *report.EntityResult) ([]status.Transition, error) {
	var targets []*models.TestCase
	for _, id := range sortedKeys(st.affected) {
		if tc := st.cases[id]; tc != nil {
			targets = append(targets, tc)
		}
	}

	var applied []status.Transition
	for _, tr := range status.Plan(targets, st.counts()) {
		if !s.opts.DryRun {
			if err := s.store.SetTestCaseStatus(ctx, tr.TestCaseID, tr.To); err != nil {
				err = classify(err)
				if res == nil || IsFatal(err) {
					return applied, fmt.Errorf("set status of %s: %w", tr.TestCaseID, err)
				}
				s.log.Warn("status update failed", "test_case", tr.TestCaseID, "error", err)
				res.AddSkipped(tr.TestCaseID, err)
				continue
			}
		}
		st.cases[tr.TestCaseID].Status = tr.To
		s.log.Info("status derived", "test_case", tr.TestCaseID, "from", tr.From, "to", tr.To, "defects", tr.Defects)
		applied = append(applied, tr)
	}
	return applied, nil
}

// testCaseLinks returns linked_defect_ids per test case as written in
// test_cases.json. The test cases pass captures them before regenerating
// the file; otherwise the file is read here.
func (s *Syncer) testCaseLinks() (map[string][]string, error) {
	if s.fileLinks != nil {
		return s.fileLinks, nil
	}
	snap, err := s.files.TestCases.Load()
	if err != nil {
		return nil, fatal("load test cases file", err)
	}
	return collectLinks(snap.Records), nil
}

func collectLinks(cases []*models.TestCase) map[string][]string {
	links := make(map[string][]string)
	for _, tc := range cases {
		seen := make(map[string]bool, len(tc.LinkedDefectIDs))
		for _, id := range tc.LinkedDefectIDs {
			if seen[id] {
				continue
			}
			seen[id] = true
			links[tc.ID] = append(links[tc.ID], id)
		}
	}
	return links
}

func (s *Syncer) regenerateTestCases(ctx context.Context) error {
	cases, err := s.store.ListTestCases(ctx, store.TestCaseFilter{})
	if err != nil {
		return fatal("reload test cases", err)
	}
	if len(cases) == 0 && !s.files.TestCases.Exists() {
		return nil
	}
	if err := s.files.TestCases.Save(cases); err != nil {
		return fatal("write test cases file", err)
	}
	return nil
}

// Link relates a test case to a defect outside a full pass, re-derives the
// test case's status and regenerates the affected snapshots. Linking an
// existing pair is a no-op.
func (s *Syncer) Link(ctx context.Context, testCaseID, defectID string) (bool, []status.Transition, error) {
	return s.changeLink(ctx, testCaseID, defectID, true)
}

// Unlink removes a relation, re-derives the test case's status and
// regenerates the affected snapshots.
func (s *Syncer) Unlink(ctx context.Context, testCaseID, defectID string) ([]status.Transition, error) {
	_, trs, err := s.changeLink(ctx, testCaseID, defectID, false)
	return trs, err
}

func (s *Syncer) changeLink(ctx context.Context, testCaseID, defectID string, add bool) (bool, []status.Transition, error) {
	if _, err := s.store.GetTestCase(ctx, testCaseID); err != nil {
		return false, nil, err
	}
	if _, err := s.store.GetDefect(ctx, defectID); err != nil {
		return false, nil, err
	}
	st, err := s.loadLinkState(ctx)
	if err != nil {
		return false, nil, err
	}
	rel := &models.DefectRelation{TestCaseID: testCaseID, DefectID: defectID}
	key := rel.Key()

	changed := false
	if add {
		if _, ok := st.linked[key]; !ok {
			if changed, err = s.link(ctx, rel); err != nil {
				return false, nil, fmt.Errorf("link %s: %w", key, err)
			}
			st.linked[key] = rel
		}
	} else {
		if _, ok := st.linked[key]; !ok {
			return false, nil, fmt.Errorf("relation %s: %w", key, store.ErrNotFound)
		}
		if !s.opts.DryRun {
			if err := s.store.DeleteRelation(ctx, testCaseID, defectID); err != nil {
				return false, nil, err
			}
		}
		delete(st.linked, key)
		changed = true
	}
	if !changed {
		return false, nil, nil
	}

	st.affected[testCaseID] = true
	trs, err := s.derive(ctx, st, nil)
	if err != nil {
		return true, trs, err
	}
	if s.opts.DryRun {
		return true, trs, nil
	}

	rels, err := s.store.ListRelations(ctx)
	if err != nil {
		return true, trs, fatal("reload relations", err)
	}
	if err := s.files.Relations.Save(rels); err != nil {
		return true, trs, fatal("write relations file", err)
	}
	return true, trs, s.regenerateTestCases(ctx)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package syncer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joescharf/qasync/internal/diff"
	"github.com/joescharf/qasync/internal/filestore"
	"github.com/joescharf/qasync/internal/report"
)

// Adapter binds one entity type to both stores. The file store is primary
// for create and update; the relational store is primary when the file
// snapshot is regenerated.
type Adapter[T any] interface {
	Entity() string
	Key(rec T) string
	// Fields projects the record onto its column names for diffing.
	Fields(rec T) diff.Record
	LoadPrimary(ctx context.Context) (*filestore.Snapshot[T], error)
	LoadSecondary(ctx context.Context) ([]T, error)
	Create(ctx context.Context, rec T) error
	Update(ctx context.Context, rec T) error
	WriteSnapshot(recs []T) error
}

// Plan is the three-way comparison between the file snapshot read at the
// start of a pass and the relational state it is regenerated from.
type Plan struct {
	Kept    []string // in both
	Added   []string // relational only, written to the file
	Removed []string // file only, dropped from the file
}

// ComputePlan compares file keys with final keys. Key order follows the
// inputs.
func ComputePlan(fileKeys, finalKeys []string) Plan {
	inFinal := make(map[string]bool, len(finalKeys))
	for _, k := range finalKeys {
		inFinal[k] = true
	}
	inFile := make(map[string]bool, len(fileKeys))

	var p Plan
	for _, k := range fileKeys {
		if inFile[k] {
			continue
		}
		inFile[k] = true
		if inFinal[k] {
			p.Kept = append(p.Kept, k)
		} else {
			p.Removed = append(p.Removed, k)
		}
	}
	for _, k := range finalKeys {
		if !inFile[k] {
			p.Added = append(p.Added, k)
		}
	}
	return p
}

// Sync runs one entity type through LoadPrimary, LoadSecondary,
// CreateMissing, UpdateChanged and RegenerateSecondarySnapshot. Per-record
// failures are counted in the result; only a *FatalStoreError is returned.
func Sync[T any](ctx context.Context, a Adapter[T], opts Options) (*report.EntityResult, error) {
	log := opts.logger().With(slog.String("entity", a.Entity()))
	res := &report.EntityResult{Entity: a.Entity()}

	snap, err := a.LoadPrimary(ctx)
	if err != nil {
		return res, fatal("load "+a.Entity()+" file", err)
	}
	// Keys of every element in the file, including undecodable ones, so
	// the regeneration plan accounts for them.
	var fileKeys []string
	for _, re := range snap.Errors {
		key := recordErrorKey(re)
		fileKeys = append(fileKeys, key)
		err := classify(re.Err)
		log.Warn("record skipped", "key", key, "error", err)
		res.AddSkipped(key, err)
	}

	existing, err := a.LoadSecondary(ctx)
	if err != nil {
		return res, fatal("load "+a.Entity()+" table", err)
	}
	byKey := make(map[string]T, len(existing))
	for _, rec := range existing {
		byKey[a.Key(rec)] = rec
	}

	seen := make(map[string]bool, len(snap.Records))
	var pending []string
	for _, rec := range snap.Records {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		key := a.Key(rec)
		fileKeys = append(fileKeys, key)
		if seen[key] {
			err := missingf("duplicate key %s in file", key)
			log.Warn("record skipped", "key", key, "error", err)
			res.AddSkipped(key, err)
			continue
		}
		seen[key] = true

		cur, ok := byKey[key]
		if !ok {
			if !opts.DryRun {
				if err := classify(a.Create(ctx, rec)); err != nil {
					if IsFatal(err) {
						return res, err
					}
					log.Warn("record skipped", "key", key, "error", err)
					res.AddSkipped(key, err)
					continue
				}
			}
			log.Debug("created", "key", key)
			pending = append(pending, key)
			res.AddCreated()
			continue
		}

		changes := diff.Diff(a.Fields(cur), a.Fields(rec))
		if changes.Empty() {
			res.AddUnchanged()
			continue
		}
		if !opts.DryRun {
			if err := classify(a.Update(ctx, rec)); err != nil {
				if IsFatal(err) {
					return res, err
				}
				log.Warn("record skipped", "key", key, "error", err)
				res.AddSkipped(key, err)
				continue
			}
		}
		log.Debug("updated", "key", key, "fields", changes.Fields())
		res.AddUpdated(key, changes)
	}

	// Regenerate the file from the relational store. A dry run predicts the
	// final key set from the current rows plus the records it would create.
	final := existing
	if !opts.DryRun {
		final, err = a.LoadSecondary(ctx)
		if err != nil {
			return res, fatal("reload "+a.Entity()+" table", err)
		}
	}
	finalKeys := make([]string, 0, len(final)+len(pending))
	for _, rec := range final {
		finalKeys = append(finalKeys, a.Key(rec))
	}
	if opts.DryRun {
		finalKeys = append(finalKeys, pending...)
	}

	plan := ComputePlan(fileKeys, finalKeys)
	for _, k := range plan.Removed {
		res.AddDeleted(k)
	}
	for _, k := range plan.Added {
		res.AddRestored(k)
	}

	if opts.DryRun || (!snap.Exists && len(final) == 0) {
		return res, nil
	}
	if err := a.WriteSnapshot(final); err != nil {
		return res, fatal("write "+a.Entity()+" file", err)
	}
	log.Info("synced",
		"created", res.Created, "updated", res.Updated, "deleted", res.Deleted,
		"restored", res.Restored, "skipped", res.Skipped, "unchanged", res.Unchanged)
	return res, nil
}

func recordErrorKey(re filestore.RecordError) string {
	if re.Key != "" {
		return re.Key
	}
	return fmt.Sprintf("#%d", re.Index)
}

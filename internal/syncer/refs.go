package syncer

import (
	"context"
	"errors"
	"log/slog"

	"github.com/joescharf/qasync/internal/store"
)

// refs resolves reference names to relational ids for one run.
type refs struct {
	st       store.Store
	fallback bool
	log      *slog.Logger
}

// teamID resolves a team by exact name. With fallback enabled, an empty or
// unknown name maps to the first team.
func (r *refs) teamID(ctx context.Context, owner, name string) (string, error) {
	if name != "" {
		t, err := r.st.GetTeamByName(ctx, name)
		if err == nil {
			return t.ID, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return "", err
		}
	}
	if r.fallback {
		t, err := r.st.FirstTeam(ctx)
		if err == nil {
			r.log.Warn("team fallback applied", "record", owner, "team", name, "assigned", t.Name)
			return t.ID, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return "", err
		}
	}
	if name == "" {
		return "", missingf("%s has no team_name", owner)
	}
	return "", skipf("%s: team %q not found", owner, name)
}

// cellID resolves a cell by exact name. With fallback enabled, an empty or
// unknown name maps to the first cell.
func (r *refs) cellID(ctx context.Context, owner, name string) (string, error) {
	if name != "" {
		c, err := r.st.GetCellByName(ctx, name)
		if err == nil {
			return c.ID, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return "", err
		}
	}
	if r.fallback {
		c, err := r.st.FirstCell(ctx)
		if err == nil {
			r.log.Warn("cell fallback applied", "record", owner, "cell", name, "assigned", c.Name)
			return c.ID, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return "", err
		}
	}
	if name == "" {
		return "", missingf("%s has no cell_name", owner)
	}
	return "", skipf("%s: cell %q not found", owner, name)
}

// optionalCellID is cellID for references that may be left empty.
func (r *refs) optionalCellID(ctx context.Context, owner, name string) (string, error) {
	if name == "" {
		return "", nil
	}
	return r.cellID(ctx, owner, name)
}

// analystID resolves an analyst by email. No fallback applies.
func (r *refs) analystID(ctx context.Context, owner, email string) (string, error) {
	if email == "" {
		return "", nil
	}
	a, err := r.st.GetAnalystByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return "", skipf("%s: analyst %q not found", owner, email)
	}
	if err != nil {
		return "", err
	}
	return a.ID, nil
}

// checkPlan verifies a referenced plan exists. No fallback applies.
func (r *refs) checkPlan(ctx context.Context, owner, planID string) error {
	if planID == "" {
		return nil
	}
	ok, err := r.st.PlanExists(ctx, planID)
	if err != nil {
		return err
	}
	if !ok {
		return skipf("%s: plan %q not found", owner, planID)
	}
	return nil
}

package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/joescharf/qasync/internal/models"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db      *sql.DB
	retries uint64
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithRetries retries writes that fail with a transient busy/locked error up
// to n times with exponential backoff. The default is zero retries.
func WithRetries(n int) Option {
	return func(s *SQLiteStore) {
		if n > 0 {
			s.retries = uint64(n)
		}
	}
}

// NewSQLiteStore opens (or creates) a SQLite database. dsn is a file path,
// optionally prefixed with "file:", or ":memory:".
func NewSQLiteStore(dsn string, opts ...Option) (*SQLiteStore, error) {
	if path := dsnPath(dsn); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One writer at a time; the sync pass is sequential anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// dsnPath extracts the filesystem path of a DSN, or "" for in-memory DSNs.
func dsnPath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return ""
	}
	return path
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// VerifySchema checks that every table the sync core touches exists.
func (s *SQLiteStore) VerifySchema(ctx context.Context) error {
	for _, table := range Tables {
		var name string
		err := s.db.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table,
		).Scan(&name)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("table %s does not exist", table)
		}
		if err != nil {
			return fmt.Errorf("check table %s: %w", table, err)
		}
	}
	return nil
}

// Count returns the number of rows in one of the known tables.
func (s *SQLiteStore) Count(ctx context.Context, table string) (int, error) {
	known := false
	for _, t := range Tables {
		if t == table {
			known = true
			break
		}
	}
	if !known {
		return 0, fmt.Errorf("count: unknown table %q", table)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqliteCode returns the (extended) result code carried by a driver error.
func sqliteCode(err error) (int, bool) {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return 0, false
	}
	return se.Code(), true
}

// isUniqueConstraintError reports whether err is a SQLite UNIQUE/PRIMARY KEY
// violation.
func isUniqueConstraintError(err error) bool {
	code, ok := sqliteCode(err)
	if !ok {
		return false
	}
	switch code {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}

// isRetryableError reports whether err is a transient busy/locked error.
func isRetryableError(err error) bool {
	code, ok := sqliteCode(err)
	if !ok {
		return false
	}
	switch code & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

// withRetry runs op, retrying transient lock errors when retries are enabled.
func (s *SQLiteStore) withRetry(ctx context.Context, op func() error) error {
	if s.retries == 0 {
		return op()
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxElapsedTime = 10 * time.Second
	return backoff.Retry(func() error {
		err := op()
		if err != nil && isRetryableError(err) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, s.retries), ctx))
}

// exec wraps ExecContext with the retry policy.
func (s *SQLiteStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var result sql.Result
	err := s.withRetry(ctx, func() error {
		var execErr error
		result, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	return result, err
}

// inTx runs fn inside a transaction, retried as a whole.
func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

// requireAffected turns a zero-row update into ErrNotFound.
func requireAffected(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %s: rows affected: %w", what, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC()
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// --- Teams ---

func (s *SQLiteStore) ListTeams(ctx context.Context) ([]*models.Team, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, description FROM teams ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	defer rows.Close()

	var teams []*models.Team
	for rows.Next() {
		t := &models.Team{}
		if err := rows.Scan(&t.ID, &t.Name, &t.Description); err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		teams = append(teams, t)
	}
	return teams, rows.Err()
}

func (s *SQLiteStore) GetTeamByName(ctx context.Context, name string) (*models.Team, error) {
	t := &models.Team{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description FROM teams WHERE name = ?`, name,
	).Scan(&t.ID, &t.Name, &t.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("team %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get team by name: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) FirstTeam(ctx context.Context) (*models.Team, error) {
	t := &models.Team{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description FROM teams ORDER BY rowid LIMIT 1`,
	).Scan(&t.ID, &t.Name, &t.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("first team: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("first team: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) CreateTeam(ctx context.Context, t *models.Team) error {
	_, err := s.exec(ctx,
		`INSERT INTO teams (id, name, description) VALUES (?, ?, ?)`,
		t.ID, t.Name, t.Description,
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("create team %s: %w", t.ID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("create team: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateTeam(ctx context.Context, t *models.Team) error {
	res, err := s.exec(ctx,
		`UPDATE teams SET name = ?, description = ? WHERE id = ?`,
		t.Name, t.Description, t.ID,
	)
	if err != nil {
		return fmt.Errorf("update team: %w", err)
	}
	return requireAffected(res, "team", t.ID)
}

// --- Cells ---

const cellSelect = `SELECT c.id, c.name, t.name FROM cells c JOIN teams t ON t.id = c.team_id`

func (s *SQLiteStore) ListCells(ctx context.Context) ([]*models.Cell, error) {
	rows, err := s.db.QueryContext(ctx, cellSelect+` ORDER BY c.name`)
	if err != nil {
		return nil, fmt.Errorf("list cells: %w", err)
	}
	defer rows.Close()

	var cells []*models.Cell
	for rows.Next() {
		c := &models.Cell{}
		if err := rows.Scan(&c.ID, &c.Name, &c.TeamName); err != nil {
			return nil, fmt.Errorf("scan cell: %w", err)
		}
		cells = append(cells, c)
	}
	return cells, rows.Err()
}

func (s *SQLiteStore) GetCellByName(ctx context.Context, name string) (*models.Cell, error) {
	c := &models.Cell{}
	err := s.db.QueryRowContext(ctx, cellSelect+` WHERE c.name = ?`, name).Scan(&c.ID, &c.Name, &c.TeamName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cell %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get cell by name: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) FirstCell(ctx context.Context) (*models.Cell, error) {
	c := &models.Cell{}
	err := s.db.QueryRowContext(ctx, cellSelect+` ORDER BY c.rowid LIMIT 1`).Scan(&c.ID, &c.Name, &c.TeamName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("first cell: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("first cell: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) CreateCell(ctx context.Context, c *models.Cell, teamID string) error {
	_, err := s.exec(ctx,
		`INSERT INTO cells (id, name, team_id) VALUES (?, ?, ?)`,
		c.ID, c.Name, teamID,
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("create cell %s: %w", c.ID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("create cell: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateCell(ctx context.Context, c *models.Cell, teamID string) error {
	res, err := s.exec(ctx,
		`UPDATE cells SET name = ?, team_id = ? WHERE id = ?`,
		c.Name, teamID, c.ID,
	)
	if err != nil {
		return fmt.Errorf("update cell: %w", err)
	}
	return requireAffected(res, "cell", c.ID)
}

// --- Analysts ---

const analystSelect = `SELECT a.id, a.name, a.email, COALESCE(c.name, '')
	FROM analysts a LEFT JOIN cells c ON c.id = a.cell_id`

func (s *SQLiteStore) ListAnalysts(ctx context.Context) ([]*models.Analyst, error) {
	rows, err := s.db.QueryContext(ctx, analystSelect+` ORDER BY a.name`)
	if err != nil {
		return nil, fmt.Errorf("list analysts: %w", err)
	}
	defer rows.Close()

	var analysts []*models.Analyst
	for rows.Next() {
		a := &models.Analyst{}
		if err := rows.Scan(&a.ID, &a.Name, &a.Email, &a.CellName); err != nil {
			return nil, fmt.Errorf("scan analyst: %w", err)
		}
		analysts = append(analysts, a)
	}
	return analysts, rows.Err()
}

func (s *SQLiteStore) GetAnalystByEmail(ctx context.Context, email string) (*models.Analyst, error) {
	a := &models.Analyst{}
	err := s.db.QueryRowContext(ctx, analystSelect+` WHERE a.email = ?`, email).Scan(&a.ID, &a.Name, &a.Email, &a.CellName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("analyst %q: %w", email, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get analyst by email: %w", err)
	}
	return a, nil
}

func (s *SQLiteStore) CreateAnalyst(ctx context.Context, a *models.Analyst, cellID string) error {
	_, err := s.exec(ctx,
		`INSERT INTO analysts (id, name, email, cell_id) VALUES (?, ?, ?, ?)`,
		a.ID, a.Name, a.Email, nullString(cellID),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("create analyst %s: %w", a.ID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("create analyst: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateAnalyst(ctx context.Context, a *models.Analyst, cellID string) error {
	res, err := s.exec(ctx,
		`UPDATE analysts SET name = ?, email = ?, cell_id = ? WHERE id = ?`,
		a.Name, a.Email, nullString(cellID), a.ID,
	)
	if err != nil {
		return fmt.Errorf("update analyst: %w", err)
	}
	return requireAffected(res, "analyst", a.ID)
}

// --- Plans ---

func (s *SQLiteStore) ListPlans(ctx context.Context) ([]*models.Plan, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, p.project_id, p.name, COALESCE(a.email, ''), p.status
		FROM plans p LEFT JOIN analysts a ON a.id = p.analyst_id ORDER BY p.id`)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}

	var plans []*models.Plan
	byID := make(map[string]*models.Plan)
	for rows.Next() {
		p := &models.Plan{}
		if err := rows.Scan(&p.ID, &p.ProjectID, &p.Name, &p.AnalystEmail, &p.Status); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, p)
		byID[p.ID] = p
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}

	cycles, err := s.db.QueryContext(ctx,
		`SELECT plan_id, number, start_date, end_date FROM plan_cycles ORDER BY plan_id, number`)
	if err != nil {
		return nil, fmt.Errorf("list plan cycles: %w", err)
	}
	defer cycles.Close()
	for cycles.Next() {
		var (
			planID     string
			c          models.PlanCycle
			start, end sql.NullTime
		)
		if err := cycles.Scan(&planID, &c.Number, &start, &end); err != nil {
			return nil, fmt.Errorf("scan plan cycle: %w", err)
		}
		c.StartDate = timePtr(start)
		c.EndDate = timePtr(end)
		if p, ok := byID[planID]; ok {
			p.Cycles = append(p.Cycles, c)
		}
	}
	return plans, cycles.Err()
}

func (s *SQLiteStore) PlanExists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM plans WHERE id = ?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("plan exists: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) CreatePlan(ctx context.Context, p *models.Plan, analystID string) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO plans (id, project_id, name, analyst_id, status) VALUES (?, ?, ?, ?, ?)`,
			p.ID, p.ProjectID, p.Name, nullString(analystID), p.Status,
		)
		if err != nil {
			return err
		}
		return insertCycles(ctx, tx, p)
	})
	if isUniqueConstraintError(err) {
		return fmt.Errorf("create plan %s: %w", p.ID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("create plan: %w", err)
	}
	return nil
}

// UpdatePlan overwrites the plan's scalar columns and replaces its cycles.
func (s *SQLiteStore) UpdatePlan(ctx context.Context, p *models.Plan, analystID string) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE plans SET project_id = ?, name = ?, analyst_id = ?, status = ? WHERE id = ?`,
			p.ProjectID, p.Name, nullString(analystID), p.Status, p.ID,
		)
		if err != nil {
			return err
		}
		if err := requireAffected(res, "plan", p.ID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM plan_cycles WHERE plan_id = ?`, p.ID); err != nil {
			return err
		}
		return insertCycles(ctx, tx, p)
	})
	if err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	return nil
}

func insertCycles(ctx context.Context, tx *sql.Tx, p *models.Plan) error {
	for _, c := range p.Cycles {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO plan_cycles (plan_id, number, start_date, end_date) VALUES (?, ?, ?, ?)`,
			p.ID, c.Number, nullTime(c.StartDate), nullTime(c.EndDate),
		)
		if err != nil {
			return fmt.Errorf("insert cycle %d: %w", c.Number, err)
		}
	}
	return nil
}

// --- Test cases ---

func (s *SQLiteStore) ListTestCases(ctx context.Context, filter TestCaseFilter) ([]*models.TestCase, error) {
	query := `SELECT id, project_id, COALESCE(plan_id, ''), code_ref, name, status, cycle FROM test_cases tc WHERE 1=1`
	var args []any

	if filter.ProjectID != "" {
		query += ` AND project_id = ?`
		args = append(args, filter.ProjectID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.HasDefects != nil {
		exists := `EXISTS (SELECT 1 FROM defect_relations r WHERE r.test_case_id = tc.id)`
		if *filter.HasDefects {
			query += ` AND ` + exists
		} else {
			query += ` AND NOT ` + exists
		}
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list test cases: %w", err)
	}
	var cases []*models.TestCase
	for rows.Next() {
		tc := &models.TestCase{}
		if err := rows.Scan(&tc.ID, &tc.ProjectID, &tc.PlanID, &tc.CodeRef, &tc.Name, &tc.Status, &tc.Cycle); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan test case: %w", err)
		}
		cases = append(cases, tc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list test cases: %w", err)
	}

	if err := s.attachCaseChildren(ctx, cases); err != nil {
		return nil, err
	}
	return cases, nil
}

// attachCaseChildren loads steps and linked defect ids for the given cases.
func (s *SQLiteStore) attachCaseChildren(ctx context.Context, cases []*models.TestCase) error {
	if len(cases) == 0 {
		return nil
	}
	byID := make(map[string]*models.TestCase, len(cases))
	for _, tc := range cases {
		byID[tc.ID] = tc
	}

	steps, err := s.db.QueryContext(ctx,
		`SELECT test_case_id, number, action, expected FROM test_steps ORDER BY test_case_id, number`)
	if err != nil {
		return fmt.Errorf("list test steps: %w", err)
	}
	for steps.Next() {
		var (
			tcID string
			st   models.TestStep
		)
		if err := steps.Scan(&tcID, &st.Number, &st.Action, &st.Expected); err != nil {
			steps.Close()
			return fmt.Errorf("scan test step: %w", err)
		}
		if tc, ok := byID[tcID]; ok {
			tc.Steps = append(tc.Steps, st)
		}
	}
	steps.Close()
	if err := steps.Err(); err != nil {
		return fmt.Errorf("list test steps: %w", err)
	}

	rels, err := s.db.QueryContext(ctx,
		`SELECT test_case_id, defect_id FROM defect_relations ORDER BY test_case_id, defect_id`)
	if err != nil {
		return fmt.Errorf("list linked defects: %w", err)
	}
	defer rels.Close()
	for rels.Next() {
		var tcID, defectID string
		if err := rels.Scan(&tcID, &defectID); err != nil {
			return fmt.Errorf("scan linked defect: %w", err)
		}
		if tc, ok := byID[tcID]; ok {
			tc.LinkedDefectIDs = append(tc.LinkedDefectIDs, defectID)
		}
	}
	return rels.Err()
}

func (s *SQLiteStore) GetTestCase(ctx context.Context, id string) (*models.TestCase, error) {
	tc := &models.TestCase{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, COALESCE(plan_id, ''), code_ref, name, status, cycle FROM test_cases WHERE id = ?`, id,
	).Scan(&tc.ID, &tc.ProjectID, &tc.PlanID, &tc.CodeRef, &tc.Name, &tc.Status, &tc.Cycle)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("test case %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get test case: %w", err)
	}
	if err := s.attachCaseChildren(ctx, []*models.TestCase{tc}); err != nil {
		return nil, err
	}
	return tc, nil
}

func (s *SQLiteStore) CreateTestCase(ctx context.Context, tc *models.TestCase) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO test_cases (id, project_id, plan_id, code_ref, name, status, cycle) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			tc.ID, tc.ProjectID, nullString(tc.PlanID), tc.CodeRef, tc.Name, tc.Status, tc.Cycle,
		)
		if err != nil {
			return err
		}
		return insertSteps(ctx, tx, tc)
	})
	if isUniqueConstraintError(err) {
		return fmt.Errorf("create test case %s: %w", tc.ID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("create test case: %w", err)
	}
	return nil
}

// UpdateTestCase overwrites the scalar columns and replaces the steps.
// Linked defects are owned by the relations table and are left alone.
func (s *SQLiteStore) UpdateTestCase(ctx context.Context, tc *models.TestCase) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE test_cases SET project_id = ?, plan_id = ?, code_ref = ?, name = ?, status = ?, cycle = ? WHERE id = ?`,
			tc.ProjectID, nullString(tc.PlanID), tc.CodeRef, tc.Name, tc.Status, tc.Cycle, tc.ID,
		)
		if err != nil {
			return err
		}
		if err := requireAffected(res, "test case", tc.ID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM test_steps WHERE test_case_id = ?`, tc.ID); err != nil {
			return err
		}
		return insertSteps(ctx, tx, tc)
	})
	if err != nil {
		return fmt.Errorf("update test case: %w", err)
	}
	return nil
}

func insertSteps(ctx context.Context, tx *sql.Tx, tc *models.TestCase) error {
	for _, st := range tc.Steps {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO test_steps (test_case_id, number, action, expected) VALUES (?, ?, ?, ?)`,
			tc.ID, st.Number, st.Action, st.Expected,
		)
		if err != nil {
			return fmt.Errorf("insert step %d: %w", st.Number, err)
		}
	}
	return nil
}

func (s *SQLiteStore) SetTestCaseStatus(ctx context.Context, id string, status models.TestStatus) error {
	res, err := s.exec(ctx, `UPDATE test_cases SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("set test case status: %w", err)
	}
	return requireAffected(res, "test case", id)
}

// --- Defects ---

const defectSelect = `SELECT id, external_ticket_id, description, status, severity, created_at, resolved_at FROM defects`

func (s *SQLiteStore) queryDefects(ctx context.Context, query string, args ...any) ([]*models.Defect, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list defects: %w", err)
	}
	defer rows.Close()

	var defects []*models.Defect
	for rows.Next() {
		d := &models.Defect{}
		var resolved sql.NullTime
		if err := rows.Scan(&d.ID, &d.ExternalTicketID, &d.Description, &d.Status, &d.Severity, &d.CreatedAt, &resolved); err != nil {
			return nil, fmt.Errorf("scan defect: %w", err)
		}
		d.CreatedAt = d.CreatedAt.UTC()
		d.ResolvedAt = timePtr(resolved)
		defects = append(defects, d)
	}
	return defects, rows.Err()
}

func (s *SQLiteStore) ListDefects(ctx context.Context) ([]*models.Defect, error) {
	return s.queryDefects(ctx, defectSelect+` ORDER BY id`)
}

func (s *SQLiteStore) GetDefect(ctx context.Context, id string) (*models.Defect, error) {
	defects, err := s.queryDefects(ctx, defectSelect+` WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(defects) == 0 {
		return nil, fmt.Errorf("defect %s: %w", id, ErrNotFound)
	}
	return defects[0], nil
}

// FindDefectsByTicket returns defects whose ticket code contains fragment.
func (s *SQLiteStore) FindDefectsByTicket(ctx context.Context, fragment string) ([]*models.Defect, error) {
	return s.queryDefects(ctx, defectSelect+` WHERE instr(external_ticket_id, ?) > 0 ORDER BY id`, fragment)
}

func (s *SQLiteStore) CreateDefect(ctx context.Context, d *models.Defect) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := s.exec(ctx,
		`INSERT INTO defects (id, external_ticket_id, description, status, severity, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.ExternalTicketID, d.Description, d.Status, d.Severity, d.CreatedAt.UTC(), nullTime(d.ResolvedAt),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("create defect %s: %w", d.ID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("create defect: %w", err)
	}
	return nil
}

// UpdateDefect overwrites a defect. A zero CreatedAt keeps the stored
// creation time.
func (s *SQLiteStore) UpdateDefect(ctx context.Context, d *models.Defect) error {
	res, err := s.exec(ctx,
		`UPDATE defects SET external_ticket_id = ?, description = ?, status = ?, severity = ?,
		created_at = COALESCE(?, created_at), resolved_at = ?
		WHERE id = ?`,
		d.ExternalTicketID, d.Description, d.Status, d.Severity, nullTime(&d.CreatedAt), nullTime(d.ResolvedAt), d.ID,
	)
	if err != nil {
		return fmt.Errorf("update defect: %w", err)
	}
	return requireAffected(res, "defect", d.ID)
}

// --- Projects ---

func (s *SQLiteStore) ListProjects(ctx context.Context) ([]*models.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, p.name, t.name, c.name, p.status, p.description
		FROM projects p
		JOIN teams t ON t.id = p.team_id
		JOIN cells c ON c.id = p.cell_id
		ORDER BY p.id`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		p := &models.Project{}
		if err := rows.Scan(&p.ID, &p.Name, &p.TeamName, &p.CellName, &p.Status, &p.Description); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *SQLiteStore) CreateProject(ctx context.Context, p *models.Project, teamID, cellID string) error {
	_, err := s.exec(ctx,
		`INSERT INTO projects (id, name, team_id, cell_id, status, description) VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, teamID, cellID, p.Status, p.Description,
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("create project %s: %w", p.ID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateProject(ctx context.Context, p *models.Project, teamID, cellID string) error {
	res, err := s.exec(ctx,
		`UPDATE projects SET name = ?, team_id = ?, cell_id = ?, status = ?, description = ? WHERE id = ?`,
		p.Name, teamID, cellID, p.Status, p.Description, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return requireAffected(res, "project", p.ID)
}

// --- Defect relations ---

func (s *SQLiteStore) ListRelations(ctx context.Context) ([]*models.DefectRelation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT test_case_id, defect_id, matched_rule, created_at FROM defect_relations ORDER BY test_case_id, defect_id`)
	if err != nil {
		return nil, fmt.Errorf("list relations: %w", err)
	}
	defer rows.Close()

	var rels []*models.DefectRelation
	for rows.Next() {
		r := &models.DefectRelation{}
		if err := rows.Scan(&r.TestCaseID, &r.DefectID, &r.MatchedRule, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan relation: %w", err)
		}
		r.CreatedAt = r.CreatedAt.UTC()
		rels = append(rels, r)
	}
	return rels, rows.Err()
}

// CreateRelation inserts a relation. An existing pair yields ErrDuplicate and
// leaves the stored row untouched.
func (s *SQLiteStore) CreateRelation(ctx context.Context, r *models.DefectRelation) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.exec(ctx,
		`INSERT INTO defect_relations (test_case_id, defect_id, matched_rule, created_at) VALUES (?, ?, ?, ?)`,
		r.TestCaseID, r.DefectID, r.MatchedRule, r.CreatedAt.UTC(),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("create relation %s: %w", r.Key(), ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("create relation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteRelation(ctx context.Context, testCaseID, defectID string) error {
	res, err := s.exec(ctx,
		`DELETE FROM defect_relations WHERE test_case_id = ? AND defect_id = ?`, testCaseID, defectID)
	if err != nil {
		return fmt.Errorf("delete relation: %w", err)
	}
	return requireAffected(res, "relation", testCaseID+"|"+defectID)
}

func (s *SQLiteStore) CountRelationsByTestCase(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT test_case_id, COUNT(*) FROM defect_relations GROUP BY test_case_id`)
	if err != nil {
		return nil, fmt.Errorf("count relations: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			id string
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan relation count: %w", err)
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

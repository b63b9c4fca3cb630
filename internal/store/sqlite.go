package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/risk-surcharge/internal/conditiontree"
	"github.com/sells-group/risk-surcharge/internal/model"
	"github.com/sells-group/risk-surcharge/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	profile    TEXT NOT NULL,
	input      TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	summary    TEXT,
	error      TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS lookup_entries (
	run_id         TEXT NOT NULL REFERENCES runs(id),
	position       INTEGER NOT NULL,
	industry       TEXT NOT NULL,
	disability     TEXT NOT NULL,
	amount_bracket TEXT NOT NULL,
	renewal        TEXT NOT NULL,
	coefficient    REAL NOT NULL,
	risk_score     REAL NOT NULL,
	records        INTEGER NOT NULL,
	source         TEXT NOT NULL,
	PRIMARY KEY (run_id, position)
);

CREATE INDEX IF NOT EXISTS idx_runs_kind_status ON runs(kind, status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, kind model.RunKind, profile, input string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, kind, profile, input, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, string(kind), profile, input, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Kind:      kind,
		Profile:   profile,
		Input:     input,
		Status:    model.RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, summary map[string]any) error {
	raw, err := marshalSummary(summary)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, summary = ?, updated_at = ? WHERE id = ?`,
		string(model.RunStatusComplete), raw, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(model.RunStatusFailed), reason, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

const sqliteRunColumns = `id, kind, profile, input, status, summary, error, created_at, updated_at`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteRunColumns+` FROM runs WHERE id = ?`, runID)
	return scanSQLiteRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + sqliteRunColumns + ` FROM runs WHERE 1=1`
	var args []any

	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SaveLookupTable(ctx context.Context, runID string, entries []conditiontree.Entry) error {
	rows, err := lookupRows(runID, entries)
	if err != nil {
		return err
	}

	// Concurrent writers surface as "database is locked"; the whole
	// transaction is replayed.
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("sqlite", "save lookup table")
	return resilience.Do(ctx, retry, func(ctx context.Context) error {
		return s.replaceLookup(ctx, runID, rows)
	})
}

func (s *SQLiteStore) replaceLookup(ctx context.Context, runID string, rows [][]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM lookup_entries WHERE run_id = ?`, runID); err != nil {
		return eris.Wrapf(err, "sqlite: clear lookup table %s", runID)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO lookup_entries (`+strings.Join(lookupColumns, ", ")+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare lookup insert")
	}
	defer stmt.Close() //nolint:errcheck

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r...); err != nil {
			return eris.Wrapf(err, "sqlite: insert lookup entry for run %s", runID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit lookup table")
}

func (s *SQLiteStore) LoadLookupTable(ctx context.Context, runID string) (string, []conditiontree.Entry, error) {
	if runID == "" {
		err := s.db.QueryRowContext(ctx,
			`SELECT id FROM runs WHERE kind = ? AND status = ? ORDER BY created_at DESC LIMIT 1`,
			string(model.RunKindAssess), string(model.RunStatusComplete),
		).Scan(&runID)
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil, eris.Wrap(ErrNotFound, "sqlite: no completed assessment run")
		}
		if err != nil {
			return "", nil, eris.Wrap(err, "sqlite: latest assessment run")
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT industry, disability, amount_bracket, renewal, coefficient, risk_score, records, source
		 FROM lookup_entries WHERE run_id = ? ORDER BY position`,
		runID,
	)
	if err != nil {
		return "", nil, eris.Wrapf(err, "sqlite: load lookup table %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var entries []conditiontree.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return "", nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return "", nil, eris.Wrap(err, "sqlite: load lookup table iterate")
	}
	if len(entries) == 0 {
		return "", nil, eris.Wrapf(ErrNotFound, "sqlite: no lookup table for run %s", runID)
	}
	return runID, entries, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func scanSQLiteRun(row scannable) (*model.Run, error) {
	var (
		r       model.Run
		summary sql.NullString
		errMsg  sql.NullString
	)
	err := row.Scan(&r.ID, &r.Kind, &r.Profile, &r.Input, &r.Status, &summary, &errMsg, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "sqlite: run")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	if summary.Valid {
		if err := unmarshalSummary([]byte(summary.String), &r.Summary); err != nil {
			return nil, err
		}
	}
	r.Error = errMsg.String
	return &r, nil
}

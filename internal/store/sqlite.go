package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
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
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	source     TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'running',
	labels     INTEGER NOT NULL DEFAULT 0,
	matched    INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS outcomes (
	id            TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL REFERENCES runs(id),
	seq           INTEGER NOT NULL,
	raw           TEXT NOT NULL,
	normalized    TEXT NOT NULL,
	name          TEXT NOT NULL DEFAULT '',
	address       TEXT NOT NULL DEFAULT '',
	recipient_id  TEXT,
	score         REAL NOT NULL DEFAULT 0,
	name_score    REAL NOT NULL DEFAULT 0,
	address_score REAL NOT NULL DEFAULT 0,
	method        TEXT NOT NULL,
	errors        TEXT,
	elapsed_ms    INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS generation_cache (
	key        TEXT PRIMARY KEY,
	data       BLOB NOT NULL,
	cached_at  DATETIME NOT NULL,
	expires_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_outcomes_run_id ON outcomes(run_id, seq);
CREATE INDEX IF NOT EXISTS idx_generation_cache_expires_at ON generation_cache(expires_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run Run) error {
	if run.Status == "" {
		run.Status = RunStatusRunning
	}
	now := s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, source, status, labels, matched, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Source, string(run.Status), run.Labels, run.Matched, now, now,
	)
	return eris.Wrapf(err, "sqlite: insert run %s", run.ID)
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status RunStatus, labels, matched int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, labels = ?, matched = ?, updated_at = ? WHERE id = ?`,
		string(status), labels, matched, s.now(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source, status, labels, matched, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get run %s", runID)
	}
	return r, eris.Wrapf(err, "sqlite: get run %s", runID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `SELECT id, source, status, labels, matched, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
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

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SaveOutcome(ctx context.Context, o Outcome) error {
	errs, err := encodeErrors(o.Errors)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal errors")
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = s.now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO outcomes (id, run_id, seq, raw, normalized, name, address, recipient_id,
			score, name_score, address_score, method, errors, elapsed_ms, created_at)
		 VALUES (?, ?, (SELECT COUNT(*) FROM outcomes WHERE run_id = ?), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.RunID, o.RunID, o.Raw, o.Normalized, o.Name, o.Address, nullString(o.RecipientID),
		o.Score, o.NameScore, o.AddressScore, o.Method, errs, o.ElapsedMS, o.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert outcome %s", o.ID)
}

func (s *SQLiteStore) ListOutcomes(ctx context.Context, runID string) ([]Outcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, raw, normalized, name, address, recipient_id, score, name_score,
			address_score, method, errors, elapsed_ms, created_at
		 FROM outcomes WHERE run_id = ? ORDER BY seq`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list outcomes %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var out []Outcome
	for rows.Next() {
		var o Outcome
		var recipientID, errs sql.NullString
		if err := rows.Scan(&o.ID, &o.RunID, &o.Raw, &o.Normalized, &o.Name, &o.Address, &recipientID,
			&o.Score, &o.NameScore, &o.AddressScore, &o.Method, &errs, &o.ElapsedMS, &o.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan outcome")
		}
		o.RecipientID = recipientID.String
		if o.Errors, err = decodeErrors(errs.String); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal errors")
		}
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list outcomes iterate")
}

func (s *SQLiteStore) GetCachedGeneration(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM generation_cache WHERE key = ? AND expires_at > ?`,
		key, s.now(),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cached generation")
	}
	return data, nil
}

func (s *SQLiteStore) SetCachedGeneration(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO generation_cache (key, data, cached_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET data = excluded.data, cached_at = excluded.cached_at, expires_at = excluded.expires_at`,
		key, data, now, now.Add(ttl),
	)
	return eris.Wrap(err, "sqlite: set cached generation")
}

func (s *SQLiteStore) DeleteExpiredGenerations(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM generation_cache WHERE expires_at <= ?`, s.now(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired generations")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// helpers

func checkRowsAffected(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*Run, error) {
	var r Run
	var status string
	if err := row.Scan(&r.ID, &r.Source, &status, &r.Labels, &r.Matched, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = RunStatus(status)
	return &r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func encodeErrors(errs []string) (sql.NullString, error) {
	if len(errs) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(errs)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeErrors(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var errs []string
	if err := json.Unmarshal([]byte(s), &errs); err != nil {
		return nil, err
	}
	return errs, nil
}

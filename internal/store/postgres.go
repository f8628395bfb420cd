package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
	now  func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	pgxCfg.MaxConns = 4
	pgxCfg.MinConns = 1
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			pgxCfg.MaxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			pgxCfg.MinConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return newPostgresWithPool(pool), nil
}

func newPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	source     TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'running',
	labels     INTEGER NOT NULL DEFAULT 0,
	matched    INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS outcomes (
	id            TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL REFERENCES runs(id),
	seq           BIGSERIAL,
	raw           TEXT NOT NULL,
	normalized    TEXT NOT NULL,
	name          TEXT NOT NULL DEFAULT '',
	address       TEXT NOT NULL DEFAULT '',
	recipient_id  TEXT,
	score         DOUBLE PRECISION NOT NULL DEFAULT 0,
	name_score    DOUBLE PRECISION NOT NULL DEFAULT 0,
	address_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	method        TEXT NOT NULL,
	errors        JSONB,
	elapsed_ms    BIGINT NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS generation_cache (
	key        TEXT PRIMARY KEY,
	data       BYTEA NOT NULL,
	cached_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_outcomes_run_id ON outcomes(run_id, seq);
CREATE INDEX IF NOT EXISTS idx_generation_cache_expires_at ON generation_cache(expires_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, run Run) error {
	if run.Status == "" {
		run.Status = RunStatusRunning
	}
	now := s.now()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, source, status, labels, matched, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.Source, string(run.Status), run.Labels, run.Matched, now, now,
	)
	return eris.Wrapf(err, "postgres: insert run %s", run.ID)
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, status RunStatus, labels, matched int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, labels = $2, matched = $3, updated_at = $4 WHERE id = $5`,
		string(status), labels, matched, s.now(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, source, status, labels, matched, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	)
	r, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get run %s", runID)
	}
	return r, eris.Wrapf(err, "postgres: get run %s", runID)
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, source, status, labels, matched, created_at, updated_at FROM runs
		 WHERE ($1 = '' OR status = $1)
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		string(filter.Status), limit, filter.Offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) SaveOutcome(ctx context.Context, o Outcome) error {
	var errs []byte
	if len(o.Errors) > 0 {
		var err error
		if errs, err = json.Marshal(o.Errors); err != nil {
			return eris.Wrap(err, "postgres: marshal errors")
		}
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = s.now()
	}
	var recipientID *string
	if o.RecipientID != "" {
		recipientID = &o.RecipientID
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO outcomes (id, run_id, raw, normalized, name, address, recipient_id,
			score, name_score, address_score, method, errors, elapsed_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		o.ID, o.RunID, o.Raw, o.Normalized, o.Name, o.Address, recipientID,
		o.Score, o.NameScore, o.AddressScore, o.Method, errs, o.ElapsedMS, o.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert outcome %s", o.ID)
}

func (s *PostgresStore) ListOutcomes(ctx context.Context, runID string) ([]Outcome, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, raw, normalized, name, address, recipient_id, score, name_score,
			address_score, method, errors, elapsed_ms, created_at
		 FROM outcomes WHERE run_id = $1 ORDER BY seq`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list outcomes %s", runID)
	}
	defer rows.Close()

	var out []Outcome
	for rows.Next() {
		var o Outcome
		var recipientID *string
		var errs []byte
		if err := rows.Scan(&o.ID, &o.RunID, &o.Raw, &o.Normalized, &o.Name, &o.Address, &recipientID,
			&o.Score, &o.NameScore, &o.AddressScore, &o.Method, &errs, &o.ElapsedMS, &o.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan outcome")
		}
		if recipientID != nil {
			o.RecipientID = *recipientID
		}
		if o.Errors, err = decodeErrors(string(errs)); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal errors")
		}
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list outcomes iterate")
}

func (s *PostgresStore) GetCachedGeneration(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM generation_cache WHERE key = $1 AND expires_at > now()`,
		key,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get cached generation")
	}
	return data, nil
}

func (s *PostgresStore) SetCachedGeneration(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	now := s.now()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO generation_cache (key, data, cached_at, expires_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, cached_at = EXCLUDED.cached_at, expires_at = EXCLUDED.expires_at`,
		key, data, now, now.Add(ttl),
	)
	return eris.Wrap(err, "postgres: set cached generation")
}

func (s *PostgresStore) DeleteExpiredGenerations(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM generation_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired generations")
	}
	return int(tag.RowsAffected()), nil
}

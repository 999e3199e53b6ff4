package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/article-engine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	q   queries
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
	return &SQLiteStore{
		db:  db,
		q:   newQueries(sq.Question),
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS generation_jobs (
	id            TEXT PRIMARY KEY,
	payload       TEXT NOT NULL,
	priority      INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL DEFAULT 'pending',
	attempt_count INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	tokens_used   INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	started_at    DATETIME,
	completed_at  DATETIME
);

CREATE INDEX IF NOT EXISTS idx_generation_jobs_status ON generation_jobs(status, priority, created_at);

CREATE TABLE IF NOT EXISTS generated_articles (
	id                   TEXT PRIMARY KEY,
	title                TEXT NOT NULL,
	excerpt              TEXT NOT NULL DEFAULT '',
	content              TEXT NOT NULL,
	status               TEXT NOT NULL DEFAULT 'draft',
	analysis_score       REAL NOT NULL DEFAULT 0,
	verification_metrics TEXT NOT NULL DEFAULT '{}',
	author               TEXT NOT NULL DEFAULT '',
	created_at           DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) FetchPending(ctx context.Context, limit int) ([]model.Job, error) {
	query, args, err := s.q.fetchPending(limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build fetch pending")
	}
	return s.queryJobs(ctx, "fetch pending", query, args)
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query, args, err := s.q.listJobs(filter)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build list jobs")
	}
	return s.queryJobs(ctx, "list jobs", query, args)
}

func (s *SQLiteStore) queryJobs(ctx context.Context, op, query string, args []any) ([]model.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: %s", op)
	}
	defer rows.Close() //nolint:errcheck

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan job (%s)", op)
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrapf(rows.Err(), "sqlite: %s iterate", op)
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	query, args, err := s.q.getJob(id)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build get job")
	}
	j, err := scanJob(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "sqlite: job %s", id)
		}
		return nil, eris.Wrapf(err, "sqlite: get job %s", id)
	}
	return j, nil
}

func (s *SQLiteStore) Claim(ctx context.Context, id string) (bool, error) {
	query, args, err := s.q.claim(id, s.now())
	if err != nil {
		return false, eris.Wrap(err, "sqlite: build claim")
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: claim job %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) Complete(ctx context.Context, id string, tokensUsed int64) error {
	query, args, err := s.q.complete(id, tokensUsed, s.now())
	if err != nil {
		return eris.Wrap(err, "sqlite: build complete")
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete job %s", id)
	}
	return checkRowsAffected(res, "processing job", id)
}

func (s *SQLiteStore) Fail(ctx context.Context, id, message string) error {
	query, args, err := s.q.fail(id, message, s.now())
	if err != nil {
		return eris.Wrap(err, "sqlite: build fail")
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail job %s", id)
	}
	return checkRowsAffected(res, "non-terminal job", id)
}

func (s *SQLiteStore) Enqueue(ctx context.Context, job model.Job) (*model.Job, error) {
	j, err := prepareJob(job)
	if err != nil {
		return nil, err
	}
	query, args, err := s.q.insertJobs([]model.Job{j}, textJSON)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build enqueue")
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, eris.Wrap(err, "sqlite: insert job")
	}
	return &j, nil
}

// EnqueueBatch inserts jobs in a single multi-row INSERT inside a transaction.
func (s *SQLiteStore) EnqueueBatch(ctx context.Context, jobs []model.Job) (int64, error) {
	if len(jobs) == 0 {
		return 0, nil
	}
	prepared := make([]model.Job, 0, len(jobs))
	for _, job := range jobs {
		j, err := prepareJob(job)
		if err != nil {
			return 0, err
		}
		prepared = append(prepared, j)
	}
	query, args, err := s.q.insertJobs(prepared, textJSON)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: build enqueue batch")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: enqueue batch")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "rows affected")
	}
	return n, eris.Wrap(tx.Commit(), "sqlite: commit enqueue batch")
}

func (s *SQLiteStore) SaveArtifact(ctx context.Context, a *model.Artifact) error {
	if a == nil || a.JobID == "" {
		return eris.New("sqlite: artifact job id is required")
	}
	query, args, err := s.q.saveArtifact(a, textJSON)
	if err != nil {
		return eris.Wrap(err, "sqlite: build save artifact")
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return eris.Wrapf(err, "sqlite: save artifact %s", a.JobID)
}

func (s *SQLiteStore) GetArtifact(ctx context.Context, id string) (*model.Artifact, error) {
	query, args, err := s.q.getArtifact(id)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build get artifact")
	}
	a, err := scanArtifact(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "sqlite: artifact %s", id)
		}
		return nil, eris.Wrapf(err, "sqlite: get artifact %s", id)
	}
	return a, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func textJSON(b []byte) any { return string(b) }

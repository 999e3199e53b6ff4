package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/article-engine/internal/db"
	"github.com/sells-group/article-engine/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	q       queries
	now     func() time.Time
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

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
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
	return newPostgresStore(pool, pool.Close), nil
}

func newPostgresStore(pool db.Pool, closeFn func()) *PostgresStore {
	return &PostgresStore{
		pool:    pool,
		closeFn: closeFn,
		q:       newQueries(sq.Dollar),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Pool returns the underlying pool for subsystems that query it directly,
// such as the vector searcher.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS generation_jobs (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	payload       JSONB NOT NULL,
	priority      INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL DEFAULT 'pending',
	attempt_count INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	tokens_used   BIGINT NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at    TIMESTAMPTZ,
	completed_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_generation_jobs_pending
	ON generation_jobs(priority DESC, created_at ASC) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_generation_jobs_status ON generation_jobs(status);

CREATE TABLE IF NOT EXISTS generated_articles (
	id                   TEXT PRIMARY KEY,
	title                TEXT NOT NULL,
	excerpt              TEXT NOT NULL DEFAULT '',
	content              TEXT NOT NULL,
	status               TEXT NOT NULL DEFAULT 'draft',
	analysis_score       DOUBLE PRECISION NOT NULL DEFAULT 0,
	verification_metrics JSONB NOT NULL DEFAULT '{}'::jsonb,
	author               TEXT NOT NULL DEFAULT '',
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_generated_articles_status ON generated_articles(status);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) FetchPending(ctx context.Context, limit int) ([]model.Job, error) {
	query, args, err := s.q.fetchPending(limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build fetch pending")
	}
	return s.queryJobs(ctx, "fetch pending", query, args)
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query, args, err := s.q.listJobs(filter)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build list jobs")
	}
	return s.queryJobs(ctx, "list jobs", query, args)
}

func (s *PostgresStore) queryJobs(ctx context.Context, op, query string, args []any) ([]model.Job, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: %s", op)
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: scan job (%s)", op)
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrapf(rows.Err(), "postgres: %s iterate", op)
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	query, args, err := s.q.getJob(id)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build get job")
	}
	j, err := scanJob(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "postgres: job %s", id)
		}
		return nil, eris.Wrapf(err, "postgres: get job %s", id)
	}
	return j, nil
}

func (s *PostgresStore) Claim(ctx context.Context, id string) (bool, error) {
	query, args, err := s.q.claim(id, s.now())
	if err != nil {
		return false, eris.Wrap(err, "postgres: build claim")
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: claim job %s", id)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) Complete(ctx context.Context, id string, tokensUsed int64) error {
	query, args, err := s.q.complete(id, tokensUsed, s.now())
	if err != nil {
		return eris.Wrap(err, "postgres: build complete")
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete job %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: job %s is not processing", id)
	}
	return nil
}

func (s *PostgresStore) Fail(ctx context.Context, id, message string) error {
	query, args, err := s.q.fail(id, message, s.now())
	if err != nil {
		return eris.Wrap(err, "postgres: build fail")
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail job %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: job %s is already terminal or missing", id)
	}
	return nil
}

func (s *PostgresStore) Enqueue(ctx context.Context, job model.Job) (*model.Job, error) {
	j, err := prepareJob(job)
	if err != nil {
		return nil, err
	}
	query, args, err := s.q.insertJobs([]model.Job{j}, rawJSON)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build enqueue")
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return nil, eris.Wrap(err, "postgres: insert job")
	}
	return &j, nil
}

// EnqueueBatch bulk-loads jobs with COPY.
func (s *PostgresStore) EnqueueBatch(ctx context.Context, jobs []model.Job) (int64, error) {
	cols := []string{"id", "payload", "priority", "status", "attempt_count", "tokens_used", "created_at"}
	rows := make([][]any, 0, len(jobs))
	for _, job := range jobs {
		j, err := prepareJob(job)
		if err != nil {
			return 0, err
		}
		payload, err := json.Marshal(j.Payload)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal payload")
		}
		rows = append(rows, []any{j.ID, payload, j.Priority, string(j.Status), j.AttemptCount, int64(0), j.CreatedAt})
	}
	n, err := db.CopyFrom(ctx, s.pool, JobsTable, cols, rows)
	return n, eris.Wrap(err, "postgres: enqueue batch")
}

func (s *PostgresStore) SaveArtifact(ctx context.Context, a *model.Artifact) error {
	if a == nil || a.JobID == "" {
		return eris.New("postgres: artifact job id is required")
	}
	query, args, err := s.q.saveArtifact(a, rawJSON)
	if err != nil {
		return eris.Wrap(err, "postgres: build save artifact")
	}
	_, err = s.pool.Exec(ctx, query, args...)
	return eris.Wrapf(err, "postgres: save artifact %s", a.JobID)
}

func (s *PostgresStore) GetArtifact(ctx context.Context, id string) (*model.Artifact, error) {
	query, args, err := s.q.getArtifact(id)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build get artifact")
	}
	a, err := scanArtifact(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "postgres: artifact %s", id)
		}
		return nil, eris.Wrapf(err, "postgres: get artifact %s", id)
	}
	return a, nil
}

func rawJSON(b []byte) any { return b }

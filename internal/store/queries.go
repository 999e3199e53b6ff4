package store

import (
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rotisserie/eris"

	"github.com/sells-group/article-engine/internal/db"
	"github.com/sells-group/article-engine/internal/model"
)

// Table names.
const (
	JobsTable      = "generation_jobs"
	ArtifactsTable = "generated_articles"
)

var jobColumns = []string{
	"id", "payload", "priority", "status", "attempt_count", "error_message",
	"tokens_used", "created_at", "started_at", "completed_at",
}

var artifactColumns = []string{
	"id", "title", "excerpt", "content", "status", "analysis_score",
	"verification_metrics", "author", "created_at",
}

// artifactUpsert overwrites everything but the key and the first-write time.
var artifactUpsert = db.UpsertConfig{
	Table:        ArtifactsTable,
	Columns:      artifactColumns,
	ConflictKeys: []string{"id"},
	UpdateCols: []string{
		"title", "excerpt", "content", "status", "analysis_score",
		"verification_metrics", "author",
	},
}

// queries renders the statements shared by the Postgres and SQLite stores;
// only the placeholder format differs.
type queries struct {
	sb sq.StatementBuilderType
}

func newQueries(ph sq.PlaceholderFormat) queries {
	return queries{sb: sq.StatementBuilder.PlaceholderFormat(ph)}
}

func (q queries) fetchPending(limit int) (string, []any, error) {
	return q.sb.Select(jobColumns...).
		From(JobsTable).
		Where(sq.Eq{"status": string(model.JobStatusPending)}).
		OrderBy("priority DESC", "created_at ASC").
		Limit(uint64(limit)).
		ToSql()
}

func (q queries) getJob(id string) (string, []any, error) {
	return q.sb.Select(jobColumns...).From(JobsTable).Where(sq.Eq{"id": id}).ToSql()
}

func (q queries) listJobs(f JobFilter) (string, []any, error) {
	b := q.sb.Select(jobColumns...).From(JobsTable)
	if f.Status != "" {
		b = b.Where(sq.Eq{"status": string(f.Status)})
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	b = b.OrderBy("created_at DESC").Limit(uint64(limit))
	if f.Offset > 0 {
		b = b.Offset(uint64(f.Offset))
	}
	return b.ToSql()
}

// claim is a compare-and-set: it only matches a row that is still pending.
func (q queries) claim(id string, now time.Time) (string, []any, error) {
	return q.sb.Update(JobsTable).
		Set("status", string(model.JobStatusProcessing)).
		Set("started_at", now).
		Set("attempt_count", sq.Expr("attempt_count + 1")).
		Where(sq.Eq{"id": id, "status": string(model.JobStatusPending)}).
		ToSql()
}

func (q queries) complete(id string, tokensUsed int64, now time.Time) (string, []any, error) {
	return q.sb.Update(JobsTable).
		Set("status", string(model.JobStatusCompleted)).
		Set("completed_at", now).
		Set("tokens_used", tokensUsed).
		Set("error_message", nil).
		Where(sq.Eq{"id": id, "status": string(model.JobStatusProcessing)}).
		ToSql()
}

func (q queries) fail(id, message string, now time.Time) (string, []any, error) {
	return q.sb.Update(JobsTable).
		Set("status", string(model.JobStatusFailed)).
		Set("completed_at", now).
		Set("error_message", message).
		Where(sq.Eq{"id": id, "status": []string{string(model.JobStatusPending), string(model.JobStatusProcessing)}}).
		ToSql()
}

func (q queries) insertJobs(jobs []model.Job, payloadArg func([]byte) any) (string, []any, error) {
	b := q.sb.Insert(JobsTable).Columns(jobColumns...)
	for _, j := range jobs {
		payload, err := json.Marshal(j.Payload)
		if err != nil {
			return "", nil, eris.Wrap(err, "store: marshal payload")
		}
		b = b.Values(j.ID, payloadArg(payload), j.Priority, string(j.Status), j.AttemptCount, nil, int64(0), j.CreatedAt, nil, nil)
	}
	return b.ToSql()
}

func (q queries) saveArtifact(a *model.Artifact, metricsArg func([]byte) any) (string, []any, error) {
	suffix, err := db.OnConflictClause(artifactUpsert)
	if err != nil {
		return "", nil, err
	}
	metrics, err := json.Marshal(a.Metrics)
	if err != nil {
		return "", nil, eris.Wrap(err, "store: marshal verification metrics")
	}
	status := a.Status
	if status == "" {
		status = model.ArtifactStatusDraft
	}
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return q.sb.Insert(ArtifactsTable).
		Columns(artifactColumns...).
		Values(a.JobID, a.Title, a.Excerpt, a.Content, string(status), a.QualityScore, metricsArg(metrics), a.Author, createdAt).
		Suffix(suffix).
		ToSql()
}

func (q queries) getArtifact(id string) (string, []any, error) {
	return q.sb.Select(artifactColumns...).From(ArtifactsTable).Where(sq.Eq{"id": id}).ToSql()
}

func scanJob(row scannable) (*model.Job, error) {
	var (
		j           model.Job
		payload     []byte
		status      string
		errMsg      *string
		startedAt   *time.Time
		completedAt *time.Time
	)
	if err := row.Scan(&j.ID, &payload, &j.Priority, &status, &j.AttemptCount, &errMsg,
		&j.TokensUsed, &j.CreatedAt, &startedAt, &completedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &j.Payload); err != nil {
		return nil, eris.Wrapf(err, "store: unmarshal payload of job %s", j.ID)
	}
	j.Status = model.JobStatus(status)
	if errMsg != nil {
		j.ErrorMessage = *errMsg
	}
	j.StartedAt = startedAt
	j.CompletedAt = completedAt
	return &j, nil
}

func scanArtifact(row scannable) (*model.Artifact, error) {
	var (
		a       model.Artifact
		status  string
		metrics []byte
	)
	if err := row.Scan(&a.JobID, &a.Title, &a.Excerpt, &a.Content, &status, &a.QualityScore,
		&metrics, &a.Author, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.Status = model.ArtifactStatus(status)
	if len(metrics) > 0 {
		if err := json.Unmarshal(metrics, &a.Metrics); err != nil {
			return nil, eris.Wrapf(err, "store: unmarshal metrics of artifact %s", a.JobID)
		}
	}
	return &a, nil
}

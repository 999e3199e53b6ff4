// Package store persists the generation queue and the artifacts it produces.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/article-engine/internal/model"
)

// ErrNotFound is returned when a job or artifact does not exist.
var ErrNotFound = eris.New("store: not found")

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Status model.JobStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Queue is the job table as the consumer sees it.
type Queue interface {
	// FetchPending returns up to limit pending jobs, highest priority first,
	// oldest first within a priority.
	FetchPending(ctx context.Context, limit int) ([]model.Job, error)
	// Claim moves a pending job to processing. It reports false when another
	// consumer got there first.
	Claim(ctx context.Context, id string) (bool, error)
	Complete(ctx context.Context, id string, tokensUsed int64) error
	Fail(ctx context.Context, id, message string) error
}

// Artifacts is the generated-article table.
type Artifacts interface {
	// SaveArtifact upserts by job id, so saving twice never duplicates a row.
	SaveArtifact(ctx context.Context, a *model.Artifact) error
	GetArtifact(ctx context.Context, id string) (*model.Artifact, error)
}

// Store is the full persistence surface used by the commands.
type Store interface {
	Queue
	Artifacts

	Enqueue(ctx context.Context, job model.Job) (*model.Job, error)
	EnqueueBatch(ctx context.Context, jobs []model.Job) (int64, error)
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)

	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// prepareJob fills the defaults of a job about to be queued.
func prepareJob(job model.Job) (model.Job, error) {
	if job.Payload.Topic == "" {
		return job, eris.New("store: job topic is required")
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.Status = model.JobStatusPending
	job.AttemptCount = 0
	job.ErrorMessage = ""
	job.StartedAt = nil
	job.CompletedAt = nil
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	return job, nil
}

type scannable interface {
	Scan(dest ...any) error
}

package model

import (
	"time"
)

// JobStatus represents the lifecycle state of a generation job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobPayload is the producer-supplied description of the article to write.
type JobPayload struct {
	Topic          string   `json:"topic"`
	Angle          string   `json:"angle,omitempty"`
	Audience       string   `json:"audience,omitempty"`
	Tone           string   `json:"tone,omitempty"`
	Keywords       []string `json:"keywords,omitempty"`
	RequiredLength int      `json:"required_length,omitempty"` // minimum characters; 0 = policy default
}

// RetrievalQuery is the text used for the semantic lookup of a payload.
func (p JobPayload) RetrievalQuery() string {
	if p.Angle == "" {
		return p.Topic
	}
	return p.Topic + " " + p.Angle
}

// Job is a row of the generation queue.
type Job struct {
	ID           string     `json:"id"`
	Payload      JobPayload `json:"payload"`
	Priority     int        `json:"priority"`
	Status       JobStatus  `json:"status"`
	AttemptCount int        `json:"attempt_count"`
	ErrorMessage string     `json:"error_message,omitempty"`
	TokensUsed   int64      `json:"tokens_used"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

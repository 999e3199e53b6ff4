package model

import "time"

// ArtifactStatus is the review state written with a persisted article.
type ArtifactStatus string

const (
	// ArtifactStatusDraft marks output waiting for human review.
	ArtifactStatusDraft ArtifactStatus = "draft"
)

// VerificationMetrics records how an artifact fared against the output checks.
type VerificationMetrics struct {
	Length             int      `json:"length"`
	MinLength          int      `json:"min_length"`
	HasMetaBlock       bool     `json:"has_meta_block"`
	Violations         []string `json:"violations,omitempty"`
	CorrectionAttempts int      `json:"correction_attempts"`
	Validated          bool     `json:"validated"`
	SourcesCited       []string `json:"sources_cited,omitempty"`
	SourcesRetrieved   int      `json:"sources_retrieved"`
	Provider           string   `json:"provider"`
	TokensUsed         int64    `json:"tokens_used"`
}

// Artifact is a generated article ready for persistence. It is keyed by the
// job that produced it and never mutated after it is stored.
type Artifact struct {
	JobID        string              `json:"id"`
	Title        string              `json:"title"`
	Excerpt      string              `json:"excerpt"`
	Content      string              `json:"content"`
	Status       ArtifactStatus      `json:"status"`
	QualityScore float64             `json:"analysis_score"`
	Metrics      VerificationMetrics `json:"verification_metrics"`
	Author       string              `json:"author"`
	CreatedAt    time.Time           `json:"created_at"`
}

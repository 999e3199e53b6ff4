package validate

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/article-engine/internal/model"
	"github.com/sells-group/article-engine/internal/prompt"
	"github.com/sells-group/article-engine/internal/router"
)

// DefaultAuthor is written on artifacts when none is configured.
const DefaultAuthor = "CEKA"

// Generator produces one completion, failing over internally.
type Generator interface {
	Generate(ctx context.Context, prompt, system string) (*router.Result, error)
}

// Outcome is the artifact produced for a job together with the trace of
// every router call that went into it.
type Outcome struct {
	Artifact    *model.Artifact
	Report      Report
	Corrections int
	Attempts    []router.Attempt
	Failures    []router.Failure
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithAuthor sets the artifact author.
func WithAuthor(author string) LoopOption {
	return func(l *Loop) {
		if author != "" {
			l.author = author
		}
	}
}

// WithClock overrides the artifact timestamp source.
func WithClock(now func() time.Time) LoopOption {
	return func(l *Loop) { l.now = now }
}

// Loop drafts an article and re-prompts until it passes or the policy's
// correction budget runs out.
type Loop struct {
	gen    Generator
	policy Policy
	author string
	now    func() time.Time
}

// NewLoop creates a Loop.
func NewLoop(gen Generator, policy Policy, opts ...LoopOption) *Loop {
	if policy.MaxAttempts < 0 {
		policy.MaxAttempts = 0
	}
	l := &Loop{gen: gen, policy: policy, author: DefaultAuthor, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Policy returns the loop's base policy.
func (l *Loop) Policy() Policy { return l.policy }

type draft struct {
	text     string
	provider string
	report   Report
	score    float64
}

// GenerateValidated drafts, checks and corrects an article for job. A draft
// that never passes is still returned once the correction budget is spent.
// The call fails only when the router cannot produce a first draft.
func (l *Loop) GenerateValidated(ctx context.Context, job model.Job, p prompt.Prompt, rc model.RetrievedContext) (*Outcome, error) {
	policy := l.policy.ForLength(job.Payload.RequiredLength)
	log := zap.L().With(zap.String("job_id", job.ID))
	out := &Outcome{}

	res, err := l.gen.Generate(ctx, p.Text, p.System)
	if res != nil {
		out.Attempts = append(out.Attempts, res.Attempts...)
		out.Failures = append(out.Failures, res.Failures...)
	}
	if err != nil {
		var exhausted *router.ExhaustedError
		if errors.As(err, &exhausted) {
			out.Failures = append(out.Failures, exhausted.Failures...)
		}
		return out, eris.Wrap(err, "validate: draft")
	}

	var tokens int64
	tokens += res.TokensUsed
	cur := newDraft(res, policy)
	best := cur

	for policy.ShouldCorrect(cur.report, out.Corrections) {
		log.Warn("validate: draft rejected, requesting correction",
			zap.Int("attempt", out.Corrections+1),
			zap.Int("length", cur.report.Length),
			zap.Int("min_length", cur.report.MinLength),
			zap.Bool("has_meta", cur.report.HasMeta),
			zap.Strings("violations", cur.report.Violations),
		)

		out.Corrections++
		res, err := l.gen.Generate(ctx, prompt.Expansion(cur.text, cur.report.Shortfall()), p.System)
		if err != nil {
			var exhausted *router.ExhaustedError
			if errors.As(err, &exhausted) {
				out.Failures = append(out.Failures, exhausted.Failures...)
			}
			log.Warn("validate: correction failed, keeping best draft", zap.Error(err), zap.Float64("score", best.score))
			cur = best
			break
		}
		out.Attempts = append(out.Attempts, res.Attempts...)
		out.Failures = append(out.Failures, res.Failures...)
		tokens += res.TokensUsed

		cur = newDraft(res, policy)
		if cur.score >= best.score {
			best = cur
		}
	}

	content, report := cur.text, cur.report
	out.Report = report

	title, excerpt := TitleAndExcerpt(content, job.Payload.Topic)
	out.Artifact = &model.Artifact{
		JobID:        job.ID,
		Title:        title,
		Excerpt:      excerpt,
		Content:      content,
		Status:       model.ArtifactStatusDraft,
		QualityScore: Score(report),
		Metrics: model.VerificationMetrics{
			Length:             report.Length,
			MinLength:          report.MinLength,
			HasMetaBlock:       report.HasMeta,
			Violations:         report.Violations,
			CorrectionAttempts: out.Corrections,
			Validated:          report.Passed,
			SourcesCited:       CitedSources(content, rc),
			SourcesRetrieved:   len(rc.Fragments),
			Provider:           cur.provider,
			TokensUsed:         tokens,
		},
		Author:    l.author,
		CreatedAt: l.now().UTC(),
	}

	if !report.Passed {
		log.Warn("validate: accepting unvalidated draft",
			zap.Int("corrections", out.Corrections),
			zap.Float64("score", out.Artifact.QualityScore),
		)
	}
	return out, nil
}

// newDraft sanitises before checking so the stored text is the text that
// was judged.
func newDraft(res *router.Result, policy Policy) draft {
	text := Sanitize(res.Text)
	report := policy.Check(text)
	return draft{text: text, provider: res.Provider, report: report, score: Score(report)}
}

// Package queue runs the polling consumer that turns pending generation jobs
// into stored articles.
package queue

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/article-engine/internal/model"
	"github.com/sells-group/article-engine/internal/prompt"
	"github.com/sells-group/article-engine/internal/resilience"
	"github.com/sells-group/article-engine/internal/store"
	"github.com/sells-group/article-engine/internal/validate"
)

// Defaults for Config.
const (
	DefaultBatchSize     = 3
	DefaultPollInterval  = 60 * time.Second
	DefaultErrorBackoff  = 30 * time.Second
	DefaultStatusTimeout = 30 * time.Second
	DefaultRetrievalSize = 8
	DefaultMinRelevance  = 0.5
)

// Retriever looks up source context for a job.
type Retriever interface {
	Retrieve(ctx context.Context, query string, limit int, minRelevance float64) model.RetrievedContext
}

// Generator drafts and validates an article.
type Generator interface {
	GenerateValidated(ctx context.Context, job model.Job, p prompt.Prompt, rc model.RetrievedContext) (*validate.Outcome, error)
}

// Config controls polling and fan-out.
type Config struct {
	BatchSize     int           `mapstructure:"batch_size"`
	Concurrency   int           `mapstructure:"concurrency"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	ErrorBackoff  time.Duration `mapstructure:"error_backoff"`
	StatusTimeout time.Duration `mapstructure:"status_timeout"`
	RetrievalSize int           `mapstructure:"retrieval_size"`
	MinRelevance  float64       `mapstructure:"min_relevance"`
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = c.BatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = DefaultErrorBackoff
	}
	if c.StatusTimeout <= 0 {
		c.StatusTimeout = DefaultStatusTimeout
	}
	if c.RetrievalSize <= 0 {
		c.RetrievalSize = DefaultRetrievalSize
	}
	if c.MinRelevance <= 0 {
		c.MinRelevance = DefaultMinRelevance
	}
	return c
}

// Stats counts jobs handled since the consumer started.
type Stats struct {
	Polls     int64 `json:"polls"`
	Claimed   int64 `json:"claimed"`
	Skipped   int64 `json:"skipped"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Consumer polls the queue and drives each claimed job through retrieval,
// prompt assembly, validated generation and persistence.
type Consumer struct {
	queue     store.Queue
	artifacts store.Artifacts
	retriever Retriever
	gen       Generator
	tones     *prompt.Tones
	opts      prompt.Options
	cfg       Config
	retry     resilience.RetryConfig
	sleep     func(ctx context.Context, d time.Duration) error

	polls, claimed, skipped, completed, failed atomic.Int64
}

// Option configures a Consumer.
type Option func(*Consumer)

// WithStatusRetry overrides the retry policy for status and artifact writes.
func WithStatusRetry(cfg resilience.RetryConfig) Option {
	return func(c *Consumer) { c.retry = cfg }
}

// WithSleep replaces the idle and backoff sleep. Intended for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Consumer) { c.sleep = sleep }
}

// New creates a Consumer.
func New(q store.Queue, a store.Artifacts, r Retriever, g Generator, tones *prompt.Tones, popts prompt.Options, cfg Config, opts ...Option) *Consumer {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("store", "status write")

	c := &Consumer{
		queue:     q,
		artifacts: a,
		retriever: r,
		gen:       g,
		tones:     tones,
		opts:      popts,
		cfg:       cfg.withDefaults(),
		retry:     retry,
		sleep:     sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stats returns a snapshot of the counters.
func (c *Consumer) Stats() Stats {
	return Stats{
		Polls:     c.polls.Load(),
		Claimed:   c.claimed.Load(),
		Skipped:   c.skipped.Load(),
		Completed: c.completed.Load(),
		Failed:    c.failed.Load(),
	}
}

// Run polls until ctx is done. A batch that is in flight when ctx ends is
// finished before Run returns.
func (c *Consumer) Run(ctx context.Context) error {
	zap.L().Info("queue: consumer started",
		zap.Int("batch_size", c.cfg.BatchSize),
		zap.Int("concurrency", c.cfg.Concurrency),
		zap.Duration("poll_interval", c.cfg.PollInterval),
	)

	for {
		if ctx.Err() != nil {
			zap.L().Info("queue: consumer stopped", zap.Any("stats", c.Stats()))
			return nil
		}

		n, err := c.ProcessOnce(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			zap.L().Error("queue: poll failed", zap.Error(err), zap.Duration("backoff", c.cfg.ErrorBackoff))
			wait = c.cfg.ErrorBackoff
		case n == 0:
			zap.L().Debug("queue: no pending jobs", zap.Duration("sleep", c.cfg.PollInterval))
			wait = c.cfg.PollInterval
		default:
			continue
		}

		if err := c.sleep(ctx, wait); err != nil {
			zap.L().Info("queue: consumer stopped", zap.Any("stats", c.Stats()))
			return nil
		}
	}
}

// ProcessOnce fetches one batch and processes it concurrently. It returns the
// number of jobs fetched. When every claim in the batch errors the batch is
// reported as an error so Run backs off instead of polling again at once.
func (c *Consumer) ProcessOnce(ctx context.Context) (int, error) {
	c.polls.Add(1)

	jobs, err := c.queue.FetchPending(ctx, c.cfg.BatchSize)
	if err != nil {
		return 0, eris.Wrap(err, "queue: fetch pending")
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	zap.L().Info("queue: processing batch", zap.Int("jobs", len(jobs)))

	// Jobs are not cancelled mid-flight; shutdown waits for the batch.
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.SetLimit(c.cfg.Concurrency)

	var claimErrs atomic.Int64
	for _, job := range jobs {
		g.Go(func() error {
			if err := c.processJob(gctx, job); err != nil {
				claimErrs.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return len(jobs), eris.Wrap(err, "queue: process batch")
	}
	if n := claimErrs.Load(); n == int64(len(jobs)) {
		return len(jobs), eris.Errorf("queue: all %d claims failed", n)
	}
	return len(jobs), nil
}

// Generate runs the pipeline for one job without touching the queue.
func (c *Consumer) Generate(ctx context.Context, job model.Job) (*validate.Outcome, error) {
	rc := c.retriever.Retrieve(ctx, job.Payload.RetrievalQuery(), c.cfg.RetrievalSize, c.cfg.MinRelevance)
	p := prompt.Assemble(job.Payload, rc, c.tones.Resolve(job.Payload.Tone), c.opts)
	return c.gen.GenerateValidated(ctx, job, p, rc)
}

// processJob returns an error only when the claim itself failed. Every
// failure after a successful claim is recorded on the job.
func (c *Consumer) processJob(ctx context.Context, job model.Job) error {
	log := zap.L().With(zap.String("job_id", job.ID), zap.String("topic", job.Payload.Topic))

	// A claim is attempted once. A retry cannot tell its own committed
	// update from another consumer's, so it would skip a job it owns.
	claimCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.StatusTimeout)
	claimed, err := c.queue.Claim(claimCtx, job.ID)
	cancel()
	if err != nil {
		log.Error("queue: claim failed", zap.Error(err))
		return err
	}
	if !claimed {
		c.skipped.Add(1)
		log.Info("queue: job already claimed elsewhere, skipping")
		return nil
	}
	c.claimed.Add(1)
	start := time.Now()

	out, err := c.Generate(ctx, job)
	if err != nil {
		c.fail(ctx, log, job.ID, err)
		return nil
	}

	a := out.Artifact
	if err := c.statusWrite(ctx, func(ctx context.Context) error {
		return c.artifacts.SaveArtifact(ctx, a)
	}); err != nil {
		raw, _ := json.Marshal(a)
		log.Error("queue: artifact not persisted", zap.Error(err), zap.ByteString("artifact", raw))
		c.fail(ctx, log, job.ID, eris.Wrap(err, "queue: save artifact"))
		return nil
	}

	if err := c.statusWrite(ctx, func(ctx context.Context) error {
		return c.queue.Complete(ctx, job.ID, a.Metrics.TokensUsed)
	}); err != nil {
		c.fail(ctx, log, job.ID, eris.Wrap(err, "queue: mark completed"))
		return nil
	}

	c.completed.Add(1)
	log.Info("queue: job completed",
		zap.String("provider", a.Metrics.Provider),
		zap.Int("length", a.Metrics.Length),
		zap.Bool("validated", a.Metrics.Validated),
		zap.Int("corrections", a.Metrics.CorrectionAttempts),
		zap.Float64("score", a.QualityScore),
		zap.Int("provider_failures", len(out.Failures)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func (c *Consumer) fail(ctx context.Context, log *zap.Logger, id string, cause error) {
	c.failed.Add(1)
	log.Error("queue: job failed", zap.Error(cause))

	msg := cause.Error()
	if err := c.statusWrite(ctx, func(ctx context.Context) error {
		return c.queue.Fail(ctx, id, msg)
	}); err != nil {
		log.Error("queue: mark failed failed", zap.Error(err))
	}
}

// statusWrite runs a store write under its own timeout with transient retry.
func (c *Consumer) statusWrite(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.StatusTimeout)
	defer cancel()
	return resilience.Do(ctx, c.retry, fn)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

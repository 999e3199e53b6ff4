// Package router tries configured providers in priority order until one
// produces a completion.
package router

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/article-engine/internal/model"
	"github.com/sells-group/article-engine/internal/provider"
)

// DefaultProviderTimeout bounds a single upstream call when the provider
// config does not set one.
const DefaultProviderTimeout = 120 * time.Second

// Governor is the budget and circuit bookkeeping the router consults.
type Governor interface {
	TryAcquire(name string, estimatedTokens int64) (bool, time.Duration)
	Commit(name string, estimatedTokens, actualTokens int64)
	RecordSuccess(name string)
	RecordFailure(name string)
}

// FailureKind distinguishes a governor refusal from a failed call.
type FailureKind string

const (
	FailureRefused FailureKind = "refused"
	FailureError   FailureKind = "error"
)

// Failure records why one provider did not produce the result.
type Failure struct {
	Provider   string        `json:"provider"`
	Kind       FailureKind   `json:"kind"`
	Reason     string        `json:"reason"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Err        error         `json:"-"`
}

// Attempt is one entry of the router's trace for a Generate call.
type Attempt struct {
	Provider string        `json:"provider"`
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration"`
}

// Result is a successful generation and how the router got there.
type Result struct {
	Text       string
	Provider   string
	TokensUsed int64
	Attempts   []Attempt
	Failures   []Failure
}

// ExhaustedError is returned when every provider refused or failed.
type ExhaustedError struct {
	Failures []Failure
}

func (e *ExhaustedError) Error() string {
	if len(e.Failures) == 0 {
		return "router: no providers configured"
	}
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("%s: %s", f.Provider, f.Reason)
	}
	return "router: all providers exhausted: " + strings.Join(parts, "; ")
}

type entry struct {
	adapter  provider.Adapter
	priority int
	timeout  time.Duration
}

// Router owns the ordered provider list and the governor guarding it.
type Router struct {
	entries  []entry
	governor Governor
}

// New pairs adapters with their configs and fixes the failover order:
// ascending priority, ties broken by name. Adapters without a matching
// config are rejected.
func New(adapters []provider.Adapter, cfgs []model.ProviderConfig, gov Governor) (*Router, error) {
	if gov == nil {
		return nil, eris.New("router: governor is required")
	}
	byName := make(map[string]model.ProviderConfig, len(cfgs))
	for _, c := range cfgs {
		byName[c.Name] = c
	}

	entries := make([]entry, 0, len(adapters))
	seen := make(map[string]bool, len(adapters))
	for _, a := range adapters {
		cfg, ok := byName[a.Name()]
		if !ok {
			return nil, eris.Errorf("router: no config for provider %s", a.Name())
		}
		if seen[a.Name()] {
			return nil, eris.Errorf("router: duplicate provider %s", a.Name())
		}
		seen[a.Name()] = true

		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultProviderTimeout
		}
		entries = append(entries, entry{adapter: a, priority: cfg.Priority, timeout: timeout})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].priority != entries[j].priority {
			return entries[i].priority < entries[j].priority
		}
		return entries[i].adapter.Name() < entries[j].adapter.Name()
	})

	return &Router{entries: entries, governor: gov}, nil
}

// Order returns provider names in the order they are tried.
func (r *Router) Order() []string {
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.adapter.Name()
	}
	return names
}

// EstimateTokens approximates the prompt cost at four characters per token.
func EstimateTokens(prompt, system string) int64 {
	n := int64(len(prompt) + len(system))
	return (n + 3) / 4
}

// Generate returns the first successful completion. A refused provider is
// skipped without waiting. It fails with *ExhaustedError once every provider
// has refused or errored, or with the context error if ctx ends first.
func (r *Router) Generate(ctx context.Context, prompt, system string) (*Result, error) {
	est := EstimateTokens(prompt, system)
	res := &Result{}

	for _, e := range r.entries {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "router: generate")
		}

		name := e.adapter.Name()
		log := zap.L().With(zap.String("provider", name))

		ok, wait := r.governor.TryAcquire(name, est)
		if !ok {
			log.Info("router: provider refused, shifting", zap.Duration("retry_after", wait))
			res.Failures = append(res.Failures, Failure{
				Provider:   name,
				Kind:       FailureRefused,
				Reason:     fmt.Sprintf("refused by governor (retry after %s)", wait.Round(time.Second)),
				RetryAfter: wait,
			})
			continue
		}

		start := time.Now()
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		c, err := e.adapter.Generate(callCtx, prompt, system)
		cancel()
		elapsed := time.Since(start)

		if err != nil {
			r.governor.Commit(name, est, 0)
			r.governor.RecordFailure(name)
			res.Attempts = append(res.Attempts, Attempt{Provider: name, Duration: elapsed})
			res.Failures = append(res.Failures, Failure{
				Provider: name,
				Kind:     FailureError,
				Reason:   err.Error(),
				Err:      err,
			})
			log.Warn("router: provider failed, shifting", zap.Error(err), zap.Duration("elapsed", elapsed))

			if ctx.Err() != nil {
				return nil, eris.Wrap(ctx.Err(), "router: generate")
			}
			continue
		}

		used := c.TokensUsed
		if used <= 0 {
			used = est + EstimateTokens(c.Text, "")
		}
		r.governor.Commit(name, est, used)
		r.governor.RecordSuccess(name)
		res.Attempts = append(res.Attempts, Attempt{Provider: name, Success: true, Duration: elapsed})

		log.Info("router: provider succeeded",
			zap.Duration("elapsed", elapsed),
			zap.Int64("tokens", used),
			zap.Int("failures_before", len(res.Failures)),
		)

		res.Text = c.Text
		res.Provider = name
		res.TokensUsed = used
		return res, nil
	}

	return nil, &ExhaustedError{Failures: res.Failures}
}

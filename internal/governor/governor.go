// Package governor tracks per-provider request and token budgets together
// with a circuit breaker, and decides whether a provider may take a call.
package governor

import (
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/article-engine/internal/model"
	"github.com/sells-group/article-engine/internal/resilience"
)

// Default budgets applied when a provider config leaves them unset.
const (
	DefaultRequestsPerMinute = 2
	DefaultTokensPerMinute   = int64(32000)
	DefaultRefillInterval    = 60 * time.Second
)

// ErrUnknownProvider is logged when a caller names a provider the governor
// was not built with.
var ErrUnknownProvider = eris.New("governor: unknown provider")

// Option configures a Governor.
type Option func(*Governor)

// WithClock replaces the time source for budget refills and circuit cooldowns.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) { g.now = now }
}

// WithRefillInterval overrides the budget reset interval.
func WithRefillInterval(d time.Duration) Option {
	return func(g *Governor) {
		if d > 0 {
			g.interval = d
		}
	}
}

// Governor owns one budget and breaker per provider. The provider set is
// fixed at construction; each provider's state has its own mutex.
type Governor struct {
	states   map[string]*providerState
	interval time.Duration
	now      func() time.Time
}

type providerState struct {
	mu sync.Mutex

	requestBudget int
	tokenBudget   int64

	remainingRequests int
	remainingTokens   int64
	lastRefill        time.Time

	breaker *resilience.CircuitBreaker
}

// New builds a Governor for the given providers. Budgets start full.
func New(providers []model.ProviderConfig, opts ...Option) *Governor {
	g := &Governor{
		states:   make(map[string]*providerState, len(providers)),
		interval: DefaultRefillInterval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}

	start := g.now()
	for _, p := range providers {
		rpm := p.RequestsPerMinute
		if rpm <= 0 {
			rpm = DefaultRequestsPerMinute
		}
		tpm := p.TokensPerMinute
		if tpm <= 0 {
			tpm = DefaultTokensPerMinute
		}

		name := p.Name
		cbCfg := resilience.FromCircuitConfig(p.FailureThreshold, p.RecoveryTimeout)
		cbCfg.OnStateChange = func(from, to resilience.CircuitState) {
			zap.L().Info("governor: circuit state change",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		}

		g.states[p.Name] = &providerState{
			requestBudget:     rpm,
			tokenBudget:       tpm,
			remainingRequests: rpm,
			remainingTokens:   tpm,
			lastRefill:        start,
			breaker:           resilience.NewCircuitBreaker(cbCfg).WithClock(g.now),
		}
	}
	return g
}

// TryAcquire reserves one request and estimatedTokens for the named provider.
// It refuses while the circuit is open (retryAfter is the remaining cooldown)
// or when the current window's budget cannot cover the call (retryAfter is
// the time until the next refill). The check and the reservation happen in
// one critical section.
func (g *Governor) TryAcquire(name string, estimatedTokens int64) (allowed bool, retryAfter time.Duration) {
	st, ok := g.states[name]
	if !ok {
		zap.L().Warn("governor: acquire refused", zap.String("provider", name), zap.Error(ErrUnknownProvider))
		return false, 0
	}
	if estimatedTokens < 0 {
		estimatedTokens = 0
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	now := g.now()
	g.refill(st, now)

	if wait, err := st.breaker.Allow(); err != nil {
		return false, wait
	}

	if st.remainingRequests < 1 || st.remainingTokens < estimatedTokens {
		return false, g.untilRefill(st, now)
	}

	st.remainingRequests--
	st.remainingTokens -= estimatedTokens
	return true, 0
}

// Commit reconciles a reservation made by TryAcquire with the tokens the call
// actually consumed. A shortfall is debited and a surplus refunded; the
// remaining balance stays within [0, budget]. The reserved request is kept.
func (g *Governor) Commit(name string, estimatedTokens, actualTokens int64) {
	st, ok := g.states[name]
	if !ok {
		zap.L().Warn("governor: commit ignored", zap.String("provider", name), zap.Error(ErrUnknownProvider))
		return
	}
	if estimatedTokens < 0 {
		estimatedTokens = 0
	}
	if actualTokens < 0 {
		actualTokens = 0
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	g.refill(st, g.now())

	st.remainingTokens += estimatedTokens - actualTokens
	if st.remainingTokens < 0 {
		st.remainingTokens = 0
	}
	if st.remainingTokens > st.tokenBudget {
		st.remainingTokens = st.tokenBudget
	}
}

// RecordSuccess closes the provider's circuit and zeroes its failure count.
func (g *Governor) RecordSuccess(name string) {
	st, ok := g.states[name]
	if !ok {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.breaker.RecordSuccess()
}

// RecordFailure counts a failed call against the provider's circuit.
func (g *Governor) RecordFailure(name string) {
	st, ok := g.states[name]
	if !ok {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.breaker.RecordFailure()
}

// ProviderSnapshot is a point-in-time view of one provider's state.
type ProviderSnapshot struct {
	Name                string    `json:"name"`
	RequestBudget       int       `json:"request_budget"`
	TokenBudget         int64     `json:"token_budget"`
	RemainingRequests   int       `json:"remaining_requests"`
	RemainingTokens     int64     `json:"remaining_tokens"`
	NextRefill          time.Time `json:"next_refill"`
	Circuit             string    `json:"circuit"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailure         time.Time `json:"last_failure,omitzero"`
}

// Snapshot returns every provider's state sorted by name.
func (g *Governor) Snapshot() []ProviderSnapshot {
	out := make([]ProviderSnapshot, 0, len(g.states))
	for name, st := range g.states {
		st.mu.Lock()
		g.refill(st, g.now())
		failures, _, lastFailure := st.breaker.Counters()
		out = append(out, ProviderSnapshot{
			Name:                name,
			RequestBudget:       st.requestBudget,
			TokenBudget:         st.tokenBudget,
			RemainingRequests:   st.remainingRequests,
			RemainingTokens:     st.remainingTokens,
			NextRefill:          st.lastRefill.Add(g.interval),
			Circuit:             st.breaker.State().String(),
			ConsecutiveFailures: failures,
			LastFailure:         lastFailure,
		})
		st.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// refill resets the budgets once a full interval has passed since the last
// reset. Between resets nothing is replenished. Caller holds st.mu.
func (g *Governor) refill(st *providerState, now time.Time) {
	if now.Sub(st.lastRefill) < g.interval {
		return
	}
	st.remainingRequests = st.requestBudget
	st.remainingTokens = st.tokenBudget
	st.lastRefill = now
}

func (g *Governor) untilRefill(st *providerState, now time.Time) time.Duration {
	wait := g.interval - now.Sub(st.lastRefill)
	if wait < 0 {
		return 0
	}
	return wait
}

package governor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/article-engine/internal/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testProvider(name string) model.ProviderConfig {
	return model.ProviderConfig{
		Name:              name,
		Kind:              model.ProviderOpenAI,
		RequestsPerMinute: 3,
		TokensPerMinute:   1000,
		FailureThreshold:  2,
		RecoveryTimeout:   30 * time.Second,
	}
}

func snapshotOf(t *testing.T, g *Governor, name string) ProviderSnapshot {
	t.Helper()
	for _, s := range g.Snapshot() {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("provider %s not in snapshot", name)
	return ProviderSnapshot{}
}

func TestTryAcquire_ReservesRequestAndTokens(t *testing.T) {
	clock := newFakeClock()
	g := New([]model.ProviderConfig{testProvider("groq")}, WithClock(clock.Now))

	ok, wait := g.TryAcquire("groq", 400)
	require.True(t, ok)
	assert.Zero(t, wait)

	snap := snapshotOf(t, g, "groq")
	assert.Equal(t, 2, snap.RemainingRequests)
	assert.Equal(t, int64(600), snap.RemainingTokens)
}

func TestTryAcquire_RefusesWhenTokensInsufficient(t *testing.T) {
	clock := newFakeClock()
	g := New([]model.ProviderConfig{testProvider("groq")}, WithClock(clock.Now))

	ok, _ := g.TryAcquire("groq", 800)
	require.True(t, ok)

	clock.Advance(15 * time.Second)
	ok, wait := g.TryAcquire("groq", 300)
	assert.False(t, ok)
	assert.Equal(t, 45*time.Second, wait)

	snap := snapshotOf(t, g, "groq")
	assert.Equal(t, 2, snap.RemainingRequests, "refusal must not consume budget")
	assert.Equal(t, int64(200), snap.RemainingTokens)
}

func TestTryAcquire_RefusesWhenRequestsExhausted(t *testing.T) {
	clock := newFakeClock()
	g := New([]model.ProviderConfig{testProvider("groq")}, WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		ok, _ := g.TryAcquire("groq", 1)
		require.True(t, ok)
	}
	ok, wait := g.TryAcquire("groq", 1)
	assert.False(t, ok)
	assert.Equal(t, DefaultRefillInterval, wait)
}

func TestRefill_ResetsExactlyToBudget(t *testing.T) {
	clock := newFakeClock()
	g := New([]model.ProviderConfig{testProvider("groq")}, WithClock(clock.Now))

	ok, _ := g.TryAcquire("groq", 900)
	require.True(t, ok)
	ok, _ = g.TryAcquire("groq", 50)
	require.True(t, ok)

	// No partial refill before the interval elapses.
	clock.Advance(59 * time.Second)
	snap := snapshotOf(t, g, "groq")
	assert.Equal(t, 1, snap.RemainingRequests)
	assert.Equal(t, int64(50), snap.RemainingTokens)

	clock.Advance(1 * time.Second)
	snap = snapshotOf(t, g, "groq")
	assert.Equal(t, 3, snap.RemainingRequests)
	assert.Equal(t, int64(1000), snap.RemainingTokens)

	// Idle windows do not accumulate.
	clock.Advance(10 * time.Minute)
	snap = snapshotOf(t, g, "groq")
	assert.Equal(t, 3, snap.RemainingRequests)
	assert.Equal(t, int64(1000), snap.RemainingTokens)
}

func TestCircuit_OpensAtThresholdUntilRecovery(t *testing.T) {
	clock := newFakeClock()
	g := New([]model.ProviderConfig{testProvider("mistral")}, WithClock(clock.Now))

	g.RecordFailure("mistral")
	ok, _ := g.TryAcquire("mistral", 1)
	require.True(t, ok, "below threshold stays closed")

	g.RecordFailure("mistral")
	clock.Advance(10 * time.Second)
	ok, wait := g.TryAcquire("mistral", 1)
	assert.False(t, ok)
	assert.Equal(t, 20*time.Second, wait)

	clock.Advance(19 * time.Second)
	ok, _ = g.TryAcquire("mistral", 1)
	assert.False(t, ok)

	clock.Advance(1 * time.Second)
	ok, _ = g.TryAcquire("mistral", 1)
	assert.True(t, ok, "half-open admits a probe")
	assert.Equal(t, "half-open", snapshotOf(t, g, "mistral").Circuit)

	g.RecordSuccess("mistral")
	snap := snapshotOf(t, g, "mistral")
	assert.Equal(t, "closed", snap.Circuit)
	assert.Zero(t, snap.ConsecutiveFailures)
}

func TestCircuit_HalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	g := New([]model.ProviderConfig{testProvider("mistral")}, WithClock(clock.Now))

	g.RecordFailure("mistral")
	g.RecordFailure("mistral")
	clock.Advance(30 * time.Second)

	ok, _ := g.TryAcquire("mistral", 1)
	require.True(t, ok)
	g.RecordFailure("mistral")

	ok, wait := g.TryAcquire("mistral", 1)
	assert.False(t, ok)
	assert.Equal(t, 30*time.Second, wait)
}

func TestCommit_RefundsAndDebits(t *testing.T) {
	clock := newFakeClock()
	g := New([]model.ProviderConfig{testProvider("groq")}, WithClock(clock.Now))

	ok, _ := g.TryAcquire("groq", 400)
	require.True(t, ok)
	g.Commit("groq", 400, 100)
	assert.Equal(t, int64(900), snapshotOf(t, g, "groq").RemainingTokens)

	ok, _ = g.TryAcquire("groq", 100)
	require.True(t, ok)
	g.Commit("groq", 100, 5000)
	assert.Equal(t, int64(0), snapshotOf(t, g, "groq").RemainingTokens, "debit clamps at zero")

	g.Commit("groq", 5000, 0)
	assert.Equal(t, int64(1000), snapshotOf(t, g, "groq").RemainingTokens, "refund clamps at budget")
}

func TestUnknownProvider_Refused(t *testing.T) {
	g := New(nil)

	ok, wait := g.TryAcquire("nope", 10)
	assert.False(t, ok)
	assert.Zero(t, wait)

	// No panics for bookkeeping on unknown names.
	g.Commit("nope", 10, 10)
	g.RecordFailure("nope")
	g.RecordSuccess("nope")
	assert.Empty(t, g.Snapshot())
}

func TestNew_AppliesDefaults(t *testing.T) {
	g := New([]model.ProviderConfig{{Name: "gemini", Kind: model.ProviderGemini}})

	snap := snapshotOf(t, g, "gemini")
	assert.Equal(t, DefaultRequestsPerMinute, snap.RequestBudget)
	assert.Equal(t, DefaultTokensPerMinute, snap.TokenBudget)
	assert.Equal(t, "closed", snap.Circuit)
}

func TestWithRefillInterval(t *testing.T) {
	clock := newFakeClock()
	g := New([]model.ProviderConfig{testProvider("groq")}, WithClock(clock.Now), WithRefillInterval(5*time.Second))

	for i := 0; i < 3; i++ {
		ok, _ := g.TryAcquire("groq", 1)
		require.True(t, ok)
	}
	ok, wait := g.TryAcquire("groq", 1)
	assert.False(t, ok)
	assert.Equal(t, 5*time.Second, wait)

	clock.Advance(5 * time.Second)
	ok, _ = g.TryAcquire("groq", 1)
	assert.True(t, ok)
}

func TestSnapshot_SortedByName(t *testing.T) {
	g := New([]model.ProviderConfig{testProvider("groq"), testProvider("deepseek"), testProvider("mistral")})

	snaps := g.Snapshot()
	require.Len(t, snaps, 3)
	assert.Equal(t, "deepseek", snaps[0].Name)
	assert.Equal(t, "groq", snaps[1].Name)
	assert.Equal(t, "mistral", snaps[2].Name)
}

func TestTryAcquire_ConcurrentNeverOverspends(t *testing.T) {
	cfg := testProvider("groq")
	cfg.RequestsPerMinute = 50
	cfg.TokensPerMinute = 100000
	clock := newFakeClock()
	g := New([]model.ProviderConfig{cfg}, WithClock(clock.Now))

	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := g.TryAcquire("groq", 10); ok {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(50), granted.Load())
	snap := snapshotOf(t, g, "groq")
	assert.Equal(t, 0, snap.RemainingRequests)
	assert.Equal(t, int64(100000-50*10), snap.RemainingTokens)
}

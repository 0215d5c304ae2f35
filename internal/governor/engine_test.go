package governor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reqguard/internal/models"
	"reqguard/internal/store"
	"reqguard/internal/suspicion"
)

// quietSuspicion is a detector configuration whose heuristics never fire,
// so admission tests see pure quota behavior.
func quietSuspicion(clock *fakeClock) *suspicion.Detector {
	return suspicion.NewDetector(models.SuspicionConfig{
		HighFrequencyThreshold: 1 << 30,
		BotScore:               30,
		FlagThreshold:          1 << 30,
		AttackStaleAfter:       30 * time.Minute,
	}, suspicion.WithClock(clock.Now))
}

func newTestEngine(t *testing.T, clock *fakeClock, detector *suspicion.Detector, rules ...models.Rule) *Engine {
	t.Helper()
	if detector == nil {
		detector = quietSuspicion(clock)
	}
	e := NewEngine(store.NewMemoryStore(clock.Now), detector,
		WithBlockDuration(5*time.Minute),
		WithClock(clock.Now),
	)
	for _, r := range rules {
		require.NoError(t, e.AddRule(r))
	}
	return e
}

func TestEngine_LoginQuotaScenario(t *testing.T) {
	clock := newFakeClock()
	e := newTestEngine(t, clock, nil, models.Rule{
		ID: "login", PathPattern: "/api/login", Method: "POST", Window: time.Minute, MaxRequests: 5, Priority: 100,
	})
	meta := models.RequestMeta{Path: "/api/login", Method: "POST", ClientIdentity: "203.0.113.7"}

	for i := 0; i < 5; i++ {
		decision := e.Evaluate(context.Background(), meta)
		assert.True(t, decision.Allowed, "attempt %d", i+1)
	}

	denied := e.Evaluate(context.Background(), meta)
	assert.False(t, denied.Allowed)
	assert.Equal(t, models.ReasonRateLimited, denied.Reason)
	assert.Equal(t, 300, denied.RetryAfterSeconds())

	// Six minutes later the block has lapsed and a fresh window begins.
	clock.Advance(6 * time.Minute)
	fresh := e.Evaluate(context.Background(), meta)
	assert.True(t, fresh.Allowed)
	assert.Equal(t, int64(4), fresh.Remaining)
}

func TestEngine_FailOpenOnStoreError(t *testing.T) {
	clock := newFakeClock()
	e := NewEngine(&failingStore{}, quietSuspicion(clock), WithClock(clock.Now))
	require.NoError(t, e.AddRule(models.Rule{ID: "r1", Window: time.Minute, MaxRequests: 1}))

	for i := 0; i < 10; i++ {
		decision := e.Evaluate(context.Background(), models.RequestMeta{
			Path: "/x", ClientIdentity: "10.0.0.1",
		})
		assert.True(t, decision.Allowed, "store failure must never refuse traffic")
	}
}

func TestEngine_StoreErrorStillRefusesFlaggedSource(t *testing.T) {
	clock := newFakeClock()
	detector := suspicion.NewDetector(models.SuspicionConfig{
		HighFrequencyThreshold: 1 << 30,
		BotMarkers:             []string{"curl"},
		BotScore:               50,
		FlagThreshold:          40,
		AttackStaleAfter:       30 * time.Minute,
	}, suspicion.WithClock(clock.Now))
	e := NewEngine(&failingStore{}, detector, WithClock(clock.Now))
	require.NoError(t, e.AddRule(models.Rule{
		ID: "api", PathPattern: "/api/*", Window: time.Minute, MaxRequests: 100,
	}))

	// The bot heuristics flag the source even though the counter store is
	// down: the detector state is store-independent.
	bot := models.RequestMeta{
		Path: "/api/data", ClientIdentity: "198.51.100.40",
		DeclaredClientAgent: "curl/8.5.0",
	}
	decision := e.Evaluate(context.Background(), bot)
	assert.False(t, decision.Allowed)
	assert.Equal(t, models.ReasonSourceFlagged, decision.Reason)
	assert.True(t, e.IsFlagged(bot.ClientIdentity))

	// The sticky flag keeps refusing on the fail-open path; store errors
	// degrade only the quota verdict, never the flag verdict.
	innocent := models.RequestMeta{
		Path: "/api/data", ClientIdentity: "198.51.100.40",
		DeclaredClientAgent: "Mozilla/5.0",
		PresentHeaders:      map[string]bool{"Accept": true, "Accept-Language": true, "Accept-Encoding": true},
	}
	decision = e.Evaluate(context.Background(), innocent)
	assert.False(t, decision.Allowed)
	assert.Equal(t, models.ReasonSourceFlagged, decision.Reason)
}

func TestEngine_FlaggedSourceOverridesQuota(t *testing.T) {
	clock := newFakeClock()
	detector := suspicion.NewDetector(models.SuspicionConfig{
		HighFrequencyThreshold: 1 << 30,
		BotMarkers:             []string{"curl"},
		BotScore:               50,
		FlagThreshold:          40,
		AttackStaleAfter:       30 * time.Minute,
	}, suspicion.WithClock(clock.Now))
	e := newTestEngine(t, clock, detector, models.Rule{
		ID: "api", PathPattern: "/api/*", Window: time.Minute, MaxRequests: 100,
	})

	bot := models.RequestMeta{
		Path: "/api/data", Method: "GET",
		ClientIdentity:      "198.51.100.9",
		DeclaredClientAgent: "curl/8.5.0",
	}

	decision := e.Evaluate(context.Background(), bot)
	assert.False(t, decision.Allowed, "flag verdict overrides an under-quota admission")
	assert.Equal(t, models.ReasonSourceFlagged, decision.Reason)
	assert.True(t, e.IsFlagged(bot.ClientIdentity))

	// The flag is sticky: an innocent-looking request from the same source
	// is still refused.
	innocent := bot
	innocent.DeclaredClientAgent = "Mozilla/5.0"
	innocent.PresentHeaders = map[string]bool{"Accept": true, "Accept-Language": true, "Accept-Encoding": true}
	decision = e.Evaluate(context.Background(), innocent)
	assert.False(t, decision.Allowed)

	// Clearing the flag restores normal admission on the next request.
	e.ClearFlag(bot.ClientIdentity)
	assert.False(t, e.IsFlagged(bot.ClientIdentity))
	decision = e.Evaluate(context.Background(), innocent)
	assert.True(t, decision.Allowed)
}

func TestEngine_FlaggedRefusalRecordsAttack(t *testing.T) {
	clock := newFakeClock()
	detector := suspicion.NewDetector(models.SuspicionConfig{
		HighFrequencyThreshold: 1 << 30,
		BotMarkers:             []string{"scraper"},
		BotScore:               90,
		FlagThreshold:          50,
		AttackStaleAfter:       30 * time.Minute,
	}, suspicion.WithClock(clock.Now))
	e := newTestEngine(t, clock, detector, models.Rule{
		ID: "api", PathPattern: "/api/*", Window: time.Minute, MaxRequests: 100,
	})

	meta := models.RequestMeta{
		Path: "/api/listings", ClientIdentity: "198.51.100.20",
		DeclaredClientAgent: "scraper/1.0",
	}
	e.Evaluate(context.Background(), meta)
	e.Evaluate(context.Background(), meta)

	attacks := e.Attacks()
	require.Len(t, attacks, 1)
	assert.Equal(t, models.AttackScraping, attacks[0].Type)
	assert.Equal(t, meta.ClientIdentity, attacks[0].Source)
	assert.Equal(t, int64(2), attacks[0].RequestCount, "repeat refusals merge into the active record")
	assert.True(t, attacks[0].Active)
	assert.NotEmpty(t, attacks[0].Mitigations)
}

func TestEngine_Statistics(t *testing.T) {
	clock := newFakeClock()
	e := newTestEngine(t, clock, nil,
		models.Rule{ID: "a", Window: time.Minute, MaxRequests: 10, Priority: 2},
		models.Rule{ID: "b", PathPattern: "/api/*", Window: time.Minute, MaxRequests: 5, Priority: 1},
	)

	e.Evaluate(context.Background(), models.RequestMeta{Path: "/api/x", ClientIdentity: "10.0.0.1"})

	stats, err := e.Statistics(context.Background())
	require.NoError(t, err)
	assert.Len(t, stats.Rules, 2)
	assert.Equal(t, 1, stats.StoreSize)
	assert.Equal(t, 0, stats.FlaggedSources)
	assert.Empty(t, stats.ActiveAttacks)
}

func TestEngine_ResetKey(t *testing.T) {
	clock := newFakeClock()
	e := newTestEngine(t, clock, nil, models.Rule{ID: "r1", Window: time.Minute, MaxRequests: 2})
	meta := models.RequestMeta{Path: "/x", ClientIdentity: "10.0.0.1"}

	for i := 0; i < 3; i++ {
		e.Evaluate(context.Background(), meta)
	}
	assert.False(t, e.Evaluate(context.Background(), meta).Allowed)

	require.NoError(t, e.ResetKey(context.Background(), DefaultKey(models.Rule{ID: "r1"}, meta)))
	assert.True(t, e.Evaluate(context.Background(), meta).Allowed)
}

func TestEngine_CloseIsIdempotent(t *testing.T) {
	clock := newFakeClock()
	e := newTestEngine(t, clock, nil)
	e.Start()
	e.Close()
	e.Close()
}

package suspicion

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reqguard/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
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

func testConfig() models.SuspicionConfig {
	return models.SuspicionConfig{
		HighFrequencyThreshold: 100,
		BotMarkers:             []string{"bot", "curl", "scraper"},
		ExpectedHeaders:        []string{"Accept", "Accept-Language", "Accept-Encoding"},
		BotScore:               30,
		FlagThreshold:          80,
		MaxFlaggedSources:      1000,
		AttackStaleAfter:       30 * time.Minute,
	}
}

func browserMeta() models.RequestMeta {
	return models.RequestMeta{
		Path:                "/api/data",
		Method:              "GET",
		ClientIdentity:      "10.0.0.1",
		DeclaredClientAgent: "Mozilla/5.0 (X11; Linux x86_64)",
		PresentHeaders: map[string]bool{
			"Accept": true, "Accept-Language": true, "Accept-Encoding": true,
		},
	}
}

func TestDetector_Analyze_CleanRequest(t *testing.T) {
	d := NewDetector(testConfig())

	signals := d.Analyze(browserMeta(), &models.CounterEntry{Count: 10})
	assert.Empty(t, signals)
}

func TestDetector_Analyze_HighFrequency(t *testing.T) {
	d := NewDetector(testConfig())

	// At the threshold: no signal.
	signals := d.Analyze(browserMeta(), &models.CounterEntry{Count: 100})
	assert.Empty(t, signals)

	// Just past: proportional score.
	signals = d.Analyze(browserMeta(), &models.CounterEntry{Count: 103})
	require.Len(t, signals, 1)
	assert.Equal(t, models.SignalHighFrequency, signals[0].Type)
	assert.Equal(t, 30, signals[0].Score)

	// Far past: capped at 100.
	signals = d.Analyze(browserMeta(), &models.CounterEntry{Count: 500})
	require.Len(t, signals, 1)
	assert.Equal(t, 100, signals[0].Score)
}

func TestDetector_Analyze_NilEntry(t *testing.T) {
	d := NewDetector(testConfig())
	assert.Empty(t, d.Analyze(browserMeta(), nil))
}

func TestDetector_Analyze_BotMarker(t *testing.T) {
	d := NewDetector(testConfig())

	meta := browserMeta()
	meta.DeclaredClientAgent = "curl/8.5.0"

	signals := d.Analyze(meta, &models.CounterEntry{Count: 1})
	require.Len(t, signals, 1)
	assert.Equal(t, models.SignalBotBehavior, signals[0].Type)
	assert.Equal(t, 30, signals[0].Score)
}

func TestDetector_Analyze_MissingHeaders(t *testing.T) {
	d := NewDetector(testConfig())

	// One missing header is tolerated.
	meta := browserMeta()
	meta.PresentHeaders = map[string]bool{"Accept": true, "Accept-Language": true}
	assert.Empty(t, d.Analyze(meta, &models.CounterEntry{Count: 1}))

	// Two missing headers fire the signal.
	meta.PresentHeaders = map[string]bool{"Accept": true}
	signals := d.Analyze(meta, &models.CounterEntry{Count: 1})
	require.Len(t, signals, 1)
	assert.Equal(t, models.SignalBotBehavior, signals[0].Type)
}

func TestDetector_ShouldBlock_ThresholdAndStickiness(t *testing.T) {
	d := NewDetector(testConfig())

	// Summed score at the threshold does not flag.
	atThreshold := []models.Signal{{Type: models.SignalBotBehavior, Score: 80}}
	assert.False(t, d.ShouldBlock("10.0.0.1", atThreshold))
	assert.False(t, d.IsFlagged("10.0.0.1"))

	// Past the threshold flags the source.
	past := []models.Signal{
		{Type: models.SignalBotBehavior, Score: 60},
		{Type: models.SignalHighFrequency, Score: 40},
	}
	assert.True(t, d.ShouldBlock("10.0.0.1", past))
	assert.True(t, d.IsFlagged("10.0.0.1"))
	assert.Equal(t, 1, d.FlaggedCount())

	// Sticky: refused with no signals at all.
	assert.True(t, d.ShouldBlock("10.0.0.1", nil))

	d.ClearFlag("10.0.0.1")
	assert.False(t, d.IsFlagged("10.0.0.1"))
	assert.False(t, d.ShouldBlock("10.0.0.1", nil))
}

func TestDetector_ShouldBlock_SetBound(t *testing.T) {
	cfg := testConfig()
	cfg.MaxFlaggedSources = 2
	d := NewDetector(cfg)

	hot := []models.Signal{{Type: models.SignalBotBehavior, Score: 100}}
	assert.True(t, d.ShouldBlock("a", hot))
	assert.True(t, d.ShouldBlock("b", hot))
	assert.Equal(t, 2, d.FlaggedCount())

	// Crossing the bound clears the set before flagging the newcomer.
	assert.True(t, d.ShouldBlock("c", hot))
	assert.Equal(t, 1, d.FlaggedCount())
	assert.True(t, d.IsFlagged("c"))
	assert.False(t, d.IsFlagged("a"))
}

func TestDetector_Classify(t *testing.T) {
	d := NewDetector(testConfig())

	login := browserMeta()
	login.Path = "/api/login"
	assert.Equal(t, models.AttackBruteForce, d.Classify(login, nil))

	auth := browserMeta()
	auth.Path = "/oauth/authorize"
	assert.Equal(t, models.AttackBruteForce, d.Classify(auth, nil))

	flood := []models.Signal{{Type: models.SignalHighFrequency, Score: 100}}
	assert.Equal(t, models.AttackFlood, d.Classify(browserMeta(), flood))

	mild := []models.Signal{{Type: models.SignalHighFrequency, Score: 40}}
	assert.Equal(t, models.AttackAPIAbuse, d.Classify(browserMeta(), mild))

	bot := []models.Signal{{Type: models.SignalBotBehavior, Score: 30}}
	assert.Equal(t, models.AttackScraping, d.Classify(browserMeta(), bot))

	assert.Equal(t, models.AttackAPIAbuse, d.Classify(browserMeta(), nil))
}

func TestDetector_RecordAttack_MergesActive(t *testing.T) {
	clock := newFakeClock()
	d := NewDetector(testConfig(), WithClock(clock.Now))

	d.RecordAttack(models.AttackFlood, "10.0.0.1", 1)
	clock.Advance(time.Minute)
	d.RecordAttack(models.AttackFlood, "10.0.0.1", 2)

	attacks := d.ActiveAttacks()
	require.Len(t, attacks, 1)
	assert.Equal(t, int64(3), attacks[0].RequestCount)
	assert.Equal(t, clock.Now(), attacks[0].LastSeen)
	assert.NotEmpty(t, attacks[0].ID)

	// A different type from the same source is a separate record.
	d.RecordAttack(models.AttackScraping, "10.0.0.1", 1)
	assert.Len(t, d.ActiveAttacks(), 2)
}

func TestDetector_Sweep_DeactivatesStale(t *testing.T) {
	clock := newFakeClock()
	d := NewDetector(testConfig(), WithClock(clock.Now))

	d.RecordAttack(models.AttackFlood, "10.0.0.1", 1)
	clock.Advance(10 * time.Minute)
	d.RecordAttack(models.AttackScraping, "10.0.0.2", 1)

	clock.Advance(25 * time.Minute)
	d.Sweep()

	active := d.ActiveAttacks()
	require.Len(t, active, 1)
	assert.Equal(t, "10.0.0.2", active[0].Source)

	// The deactivated record is still retained for audit.
	assert.Len(t, d.Attacks(), 2)
}

func TestDetector_RecordAttack_NewEpisodeAfterStale(t *testing.T) {
	clock := newFakeClock()
	d := NewDetector(testConfig(), WithClock(clock.Now))

	d.RecordAttack(models.AttackFlood, "10.0.0.1", 5)
	clock.Advance(time.Hour)
	d.Sweep()

	d.RecordAttack(models.AttackFlood, "10.0.0.1", 1)

	active := d.ActiveAttacks()
	require.Len(t, active, 1)
	assert.Equal(t, int64(1), active[0].RequestCount, "a fresh episode starts its own count")
	assert.Len(t, d.Attacks(), 2, "the stale episode is archived")
}

func TestDetector_Purge(t *testing.T) {
	clock := newFakeClock()
	d := NewDetector(testConfig(), WithClock(clock.Now))

	d.RecordAttack(models.AttackFlood, "10.0.0.1", 1)
	d.RecordAttack(models.AttackScraping, "10.0.0.2", 1)
	clock.Advance(time.Hour)
	d.Sweep()
	d.RecordAttack(models.AttackFlood, "10.0.0.3", 1)

	removed := d.Purge()
	assert.Equal(t, 2, removed)
	assert.Len(t, d.Attacks(), 1)
}

// customAnalyzer verifies the extension seam.
type customAnalyzer struct{}

func (customAnalyzer) Analyze(meta models.RequestMeta, entry *models.CounterEntry) []models.Signal {
	return []models.Signal{{Type: models.SignalUnusualPattern, Score: 10, Detail: "custom"}}
}

func TestDetector_WithAnalyzer(t *testing.T) {
	d := NewDetector(testConfig(), WithAnalyzer(customAnalyzer{}))

	signals := d.Analyze(browserMeta(), &models.CounterEntry{Count: 1})
	require.Len(t, signals, 1)
	assert.Equal(t, models.SignalUnusualPattern, signals[0].Type)
}

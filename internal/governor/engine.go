package governor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"reqguard/internal/models"
	"reqguard/internal/store"
	"reqguard/internal/suspicion"
)

// Engine is the governance façade: the single entry point the hosting
// process uses. It orchestrates the admission decider and the suspicion
// detector, merges their verdicts into one decision, and exposes the
// administrative surface. Construct one per process and pass it through
// dependency wiring; there is no ambient global instance.
type Engine struct {
	rules    *RuleSet
	counters store.CounterStore
	decider  *Decider
	detector *suspicion.Detector

	blockFor        time.Duration
	storeTimeout    time.Duration
	cleanupInterval time.Duration
	sweepInterval   time.Duration
	now             func() time.Time

	// errLog throttles fail-open logging so a dead backend cannot flood
	// the log at request rate.
	errLog *rate.Limiter

	done      chan struct{}
	closeOnce sync.Once
}

// Option configures an Engine.
type Option func(*Engine)

// WithKeyFunc substitutes the counter key derivation.
func WithKeyFunc(fn KeyFunc) Option {
	return func(e *Engine) {
		if fn != nil {
			e.decider.keyFn = fn
		}
	}
}

// WithBlockDuration sets the fixed penalty applied when a quota is
// exceeded.
func WithBlockDuration(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.blockFor = d
			e.decider.blockFor = d
		}
	}
}

// WithStoreTimeout bounds each counter-store call. On timeout the engine
// fails open.
func WithStoreTimeout(d time.Duration) Option {
	return func(e *Engine) { e.storeTimeout = d }
}

// WithCleanupInterval sets how often the expiry sweep runs.
func WithCleanupInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.cleanupInterval = d
		}
	}
}

// WithSweepInterval sets how often the attack staleness sweep runs.
func WithSweepInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.sweepInterval = d
		}
	}
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
			e.decider.now = now
		}
	}
}

// NewEngine creates a governance engine over the given counter store and
// suspicion detector.
func NewEngine(counters store.CounterStore, detector *suspicion.Detector, opts ...Option) *Engine {
	rules := NewRuleSet()
	e := &Engine{
		rules:           rules,
		counters:        counters,
		detector:        detector,
		blockFor:        5 * time.Minute,
		storeTimeout:    250 * time.Millisecond,
		cleanupInterval: 2 * time.Minute,
		sweepInterval:   5 * time.Minute,
		now:             time.Now,
		errLog:          rate.NewLimiter(rate.Every(10*time.Second), 1),
		done:            make(chan struct{}),
	}
	e.decider = NewDecider(rules, counters, nil, e.blockFor, nil)

	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate decides one request. It never returns an error: a policy block
// is a normal outcome carried on the decision, and store failures degrade
// to fail-open so the governance layer cannot itself become a denial of
// service. The fail-open default is a deliberate choice, not an accident
// of error handling.
func (e *Engine) Evaluate(ctx context.Context, meta models.RequestMeta) models.Decision {
	if e.storeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.storeTimeout)
		defer cancel()
	}

	decision, entry, err := e.decider.Decide(ctx, meta)
	if err != nil {
		return e.failOpen(meta, err)
	}

	// The suspicion verdict is consulted regardless of the admission
	// outcome, so flagged sources stay blocked even under their quota.
	if refusal, refused := e.suspicionRefusal(meta, entry, decision); refused {
		return refusal
	}

	return decision
}

// suspicionRefusal runs the detector over the request and returns the
// refusal decision when the source is (or becomes) flagged. The base
// decision contributes the quota fields when admission produced one.
func (e *Engine) suspicionRefusal(meta models.RequestMeta, entry *models.CounterEntry, base models.Decision) (models.Decision, bool) {
	signals := e.detector.Analyze(meta, entry)
	if !e.detector.ShouldBlock(meta.ClientIdentity, signals) {
		return models.Decision{}, false
	}
	attackType := e.detector.Classify(meta, signals)
	e.detector.RecordAttack(attackType, meta.ClientIdentity, 1)

	slog.Warn("request refused, source flagged",
		"source", meta.ClientIdentity,
		"path", meta.Path,
		"attack_type", string(attackType),
	)

	return models.Decision{
		Allowed:       false,
		Reason:        models.ReasonSourceFlagged,
		RetryAfter:    e.blockFor,
		Remaining:     0,
		Limit:         base.Limit,
		WindowResetAt: base.WindowResetAt,
		RuleID:        base.RuleID,
	}, true
}

func (e *Engine) failOpen(meta models.RequestMeta, err error) models.Decision {
	if e.errLog.Allow() {
		slog.Error("counter store unavailable, admitting request",
			"error", err,
			"path", meta.Path,
		)
	}
	// The flagged set and its analyzers live in process memory, so a
	// counter store outage is no reason to admit an abusive source.
	if refusal, refused := e.suspicionRefusal(meta, nil, models.Decision{}); refused {
		return refusal
	}
	return models.Decision{Allowed: true}
}

// AddRule validates and installs a rule. Configuration errors surface
// synchronously to the administrative caller.
func (e *Engine) AddRule(rule models.Rule) error {
	return e.rules.Add(rule)
}

// RemoveRule deletes a rule and reports whether it existed.
func (e *Engine) RemoveRule(id string) bool {
	return e.rules.Remove(id)
}

// ResetKey removes the counter entry for a specific key.
func (e *Engine) ResetKey(ctx context.Context, key string) error {
	return e.counters.Reset(ctx, key)
}

// ClearFlag removes a source from the sticky flagged set, restoring
// normal admission on its next request.
func (e *Engine) ClearFlag(source string) {
	e.detector.ClearFlag(source)
}

// IsFlagged reports whether a source is currently flagged.
func (e *Engine) IsFlagged(source string) bool {
	return e.detector.IsFlagged(source)
}

// Attacks returns all attack records, active and historical.
func (e *Engine) Attacks() []*models.AttackRecord {
	return e.detector.Attacks()
}

// Statistics returns the aggregate snapshot for the administrative
// surface.
func (e *Engine) Statistics(ctx context.Context) (models.Statistics, error) {
	size, err := e.counters.Len(ctx)
	if err != nil {
		return models.Statistics{}, err
	}
	return models.Statistics{
		Rules:          e.rules.Rules(),
		StoreSize:      size,
		FlaggedSources: e.detector.FlaggedCount(),
		ActiveAttacks:  e.detector.ActiveAttacks(),
	}, nil
}

// Start launches the background sweeps: counter expiry cleanup and attack
// record staleness. They run on their own schedules so the per-request
// path carries no sweep work.
func (e *Engine) Start() {
	go e.sweep()
}

func (e *Engine) sweep() {
	cleanup := time.NewTicker(e.cleanupInterval)
	stale := time.NewTicker(e.sweepInterval)
	defer cleanup.Stop()
	defer stale.Stop()

	for {
		select {
		case <-e.done:
			return
		case <-cleanup.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			removed, err := e.counters.Cleanup(ctx)
			cancel()
			if err != nil {
				slog.Error("counter cleanup failed", "error", err)
			} else if removed > 0 {
				slog.Debug("counter cleanup complete", "removed", removed)
			}
		case <-stale.C:
			e.detector.Sweep()
		}
	}
}

// Close stops the background sweeps. It does not close the counter
// store, which is owned by the caller.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.done)
	})
}

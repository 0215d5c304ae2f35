package governor

import (
	"context"
	"time"

	"reqguard/internal/models"
	"reqguard/internal/store"
)

// Decider performs admission control for one request: resolve the rule,
// build the counter key, bump the counter, and compare against the quota.
type Decider struct {
	rules    *RuleSet
	counters store.CounterStore
	keyFn    KeyFunc
	blockFor time.Duration
	now      func() time.Time
}

// NewDecider creates a decider over the given rule set and counter store.
func NewDecider(rules *RuleSet, counters store.CounterStore, keyFn KeyFunc, blockFor time.Duration, now func() time.Time) *Decider {
	if keyFn == nil {
		keyFn = DefaultKey
	}
	if now == nil {
		now = time.Now
	}
	return &Decider{
		rules:    rules,
		counters: counters,
		keyFn:    keyFn,
		blockFor: blockFor,
		now:      now,
	}
}

// Decide evaluates one request. It returns the decision and the counter
// entry the suspicion engine scores against; the entry is nil when no
// rule matched. A store error is returned untouched so the caller can
// apply the fail-open policy.
//
// Boundary contract: the request that reaches the quota exactly is still
// admitted with remaining 0; only the request that pushes the count past
// the quota is refused.
func (d *Decider) Decide(ctx context.Context, meta models.RequestMeta) (models.Decision, *models.CounterEntry, error) {
	rule := d.rules.Resolve(meta)
	if rule == nil {
		return models.Decision{Allowed: true}, nil, nil
	}

	key := d.keyFn(*rule, meta)
	entry, err := d.counters.Increment(ctx, key, rule.Window)
	if err != nil {
		return models.Decision{}, nil, err
	}

	now := d.now()
	if entry.Blocked && now.Before(entry.BlockExpiresAt) {
		return models.Decision{
			Allowed:       false,
			Reason:        models.ReasonRateLimited,
			RetryAfter:    entry.BlockExpiresAt.Sub(now),
			Remaining:     0,
			Limit:         rule.MaxRequests,
			WindowResetAt: entry.WindowResetAt,
			RuleID:        rule.ID,
		}, entry, nil
	}

	if entry.Count > rule.MaxRequests {
		until := now.Add(d.blockFor)
		if err := d.counters.Block(ctx, key, until); err != nil {
			return models.Decision{}, nil, err
		}
		entry.Blocked = true
		entry.BlockExpiresAt = until

		return models.Decision{
			Allowed:       false,
			Reason:        models.ReasonRateLimited,
			RetryAfter:    d.blockFor,
			Remaining:     0,
			Limit:         rule.MaxRequests,
			WindowResetAt: entry.WindowResetAt,
			RuleID:        rule.ID,
		}, entry, nil
	}

	remaining := rule.MaxRequests - entry.Count
	if remaining < 0 {
		remaining = 0
	}
	return models.Decision{
		Allowed:       true,
		Remaining:     remaining,
		Limit:         rule.MaxRequests,
		WindowResetAt: entry.WindowResetAt,
		RuleID:        rule.ID,
	}, entry, nil
}

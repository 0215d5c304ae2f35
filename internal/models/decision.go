package models

import "time"

// Refusal reasons carried on a Decision.
const (
	// ReasonRateLimited marks a refusal from quota exhaustion.
	ReasonRateLimited = "rate_limited"

	// ReasonSourceFlagged marks a refusal because the source is on the
	// sticky flagged set.
	ReasonSourceFlagged = "source_flagged"
)

// Decision is the admission verdict for one request.
type Decision struct {
	Allowed bool `json:"allowed"`

	// Reason is set only on refusals.
	Reason string `json:"reason,omitempty"`

	// RetryAfter is how long the caller should wait before retrying.
	// Zero on admissions.
	RetryAfter time.Duration `json:"retry_after,omitempty"`

	// Remaining is the quota left in the current window after this
	// request. Zero when refused.
	Remaining int64 `json:"remaining"`

	// Limit is the governing rule's quota; zero when no rule matched.
	Limit int64 `json:"limit,omitempty"`

	WindowResetAt time.Time `json:"window_reset_at,omitempty"`
	RuleID        string    `json:"rule_id,omitempty"`
}

// RetryAfterSeconds rounds the retry delay up to whole seconds for the
// Retry-After header. A sub-second delay still reports 1.
func (d Decision) RetryAfterSeconds() int {
	if d.RetryAfter <= 0 {
		return 0
	}
	secs := int((d.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Statistics is the aggregate snapshot exposed on the admin API.
type Statistics struct {
	Rules          []Rule          `json:"rules"`
	StoreSize      int             `json:"store_size"`
	FlaggedSources int             `json:"flagged_sources"`
	ActiveAttacks  []*AttackRecord `json:"active_attacks"`
}

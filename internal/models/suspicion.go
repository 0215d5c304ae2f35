package models

import "time"

// SignalType names a suspicion heuristic.
type SignalType string

const (
	SignalHighFrequency  SignalType = "high_frequency"
	SignalBotBehavior    SignalType = "bot_behavior"
	SignalUnusualPattern SignalType = "unusual_pattern"
)

// Signal is one heuristic finding for a request. Scores are summed
// across signals and compared against the flag threshold.
type Signal struct {
	Type   SignalType `json:"type"`
	Score  int        `json:"score"`
	Detail string     `json:"detail,omitempty"`
}

// AttackType classifies a detected attack.
type AttackType string

const (
	AttackBruteForce AttackType = "brute_force"
	AttackFlood      AttackType = "flood"
	AttackScraping   AttackType = "scraping"
	AttackAPIAbuse   AttackType = "api_abuse"
)

// AttackRecord is one detected attack episode from a single source.
// Records deactivate when idle but are kept for audit.
type AttackRecord struct {
	ID           string     `json:"id"`
	Type         AttackType `json:"type"`
	Source       string     `json:"source"`
	StartTime    time.Time  `json:"start_time"`
	LastSeen     time.Time  `json:"last_seen"`
	RequestCount int64      `json:"request_count"`
	Active       bool       `json:"active"`
	Mitigations  []string   `json:"mitigations,omitempty"`
}

// Clone returns an independent copy.
func (a *AttackRecord) Clone() *AttackRecord {
	clone := *a
	clone.Mitigations = append([]string(nil), a.Mitigations...)
	return &clone
}

// attackMitigations maps each attack type to its advisory mitigation
// labels. Advisory only; the engine enforces nothing beyond the block.
var attackMitigations = map[AttackType][]string{
	AttackBruteForce: {"temporary_lockout", "require_captcha", "notify_account_owner"},
	AttackFlood:      {"rate_limit_tightened", "upstream_filtering"},
	AttackScraping:   {"rate_limit_tightened", "require_javascript_challenge"},
	AttackAPIAbuse:   {"rate_limit_tightened", "api_key_review"},
}

// MitigationsFor returns the advisory mitigation labels for an attack
// type.
func MitigationsFor(t AttackType) []string {
	return append([]string(nil), attackMitigations[t]...)
}

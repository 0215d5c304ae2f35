package models

import "time"

// CreateRuleRequest is the admin API payload for installing a rule.
// Window carries the duration as a string ("5m", "1h") so the JSON
// surface stays human-writable.
type CreateRuleRequest struct {
	ID          string `json:"id"`
	PathPattern string `json:"path_pattern,omitempty"`
	Method      string `json:"method,omitempty"`
	Subject     string `json:"subject_class,omitempty"`
	Window      string `json:"window"`
	MaxRequests int64  `json:"max_requests"`
	Priority    int    `json:"priority"`
}

// ToRule converts the payload into a Rule. The result still needs
// Validate; parse errors are reported as validation details.
func (r *CreateRuleRequest) ToRule() (Rule, map[string]string) {
	details := make(map[string]string)

	window, err := time.ParseDuration(r.Window)
	if err != nil {
		details["window"] = "must be a duration such as 5m or 1h"
	}

	rule := Rule{
		ID:          r.ID,
		PathPattern: r.PathPattern,
		Method:      r.Method,
		Subject:     SubjectClass(r.Subject),
		Window:      window,
		MaxRequests: r.MaxRequests,
		Priority:    r.Priority,
	}

	if len(details) > 0 {
		return rule, details
	}
	if err := rule.Validate(); err != nil {
		details["rule"] = err.Error()
		return rule, details
	}
	return rule, nil
}

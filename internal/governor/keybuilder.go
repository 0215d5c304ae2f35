package governor

import "reqguard/internal/models"

// KeyFunc derives the counter key for a rule and request. Substituting a
// custom KeyFunc changes how traffic is bucketed without touching the
// decision algorithm.
type KeyFunc func(rule models.Rule, meta models.RequestMeta) string

// DefaultKey composes rule ID and client identity, and appends the user
// ID for authenticated requests so an authenticated user behind a shared
// origin is tracked independently of anonymous traffic through the same
// origin.
func DefaultKey(rule models.Rule, meta models.RequestMeta) string {
	key := rule.ID + ":" + meta.ClientIdentity
	if meta.IsAuthenticated && meta.UserID != "" {
		key += ":" + meta.UserID
	}
	return key
}

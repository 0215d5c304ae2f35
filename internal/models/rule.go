// Package models defines the shared data structures of the governance
// engine: rules, counter entries, decisions, suspicion records and
// configuration.
package models

import (
	"fmt"
	"strings"
	"time"
)

// SubjectClass partitions traffic by who is making the request.
type SubjectClass string

const (
	// SubjectAny matches every request.
	SubjectAny SubjectClass = ""

	// SubjectAnonymous matches unauthenticated requests.
	SubjectAnonymous SubjectClass = "anonymous"

	// SubjectAuthenticated matches any authenticated request.
	SubjectAuthenticated SubjectClass = "authenticated"

	// SubjectPremium matches authenticated requests from premium accounts.
	SubjectPremium SubjectClass = "premium"
)

// SkipFunc exempts individual requests from a rule. Runtime-only; never
// serialized.
type SkipFunc func(meta RequestMeta) bool

// Rule is one rate-limit rule: match predicates plus the quota they
// guard. All predicates must match for the rule to apply; an empty
// predicate matches everything.
type Rule struct {
	ID          string        `yaml:"id" json:"id"`
	PathPattern string        `yaml:"path_pattern" json:"path_pattern,omitempty"`
	Method      string        `yaml:"method" json:"method,omitempty"`
	Subject     SubjectClass  `yaml:"subject_class" json:"subject_class,omitempty"`
	Window      time.Duration `yaml:"window" json:"window"`
	MaxRequests int64         `yaml:"max_requests" json:"max_requests"`
	Priority    int           `yaml:"priority" json:"priority"`

	// Skip exempts individual requests, for health checks and internal
	// callers. Not serializable.
	Skip SkipFunc `yaml:"-" json:"-"`
}

// Validate rejects malformed rules before they reach request processing.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if r.Window <= 0 {
		return fmt.Errorf("rule %s: window must be positive", r.ID)
	}
	if r.MaxRequests <= 0 {
		return fmt.Errorf("rule %s: max_requests must be positive", r.ID)
	}
	switch r.Subject {
	case SubjectAny, SubjectAnonymous, SubjectAuthenticated, SubjectPremium:
	default:
		return fmt.Errorf("rule %s: unknown subject class %q", r.ID, r.Subject)
	}
	return nil
}

// Matches reports whether every predicate of the rule accepts the
// request.
func (r *Rule) Matches(meta RequestMeta) bool {
	if r.Skip != nil && r.Skip(meta) {
		return false
	}
	if r.Method != "" && !strings.EqualFold(r.Method, meta.Method) {
		return false
	}
	if r.PathPattern != "" && !matchPath(r.PathPattern, meta.Path) {
		return false
	}
	if r.Subject != SubjectAny && r.Subject != meta.subject() {
		return false
	}
	return true
}

// matchPath supports exact paths and a trailing-star prefix form:
// "/api/users/*" matches "/api/users/42".
func matchPath(pattern, path string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(path, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == path
}

// RequestMeta is the transport-neutral description of one request. The
// HTTP middleware builds one from *http.Request; other hosts construct
// it directly.
type RequestMeta struct {
	Path                string
	Method              string
	ClientIdentity      string
	IsAuthenticated     bool
	UserID              string
	Premium             bool
	DeclaredClientAgent string
	PresentHeaders      map[string]bool
}

func (m RequestMeta) subject() SubjectClass {
	switch {
	case !m.IsAuthenticated:
		return SubjectAnonymous
	case m.Premium:
		return SubjectPremium
	default:
		return SubjectAuthenticated
	}
}

// HasHeader reports whether the request carried the named header,
// case-insensitively.
func (m RequestMeta) HasHeader(name string) bool {
	if m.PresentHeaders == nil {
		return false
	}
	if m.PresentHeaders[name] {
		return true
	}
	for h := range m.PresentHeaders {
		if strings.EqualFold(h, name) {
			return true
		}
	}
	return false
}

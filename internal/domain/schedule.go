package domain

import (
	"fmt"
	"strings"
	"time"
)

// ScopeKind discriminates resource-scoped rules from global ones
type ScopeKind string

const (
	ScopeKindResource ScopeKind = "resource"
	ScopeKindAll      ScopeKind = "all"
)

// Scope targets a single resource or every resource
type Scope struct {
	Kind       ScopeKind `json:"kind"`
	ResourceID string    `json:"resource_id,omitempty"`
}

// ScopeAll targets every resource
func ScopeAll() Scope {
	return Scope{Kind: ScopeKindAll}
}

// ScopeResource targets one resource
func ScopeResource(id string) Scope {
	return Scope{Kind: ScopeKindResource, ResourceID: id}
}

// ParseScope parses "all" or "resource:<id>"
func ParseScope(s string) (Scope, error) {
	switch {
	case s == string(ScopeKindAll):
		return ScopeAll(), nil
	case strings.HasPrefix(s, string(ScopeKindResource)+":"):
		id := strings.TrimPrefix(s, string(ScopeKindResource)+":")
		if id == "" {
			return Scope{}, &ValidationError{Field: "scope", Reason: "resource id is empty"}
		}
		return ScopeResource(id), nil
	default:
		return Scope{}, &ValidationError{Field: "scope", Reason: fmt.Sprintf("unknown scope %q", s)}
	}
}

// String renders the scope in its "resource:<id>" / "all" form
func (s Scope) String() string {
	if s.Kind == ScopeKindAll {
		return string(ScopeKindAll)
	}
	return string(ScopeKindResource) + ":" + s.ResourceID
}

// IsAll reports whether the scope is global
func (s Scope) IsAll() bool {
	return s.Kind == ScopeKindAll
}

// AppliesTo reports whether a rule with this scope governs the query scope.
// Global rules apply everywhere; resource rules apply only to their resource.
func (s Scope) AppliesTo(query Scope) bool {
	if s.IsAll() {
		return true
	}
	return !query.IsAll() && s.ResourceID == query.ResourceID
}

// RuleKind is BLOCK or ALLOW
type RuleKind string

const (
	RuleBlock RuleKind = "BLOCK"
	RuleAllow RuleKind = "ALLOW"
)

// Opposite returns the other rule kind
func (k RuleKind) Opposite() RuleKind {
	if k == RuleBlock {
		return RuleAllow
	}
	return RuleBlock
}

// ScheduleRule is an administrator exception to the default calendar
type ScheduleRule struct {
	ID        string    `json:"id"`
	Scope     Scope     `json:"scope"`
	Kind      RuleKind  `json:"kind"`
	StartAt   time.Time `json:"start_at"`
	EndAt     time.Time `json:"end_at"`
	Reason    string    `json:"reason,omitempty"`
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Interval returns the rule's time range
func (r *ScheduleRule) Interval() Interval {
	return Interval{Start: r.StartAt, End: r.EndAt}
}

// Validate checks the rule shape
func (r *ScheduleRule) Validate() error {
	if r.Kind != RuleBlock && r.Kind != RuleAllow {
		return &ValidationError{Field: "kind", Reason: "must be BLOCK or ALLOW"}
	}
	if r.Scope.Kind != ScopeKindAll && r.Scope.Kind != ScopeKindResource {
		return &ValidationError{Field: "scope", Reason: "unknown scope"}
	}
	if r.Scope.Kind == ScopeKindResource && r.Scope.ResourceID == "" {
		return &ValidationError{Field: "scope", Reason: "resource id is empty"}
	}
	if !r.StartAt.Before(r.EndAt) {
		return &ValidationError{Field: "end_at", Reason: "must be after start_at"}
	}
	return nil
}

// Holiday is a global closed date unless an ALLOW rule opens it
type Holiday struct {
	Date time.Time `json:"date"`
	Name string    `json:"name"`
}

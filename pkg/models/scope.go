// Package models contains domain models for clusterd.
package models

import (
	"fmt"
	"time"
)

// Scope selects which sessions a collection run considers.
type Scope string

const (
	ScopeAll         Scope = "all"
	ScopeRecent      Scope = "recent"
	ScopeUnclustered Scope = "unclustered"
)

// ParseScope converts a string to a Scope. An empty string means ScopeAll.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case "", ScopeAll:
		return ScopeAll, nil
	case ScopeRecent:
		return ScopeRecent, nil
	case ScopeUnclustered:
		return ScopeUnclustered, nil
	}
	return "", fmt.Errorf("unknown scope %q", s)
}

// TimeRange is an inclusive time window. A zero bound is unbounded.
type TimeRange struct {
	Start time.Time `json:"start,omitempty"`
	End   time.Time `json:"end,omitempty"`
}

// IsZero reports whether the range is unbounded on both sides.
func (r TimeRange) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// Contains reports whether t falls inside the range.
func (r TimeRange) Contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && t.After(r.End) {
		return false
	}
	return true
}

// Narrow returns the intersection of r with a window starting at since.
func (r TimeRange) Narrow(since time.Time) TimeRange {
	if r.Start.IsZero() || since.After(r.Start) {
		r.Start = since
	}
	return r
}

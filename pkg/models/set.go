// Package models contains domain models for clusterd.
package models

import (
	"database/sql/driver"
	"fmt"
	"sort"

	"github.com/goccy/go-json"
)

// StringSet is an unordered set of strings. It is stored as a sorted JSON array.
type StringSet map[string]bool

// NewStringSet builds a set from values, skipping empty strings.
func NewStringSet(values ...string) StringSet {
	s := make(StringSet, len(values))
	for _, v := range values {
		if v != "" {
			s[v] = true
		}
	}
	return s
}

// Add inserts v into the set.
func (s StringSet) Add(v string) {
	if v != "" {
		s[v] = true
	}
}

// Has reports membership.
func (s StringSet) Has(v string) bool {
	return s[v]
}

// Len returns the number of members.
func (s StringSet) Len() int {
	return len(s)
}

// Sorted returns the members in ascending order.
func (s StringSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Clone returns a copy of the set. A nil set clones to an empty set.
func (s StringSet) Clone() StringSet {
	cp := make(StringSet, len(s))
	for v := range s {
		cp[v] = true
	}
	return cp
}

// Union adds every member of other to s.
func (s StringSet) Union(other StringSet) {
	for v := range other {
		s[v] = true
	}
}

// Intersect returns the number of members shared with other.
func (s StringSet) Intersect(other StringSet) int {
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	n := 0
	for v := range small {
		if large[v] {
			n++
		}
	}
	return n
}

// MarshalJSON encodes the set as a sorted array.
func (s StringSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON decodes an array into the set.
func (s *StringSet) UnmarshalJSON(data []byte) error {
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	*s = NewStringSet(values...)
	return nil
}

// Value implements driver.Valuer.
func (s StringSet) Value() (driver.Value, error) {
	data, err := json.Marshal(s.Sorted())
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (s *StringSet) Scan(value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*s = StringSet{}
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("scan StringSet: unsupported type %T", value)
	}
	if len(data) == 0 {
		*s = StringSet{}
		return nil
	}
	return s.UnmarshalJSON(data)
}

// Package markers extracts inline tag markers such as ctx::review or
// float.config from free text.
package markers

import (
	"encoding/json"
	"iter"
	"maps"
	"regexp"
	"slices"
	"strings"
)

// markerPattern matches every recognised marker prefix followed by a run of
// non-whitespace characters.
var markerPattern = regexp.MustCompile(`(?i)(?:(?:ctx|project|mode|bridge|lf1m|karen|sysop|qtb|httm)::|float\.)\S+`)

// Set is a duplicate-free collection of lowercase markers. Iteration is
// lexicographic. The zero value is an empty set ready to use.
type Set struct {
	items map[string]struct{}
}

// NewSet builds a set from the given markers, lowercasing each one.
func NewSet(ms ...string) Set {
	var s Set
	for _, m := range ms {
		s.Add(m)
	}
	return s
}

// Extract scans text for markers and returns them as a set.
func Extract(text string) Set {
	var s Set
	ExtractInto(&s, text)
	return s
}

// ExtractInto adds every marker found in text to dst.
func ExtractInto(dst *Set, text string) {
	if text == "" {
		return
	}
	for _, m := range markerPattern.FindAllString(text, -1) {
		dst.Add(m)
	}
}

// Add inserts a marker and reports whether it was new.
func (s *Set) Add(m string) bool {
	m = strings.ToLower(m)
	if s.items == nil {
		s.items = make(map[string]struct{})
	}
	if _, ok := s.items[m]; ok {
		return false
	}
	s.items[m] = struct{}{}
	return true
}

// Merge adds every marker of other to s.
func (s *Set) Merge(other Set) {
	for m := range other.items {
		s.Add(m)
	}
}

func (s Set) Has(m string) bool {
	_, ok := s.items[strings.ToLower(m)]
	return ok
}

func (s Set) Len() int {
	return len(s.items)
}

// Slice returns the markers in lexicographic order. It never returns nil.
func (s Set) Slice() []string {
	if len(s.items) == 0 {
		return []string{}
	}
	return slices.Sorted(maps.Keys(s.items))
}

// All iterates the markers in lexicographic order.
func (s Set) All() iter.Seq[string] {
	return slices.Values(s.Slice())
}

func (s Set) Equal(other Set) bool {
	if s.Len() != other.Len() {
		return false
	}
	for m := range s.items {
		if _, ok := other.items[m]; !ok {
			return false
		}
	}
	return true
}

func (s Set) String() string {
	return strings.Join(s.Slice(), " ")
}

func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Slice())
}

func (s *Set) UnmarshalJSON(data []byte) error {
	var ms []string
	if err := json.Unmarshal(data, &ms); err != nil {
		return err
	}
	*s = NewSet(ms...)
	return nil
}

package features

import (
	"sort"
	"strings"
)

func sortStrings(s []string) { sort.Strings(s) }

// Columns returns the union of field names across vs, in first-seen order,
// deduplicated case-insensitively.
func Columns(vs []Vector) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, v := range vs {
		for _, k := range v.keys {
			lk := strings.ToLower(k)
			if _, ok := seen[lk]; ok {
				continue
			}
			seen[lk] = struct{}{}
			out = append(out, k)
		}
	}
	return out
}

// ColumnSet is a case-insensitive set of field names.
type ColumnSet map[string]struct{}

// NewColumnSet indexes names case-insensitively.
func NewColumnSet(names []string) ColumnSet {
	s := make(ColumnSet, len(names))
	for _, n := range names {
		s[strings.ToLower(n)] = struct{}{}
	}
	return s
}

// Contains reports whether name is in the set, ignoring case.
func (s ColumnSet) Contains(name string) bool {
	_, ok := s[strings.ToLower(name)]
	return ok
}

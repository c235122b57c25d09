package cvmfs

import (
	"errors"
	"fmt"
	"sort"
)

const maxRepositoryNameLength = 255

// ErrInvalidRepositoryName is returned for names that cannot be used as a
// single path segment under /cvmfs/.
var ErrInvalidRepositoryName = errors.New("invalid repository name")

// RepositoryName is a validated repository identifier such as
// "atlas.cern.ch". Repository names are case-sensitive.
type RepositoryName string

// ParseRepositoryName validates s as a repository name.
func ParseRepositoryName(s string) (RepositoryName, error) {
	switch {
	case s == "":
		return "", fmt.Errorf("%w: empty", ErrInvalidRepositoryName)
	case len(s) > maxRepositoryNameLength:
		return "", fmt.Errorf("%w: %q exceeds %d characters", ErrInvalidRepositoryName, s, maxRepositoryNameLength)
	case s == "." || s == "..":
		return "", fmt.Errorf("%w: %q", ErrInvalidRepositoryName, s)
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isAlnum(c) || c == '.' || c == '-' || c == '_' {
			continue
		}
		return "", fmt.Errorf("%w: %q contains %q", ErrInvalidRepositoryName, s, c)
	}
	return RepositoryName(s), nil
}

func (r RepositoryName) String() string { return string(r) }

// UnmarshalText validates the name when decoding from JSON or YAML.
func (r *RepositoryName) UnmarshalText(text []byte) error {
	parsed, err := ParseRepositoryName(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (r RepositoryName) MarshalText() ([]byte, error) {
	return []byte(r), nil
}

// RepositorySet is an unordered set of repository names.
type RepositorySet map[RepositoryName]struct{}

// NewRepositorySet builds a set from names, dropping duplicates.
func NewRepositorySet(names ...RepositoryName) RepositorySet {
	s := make(RepositorySet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Add inserts name into the set.
func (s RepositorySet) Add(name RepositoryName) {
	s[name] = struct{}{}
}

// Contains reports whether name is in the set.
func (s RepositorySet) Contains(name RepositoryName) bool {
	_, ok := s[name]
	return ok
}

// Union returns a new set holding the members of s and other.
func (s RepositorySet) Union(other RepositorySet) RepositorySet {
	out := make(RepositorySet, len(s)+len(other))
	for n := range s {
		out[n] = struct{}{}
	}
	for n := range other {
		out[n] = struct{}{}
	}
	return out
}

// Minus returns a new set holding the members of s that are not in other.
func (s RepositorySet) Minus(other RepositorySet) RepositorySet {
	out := make(RepositorySet, len(s))
	for n := range s {
		if !other.Contains(n) {
			out[n] = struct{}{}
		}
	}
	return out
}

// Equal reports whether both sets have the same members.
func (s RepositorySet) Equal(other RepositorySet) bool {
	if len(s) != len(other) {
		return false
	}
	for n := range s {
		if !other.Contains(n) {
			return false
		}
	}
	return true
}

// Sorted returns the members in lexical order.
func (s RepositorySet) Sorted() []RepositoryName {
	out := make([]RepositoryName, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

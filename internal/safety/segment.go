package safety

import (
	"fmt"
	"strings"
)

// CheckPathSegment rejects values that would change the shape of a URL path
// when interpolated as a single segment.
func CheckPathSegment(s string) error {
	switch {
	case s == "":
		return fmt.Errorf("path segment is empty")
	case s == "." || s == "..":
		return fmt.Errorf("path segment %q is not allowed", s)
	case strings.ContainsAny(s, "/\\?#%"):
		return fmt.Errorf("path segment %q contains a reserved character", s)
	}
	return nil
}

// JoinURL appends path segments to base, validating each one. base must be
// an http(s) URL; a trailing slash on it is optional.
func JoinURL(base string, segments ...string) (string, error) {
	if _, err := ValidateHTTPURL(base); err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(strings.TrimSuffix(base, "/"))
	for _, seg := range segments {
		if err := CheckPathSegment(seg); err != nil {
			return "", err
		}
		b.WriteByte('/')
		b.WriteString(seg)
	}
	return b.String(), nil
}

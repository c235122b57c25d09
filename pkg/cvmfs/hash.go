package cvmfs

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidHash is returned for digests that are not even-length hex,
// optionally followed by an algorithm suffix.
var ErrInvalidHash = errors.New("invalid hash")

// Hash is a content digest as written in CVMFS manifests: lower-case hex,
// optionally suffixed with the algorithm name ("-rmd160", "-shake128").
// SHA-1 digests carry no suffix.
type Hash string

// ParseHash validates and lower-cases s.
func ParseHash(s string) (Hash, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	digest, algo, hasAlgo := strings.Cut(s, "-")
	if digest == "" || len(digest)%2 != 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidHash, s)
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidHash, s)
	}
	if hasAlgo {
		if algo == "" {
			return "", fmt.Errorf("%w: %q has empty algorithm suffix", ErrInvalidHash, s)
		}
		for i := 0; i < len(algo); i++ {
			if !isAlnum(algo[i]) {
				return "", fmt.Errorf("%w: %q", ErrInvalidHash, s)
			}
		}
	}
	return Hash(s), nil
}

// Digest returns the hex part without the algorithm suffix.
func (h Hash) Digest() string {
	d, _, _ := strings.Cut(string(h), "-")
	return d
}

// Algorithm returns the algorithm suffix, or "sha1" when there is none.
func (h Hash) Algorithm() string {
	if _, algo, ok := strings.Cut(string(h), "-"); ok {
		return algo
	}
	return "sha1"
}

func (h Hash) String() string { return string(h) }

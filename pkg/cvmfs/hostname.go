package cvmfs

import (
	"errors"
	"fmt"
	"strings"
)

const (
	maxHostnameLength = 255
	maxLabelLength    = 63
)

// Hostname validation failures.
var (
	ErrEmptyHostname      = errors.New("hostname is empty")
	ErrHostnameTooLong    = errors.New("hostname exceeds 255 characters")
	ErrLabelTooLong       = errors.New("hostname label exceeds 63 characters")
	ErrInvalidCharacter   = errors.New("hostname contains an invalid character")
	ErrInvalidLabelFormat = errors.New("hostname label must start and end with a letter or digit")
	ErrConsecutiveDashes  = errors.New("hostname label contains consecutive dashes")
)

// Hostname is a validated, lower-cased DNS name. The zero value is not a
// valid hostname; construct one with ParseHostname.
type Hostname string

// ParseHostname validates s as a DNS hostname and returns its normalized form.
func ParseHostname(s string) (Hostname, error) {
	if s == "" {
		return "", ErrEmptyHostname
	}
	if len(s) > maxHostnameLength {
		return "", fmt.Errorf("%q: %w", s, ErrHostnameTooLong)
	}

	for _, label := range strings.Split(s, ".") {
		if err := validateLabel(label); err != nil {
			return "", fmt.Errorf("%q: %w", s, err)
		}
	}
	return Hostname(strings.ToLower(s)), nil
}

// MustParseHostname is like ParseHostname but panics on invalid input.
// Intended for constants and tests.
func MustParseHostname(s string) Hostname {
	h, err := ParseHostname(s)
	if err != nil {
		panic(err)
	}
	return h
}

func validateLabel(label string) error {
	if label == "" {
		return ErrInvalidLabelFormat
	}
	if len(label) > maxLabelLength {
		return ErrLabelTooLong
	}
	for i := 0; i < len(label); i++ {
		c := label[i]
		if !isAlnum(c) && c != '-' {
			return ErrInvalidCharacter
		}
	}
	if !isAlnum(label[0]) || !isAlnum(label[len(label)-1]) {
		return ErrInvalidLabelFormat
	}
	if strings.Contains(label, "--") {
		return ErrConsecutiveDashes
	}
	return nil
}

func isAlnum(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}

func (h Hostname) String() string { return string(h) }

// UnmarshalText validates the hostname when decoding from JSON or YAML.
func (h *Hostname) UnmarshalText(text []byte) error {
	parsed, err := ParseHostname(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (h Hostname) MarshalText() ([]byte, error) {
	return []byte(h), nil
}

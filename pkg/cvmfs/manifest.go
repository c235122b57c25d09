package cvmfs

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Manifest parse failures. ParseError wraps one of these together with the
// offending field tag.
var (
	ErrMissingField       = errors.New("missing required field")
	ErrDuplicateField     = errors.New("duplicate field")
	ErrInvalidValue       = errors.New("invalid field value")
	ErrMissingSignature   = errors.New("missing signature separator")
	ErrMalformedSignature = errors.New("malformed signature block")
)

// signatureSeparator divides the signed header from the signature block.
const signatureSeparator = "--"

// ParseError describes why a manifest could not be parsed. Field is zero for
// errors that are not tied to a single tag.
type ParseError struct {
	Field byte
	Err   error
}

func (e *ParseError) Error() string {
	if e.Field == 0 {
		return fmt.Sprintf("manifest: %v", e.Err)
	}
	return fmt.Sprintf("manifest field %c: %v", e.Field, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Signature is the detached block following the separator line: the hex hash
// of the signed header and the raw signature bytes over it. It is not
// cryptographically verified.
type Signature struct {
	ContentHash string `json:"content_hash"`
	Raw         []byte `json:"raw"`
}

// Manifest is a parsed .cvmfspublished file. Required fields are always
// populated; optional fields are nil or zero when the tag is absent.
type Manifest struct {
	Name            RepositoryName `json:"name"`              // N
	RootCatalogHash Hash           `json:"root_catalog_hash"` // C
	RootCatalogSize uint64         `json:"root_catalog_size"` // B
	Revision        uint64         `json:"revision"`          // S
	Timestamp       time.Time      `json:"timestamp"`         // T
	CertificateHash Hash           `json:"certificate_hash"`  // X

	HistoryHash        *Hash   `json:"history_hash,omitempty"`   // H
	MetainfoHash       *Hash   `json:"metainfo_hash,omitempty"`  // M
	RootPathHash       *Hash   `json:"root_path_hash,omitempty"` // R
	ReflogHash         *Hash   `json:"reflog_hash,omitempty"`    // Y
	CatalogTTL         *uint64 `json:"catalog_ttl,omitempty"`    // D, seconds
	AlternativeName    bool    `json:"alternative_name"`         // A
	GarbageCollectable bool    `json:"garbage_collectable"`      // G
	MicroCatalogs      string  `json:"micro_catalogs,omitempty"` // L, reserved

	Signature Signature `json:"signature"`
}

var requiredTags = []byte{'N', 'C', 'B', 'S', 'T', 'X'}

func isKnownTag(tag byte) bool {
	return strings.IndexByte("CBARXGHTDSNMYL", tag) >= 0
}

// ParseManifest parses the raw bytes of a .cvmfspublished file. Header lines
// are a one-character tag followed by the value. The first line equal to
// "--" ends the header; everything after it is the signature block.
func ParseManifest(data []byte) (*Manifest, error) {
	header, sigBlock, err := splitManifest(data)
	if err != nil {
		return nil, err
	}

	fields := make(map[byte]string)
	for _, line := range header {
		tag := line[0]
		if !isKnownTag(tag) {
			continue
		}
		if _, dup := fields[tag]; dup {
			return nil, &ParseError{Field: tag, Err: ErrDuplicateField}
		}
		fields[tag] = line[1:]
	}

	for _, tag := range requiredTags {
		if _, ok := fields[tag]; !ok {
			return nil, &ParseError{Field: tag, Err: ErrMissingField}
		}
	}

	m := &Manifest{}
	if m.Name, err = ParseRepositoryName(fields['N']); err != nil {
		return nil, invalidValue('N', err)
	}
	if m.RootCatalogHash, err = parseHashField(fields, 'C'); err != nil {
		return nil, err
	}
	if m.CertificateHash, err = parseHashField(fields, 'X'); err != nil {
		return nil, err
	}
	if m.RootCatalogSize, err = parseUintField(fields, 'B'); err != nil {
		return nil, err
	}
	if m.Revision, err = parseUintField(fields, 'S'); err != nil {
		return nil, err
	}
	ts, err := parseUintField(fields, 'T')
	if err != nil {
		return nil, err
	}
	m.Timestamp = time.Unix(int64(ts), 0).UTC()

	optional := []struct {
		tag byte
		dst **Hash
	}{
		{'H', &m.HistoryHash},
		{'M', &m.MetainfoHash},
		{'R', &m.RootPathHash},
		{'Y', &m.ReflogHash},
	}
	for _, o := range optional {
		if _, ok := fields[o.tag]; !ok {
			continue
		}
		h, err := parseHashField(fields, o.tag)
		if err != nil {
			return nil, err
		}
		*o.dst = &h
	}
	if _, ok := fields['D']; ok {
		ttl, err := parseUintField(fields, 'D')
		if err != nil {
			return nil, err
		}
		m.CatalogTTL = &ttl
	}
	m.AlternativeName = parseBoolField(fields, 'A')
	m.GarbageCollectable = parseBoolField(fields, 'G')
	m.MicroCatalogs = fields['L']

	if m.Signature, err = parseSignature(sigBlock); err != nil {
		return nil, err
	}
	return m, nil
}

// splitManifest returns the non-empty header lines and the bytes following
// the separator line.
func splitManifest(data []byte) ([]string, []byte, error) {
	var header []string
	rest := data
	for len(rest) > 0 {
		line := rest
		rest = nil
		if i := bytes.IndexByte(line, '\n'); i >= 0 {
			line, rest = line[:i], line[i+1:]
		}

		line = bytes.TrimSuffix(line, []byte("\r"))
		if string(line) == signatureSeparator {
			return header, rest, nil
		}
		if len(line) == 0 {
			continue
		}
		header = append(header, string(line))
	}
	return nil, nil, &ParseError{Err: ErrMissingSignature}
}

func parseSignature(block []byte) (Signature, error) {
	i := bytes.IndexByte(block, '\n')
	if i < 0 {
		return Signature{}, &ParseError{Err: fmt.Errorf("%w: no signature after content hash", ErrMalformedSignature)}
	}
	hashLine := strings.TrimSpace(string(block[:i]))
	if hashLine == "" || len(hashLine)%2 != 0 {
		return Signature{}, &ParseError{Err: fmt.Errorf("%w: bad content hash %q", ErrMalformedSignature, hashLine)}
	}
	if _, err := hex.DecodeString(hashLine); err != nil {
		return Signature{}, &ParseError{Err: fmt.Errorf("%w: bad content hash %q", ErrMalformedSignature, hashLine)}
	}
	raw := block[i+1:]
	if len(raw) == 0 {
		return Signature{}, &ParseError{Err: fmt.Errorf("%w: empty signature", ErrMalformedSignature)}
	}
	return Signature{
		ContentHash: strings.ToLower(hashLine),
		Raw:         bytes.Clone(raw),
	}, nil
}

func invalidValue(tag byte, err error) *ParseError {
	return &ParseError{Field: tag, Err: fmt.Errorf("%w: %v", ErrInvalidValue, err)}
}

func parseHashField(fields map[byte]string, tag byte) (Hash, error) {
	h, err := ParseHash(fields[tag])
	if err != nil {
		return "", invalidValue(tag, err)
	}
	return h, nil
}

func parseUintField(fields map[byte]string, tag byte) (uint64, error) {
	v, err := strconv.ParseUint(fields[tag], 10, 64)
	if err != nil {
		return 0, invalidValue(tag, err)
	}
	if tag == 'T' && v > math.MaxInt64 {
		return 0, invalidValue(tag, fmt.Errorf("timestamp %d out of range", v))
	}
	return v, nil
}

// parseBoolField reads a yes/no flag. Anything but "yes" is false.
func parseBoolField(fields map[byte]string, tag byte) bool {
	return strings.EqualFold(fields[tag], "yes")
}

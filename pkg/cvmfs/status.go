package cvmfs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformedDocument is returned when a JSON document published by a
// server has a field of the wrong shape.
var ErrMalformedDocument = errors.New("malformed document")

// statusTimeLayouts are tried in order. CVMFS writes these fields with
// date(1), e.g. "Fri Jun 21 17:40:02 UTC 2024".
var statusTimeLayouts = []string{
	"Mon Jan _2 15:04:05 MST 2006",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
}

// RepositoryStatus is the decoded .cvmfs_status.json of one repository.
// Time fields are nil when unknown: an absent key and an explicit null are
// treated the same.
type RepositoryStatus struct {
	Name         RepositoryName `json:"name"`
	LastSnapshot *time.Time     `json:"last_snapshot,omitempty"`
	LastGC       *time.Time     `json:"last_gc,omitempty"`
	LastCheck    *time.Time     `json:"last_check,omitempty"`
	CheckStatus  *string        `json:"check_status,omitempty"`
}

type statusDocument struct {
	LastSnapshot json.RawMessage `json:"last_snapshot"`
	LastGC       json.RawMessage `json:"last_gc"`
	LastCheck    json.RawMessage `json:"last_check"`
	CheckStatus  json.RawMessage `json:"check_status"`
}

// DecodeStatus decodes a status document for the repository name. The
// document itself does not carry the name.
func DecodeStatus(name RepositoryName, data []byte) (*RepositoryStatus, error) {
	var doc statusDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("status of %s: %w: %v", name, ErrMalformedDocument, err)
	}

	st := &RepositoryStatus{Name: name}
	var err error
	if st.LastSnapshot, err = decodeStatusTime(doc.LastSnapshot); err != nil {
		return nil, fmt.Errorf("status of %s: last_snapshot: %w", name, err)
	}
	if st.LastGC, err = decodeStatusTime(doc.LastGC); err != nil {
		return nil, fmt.Errorf("status of %s: last_gc: %w", name, err)
	}
	if st.LastCheck, err = decodeStatusTime(doc.LastCheck); err != nil {
		return nil, fmt.Errorf("status of %s: last_check: %w", name, err)
	}
	if st.CheckStatus, err = decodeOptionalString(doc.CheckStatus); err != nil {
		return nil, fmt.Errorf("status of %s: check_status: %w", name, err)
	}
	return st, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func decodeOptionalString(raw json.RawMessage) (*string, error) {
	if isNull(raw) {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: expected string, got %s", ErrMalformedDocument, raw)
	}
	return &s, nil
}

func decodeStatusTime(raw json.RawMessage) (*time.Time, error) {
	s, err := decodeOptionalString(raw)
	if err != nil || s == nil {
		return nil, err
	}
	t, err := ParseStatusTime(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ParseStatusTime parses a timestamp as written in status and listing
// documents. The result is in UTC.
func ParseStatusTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range statusTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognized timestamp %q", ErrMalformedDocument, s)
}

package cvmfs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
)

// ServerMetadata describes a server. It merges the free-form meta.json with
// the server fields of repositories.json. Every field is optional.
type ServerMetadata struct {
	Administrator *string         `json:"administrator,omitempty"`
	Email         *string         `json:"email,omitempty"`
	Organisation  *string         `json:"organisation,omitempty"`
	Latitude      *float64        `json:"latitude,omitempty"`
	Longitude     *float64        `json:"longitude,omitempty"`
	Custom        json.RawMessage `json:"custom,omitempty"`

	SchemaVersion   *int            `json:"schema_version,omitempty"`
	CVMFSVersion    *semver.Version `json:"cvmfs_version,omitempty"`
	LastGeoDBUpdate *time.Time      `json:"last_geodb_update,omitempty"`
	OSID            *string         `json:"os_id,omitempty"`
	OSVersionID     *string         `json:"os_version_id,omitempty"`
	OSPrettyName    *string         `json:"os_pretty_name,omitempty"`
}

type metaDocument struct {
	Administrator json.RawMessage `json:"administrator"`
	Email         json.RawMessage `json:"email"`
	Organisation  json.RawMessage `json:"organisation"`
	Latitude      json.RawMessage `json:"latitude"`
	Longitude     json.RawMessage `json:"longitude"`
	Custom        json.RawMessage `json:"custom"`
}

// DecodeMetadata decodes a meta.json document. Unknown keys are ignored; a
// known key holding the wrong JSON type is an error.
func DecodeMetadata(data []byte) (*ServerMetadata, error) {
	var doc metaDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("meta.json: %w: %v", ErrMalformedDocument, err)
	}

	md := &ServerMetadata{}
	var err error
	for _, f := range []struct {
		key string
		raw json.RawMessage
		dst **string
	}{
		{"administrator", doc.Administrator, &md.Administrator},
		{"email", doc.Email, &md.Email},
		{"organisation", doc.Organisation, &md.Organisation},
	} {
		if *f.dst, err = decodeOptionalString(f.raw); err != nil {
			return nil, fmt.Errorf("meta.json: %s: %w", f.key, err)
		}
	}
	if md.Latitude, err = decodeOptionalFloat(doc.Latitude); err != nil {
		return nil, fmt.Errorf("meta.json: latitude: %w", err)
	}
	if md.Longitude, err = decodeOptionalFloat(doc.Longitude); err != nil {
		return nil, fmt.Errorf("meta.json: longitude: %w", err)
	}
	if !isNull(doc.Custom) {
		md.Custom = doc.Custom
	}
	return md, nil
}

func decodeOptionalFloat(raw json.RawMessage) (*float64, error) {
	if isNull(raw) {
		return nil, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: expected number, got %s", ErrMalformedDocument, raw)
	}
	return &f, nil
}

// MergeListing copies the server fields of a repositories.json listing into
// md. A cvmfs_version that is not a semantic version is left unset and
// reported through the returned error; the other fields are still merged.
func (md *ServerMetadata) MergeListing(l *RepositoryListing) error {
	if l == nil {
		return nil
	}
	md.SchemaVersion = l.Schema
	md.LastGeoDBUpdate = l.LastGeoDBUpdate
	md.OSID = optionalString(l.OSID)
	md.OSVersionID = optionalString(l.OSVersionID)
	md.OSPrettyName = optionalString(l.OSPrettyName)

	if l.CVMFSVersion == "" {
		return nil
	}
	v, err := semver.NewVersion(l.CVMFSVersion)
	if err != nil {
		return fmt.Errorf("cvmfs_version %q: %w", l.CVMFSVersion, err)
	}
	md.CVMFSVersion = v
	return nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

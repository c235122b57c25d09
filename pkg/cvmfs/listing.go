package cvmfs

import (
	"encoding/json"
	"fmt"
	"time"
)

// ListedRepository is one entry of the repositories or replicas array in
// repositories.json.
type ListedRepository struct {
	Name RepositoryName `json:"name"`
	URL  string         `json:"url"`
}

// RepositoryListing is the decoded cvmfs/info/v1/repositories.json of a
// server. Besides the repositories it carries some server metadata.
type RepositoryListing struct {
	Schema          *int               `json:"schema,omitempty"`
	LastGeoDBUpdate *time.Time         `json:"last_geodb_update,omitempty"`
	CVMFSVersion    string             `json:"cvmfs_version,omitempty"`
	OSID            string             `json:"os_id,omitempty"`
	OSVersionID     string             `json:"os_version_id,omitempty"`
	OSPrettyName    string             `json:"os_pretty_name,omitempty"`
	Repositories    []ListedRepository `json:"repositories"`
	Replicas        []ListedRepository `json:"replicas"`
}

type listingDocument struct {
	Schema          *int               `json:"schema"`
	LastGeoDBUpdate json.RawMessage    `json:"last_geodb_update"`
	CVMFSVersion    *string            `json:"cvmfs_version"`
	OSID            *string            `json:"os_id"`
	OSVersionID     *string            `json:"os_version_id"`
	OSPrettyName    *string            `json:"os_pretty_name"`
	Repositories    []ListedRepository `json:"repositories"`
	Replicas        []ListedRepository `json:"replicas"`
}

// DecodeRepositoryListing decodes a repositories.json document. Every
// listed name must be a valid repository name.
func DecodeRepositoryListing(data []byte) (*RepositoryListing, error) {
	var doc listingDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("repositories.json: %w: %v", ErrMalformedDocument, err)
	}
	// A missing or null name never reaches RepositoryName.UnmarshalText.
	if err := checkListedNames("repositories", doc.Repositories); err != nil {
		return nil, err
	}
	if err := checkListedNames("replicas", doc.Replicas); err != nil {
		return nil, err
	}
	geodb, err := decodeStatusTime(doc.LastGeoDBUpdate)
	if err != nil {
		return nil, fmt.Errorf("repositories.json: last_geodb_update: %w", err)
	}
	return &RepositoryListing{
		Schema:          doc.Schema,
		LastGeoDBUpdate: geodb,
		CVMFSVersion:    deref(doc.CVMFSVersion),
		OSID:            deref(doc.OSID),
		OSVersionID:     deref(doc.OSVersionID),
		OSPrettyName:    deref(doc.OSPrettyName),
		Repositories:    doc.Repositories,
		Replicas:        doc.Replicas,
	}, nil
}

func checkListedNames(field string, entries []ListedRepository) error {
	for i, e := range entries {
		if e.Name == "" {
			return fmt.Errorf("repositories.json: %w: %s entry %d has no name", ErrMalformedDocument, field, i)
		}
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Names returns every repository and replica name in the listing.
func (l *RepositoryListing) Names() RepositorySet {
	set := make(RepositorySet, len(l.Repositories)+len(l.Replicas))
	for _, r := range l.Repositories {
		set.Add(r.Name)
	}
	for _, r := range l.Replicas {
		set.Add(r.Name)
	}
	return set
}

// HasReplicas reports whether the server advertises any replicated
// repositories, which only Stratum1 and sync servers do.
func (l *RepositoryListing) HasReplicas() bool {
	return len(l.Replicas) > 0
}

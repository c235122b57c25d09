package scraper

import (
	"encoding/json"

	"github.com/BadgerOps/cvmfs-scraper/pkg/cvmfs"
	"github.com/BadgerOps/cvmfs-scraper/pkg/geoapi"
)

// ScrapedServer is the result for one server: either a *PopulatedServer or
// a *FailedServer. Use a type switch to tell them apart.
type ScrapedServer interface {
	Hostname() cvmfs.Hostname
	scrapedServer()
}

// RepositoryRecord is the outcome of scraping one repository. Err is set
// when the manifest could not be fetched or parsed; StatusErr records a
// problem with the status document, which does not fail the repository.
type RepositoryRecord struct {
	Name      cvmfs.RepositoryName
	Manifest  *cvmfs.Manifest
	Status    *cvmfs.RepositoryStatus
	Err       error
	StatusErr error
}

// OK reports whether the repository was scraped successfully.
func (r RepositoryRecord) OK() bool {
	return r.Err == nil && r.Manifest != nil
}

// Revision returns the published revision when the manifest was parsed.
func (r RepositoryRecord) Revision() (uint64, bool) {
	if r.Manifest == nil {
		return 0, false
	}
	return r.Manifest.Revision, true
}

func (r RepositoryRecord) MarshalJSON() ([]byte, error) {
	out := struct {
		Name        cvmfs.RepositoryName    `json:"name"`
		OK          bool                    `json:"ok"`
		Manifest    *cvmfs.Manifest         `json:"manifest,omitempty"`
		Status      *cvmfs.RepositoryStatus `json:"status,omitempty"`
		Error       string                  `json:"error,omitempty"`
		ErrorKind   string                  `json:"error_kind,omitempty"`
		StatusError string                  `json:"status_error,omitempty"`
	}{
		Name:      r.Name,
		OK:        r.OK(),
		Manifest:  r.Manifest,
		Status:    r.Status,
		ErrorKind: ErrorKind(r.Err),
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	if r.StatusErr != nil {
		out.StatusError = r.StatusErr.Error()
	}
	return json.Marshal(out)
}

// PopulatedServer is a server whose repositories could be determined.
// Individual repositories may still have failed.
type PopulatedServer struct {
	Server          cvmfs.ServerConfig
	BackendDetected cvmfs.BackendType
	Metadata        *cvmfs.ServerMetadata
	Repositories    []RepositoryRecord
	GeoAPI          *geoapi.Ranking
}

func (*PopulatedServer) scrapedServer() {}

// Hostname implements ScrapedServer.
func (p *PopulatedServer) Hostname() cvmfs.Hostname { return p.Server.Hostname }

// Repository returns the record for name.
func (p *PopulatedServer) Repository(name cvmfs.RepositoryName) (*RepositoryRecord, bool) {
	for i := range p.Repositories {
		if p.Repositories[i].Name == name {
			return &p.Repositories[i], true
		}
	}
	return nil, false
}

// HasRepository reports whether name was scraped on this server.
func (p *PopulatedServer) HasRepository(name cvmfs.RepositoryName) bool {
	_, ok := p.Repository(name)
	return ok
}

// FailedRepositories returns the records whose scrape failed.
func (p *PopulatedServer) FailedRepositories() []RepositoryRecord {
	var out []RepositoryRecord
	for _, r := range p.Repositories {
		if !r.OK() {
			out = append(out, r)
		}
	}
	return out
}

func (p *PopulatedServer) MarshalJSON() ([]byte, error) {
	repos := p.Repositories
	if repos == nil {
		repos = []RepositoryRecord{}
	}
	return json.Marshal(struct {
		Status          string                `json:"status"`
		Hostname        cvmfs.Hostname        `json:"hostname"`
		Type            cvmfs.ServerType      `json:"type"`
		Backend         cvmfs.BackendType     `json:"backend"`
		BackendDetected cvmfs.BackendType     `json:"backend_detected"`
		Metadata        *cvmfs.ServerMetadata `json:"metadata"`
		Repositories    []RepositoryRecord    `json:"repositories"`
		GeoAPI          *geoapi.Ranking       `json:"geoapi,omitempty"`
	}{
		Status:          "populated",
		Hostname:        p.Server.Hostname,
		Type:            p.Server.Type,
		Backend:         p.Server.Backend,
		BackendDetected: p.BackendDetected,
		Metadata:        p.Metadata,
		Repositories:    repos,
		GeoAPI:          p.GeoAPI,
	})
}

// FailedServer is a server for which no repository set could be
// determined. No repository was fetched.
type FailedServer struct {
	Server cvmfs.ServerConfig
	Err    error
}

func (*FailedServer) scrapedServer() {}

// Hostname implements ScrapedServer.
func (f *FailedServer) Hostname() cvmfs.Hostname { return f.Server.Hostname }

func (f *FailedServer) Error() string {
	return string(f.Server.Hostname) + ": " + f.Err.Error()
}

func (f *FailedServer) Unwrap() error { return f.Err }

func (f *FailedServer) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Status    string            `json:"status"`
		Hostname  cvmfs.Hostname    `json:"hostname"`
		Type      cvmfs.ServerType  `json:"type"`
		Backend   cvmfs.BackendType `json:"backend"`
		Error     string            `json:"error"`
		ErrorKind string            `json:"error_kind"`
	}{
		Status:    "failed",
		Hostname:  f.Server.Hostname,
		Type:      f.Server.Type,
		Backend:   f.Server.Backend,
		Error:     f.Err.Error(),
		ErrorKind: ErrorKind(f.Err),
	})
}

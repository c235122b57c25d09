package scraper

import (
	"errors"
	"strings"

	"github.com/BadgerOps/cvmfs-scraper/internal/fetch"
	"github.com/BadgerOps/cvmfs-scraper/pkg/cvmfs"
)

// Server-level failures. Each one fails a single server and leaves the
// others untouched.
var (
	// ErrMissingRepositoryListing means a server declared with the cvmfs
	// backend did not serve a usable repositories.json.
	ErrMissingRepositoryListing = errors.New("repository listing unavailable")
	// ErrNoRepositoriesSpecified means an s3 server was given no
	// repositories to scrape.
	ErrNoRepositoriesSpecified = errors.New("no repositories specified for s3 backend")
	// ErrServerTypeMismatch means the listing contradicts the declared
	// server type: a stratum0 with replicas, or a replica without any.
	ErrServerTypeMismatch = errors.New("server type does not match repository listing")
)

// Repository-level failures.
var (
	ErrManifestNameMismatch = errors.New("manifest names a different repository")
)

// ErrAlreadyScraped is returned by a second call to ReadyScraper.Scrape.
var ErrAlreadyScraped = errors.New("scraper has already been used")

// TransportError is the error type returned for failed fetches by the
// default fetcher.
type TransportError = fetch.TransportError

// ValidationError lists every problem found by Validate.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid scraper configuration: " + strings.Join(e.Problems, "; ")
}

// ErrorKind classifies err into a stable, machine-readable name used in
// reports.
func ErrorKind(err error) string {
	var terr *fetch.TransportError
	var perr *cvmfs.ParseError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingRepositoryListing):
		return "missing_repository_listing"
	case errors.Is(err, ErrNoRepositoriesSpecified):
		return "no_repositories_specified"
	case errors.Is(err, ErrServerTypeMismatch):
		return "server_type_mismatch"
	case errors.Is(err, ErrManifestNameMismatch):
		return "manifest_name_mismatch"
	case errors.As(err, &perr), errors.Is(err, cvmfs.ErrMalformedDocument):
		return "parse"
	case errors.As(err, &terr):
		return "transport"
	}
	return "other"
}

package scraper

import (
	"fmt"

	"github.com/BadgerOps/cvmfs-scraper/pkg/cvmfs"
)

// Resolve decides which backend a server is using and which repositories to
// scrape on it. listing is nil when repositories.json could not be fetched
// or decoded.
//
// With onlyForced set the result is exactly forced and nothing fails.
// Otherwise a cvmfs backend scrapes (listed ∪ forced) − ignored and an s3
// backend scrapes forced − ignored. An autodetect server behaves as cvmfs
// when it has a listing and as s3 (where an empty set is fine) when not.
func Resolve(server cvmfs.ServerConfig, listing *cvmfs.RepositoryListing, forced, ignored cvmfs.RepositorySet, onlyForced bool) (cvmfs.BackendType, cvmfs.RepositorySet, error) {
	detected := detectBackend(server.Backend, listing)

	if onlyForced {
		return detected, forced.Union(nil), nil
	}

	switch server.Backend {
	case cvmfs.BackendCVMFS:
		if listing == nil {
			return detected, nil, ErrMissingRepositoryListing
		}
	case cvmfs.BackendS3:
		if len(forced) == 0 {
			return detected, nil, ErrNoRepositoriesSpecified
		}
	}

	if detected == cvmfs.BackendCVMFS {
		return detected, listing.Names().Union(forced).Minus(ignored), nil
	}
	return detected, forced.Minus(ignored), nil
}

func detectBackend(declared cvmfs.BackendType, listing *cvmfs.RepositoryListing) cvmfs.BackendType {
	switch declared {
	case cvmfs.BackendCVMFS, cvmfs.BackendS3:
		return declared
	}
	if listing != nil {
		return cvmfs.BackendCVMFS
	}
	return cvmfs.BackendS3
}

// CheckServerRole verifies the listing is consistent with the declared
// server type. Only replicas (stratum1 and sync servers) list replicated
// repositories.
func CheckServerRole(server cvmfs.ServerConfig, listing *cvmfs.RepositoryListing) error {
	if listing == nil {
		return nil
	}
	switch server.Type {
	case cvmfs.Stratum0:
		if listing.HasReplicas() {
			return fmt.Errorf("%w: %s is declared stratum0 but lists %d replicas", ErrServerTypeMismatch, server.Hostname, len(listing.Replicas))
		}
	case cvmfs.Stratum1, cvmfs.SyncServer:
		if !listing.HasReplicas() {
			return fmt.Errorf("%w: %s is declared %s but lists no replicas", ErrServerTypeMismatch, server.Hostname, server.Type)
		}
	}
	return nil
}

package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BadgerOps/cvmfs-scraper/internal/safety"
	"github.com/BadgerOps/cvmfs-scraper/pkg/cvmfs"
	"github.com/BadgerOps/cvmfs-scraper/pkg/geoapi"
	"golang.org/x/sync/errgroup"
)

// plan is a validated, immutable scrape configuration.
type plan struct {
	servers       []cvmfs.ServerConfig
	forced        cvmfs.RepositorySet
	ignored       cvmfs.RepositorySet
	onlyForced    bool
	geoapiServers []cvmfs.Hostname
}

type orchestrator struct {
	fetcher     Fetcher
	logger      *slog.Logger
	endpoint    cvmfs.EndpointFunc
	concurrency int
	geo         *geoapi.Client
}

func newOrchestrator(o options) *orchestrator {
	return &orchestrator{
		fetcher:     o.fetcher,
		logger:      o.logger,
		endpoint:    o.endpoint,
		concurrency: o.concurrency,
		geo:         geoapi.NewClient(o.fetcher, o.endpoint, o.logger),
	}
}

// newGroup returns an errgroup used only to wait for tasks, bounded by the
// configured concurrency. Tasks never return errors.
func (o *orchestrator) newGroup() *errgroup.Group {
	g := &errgroup.Group{}
	if o.concurrency > 0 {
		g.SetLimit(o.concurrency)
	}
	return g
}

// run scrapes every server concurrently. results[i] belongs to servers[i].
func (o *orchestrator) run(ctx context.Context, p *plan) []ScrapedServer {
	results := make([]ScrapedServer, len(p.servers))
	g := o.newGroup()
	for i, srv := range p.servers {
		g.Go(func() error {
			results[i] = o.scrapeServer(ctx, srv, p)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (o *orchestrator) scrapeServer(ctx context.Context, srv cvmfs.ServerConfig, p *plan) ScrapedServer {
	start := time.Now()
	log := o.logger.With("server", srv.Hostname, "type", srv.Type, "backend", srv.Backend)
	base := o.endpoint(srv.Hostname)

	var (
		listing    *cvmfs.RepositoryListing
		listingErr error
		meta       *cvmfs.ServerMetadata
	)
	var g errgroup.Group
	if srv.Backend != cvmfs.BackendS3 {
		g.Go(func() error {
			if listing, listingErr = o.fetchListing(ctx, base); listingErr != nil {
				log.Debug("repository listing unavailable", "error", listingErr)
			}
			return nil
		})
	}
	g.Go(func() error {
		var err error
		if meta, err = o.fetchMetadata(ctx, base); err != nil {
			log.Debug("server metadata unavailable", "error", err)
		}
		return nil
	})
	_ = g.Wait()

	if err := CheckServerRole(srv, listing); err != nil {
		log.Warn("server failed", "error", err)
		return &FailedServer{Server: srv, Err: err}
	}
	backend, repos, err := Resolve(srv, listing, p.forced, p.ignored, p.onlyForced)
	if err != nil {
		if errors.Is(err, ErrMissingRepositoryListing) && listingErr != nil {
			err = fmt.Errorf("%w: %v", ErrMissingRepositoryListing, listingErr)
		}
		log.Warn("server failed", "error", err)
		return &FailedServer{Server: srv, Err: err}
	}

	if listing != nil {
		if meta == nil {
			meta = &cvmfs.ServerMetadata{}
		}
		if err := meta.MergeListing(listing); err != nil {
			log.Warn("ignoring listing metadata", "error", err)
		}
	}

	names := repos.Sorted()
	records := make([]RepositoryRecord, len(names))
	rg := o.newGroup()
	for i, name := range names {
		rg.Go(func() error {
			records[i] = o.scrapeRepository(ctx, base, name)
			return nil
		})
	}
	_ = rg.Wait()

	result := &PopulatedServer{
		Server:          srv,
		BackendDetected: backend,
		Metadata:        meta,
		Repositories:    records,
	}
	result.GeoAPI = o.rank(ctx, log, result, p.geoapiServers)

	failed := len(result.FailedRepositories())
	log.Info("server scraped",
		"backend_detected", backend,
		"repositories", len(records),
		"failed_repositories", failed,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return result
}

// rank queries the server's GeoAPI. Stratum0 servers and s3 backends have
// no GeoAPI; a server without a healthy repository has no URL to ask under.
func (o *orchestrator) rank(ctx context.Context, log *slog.Logger, srv *PopulatedServer, candidates []cvmfs.Hostname) *geoapi.Ranking {
	if len(candidates) == 0 || srv.Server.Type == cvmfs.Stratum0 || srv.BackendDetected != cvmfs.BackendCVMFS {
		return nil
	}
	for _, rec := range srv.Repositories {
		if !rec.OK() {
			continue
		}
		r, err := o.geo.Rank(ctx, srv.Server.Hostname, rec.Name, candidates)
		if err != nil {
			log.Warn("geoapi ranking failed, keeping configured order", "error", err)
		}
		return r
	}
	return nil
}

func (o *orchestrator) scrapeRepository(ctx context.Context, base string, name cvmfs.RepositoryName) RepositoryRecord {
	rec := RepositoryRecord{Name: name}

	var (
		manifestBody, statusBody []byte
		manifestErr, statusErr   error
	)
	var g errgroup.Group
	g.Go(func() error {
		manifestBody, manifestErr = o.get(ctx, base, "cvmfs", string(name), ".cvmfspublished")
		return nil
	})
	g.Go(func() error {
		statusBody, statusErr = o.get(ctx, base, "cvmfs", string(name), ".cvmfs_status.json")
		return nil
	})
	_ = g.Wait()

	switch {
	case manifestErr != nil:
		rec.Err = fmt.Errorf("fetching manifest: %w", manifestErr)
	default:
		m, err := cvmfs.ParseManifest(manifestBody)
		switch {
		case err != nil:
			rec.Err = fmt.Errorf("parsing manifest: %w", err)
		case m.Name != name:
			rec.Err = fmt.Errorf("%w: %s", ErrManifestNameMismatch, m.Name)
		default:
			rec.Manifest = m
		}
	}

	if statusErr != nil {
		rec.StatusErr = fmt.Errorf("fetching status: %w", statusErr)
	} else if st, err := cvmfs.DecodeStatus(name, statusBody); err != nil {
		rec.StatusErr = err
	} else {
		rec.Status = st
	}

	if rec.Err != nil {
		o.logger.Debug("repository failed", "repository", name, "error", rec.Err)
	}
	return rec
}

func (o *orchestrator) fetchListing(ctx context.Context, base string) (*cvmfs.RepositoryListing, error) {
	body, err := o.get(ctx, base, "cvmfs", "info", "v1", "repositories.json")
	if err != nil {
		return nil, err
	}
	return cvmfs.DecodeRepositoryListing(body)
}

func (o *orchestrator) fetchMetadata(ctx context.Context, base string) (*cvmfs.ServerMetadata, error) {
	body, err := o.get(ctx, base, "cvmfs", "info", "v1", "meta.json")
	if err != nil {
		return nil, err
	}
	return cvmfs.DecodeMetadata(body)
}

func (o *orchestrator) get(ctx context.Context, base string, segments ...string) ([]byte, error) {
	url, err := safety.JoinURL(base, segments...)
	if err != nil {
		return nil, err
	}
	return o.fetcher.Fetch(ctx, url)
}

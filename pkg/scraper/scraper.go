// Package scraper scrapes CVMFS servers. Configure a Scraper, attach servers
// with WithServers, call Validate and run the returned ReadyScraper once:
//
//	ready, err := scraper.New().
//		WithServers(servers...).
//		ForcedRepositories("software.eessi.io").
//		Validate()
//	if err != nil {
//		return err
//	}
//	results, err := ready.Scrape(ctx)
//
// ScrapeServers wraps the same steps in one call.
package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/BadgerOps/cvmfs-scraper/internal/fetch"
	"github.com/BadgerOps/cvmfs-scraper/pkg/cvmfs"
	"github.com/BadgerOps/cvmfs-scraper/pkg/geoapi"
	"github.com/google/uuid"
)

// Fetcher retrieves the body at a URL. Implementations own timeouts and
// should report failures as *TransportError.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

type options struct {
	fetcher     Fetcher
	logger      *slog.Logger
	endpoint    cvmfs.EndpointFunc
	concurrency int
}

// Option configures a Scraper.
type Option func(*options)

// WithFetcher replaces the default HTTP client.
func WithFetcher(f Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithConcurrency bounds the number of servers scraped at once and the
// number of repositories scraped at once per server. Zero means unbounded.
func WithConcurrency(n int) Option {
	return func(o *options) { o.concurrency = n }
}

// WithEndpoint overrides how a hostname maps to a base URL.
func WithEndpoint(fn cvmfs.EndpointFunc) Option {
	return func(o *options) { o.endpoint = fn }
}

// settings holds what the setters collect. Names are kept raw until
// Validate so that every problem can be reported at once.
type settings struct {
	forced        []string
	ignored       []string
	onlyForced    bool
	geoapiServers []string
	geoapiSet     bool
}

func (s *settings) clone() settings {
	c := *s
	c.forced = append([]string(nil), s.forced...)
	c.ignored = append([]string(nil), s.ignored...)
	c.geoapiServers = append([]string(nil), s.geoapiServers...)
	return c
}

// Scraper is an unconfigured scraper without servers.
type Scraper struct {
	opts     options
	settings settings
}

// New creates a Scraper.
func New(opts ...Option) *Scraper {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.fetcher == nil {
		o.fetcher = fetch.NewClient(fetch.Options{}, o.logger)
	}
	if o.endpoint == nil {
		o.endpoint = cvmfs.DefaultEndpoint
	}
	return &Scraper{opts: o}
}

// ForcedRepositories adds repositories to scrape on every server, whether
// or not the server lists them.
func (s *Scraper) ForcedRepositories(names ...string) *Scraper {
	s.settings.forced = append(s.settings.forced, names...)
	return s
}

// IgnoredRepositories adds repositories to skip on every server.
func (s *Scraper) IgnoredRepositories(names ...string) *Scraper {
	s.settings.ignored = append(s.settings.ignored, names...)
	return s
}

// OnlyScrapeForcedRepositories restricts every server to the forced list.
func (s *Scraper) OnlyScrapeForcedRepositories(only bool) *Scraper {
	s.settings.onlyForced = only
	return s
}

// GeoAPIServers replaces the default GeoAPI candidate list. Calling it with
// no hostnames disables GeoAPI ranking.
func (s *Scraper) GeoAPIServers(hosts ...string) *Scraper {
	s.settings.geoapiServers = append([]string{}, hosts...)
	s.settings.geoapiSet = true
	return s
}

// WithServers attaches the servers to scrape.
func (s *Scraper) WithServers(servers ...cvmfs.ServerConfig) *ServerScraper {
	return &ServerScraper{
		opts:     s.opts,
		settings: s.settings.clone(),
		servers:  append([]cvmfs.ServerConfig(nil), servers...),
	}
}

// ServerScraper is a scraper with servers attached, ready to be validated.
type ServerScraper struct {
	opts     options
	settings settings
	servers  []cvmfs.ServerConfig
}

// ForcedRepositories adds repositories to scrape on every server.
func (s *ServerScraper) ForcedRepositories(names ...string) *ServerScraper {
	s.settings.forced = append(s.settings.forced, names...)
	return s
}

// IgnoredRepositories adds repositories to skip on every server.
func (s *ServerScraper) IgnoredRepositories(names ...string) *ServerScraper {
	s.settings.ignored = append(s.settings.ignored, names...)
	return s
}

// OnlyScrapeForcedRepositories restricts every server to the forced list.
func (s *ServerScraper) OnlyScrapeForcedRepositories(only bool) *ServerScraper {
	s.settings.onlyForced = only
	return s
}

// GeoAPIServers replaces the GeoAPI candidate list; none disables ranking.
func (s *ServerScraper) GeoAPIServers(hosts ...string) *ServerScraper {
	s.settings.geoapiServers = append([]string{}, hosts...)
	s.settings.geoapiSet = true
	return s
}

// Validate checks the configuration and returns a scraper that can run.
// On failure the ServerScraper is unchanged and can be fixed and
// validated again.
func (s *ServerScraper) Validate() (*ReadyScraper, error) {
	p, err := buildPlan(s.servers, s.settings, true)
	if err != nil {
		return nil, err
	}
	return newReady(s.opts, p), nil
}

// buildPlan validates everything. requireS3Repositories rejects s3 servers
// that would have nothing to scrape; without it they fail at scrape time.
func buildPlan(servers []cvmfs.ServerConfig, st settings, requireS3Repositories bool) (*plan, error) {
	var problems []string

	if len(servers) == 0 {
		problems = append(problems, "no servers configured")
	}

	forced, bad := parseNames(st.forced)
	for _, err := range bad {
		problems = append(problems, "forced repository: "+err.Error())
	}
	ignored, bad := parseNames(st.ignored)
	for _, err := range bad {
		problems = append(problems, "ignored repository: "+err.Error())
	}

	seen := make(map[cvmfs.Hostname]bool, len(servers))
	normalized := make([]cvmfs.ServerConfig, 0, len(servers))
	for i, raw := range servers {
		srv, err := normalizeServer(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("server %d: %v", i, err))
			continue
		}
		if seen[srv.Hostname] {
			problems = append(problems, fmt.Sprintf("server %s: listed more than once", srv.Hostname))
		}
		seen[srv.Hostname] = true
		if requireS3Repositories && srv.Backend == cvmfs.BackendS3 && len(forced) == 0 && !st.onlyForced {
			problems = append(problems, fmt.Sprintf("server %s: s3 backend requires forced repositories", srv.Hostname))
		}
		normalized = append(normalized, srv)
	}

	geo := geoapi.DefaultServers
	if st.geoapiSet {
		geo = make([]cvmfs.Hostname, 0, len(st.geoapiServers))
		for _, h := range st.geoapiServers {
			host, err := cvmfs.ParseHostname(h)
			if err != nil {
				problems = append(problems, "geoapi server: "+err.Error())
				continue
			}
			geo = append(geo, host)
		}
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	return &plan{
		servers:       normalized,
		forced:        forced,
		ignored:       ignored,
		onlyForced:    st.onlyForced,
		geoapiServers: geo,
	}, nil
}

func parseNames(raw []string) (cvmfs.RepositorySet, []error) {
	set := make(cvmfs.RepositorySet, len(raw))
	var errs []error
	for _, n := range raw {
		name, err := cvmfs.ParseRepositoryName(n)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		set.Add(name)
	}
	return set, errs
}

// normalizeServer re-checks a ServerConfig built without NewServer.
func normalizeServer(srv cvmfs.ServerConfig) (cvmfs.ServerConfig, error) {
	host, err := cvmfs.ParseHostname(string(srv.Hostname))
	if err != nil {
		return srv, err
	}
	typ, err := cvmfs.ParseServerType(string(srv.Type))
	if err != nil {
		return srv, fmt.Errorf("%s: %w", host, err)
	}
	backend, err := cvmfs.ParseBackendType(string(srv.Backend))
	if err != nil {
		return srv, fmt.Errorf("%s: %w", host, err)
	}
	return cvmfs.NewServer(typ, backend, host), nil
}

// ReadyScraper is a validated configuration. It can scrape exactly once.
type ReadyScraper struct {
	orch  *orchestrator
	plan  *plan
	runID string
	used  atomic.Bool
}

func newReady(o options, p *plan) *ReadyScraper {
	return &ReadyScraper{
		orch:  newOrchestrator(o),
		plan:  p,
		runID: uuid.NewString(),
	}
}

// RunID identifies this scrape in logs and reports.
func (r *ReadyScraper) RunID() string { return r.runID }

// Servers returns the validated server list.
func (r *ReadyScraper) Servers() []cvmfs.ServerConfig {
	return append([]cvmfs.ServerConfig(nil), r.plan.servers...)
}

// Scrape scrapes every server and returns one result per server in the
// order they were given. Failures are reported inside the results; the
// error is non-nil only for a reused scraper or a cancelled context, in
// which case the results are still complete.
func (r *ReadyScraper) Scrape(ctx context.Context) ([]ScrapedServer, error) {
	if !r.used.CompareAndSwap(false, true) {
		return nil, ErrAlreadyScraped
	}

	log := r.orch.logger.With("run_id", r.runID)
	log.Info("starting scrape",
		"servers", len(r.plan.servers),
		"forced", len(r.plan.forced),
		"ignored", len(r.plan.ignored),
		"only_forced", r.plan.onlyForced,
		"geoapi_servers", len(r.plan.geoapiServers),
	)

	start := time.Now()
	orch := *r.orch
	orch.logger = log
	results := orch.run(ctx, r.plan)

	failed := 0
	for _, res := range results {
		if _, ok := res.(*FailedServer); ok {
			failed++
		}
	}
	log.Info("scrape finished",
		"servers", len(results),
		"failed_servers", failed,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return results, ctx.Err()
}

// ScrapeServers scrapes servers in one call. forced and ignored apply to
// every server. A nil geoapiServers uses geoapi.DefaultServers; an empty,
// non-nil slice disables GeoAPI ranking.
//
// Unlike Validate, an s3 server without forced repositories is not a
// configuration error here: it is reported as a FailedServer wrapping
// ErrNoRepositoriesSpecified so the other servers are still scraped.
func ScrapeServers(ctx context.Context, servers []cvmfs.ServerConfig, forced, ignored, geoapiServers []string, opts ...Option) ([]ScrapedServer, error) {
	s := New(opts...).ForcedRepositories(forced...).IgnoredRepositories(ignored...)
	if geoapiServers != nil {
		s.GeoAPIServers(geoapiServers...)
	}
	p, err := buildPlan(servers, s.settings, false)
	if err != nil {
		return nil, err
	}
	return newReady(s.opts, p).Scrape(ctx)
}

package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"

	"github.com/BadgerOps/cvmfs-scraper/pkg/cvmfs"
	"github.com/BadgerOps/cvmfs-scraper/pkg/geoapi"
)

const (
	hostS1   = "s1.example.org"
	hostAuto = "auto.example.org"
	hostS3   = "s3.example.org"
)

func newTestScraper(f Fetcher) *Scraper {
	return New(WithFetcher(f), WithLogger(discardLogger()))
}

func scrapeOne(t *testing.T, f Fetcher, srv cvmfs.ServerConfig, configure func(*ServerScraper)) ScrapedServer {
	t.Helper()
	s := newTestScraper(f).WithServers(srv).GeoAPIServers()
	if configure != nil {
		configure(s)
	}
	ready, err := s.Validate()
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	results, err := ready.Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	return results[0]
}

func mustPopulated(t *testing.T, res ScrapedServer) *PopulatedServer {
	t.Helper()
	pop, ok := res.(*PopulatedServer)
	if !ok {
		t.Fatalf("expected *PopulatedServer, got %T (%v)", res, res)
	}
	return pop
}

func mustFailed(t *testing.T, res ScrapedServer) *FailedServer {
	t.Helper()
	failed, ok := res.(*FailedServer)
	if !ok {
		t.Fatalf("expected *FailedServer, got %T", res)
	}
	return failed
}

func mustRepository(t *testing.T, pop *PopulatedServer, name cvmfs.RepositoryName) *RepositoryRecord {
	t.Helper()
	rec, ok := pop.Repository(name)
	if !ok {
		t.Fatalf("repository %s missing from %s", name, pop.Hostname())
	}
	return rec
}

func TestScrapeCVMFSServer(t *testing.T) {
	f := newFakeFetcher().
		set(listingURL(hostS1), listingJSON("a.example.org", "b.example.org")).
		set(metaURL(hostS1), metaJSON).
		addRepo(hostS1, "a.example.org", 10).
		addRepo(hostS1, "b.example.org", 20)

	pop := mustPopulated(t, scrapeOne(t, f, cvmfs.NewServer(cvmfs.Stratum1, cvmfs.BackendCVMFS, hostS1), nil))

	if pop.BackendDetected != cvmfs.BackendCVMFS {
		t.Errorf("BackendDetected = %s, want cvmfs", pop.BackendDetected)
	}
	if len(pop.Repositories) != 2 {
		t.Fatalf("expected 2 repositories, got %d", len(pop.Repositories))
	}
	if pop.Repositories[0].Name != "a.example.org" {
		t.Errorf("first repository = %s, want a.example.org", pop.Repositories[0].Name)
	}
	if !pop.HasRepository("a.example.org") || pop.HasRepository("c.example.org") {
		t.Error("HasRepository does not match the scraped set")
	}

	rec := mustRepository(t, pop, "b.example.org")
	if rev, ok := rec.Revision(); !ok || rev != 20 {
		t.Errorf("Revision() = %d, %v, want 20, true", rev, ok)
	}
	if rec.Status == nil {
		t.Fatal("expected status document")
	}
	if rec.Status.LastSnapshot == nil {
		t.Error("LastSnapshot is nil")
	}
	if rec.Status.LastGC != nil {
		t.Errorf("LastGC = %v, want nil", rec.Status.LastGC)
	}

	if pop.Metadata == nil || pop.Metadata.Administrator == nil {
		t.Fatal("expected server metadata")
	}
	if *pop.Metadata.Administrator != "Ops" {
		t.Errorf("Administrator = %q, want Ops", *pop.Metadata.Administrator)
	}
	if pop.Metadata.CVMFSVersion == nil || pop.Metadata.CVMFSVersion.Original() != "2.11.3-1" {
		t.Errorf("CVMFSVersion = %v, want 2.11.3-1", pop.Metadata.CVMFSVersion)
	}
	if pop.GeoAPI != nil {
		t.Error("geoapi ran while disabled")
	}
}

func TestScrapeMissingListingFailsWithoutRepositoryFetches(t *testing.T) {
	f := newFakeFetcher().set(metaURL(hostS1), metaJSON)

	failed := mustFailed(t, scrapeOne(t, f, cvmfs.NewServer(cvmfs.Stratum1, cvmfs.BackendCVMFS, hostS1), func(s *ServerScraper) {
		s.ForcedRepositories("a.example.org")
	}))

	if !errors.Is(failed.Err, ErrMissingRepositoryListing) {
		t.Errorf("Err = %v, want ErrMissingRepositoryListing", failed.Err)
	}
	if failed.Hostname() != hostS1 {
		t.Errorf("Hostname() = %s, want %s", failed.Hostname(), hostS1)
	}
	if got := f.requested(".cvmfspublished"); len(got) != 0 {
		t.Errorf("manifests fetched for a failed server: %v", got)
	}
	if got := f.requested(".cvmfs_status.json"); len(got) != 0 {
		t.Errorf("status documents fetched for a failed server: %v", got)
	}
}

func TestScrapeListingFailureKeepsCause(t *testing.T) {
	tests := []struct {
		name    string
		listing string
		wantIn  string
	}{
		{"not json", "<html>", "malformed document"},
		{"nameless replica", `{"replicas": [{"url": "/cvmfs/x"}, {"name": "a.example.org"}]}`, "entry 0 has no name"},
		{"null name", `{"repositories": [{"name": null}]}`, "entry 0 has no name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeFetcher().
				set(listingURL(hostS1), tt.listing).
				addRepo(hostS1, "a.example.org", 1)

			failed := mustFailed(t, scrapeOne(t, f, cvmfs.NewServer(cvmfs.Stratum1, cvmfs.BackendCVMFS, hostS1), nil))
			if !errors.Is(failed.Err, ErrMissingRepositoryListing) {
				t.Errorf("Err = %v, want ErrMissingRepositoryListing", failed.Err)
			}
			if !strings.Contains(failed.Err.Error(), tt.wantIn) {
				t.Errorf("Err = %q, want it to contain %q", failed.Err, tt.wantIn)
			}
			if ErrorKind(failed.Err) != "missing_repository_listing" {
				t.Errorf("ErrorKind = %q", ErrorKind(failed.Err))
			}
			if got := f.requested(".cvmfspublished"); len(got) != 0 {
				t.Errorf("manifests fetched for a failed server: %v", got)
			}
		})
	}
}

func TestScrapeRepositoryFailureIsScoped(t *testing.T) {
	f := newFakeFetcher().
		set(listingURL(hostS1), listingJSON("r1.example.org", "r2.example.org", "r3.example.org")).
		addRepo(hostS1, "r1.example.org", 1).
		addRepo(hostS1, "r3.example.org", 3)
	// r2 has a status document but no manifest.
	f.set("http://"+hostS1+"/cvmfs/r2.example.org/.cvmfs_status.json", statusJSON)

	pop := mustPopulated(t, scrapeOne(t, f, cvmfs.NewServer(cvmfs.Stratum1, cvmfs.BackendCVMFS, hostS1), nil))
	if len(pop.Repositories) != 3 {
		t.Fatalf("expected 3 repositories, got %d", len(pop.Repositories))
	}

	var okCount int
	for _, r := range pop.Repositories {
		if r.OK() {
			okCount++
		}
	}
	if okCount != 2 {
		t.Errorf("ok repositories = %d, want 2", okCount)
	}

	bad := pop.FailedRepositories()
	if len(bad) != 1 {
		t.Fatalf("expected 1 failed repository, got %d", len(bad))
	}
	if bad[0].Name != "r2.example.org" {
		t.Errorf("failed repository = %s, want r2.example.org", bad[0].Name)
	}
	var terr *TransportError
	if !errors.As(bad[0].Err, &terr) {
		t.Errorf("Err = %v, want *TransportError", bad[0].Err)
	}
	if kind := ErrorKind(bad[0].Err); kind != "transport" {
		t.Errorf("ErrorKind = %q, want transport", kind)
	}
	if pop.Metadata.Administrator != nil {
		t.Error("Administrator set although meta.json was missing")
	}
}

func TestScrapeManifestProblems(t *testing.T) {
	f := newFakeFetcher().
		set(listingURL(hostS1), listingJSON("good.example.org", "garbled.example.org", "other.example.org")).
		addRepo(hostS1, "good.example.org", 1).
		set("http://"+hostS1+"/cvmfs/garbled.example.org/.cvmfspublished", "not a manifest").
		set("http://"+hostS1+"/cvmfs/other.example.org/.cvmfspublished", manifestFor("elsewhere.example.org", 5))

	pop := mustPopulated(t, scrapeOne(t, f, cvmfs.NewServer(cvmfs.Stratum1, cvmfs.BackendCVMFS, hostS1), nil))

	garbled := mustRepository(t, pop, "garbled.example.org")
	var perr *cvmfs.ParseError
	if !errors.As(garbled.Err, &perr) {
		t.Errorf("Err = %v, want *cvmfs.ParseError", garbled.Err)
	}
	if kind := ErrorKind(garbled.Err); kind != "parse" {
		t.Errorf("ErrorKind = %q, want parse", kind)
	}

	other := mustRepository(t, pop, "other.example.org")
	if !errors.Is(other.Err, ErrManifestNameMismatch) {
		t.Errorf("Err = %v, want ErrManifestNameMismatch", other.Err)
	}
	if other.Manifest != nil {
		t.Error("Manifest kept for a mismatched repository")
	}

	if good := mustRepository(t, pop, "good.example.org"); !good.OK() {
		t.Errorf("good repository failed: %v", good.Err)
	}
}

func TestScrapeStatusFailureDoesNotFailRepository(t *testing.T) {
	f := newFakeFetcher().
		set(listingURL(hostS1), listingJSON("a.example.org")).
		set("http://"+hostS1+"/cvmfs/a.example.org/.cvmfspublished", manifestFor("a.example.org", 7)).
		set("http://"+hostS1+"/cvmfs/a.example.org/.cvmfs_status.json", `{"last_gc": 12}`)

	pop := mustPopulated(t, scrapeOne(t, f, cvmfs.NewServer(cvmfs.Stratum1, cvmfs.BackendCVMFS, hostS1), nil))
	rec := mustRepository(t, pop, "a.example.org")
	if !rec.OK() {
		t.Errorf("repository failed: %v", rec.Err)
	}
	if rec.Status != nil {
		t.Error("Status set for a malformed document")
	}
	if !errors.Is(rec.StatusErr, cvmfs.ErrMalformedDocument) {
		t.Errorf("StatusErr = %v, want ErrMalformedDocument", rec.StatusErr)
	}
}

func TestScrapeServerTypeMismatch(t *testing.T) {
	f := newFakeFetcher().set(listingURL(hostS1), listingJSON("a.example.org"))

	failed := mustFailed(t, scrapeOne(t, f, cvmfs.NewServer(cvmfs.Stratum0, cvmfs.BackendAutoDetect, hostS1), nil))
	if !errors.Is(failed.Err, ErrServerTypeMismatch) {
		t.Errorf("Err = %v, want ErrServerTypeMismatch", failed.Err)
	}
}

func TestScrapeS3SkipsListing(t *testing.T) {
	f := newFakeFetcher().addRepo(hostS3, "a.example.org", 1)

	pop := mustPopulated(t, scrapeOne(t, f, cvmfs.NewServer(cvmfs.SyncServer, cvmfs.BackendS3, hostS3), func(s *ServerScraper) {
		s.ForcedRepositories("a.example.org")
	}))
	if pop.BackendDetected != cvmfs.BackendS3 {
		t.Errorf("BackendDetected = %s, want s3", pop.BackendDetected)
	}
	if len(pop.Repositories) != 1 {
		t.Errorf("expected 1 repository, got %d", len(pop.Repositories))
	}
	if got := f.requested("repositories.json"); len(got) != 0 {
		t.Errorf("listing fetched for an s3 server: %v", got)
	}
	if pop.Metadata != nil {
		t.Error("Metadata set although meta.json was missing")
	}
}

func TestScrapeGeoAPI(t *testing.T) {
	f := newFakeFetcher().
		set(listingURL(hostS1), listingJSON("a.example.org")).
		addRepo(hostS1, "a.example.org", 1)
	f.geo = "2,1"

	s := newTestScraper(f).
		WithServers(cvmfs.NewServer(cvmfs.Stratum1, cvmfs.BackendCVMFS, hostS1)).
		GeoAPIServers("near.example.org", "far.example.org")
	ready, err := s.Validate()
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	results, err := ready.Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape failed: %v", err)
	}

	pop := mustPopulated(t, results[0])
	if pop.GeoAPI == nil || pop.GeoAPI.Failed() {
		t.Fatalf("GeoAPI = %+v, want a successful ranking", pop.GeoAPI)
	}
	want := []cvmfs.Hostname{"far.example.org", "near.example.org"}
	if !slices.Equal(pop.GeoAPI.Order, want) {
		t.Errorf("Order = %v, want %v", pop.GeoAPI.Order, want)
	}
	geoCalls := f.requested("/api/v1.0/geo/")
	if len(geoCalls) != 1 {
		t.Fatalf("expected 1 geoapi request, got %d", len(geoCalls))
	}
	if !strings.Contains(geoCalls[0], "/cvmfs/a.example.org/api/v1.0/geo/") {
		t.Errorf("geoapi url = %q", geoCalls[0])
	}
	if !strings.HasSuffix(geoCalls[0], "/near.example.org,far.example.org") {
		t.Errorf("geoapi url = %q, want candidates in input order", geoCalls[0])
	}
}

func TestScrapeGeoAPIFailureKeepsOrder(t *testing.T) {
	f := newFakeFetcher().
		set(listingURL(hostS1), listingJSON("a.example.org")).
		addRepo(hostS1, "a.example.org", 1)

	ready, err := newTestScraper(f).
		WithServers(cvmfs.NewServer(cvmfs.Stratum1, cvmfs.BackendCVMFS, hostS1)).
		Validate()
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	results, err := ready.Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape failed: %v", err)
	}

	// A GeoAPI failure does not fail the server.
	pop := mustPopulated(t, results[0])
	if pop.GeoAPI == nil || !pop.GeoAPI.Failed() {
		t.Fatalf("GeoAPI = %+v, want a failed ranking", pop.GeoAPI)
	}
	if !slices.Equal(pop.GeoAPI.Order, geoapi.DefaultServers) {
		t.Errorf("Order = %v, want %v", pop.GeoAPI.Order, geoapi.DefaultServers)
	}
}

func TestScrapeGeoAPISkippedForStratum0(t *testing.T) {
	f := newFakeFetcher().
		set(listingURL(hostS1), `{"repositories": [{"name": "a.example.org", "url": "/cvmfs/a.example.org"}]}`).
		addRepo(hostS1, "a.example.org", 1)
	f.geo = "1,2,3"

	ready, err := newTestScraper(f).
		WithServers(cvmfs.NewServer(cvmfs.Stratum0, cvmfs.BackendCVMFS, hostS1)).
		Validate()
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	results, err := ready.Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape failed: %v", err)
	}

	if pop := mustPopulated(t, results[0]); pop.GeoAPI != nil {
		t.Errorf("GeoAPI = %+v, want nil for stratum0", pop.GeoAPI)
	}
	if got := f.requested("/api/v1.0/geo/"); len(got) != 0 {
		t.Errorf("geoapi queried for stratum0: %v", got)
	}
}

func TestValidate(t *testing.T) {
	s3 := cvmfs.NewServer(cvmfs.SyncServer, cvmfs.BackendS3, hostS3)
	s1 := cvmfs.NewServer(cvmfs.Stratum1, cvmfs.BackendCVMFS, hostS1)

	tests := []struct {
		name      string
		build     func() *ServerScraper
		wantValid bool
		wantIn    string
	}{
		{"no servers", func() *ServerScraper { return New().WithServers() }, false, "no servers"},
		{"s3 without forced", func() *ServerScraper { return New().WithServers(s3) }, false, "s3 backend requires forced"},
		{"s3 with forced", func() *ServerScraper { return New().WithServers(s3).ForcedRepositories("a.example.org") }, true, ""},
		{"s3 only forced", func() *ServerScraper { return New().WithServers(s3).OnlyScrapeForcedRepositories(true) }, true, ""},
		{"bad geoapi host", func() *ServerScraper { return New().WithServers(s1).GeoAPIServers("bad_host") }, false, "geoapi server"},
		{"bad forced name", func() *ServerScraper { return New().WithServers(s1).ForcedRepositories("a/b") }, false, "forced repository"},
		{"bad ignored name", func() *ServerScraper { return New().IgnoredRepositories("..").WithServers(s1) }, false, "ignored repository"},
		{"duplicate server", func() *ServerScraper { return New().WithServers(s1, s1) }, false, "more than once"},
		{"zero server config", func() *ServerScraper { return New().WithServers(cvmfs.ServerConfig{}) }, false, "server 0"},
		{"plain cvmfs server", func() *ServerScraper { return New().WithServers(s1) }, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ready, err := tt.build().Validate()
			if tt.wantValid {
				if err != nil {
					t.Fatalf("Validate failed: %v", err)
				}
				if ready == nil {
					t.Fatal("Validate returned nil scraper")
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error = %v, want *ValidationError", err)
			}
			if ready != nil {
				t.Error("Validate returned a scraper alongside an error")
			}
			if !strings.Contains(verr.Error(), tt.wantIn) {
				t.Errorf("error = %q, want it to contain %q", verr, tt.wantIn)
			}
		})
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	_, err := New().
		WithServers(cvmfs.NewServer(cvmfs.SyncServer, cvmfs.BackendS3, hostS3)).
		ForcedRepositories("bad/name").
		GeoAPIServers("also bad").
		Validate()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want *ValidationError", err)
	}
	if len(verr.Problems) != 3 {
		t.Errorf("problems = %d, want 3: %v", len(verr.Problems), verr.Problems)
	}
}

func TestValidateCanBeRetried(t *testing.T) {
	s := New().WithServers(cvmfs.NewServer(cvmfs.SyncServer, cvmfs.BackendS3, hostS3))
	if _, err := s.Validate(); err == nil {
		t.Fatal("expected validation error without forced repositories")
	}

	ready, err := s.ForcedRepositories("a.example.org").Validate()
	if err != nil {
		t.Fatalf("Validate failed after fixing the configuration: %v", err)
	}
	if len(ready.Servers()) != 1 {
		t.Errorf("servers = %d, want 1", len(ready.Servers()))
	}
	if ready.RunID() == "" {
		t.Error("RunID is empty")
	}
}

func TestSettersBeforeServersCarryOver(t *testing.T) {
	f := newFakeFetcher().addRepo(hostS3, "a.example.org", 1)
	ready, err := newTestScraper(f).
		ForcedRepositories("a.example.org").
		GeoAPIServers().
		WithServers(cvmfs.NewServer(cvmfs.SyncServer, cvmfs.BackendS3, hostS3)).
		Validate()
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	results, err := ready.Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape failed: %v", err)
	}
	if !mustPopulated(t, results[0]).HasRepository("a.example.org") {
		t.Error("forced repository set before WithServers was not scraped")
	}
}

func TestScrapeOnlyOnce(t *testing.T) {
	f := newFakeFetcher()
	ready, err := newTestScraper(f).
		WithServers(cvmfs.NewServer(cvmfs.Stratum1, cvmfs.BackendAutoDetect, hostAuto)).
		Validate()
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if _, err := ready.Scrape(context.Background()); err != nil {
		t.Fatalf("first Scrape failed: %v", err)
	}
	if _, err := ready.Scrape(context.Background()); !errors.Is(err, ErrAlreadyScraped) {
		t.Errorf("second Scrape error = %v, want ErrAlreadyScraped", err)
	}
}

func TestScrapeResultsFollowInputOrder(t *testing.T) {
	f := newFakeFetcher()
	var servers []cvmfs.ServerConfig
	for i := 0; i < 20; i++ {
		host := cvmfs.Hostname(fmt.Sprintf("s%02d.example.org", i))
		servers = append(servers, cvmfs.NewServer(cvmfs.Stratum1, cvmfs.BackendAutoDetect, host))
	}

	results, err := ScrapeServers(context.Background(), servers, nil, nil, []string{},
		WithFetcher(f), WithLogger(discardLogger()), WithConcurrency(4))
	if err != nil {
		t.Fatalf("ScrapeServers failed: %v", err)
	}
	if len(results) != len(servers) {
		t.Fatalf("results = %d, want %d", len(results), len(servers))
	}
	for i, res := range results {
		if res.Hostname() != servers[i].Hostname {
			t.Errorf("results[%d] = %s, want %s", i, res.Hostname(), servers[i].Hostname)
		}
	}
}

func TestScrapeServersEndToEnd(t *testing.T) {
	f := newFakeFetcher().
		set(listingURL(hostS1), listingJSON("a.example.org", "b.example.org")).
		set(metaURL(hostS1), metaJSON).
		addRepo(hostS1, "a.example.org", 1).
		addRepo(hostS1, "b.example.org", 2)

	servers := []cvmfs.ServerConfig{
		cvmfs.NewServer(cvmfs.Stratum1, cvmfs.BackendCVMFS, hostS1),
		cvmfs.NewServer(cvmfs.Stratum1, cvmfs.BackendAutoDetect, hostAuto),
		cvmfs.NewServer(cvmfs.SyncServer, cvmfs.BackendS3, hostS3),
	}
	results, err := ScrapeServers(context.Background(), servers, nil, nil, []string{},
		WithFetcher(f), WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("ScrapeServers failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}

	byHost := make(map[cvmfs.Hostname]ScrapedServer)
	for _, r := range results {
		byHost[r.Hostname()] = r
	}

	full := mustPopulated(t, byHost[hostS1])
	if full.BackendDetected != cvmfs.BackendCVMFS {
		t.Errorf("%s BackendDetected = %s, want cvmfs", hostS1, full.BackendDetected)
	}
	if len(full.Repositories) != 2 || len(full.FailedRepositories()) != 0 {
		t.Errorf("%s repositories = %d (failed %d), want 2 (failed 0)",
			hostS1, len(full.Repositories), len(full.FailedRepositories()))
	}

	auto := mustPopulated(t, byHost[hostAuto])
	if auto.BackendDetected != cvmfs.BackendS3 {
		t.Errorf("%s BackendDetected = %s, want s3", hostAuto, auto.BackendDetected)
	}
	if len(auto.Repositories) != 0 {
		t.Errorf("%s repositories = %d, want 0", hostAuto, len(auto.Repositories))
	}

	failed := mustFailed(t, byHost[hostS3])
	if !errors.Is(failed.Err, ErrNoRepositoriesSpecified) {
		t.Errorf("Err = %v, want ErrNoRepositoriesSpecified", failed.Err)
	}
	if kind := ErrorKind(failed.Err); kind != "no_repositories_specified" {
		t.Errorf("ErrorKind = %q, want no_repositories_specified", kind)
	}
}

func TestScrapeServersOverHTTP(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /cvmfs/info/v1/repositories.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, listingJSON("a.example.org"))
	})
	mux.HandleFunc("GET /cvmfs/a.example.org/.cvmfspublished", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, manifestFor("a.example.org", 99))
	})
	mux.HandleFunc("GET /cvmfs/a.example.org/.cvmfs_status.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, statusJSON)
	})
	mux.HandleFunc("GET /cvmfs/a.example.org/api/v1.0/geo/{proxy}/{servers}", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "1,2,3")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	results, err := ScrapeServers(context.Background(),
		[]cvmfs.ServerConfig{cvmfs.NewServer(cvmfs.Stratum1, cvmfs.BackendAutoDetect, hostS1)},
		nil, nil, nil,
		WithLogger(discardLogger()),
		WithEndpoint(func(cvmfs.Hostname) string { return srv.URL }),
	)
	if err != nil {
		t.Fatalf("ScrapeServers failed: %v", err)
	}

	pop := mustPopulated(t, results[0])
	if pop.BackendDetected != cvmfs.BackendCVMFS {
		t.Errorf("BackendDetected = %s, want cvmfs", pop.BackendDetected)
	}
	if rev, _ := mustRepository(t, pop, "a.example.org").Revision(); rev != 99 {
		t.Errorf("revision = %d, want 99", rev)
	}
	if pop.GeoAPI == nil || !pop.GeoAPI.MatchesOrder(geoapi.DefaultServers) {
		t.Errorf("GeoAPI = %+v, want default order", pop.GeoAPI)
	}

	data, err := json.Marshal(results)
	if err != nil {
		t.Fatalf("failed to marshal results: %v", err)
	}
	var decoded []map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to decode results: %v", err)
	}
	if decoded[0]["status"] != "populated" {
		t.Errorf("status = %v, want populated", decoded[0]["status"])
	}
	if decoded[0]["backend_detected"] != "cvmfs" {
		t.Errorf("backend_detected = %v, want cvmfs", decoded[0]["backend_detected"])
	}
}

func TestFailedServerJSON(t *testing.T) {
	f := &FailedServer{
		Server: cvmfs.NewServer(cvmfs.SyncServer, cvmfs.BackendS3, hostS3),
		Err:    ErrNoRepositoriesSpecified,
	}
	data, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("failed to decode %s: %v", data, err)
	}
	want := map[string]string{
		"status":     "failed",
		"hostname":   "s3.example.org",
		"type":       "syncserver",
		"backend":    "s3",
		"error":      "no repositories specified for s3 backend",
		"error_kind": "no_repositories_specified",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
	if len(got) != len(want) {
		t.Errorf("unexpected keys in %s", data)
	}
}

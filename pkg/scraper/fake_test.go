package scraper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/BadgerOps/cvmfs-scraper/internal/fetch"
)

// fakeFetcher serves canned bodies by URL. Unknown URLs answer 404.
type fakeFetcher struct {
	mu    sync.Mutex
	files map[string]string
	calls []string
	// geo answers any GeoAPI query.
	geo string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{files: make(map[string]string)}
}

func (f *fakeFetcher) set(url, body string) *fakeFetcher {
	f.files[url] = body
	return f
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)

	if strings.Contains(url, "/api/v1.0/geo/") && f.geo != "" {
		return []byte(f.geo), nil
	}
	body, ok := f.files[url]
	if !ok {
		return nil, &fetch.TransportError{
			URL:        url,
			StatusCode: http.StatusNotFound,
			Err:        fmt.Errorf("unexpected status 404 Not Found"),
		}
	}
	return []byte(body), nil
}

func (f *fakeFetcher) requested(substr string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if strings.Contains(c, substr) {
			out = append(out, c)
		}
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func listingJSON(replicas ...string) string {
	entries := make([]string, len(replicas))
	for i, r := range replicas {
		entries[i] = fmt.Sprintf(`{"name": %q, "url": "/cvmfs/%s"}`, r, r)
	}
	return `{"schema": 1, "cvmfs_version": "2.11.3-1", "os_id": "rhel",
		"last_geodb_update": "Tue Jun 18 13:40:04 UTC 2024",
		"repositories": [], "replicas": [` + strings.Join(entries, ",") + `]}`
}

func manifestFor(repo string, revision int) string {
	return fmt.Sprintf("C600230b0ba7620426f2e898f1e1f43c5466efe59\n"+
		"B4669440\n"+
		"S%d\n"+
		"T1718978402\n"+
		"N%s\n"+
		"Xfc8b3ab32d8c1a2d10b65c7c0dd4d0b2de8e8a94\n"+
		"--\n"+
		"6ff6fa2c7a2bd1e4ad4e4c8fea2e23d8c6a9a57f\n"+
		"\x01\x02signature", revision, repo)
}

const statusJSON = `{"last_snapshot": "Fri Jun 21 17:40:02 UTC 2024", "last_gc": null}`

const metaJSON = `{"administrator": "Ops", "email": "ops@example.org", "organisation": "Example"}`

// addRepo serves a healthy repository on host.
func (f *fakeFetcher) addRepo(host, repo string, revision int) *fakeFetcher {
	base := "http://" + host + "/cvmfs/" + repo
	f.set(base+"/.cvmfspublished", manifestFor(repo, revision))
	f.set(base+"/.cvmfs_status.json", statusJSON)
	return f
}

func listingURL(host string) string { return "http://" + host + "/cvmfs/info/v1/repositories.json" }
func metaURL(host string) string    { return "http://" + host + "/cvmfs/info/v1/meta.json" }

// Package geoapi queries the GeoAPI endpoint of a CVMFS server, which orders
// a list of candidate servers by their distance from the requesting client.
package geoapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/BadgerOps/cvmfs-scraper/internal/safety"
	"github.com/BadgerOps/cvmfs-scraper/pkg/cvmfs"
	"github.com/google/uuid"
)

// ErrInvalidResponse is returned when the ranking is not a permutation of
// the candidate indices.
var ErrInvalidResponse = errors.New("invalid geoapi response")

// DefaultServers are the candidates ranked when the caller does not supply
// its own list.
var DefaultServers = []cvmfs.Hostname{
	cvmfs.MustParseHostname("cvmfs-s1fnal.opensciencegrid.org"),
	cvmfs.MustParseHostname("cvmfs-stratum-one.cern.ch"),
	cvmfs.MustParseHostname("cvmfs-stratum-one.ihep.ac.cn"),
}

// Fetcher retrieves the body at a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Ranking is the outcome of one GeoAPI query. Order is the candidates
// nearest first; when the query failed it is the candidates in the order
// given and Error holds the reason.
type Ranking struct {
	Server     cvmfs.Hostname       `json:"server"`
	Repository cvmfs.RepositoryName `json:"repository"`
	Candidates []cvmfs.Hostname     `json:"candidates"`
	Response   []int                `json:"response,omitempty"`
	Order      []cvmfs.Hostname     `json:"order"`
	Error      string               `json:"error,omitempty"`
}

// Failed reports whether the query failed and Order is the fallback.
func (r *Ranking) Failed() bool {
	return r.Error != ""
}

// MatchesOrder reports whether the ranked order equals expected.
func (r *Ranking) MatchesOrder(expected []cvmfs.Hostname) bool {
	if r.Failed() || len(r.Order) != len(expected) {
		return false
	}
	for i := range expected {
		if r.Order[i] != expected[i] {
			return false
		}
	}
	return true
}

// Client queries GeoAPI endpoints.
type Client struct {
	fetcher  Fetcher
	logger   *slog.Logger
	endpoint cvmfs.EndpointFunc
	token    func() string
}

// NewClient creates a GeoAPI client. A nil endpoint selects
// cvmfs.DefaultEndpoint.
func NewClient(f Fetcher, endpoint cvmfs.EndpointFunc, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if endpoint == nil {
		endpoint = cvmfs.DefaultEndpoint
	}
	return &Client{
		fetcher:  f,
		logger:   logger,
		endpoint: endpoint,
		token:    func() string { return uuid.NewString() },
	}
}

// Rank asks server to order candidates by proximity. The repository only
// forms part of the URL; the endpoint behaves the same under any repository
// the server carries. The returned Ranking is never nil: on failure it holds
// the caller's order and the error is also returned.
func (c *Client) Rank(ctx context.Context, server cvmfs.Hostname, repo cvmfs.RepositoryName, candidates []cvmfs.Hostname) (*Ranking, error) {
	r := &Ranking{
		Server:     server,
		Repository: repo,
		Candidates: candidates,
		Order:      candidates,
	}
	order, resp, err := c.rank(ctx, server, repo, candidates)
	if err != nil {
		r.Error = err.Error()
		return r, err
	}
	r.Response = resp
	r.Order = order
	return r, nil
}

func (c *Client) rank(ctx context.Context, server cvmfs.Hostname, repo cvmfs.RepositoryName, candidates []cvmfs.Hostname) ([]cvmfs.Hostname, []int, error) {
	if len(candidates) == 0 {
		return nil, nil, fmt.Errorf("%w: no candidates", ErrInvalidResponse)
	}
	names := make([]string, len(candidates))
	for i, h := range candidates {
		names[i] = string(h)
	}

	// The proxy segment only needs to be unique per query so intermediate
	// caches do not answer for another client.
	url, err := safety.JoinURL(c.endpoint(server),
		"cvmfs", string(repo), "api", "v1.0", "geo", c.token(), strings.Join(names, ","))
	if err != nil {
		return nil, nil, fmt.Errorf("building geoapi URL: %w", err)
	}

	body, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("geoapi query on %s: %w", server, err)
	}
	indices, err := ParseResponse(body, len(candidates))
	if err != nil {
		return nil, nil, fmt.Errorf("geoapi query on %s: %w", server, err)
	}

	order := make([]cvmfs.Hostname, len(indices))
	for i, idx := range indices {
		order[i] = candidates[idx-1]
	}
	c.logger.Debug("geoapi ranking", "server", server, "response", indices)
	return order, indices, nil
}

// ParseResponse parses a comma-separated GeoAPI answer. Indices are 1-based
// and must be a permutation of 1..n.
func ParseResponse(body []byte, n int) ([]int, error) {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidResponse)
	}
	parts := strings.Split(text, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("%w: got %d indices for %d candidates", ErrInvalidResponse, len(parts), n)
	}

	seen := make([]bool, n+1)
	out := make([]int, 0, n)
	for _, p := range parts {
		idx, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an index", ErrInvalidResponse, p)
		}
		if idx < 1 || idx > n || seen[idx] {
			return nil, fmt.Errorf("%w: index %d out of range or repeated", ErrInvalidResponse, idx)
		}
		seen[idx] = true
		out = append(out, idx)
	}
	return out, nil
}

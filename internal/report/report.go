// Package report renders scrape results for people and machines.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/BadgerOps/cvmfs-scraper/pkg/scraper"
)

// Report is the JSON document written for one scrape run.
type Report struct {
	RunID       string                  `json:"run_id,omitempty"`
	GeneratedAt time.Time               `json:"generated_at"`
	Servers     []scraper.ScrapedServer `json:"servers"`
	Summary     Summary                 `json:"summary"`
}

// Summary counts outcomes across a run.
type Summary struct {
	Servers                int `json:"servers"`
	FailedServers          int `json:"failed_servers"`
	Repositories           int `json:"repositories"`
	FailedRepositories     int `json:"failed_repositories"`
	RepositoriesWithStatus int `json:"repositories_with_status"`
}

// New builds a report for results.
func New(runID string, results []scraper.ScrapedServer) *Report {
	r := &Report{
		RunID:       runID,
		GeneratedAt: time.Now().UTC(),
		Servers:     results,
	}
	if r.Servers == nil {
		r.Servers = []scraper.ScrapedServer{}
	}
	r.Summary = Summarize(results)
	return r
}

// Summarize counts outcomes.
func Summarize(results []scraper.ScrapedServer) Summary {
	s := Summary{Servers: len(results)}
	for _, res := range results {
		switch v := res.(type) {
		case *scraper.FailedServer:
			s.FailedServers++
		case *scraper.PopulatedServer:
			s.Repositories += len(v.Repositories)
			for _, rec := range v.Repositories {
				if !rec.OK() {
					s.FailedRepositories++
				}
				if rec.Status != nil {
					s.RepositoriesWithStatus++
				}
			}
		}
	}
	return s
}

// WriteJSON writes r as indented JSON.
func WriteJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	return nil
}

// WriteText writes a human-readable table of r.
func WriteText(w io.Writer, r *Report) error {
	p := &printer{w: w}

	p.println("CVMFS Scrape Report")
	p.println("===================")
	if r.RunID != "" {
		p.printf("Run: %s\n", r.RunID)
	}
	p.println("")
	p.printf("%-40s %-10s %-10s %-10s %6s %6s\n", "Server", "Type", "Backend", "Status", "Repos", "Failed")
	p.println(strings.Repeat("-", 87))

	for _, res := range r.Servers {
		switch v := res.(type) {
		case *scraper.PopulatedServer:
			p.printf("%-40s %-10s %-10s %-10s %6d %6d\n",
				v.Server.Hostname,
				v.Server.Type,
				v.BackendDetected,
				"ok",
				len(v.Repositories),
				len(v.FailedRepositories()),
			)
		case *scraper.FailedServer:
			p.printf("%-40s %-10s %-10s %-10s %6s %6s\n",
				v.Server.Hostname,
				v.Server.Type,
				v.Server.Backend,
				"FAILED",
				"-",
				"-",
			)
		}
	}
	p.println("")

	for _, res := range r.Servers {
		switch v := res.(type) {
		case *scraper.FailedServer:
			p.printf("%s: %v\n\n", v.Server.Hostname, v.Err)
		case *scraper.PopulatedServer:
			writeServerDetail(p, v)
		}
	}

	p.printf("%d servers (%d failed), %d repositories (%d failed)\n",
		r.Summary.Servers, r.Summary.FailedServers,
		r.Summary.Repositories, r.Summary.FailedRepositories)
	return p.err
}

func writeServerDetail(p *printer, s *scraper.PopulatedServer) {
	p.printf("%s\n", s.Server.Hostname)
	if md := s.Metadata; md != nil {
		if md.CVMFSVersion != nil {
			p.printf("  cvmfs version: %s\n", md.CVMFSVersion.Original())
		}
		if md.Organisation != nil {
			p.printf("  organisation:  %s\n", *md.Organisation)
		}
	}
	if g := s.GeoAPI; g != nil {
		order := make([]string, len(g.Order))
		for i, h := range g.Order {
			order[i] = string(h)
		}
		if g.Failed() {
			p.printf("  geoapi:        unavailable (%s)\n", g.Error)
		} else {
			p.printf("  geoapi:        %s\n", strings.Join(order, ", "))
		}
	}
	if len(s.Repositories) == 0 {
		p.println("  no repositories")
		p.println("")
		return
	}

	p.printf("  %-40s %10s %-20s %-20s\n", "Repository", "Revision", "Published", "Last Snapshot")
	for _, rec := range s.Repositories {
		if !rec.OK() {
			p.printf("  %-40s %10s %v\n", rec.Name, "ERROR", rec.Err)
			continue
		}
		snapshot := "-"
		if rec.Status != nil && rec.Status.LastSnapshot != nil {
			snapshot = formatTime(*rec.Status.LastSnapshot)
		}
		p.printf("  %-40s %10d %-20s %-20s\n",
			rec.Name,
			rec.Manifest.Revision,
			formatTime(rec.Manifest.Timestamp),
			snapshot,
		)
	}
	p.println("")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format("2006-01-02 15:04")
}

// printer remembers the first write error.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

func (p *printer) println(s string) {
	p.printf("%s\n", s)
}

package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// Stored is a report read back from a file. Only the fields needed to
// summarise a run are decoded.
type Stored struct {
	RunID       string         `json:"run_id"`
	GeneratedAt time.Time      `json:"generated_at"`
	Servers     []StoredServer `json:"servers"`
	Summary     Summary        `json:"summary"`
}

// StoredServer is one server entry of a stored report.
type StoredServer struct {
	Status          string             `json:"status"`
	Hostname        string             `json:"hostname"`
	Type            string             `json:"type"`
	Backend         string             `json:"backend"`
	BackendDetected string             `json:"backend_detected"`
	Error           string             `json:"error"`
	Repositories    []StoredRepository `json:"repositories"`
}

// StoredRepository is one repository record of a stored report.
type StoredRepository struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// Failed reports whether the server scrape failed.
func (s StoredServer) Failed() bool { return s.Status == "failed" }

// Open reads and decodes the report file at path.
func Open(path string) (*Stored, []byte, error) {
	data, err := ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	var st Stored
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, nil, fmt.Errorf("decoding report %s: %w", path, err)
	}
	return &st, data, nil
}

// WriteStoredText writes the table of a stored report in the same layout
// as WriteText, without per-server detail.
func WriteStoredText(w io.Writer, st *Stored) error {
	p := &printer{w: w}

	p.println("CVMFS Scrape Report")
	p.println("===================")
	if st.RunID != "" {
		p.printf("Run: %s\n", st.RunID)
	}
	if !st.GeneratedAt.IsZero() {
		p.printf("Generated: %s\n", st.GeneratedAt.UTC().Format(time.RFC3339))
	}
	p.println("")
	p.printf("%-40s %-10s %-10s %-10s %6s %6s\n", "Server", "Type", "Backend", "Status", "Repos", "Failed")
	p.println(strings.Repeat("-", 87))

	for _, s := range st.Servers {
		if s.Failed() {
			p.printf("%-40s %-10s %-10s %-10s %6s %6s\n", s.Hostname, s.Type, s.Backend, "FAILED", "-", "-")
			continue
		}
		var failed int
		for _, r := range s.Repositories {
			if !r.OK {
				failed++
			}
		}
		p.printf("%-40s %-10s %-10s %-10s %6d %6d\n",
			s.Hostname, s.Type, s.BackendDetected, "ok", len(s.Repositories), failed)
	}
	p.println("")

	for _, s := range st.Servers {
		if s.Failed() {
			p.printf("%s: %s\n", s.Hostname, s.Error)
			continue
		}
		for _, r := range s.Repositories {
			if !r.OK {
				p.printf("%s/%s: %s\n", s.Hostname, r.Name, r.Error)
			}
		}
	}

	p.printf("%d servers (%d failed), %d repositories (%d failed)\n",
		st.Summary.Servers, st.Summary.FailedServers,
		st.Summary.Repositories, st.Summary.FailedRepositories)
	return p.err
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/BadgerOps/cvmfs-scraper/internal/safety"
	"github.com/BadgerOps/cvmfs-scraper/pkg/cvmfs"
	"github.com/spf13/cobra"
)

// maxManifestFileSize bounds a manifest read from disk or stdin.
const maxManifestFileSize = 1 << 20

var manifestFormat string

func newManifestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest FILE",
		Short: "Parse a .cvmfspublished file",
		Long: `Parse a repository manifest (.cvmfspublished) from a local file and print
its fields. Use - to read from standard input.`,
		Example: `  cvmfs-scraper manifest .cvmfspublished
  curl -s http://cvmfs-stratum-one.cern.ch/cvmfs/software.eessi.io/.cvmfspublished | cvmfs-scraper manifest -
  cvmfs-scraper manifest --format json .cvmfspublished`,
		Args: cobra.ExactArgs(1),
		RunE: manifestRun,
	}

	cmd.Flags().StringVar(&manifestFormat, "format", "text", "output format (text or json)")

	return cmd
}

func manifestRun(cmd *cobra.Command, args []string) error {
	var r io.Reader
	if args[0] == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening manifest: %w", err)
		}
		defer f.Close()
		r = f
	}

	data, err := safety.ReadAllWithLimit(r, maxManifestFileSize)
	if err != nil {
		return fmt.Errorf("reading manifest: %w", err)
	}
	m, err := cvmfs.ParseManifest(data)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if manifestFormat == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	}

	fmt.Fprintf(out, "%-22s %s\n", "Repository:", m.Name)
	fmt.Fprintf(out, "%-22s %d\n", "Revision:", m.Revision)
	fmt.Fprintf(out, "%-22s %s\n", "Published:", m.Timestamp.UTC().Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(out, "%-22s %s (%s)\n", "Root catalog:", m.RootCatalogHash.Digest(), m.RootCatalogHash.Algorithm())
	fmt.Fprintf(out, "%-22s %d\n", "Root catalog size:", m.RootCatalogSize)
	fmt.Fprintf(out, "%-22s %s\n", "Certificate:", m.CertificateHash)
	optional := []struct {
		label string
		hash  *cvmfs.Hash
	}{
		{"History:", m.HistoryHash},
		{"Metainfo:", m.MetainfoHash},
		{"Root path:", m.RootPathHash},
		{"Reflog:", m.ReflogHash},
	}
	for _, o := range optional {
		if o.hash != nil {
			fmt.Fprintf(out, "%-22s %s\n", o.label, *o.hash)
		}
	}
	if m.CatalogTTL != nil {
		fmt.Fprintf(out, "%-22s %ds\n", "Catalog TTL:", *m.CatalogTTL)
	}
	fmt.Fprintf(out, "%-22s %t\n", "Alternative name:", m.AlternativeName)
	fmt.Fprintf(out, "%-22s %t\n", "Garbage collectable:", m.GarbageCollectable)
	fmt.Fprintf(out, "%-22s %s (%d bytes)\n", "Signed content hash:", m.Signature.ContentHash, len(m.Signature.Raw))
	return nil
}

package main

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/BadgerOps/cvmfs-scraper/internal/report"
	"github.com/spf13/cobra"
)

var reportShowFormat string

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Inspect saved scrape reports",
		Long:  `Inspect reports written by scrape --output.`,
		Example: `  cvmfs-scraper report show report.json.zst
  cvmfs-scraper report show --format json report.json.gz`,
	}

	cmd.AddCommand(
		newReportShowCmd(),
	)

	return cmd
}

func newReportShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show FILE",
		Short: "Print a saved report",
		Long: `Print a report file written by scrape --output. Gzip, xz and zstd files are
detected from their content.`,
		Example: `  cvmfs-scraper report show report.json.xz`,
		Args:    cobra.ExactArgs(1),
		RunE:    reportShowRun,
	}

	cmd.Flags().StringVar(&reportShowFormat, "format", "text", "output format (text or json)")

	return cmd
}

func reportShowRun(cmd *cobra.Command, args []string) error {
	if reportShowFormat != "text" && reportShowFormat != "json" {
		return fmt.Errorf("unsupported format %q: use text or json", reportShowFormat)
	}

	st, data, err := report.Open(args[0])
	if err != nil {
		return err
	}
	logger.Debug("report loaded", "path", args[0], "run_id", st.RunID, "servers", len(st.Servers))

	out := cmd.OutOrStdout()
	if reportShowFormat == "json" {
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", "  "); err != nil {
			return fmt.Errorf("formatting report: %w", err)
		}
		buf.WriteByte('\n')
		_, err := buf.WriteTo(out)
		return err
	}
	return report.WriteStoredText(out, st)
}

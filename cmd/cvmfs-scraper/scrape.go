package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BadgerOps/cvmfs-scraper/internal/config"
	"github.com/BadgerOps/cvmfs-scraper/internal/report"
	"github.com/BadgerOps/cvmfs-scraper/pkg/cvmfs"
	"github.com/BadgerOps/cvmfs-scraper/pkg/scraper"
	"github.com/spf13/cobra"
)

var (
	scrapeServers    []string
	scrapeRepos      []string
	scrapeIgnore     []string
	scrapeOnlyForced bool
	scrapeGeoAPI     []string
	scrapeNoGeoAPI   bool
	scrapeFormat     string
	scrapeOutput     string
)

func newScrapeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Scrape the configured CVMFS servers",
		Long: `Scrape every configured CVMFS server and print a report. Servers come from
the config file unless --server is given, in which case only the servers on
the command line are scraped. --repo and --ignore add to the repositories
listed in the config file.

The command exits non-zero when any server failed.`,
		Example: `  cvmfs-scraper scrape
  cvmfs-scraper scrape --server cvmfs-stratum-one.cern.ch,stratum1,cvmfs
  cvmfs-scraper scrape --server s3.example.org,syncserver,s3 --repo software.eessi.io
  cvmfs-scraper scrape --no-geoapi --format json --output report.json.gz`,
		Args: cobra.NoArgs,
		RunE: scrapeRun,
	}

	cmd.Flags().StringArrayVar(&scrapeServers, "server", nil, "server to scrape as host[,type[,backend]] (repeatable)")
	cmd.Flags().StringSliceVar(&scrapeRepos, "repo", nil, "repository to scrape on every server")
	cmd.Flags().StringSliceVar(&scrapeIgnore, "ignore", nil, "repository to skip on every server")
	cmd.Flags().BoolVar(&scrapeOnlyForced, "only-forced", false, "scrape only the repositories given with --repo or in the config")
	cmd.Flags().StringSliceVar(&scrapeGeoAPI, "geoapi", nil, "GeoAPI candidate servers (replaces the configured list)")
	cmd.Flags().BoolVar(&scrapeNoGeoAPI, "no-geoapi", false, "disable GeoAPI ranking")
	cmd.Flags().StringVar(&scrapeFormat, "format", "text", "output format (text or json)")
	cmd.Flags().StringVar(&scrapeOutput, "output", "", "also write the JSON report to this file (.json, .json.gz, .json.xz, .json.zst)")
	cmd.MarkFlagsMutuallyExclusive("geoapi", "no-geoapi")

	return cmd
}

// scrapeSelection is what the command line adds on top of the config file.
type scrapeSelection struct {
	servers    []string
	repos      []string
	ignore     []string
	onlyForced bool
	geoapi     []string
	noGeoAPI   bool
}

// buildServerScraper combines the config file and the command line into a
// scraper ready to validate.
func buildServerScraper(cfg *config.Config, sel scrapeSelection) (*scraper.ServerScraper, error) {
	var servers []cvmfs.ServerConfig
	if len(sel.servers) > 0 {
		for _, spec := range sel.servers {
			srv, err := cvmfs.ParseServerSpec(spec)
			if err != nil {
				return nil, err
			}
			servers = append(servers, srv)
		}
	} else {
		var err error
		if servers, err = cfg.ServerConfigs(); err != nil {
			return nil, err
		}
	}

	s := scraper.New(scraperOptions(cfg)...).
		ForcedRepositories(cfg.Repositories.Forced...).
		ForcedRepositories(sel.repos...).
		IgnoredRepositories(cfg.Repositories.Ignored...).
		IgnoredRepositories(sel.ignore...).
		OnlyScrapeForcedRepositories(cfg.Repositories.OnlyForced || sel.onlyForced)

	switch {
	case sel.noGeoAPI:
		s.GeoAPIServers()
	case len(sel.geoapi) > 0:
		s.GeoAPIServers(sel.geoapi...)
	default:
		s.GeoAPIServers(cfg.GeoAPIServers()...)
	}

	return s.WithServers(servers...), nil
}

func scrapeRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if scrapeFormat != "text" && scrapeFormat != "json" {
		return fmt.Errorf("unsupported format %q: use text or json", scrapeFormat)
	}

	s, err := buildServerScraper(globalCfg, scrapeSelection{
		servers:    scrapeServers,
		repos:      scrapeRepos,
		ignore:     scrapeIgnore,
		onlyForced: scrapeOnlyForced,
		geoapi:     scrapeGeoAPI,
		noGeoAPI:   scrapeNoGeoAPI,
	})
	if err != nil {
		return err
	}
	ready, err := s.Validate()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results, err := ready.Scrape(ctx)
	if err != nil && results == nil {
		return err
	}
	rep := report.New(ready.RunID(), results)

	if scrapeOutput != "" {
		if werr := report.WriteFile(scrapeOutput, rep); werr != nil {
			return werr
		}
		logger.Info("report written", "path", scrapeOutput, "compression", report.CompressionFor(scrapeOutput))
	}

	out := cmd.OutOrStdout()
	if scrapeFormat == "json" {
		if werr := report.WriteJSON(out, rep); werr != nil {
			return werr
		}
	} else if werr := report.WriteText(out, rep); werr != nil {
		return werr
	}

	if err != nil {
		return fmt.Errorf("scrape interrupted: %w", err)
	}
	if rep.Summary.FailedServers > 0 {
		return fmt.Errorf("%d of %d servers failed", rep.Summary.FailedServers, rep.Summary.Servers)
	}
	return nil
}

// scrapeOnce is the ScrapeFunc used by serve: every call validates the
// configuration again and runs a fresh scraper.
func scrapeOnce(cfg *config.Config) func(ctx context.Context) (string, []scraper.ScrapedServer, error) {
	return func(ctx context.Context) (string, []scraper.ScrapedServer, error) {
		s, err := buildServerScraper(cfg, scrapeSelection{})
		if err != nil {
			return "", nil, err
		}
		ready, err := s.Validate()
		if err != nil {
			return "", nil, err
		}
		results, err := ready.Scrape(ctx)
		return ready.RunID(), results, err
	}
}

package main

import (
	"errors"
	"fmt"

	"github.com/BadgerOps/cvmfs-scraper/pkg/scraper"
	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the scrape configuration without scraping",
		Long: `Validate the configuration file and any command-line selection the same
way scrape does, and report every problem found. No server is contacted.`,
		Example: `  cvmfs-scraper validate
  cvmfs-scraper validate --config /etc/cvmfs-scraper/cvmfs-scraper.yaml
  cvmfs-scraper validate --server s3.example.org,syncserver,s3 --repo software.eessi.io`,
		Args: cobra.NoArgs,
		RunE: validateRun,
	}

	cmd.Flags().StringArrayVar(&scrapeServers, "server", nil, "server as host[,type[,backend]] (repeatable)")
	cmd.Flags().StringSliceVar(&scrapeRepos, "repo", nil, "repository to scrape on every server")
	cmd.Flags().StringSliceVar(&scrapeIgnore, "ignore", nil, "repository to skip on every server")
	cmd.Flags().BoolVar(&scrapeOnlyForced, "only-forced", false, "scrape only forced repositories")

	return cmd
}

func validateRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	s, err := buildServerScraper(globalCfg, scrapeSelection{
		servers:    scrapeServers,
		repos:      scrapeRepos,
		ignore:     scrapeIgnore,
		onlyForced: scrapeOnlyForced,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	ready, err := s.Validate()
	if err != nil {
		var verr *scraper.ValidationError
		if errors.As(err, &verr) {
			fmt.Fprintln(out, "Configuration problems:")
			for _, p := range verr.Problems {
				fmt.Fprintf(out, "  - %s\n", p)
			}
			return fmt.Errorf("validation failed: %d problems", len(verr.Problems))
		}
		return err
	}

	fmt.Fprintf(out, "Configuration OK: %d servers\n", len(ready.Servers()))
	for _, srv := range ready.Servers() {
		fmt.Fprintf(out, "  %s\n", srv)
	}
	return nil
}

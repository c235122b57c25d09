package main

import (
	"fmt"

	"github.com/BadgerOps/cvmfs-scraper/internal/fetch"
	"github.com/BadgerOps/cvmfs-scraper/pkg/cvmfs"
	"github.com/BadgerOps/cvmfs-scraper/pkg/geoapi"
	"github.com/spf13/cobra"
)

var geoapiCandidates []string

func newGeoAPICmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "geoapi SERVER REPOSITORY",
		Short: "Ask a server to rank GeoAPI candidates",
		Long: `Query the GeoAPI endpoint of SERVER under REPOSITORY and print the
candidate servers nearest first. Candidates default to the configured GeoAPI
servers.`,
		Example: `  cvmfs-scraper geoapi cvmfs-stratum-one.cern.ch software.eessi.io
  cvmfs-scraper geoapi cvmfs-s1fnal.opensciencegrid.org software.eessi.io --candidates a.example.org,b.example.org`,
		Args: cobra.ExactArgs(2),
		RunE: geoapiRun,
	}

	cmd.Flags().StringSliceVar(&geoapiCandidates, "candidates", nil, "servers to rank (defaults to the configured list)")

	return cmd
}

func geoapiRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	server, err := cvmfs.ParseHostname(args[0])
	if err != nil {
		return err
	}
	repo, err := cvmfs.ParseRepositoryName(args[1])
	if err != nil {
		return err
	}

	names := geoapiCandidates
	if len(names) == 0 {
		names = globalCfg.GeoAPI.Servers
	}
	candidates := make([]cvmfs.Hostname, 0, len(names))
	for _, n := range names {
		h, err := cvmfs.ParseHostname(n)
		if err != nil {
			return fmt.Errorf("candidate: %w", err)
		}
		candidates = append(candidates, h)
	}

	client := geoapi.NewClient(fetch.NewClient(globalCfg.FetchOptions(), logger), cvmfs.DefaultEndpoint, logger)
	ranking, err := client.Rank(cmd.Context(), server, repo, candidates)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "GeoAPI ranking from %s (%s)\n", server, repo)
	for i, h := range ranking.Order {
		fmt.Fprintf(out, "  %d. %s\n", i+1, h)
	}
	return nil
}

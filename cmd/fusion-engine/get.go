// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/fusion-engine/internal/engine"
	"github.com/pdiddy/fusion-engine/pkg/types"
)

var getCmd = &cobra.Command{
	Use:   "get <entity-type> <identifier>",
	Short: "Fetch and print one fused record",
	Long: `Get asks the providers configured for the entity type, fuses their
answers, and prints the unified record as JSON. Entity types are the tool
names in the config, e.g. stock_price or company_profile.`,
	Args: cobra.ExactArgs(2),
	RunE: runGet,
}

func init() {
	getCmd.Flags().StringSlice("sources", nil, "ask only these providers (comma-separated)")
	getCmd.Flags().String("strategy", "", "resolution strategy: highest_quality, weighted_average, voting")
	getCmd.Flags().String("mode", "", "fetch mode: parallel or sequential")
	getCmd.Flags().Int("min-sources", 0, "successes sequential mode waits for")
	getCmd.Flags().Duration("timeout", 0, "per-provider timeout")
	getCmd.Flags().Duration("ttl", 0, "cache TTL override")
	getCmd.Flags().String("market", "auto", "market state for the cache TTL: auto, open, closed")
	getCmd.Flags().StringToString("param", nil, "extra provider parameters (key=value)")
	getCmd.Flags().Bool("no-cache", false, "skip the cache lookup")

	rootCmd.AddCommand(getCmd)
}

func runGet(cmd *cobra.Command, args []string) error {
	opts, err := optionsFromFlags(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	e, err := buildEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	rec, err := e.GetUnified(ctx, args[0], args[1], opts)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}

func optionsFromFlags(cmd *cobra.Command) (engine.Options, error) {
	f := cmd.Flags()
	sources, _ := f.GetStringSlice("sources")
	strategy, _ := f.GetString("strategy")
	mode, _ := f.GetString("mode")
	minSources, _ := f.GetInt("min-sources")
	timeout, _ := f.GetDuration("timeout")
	ttl, _ := f.GetDuration("ttl")
	market, _ := f.GetString("market")
	params, _ := f.GetStringToString("param")
	noCache, _ := f.GetBool("no-cache")

	opts := engine.Options{
		Sources:    sources,
		Strategy:   types.Strategy(strategy),
		Mode:       types.FetchMode(mode),
		MinSources: minSources,
		Timeout:    timeout,
		CacheTTL:   ttl,
		Params:     params,
		NoCache:    noCache,
	}
	open, err := parseMarket(market)
	if err != nil {
		return engine.Options{}, err
	}
	opts.MarketOpen = open
	return opts, nil
}

func parseMarket(s string) (*bool, error) {
	switch s {
	case "", "auto":
		return nil, nil
	case "open":
		v := true
		return &v, nil
	case "closed":
		v := false
		return &v, nil
	default:
		return nil, fmt.Errorf("unsupported market state %q: use auto, open, or closed", s)
	}
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/fusion-engine/internal/engine"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Show routing scores and health for every provider",
	Long: `Providers lists each entity type's providers in routing order with
their score, error rate, reputation, and health state. With --probe, one
round of health probes runs first.`,
	RunE: runProviders,
}

func init() {
	providersCmd.Flags().Bool("probe", false, "run one round of health probes first")
	providersCmd.Flags().Bool("json", false, "output as JSON")

	rootCmd.AddCommand(providersCmd)
}

func runProviders(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := buildEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	if probe, _ := cmd.Flags().GetBool("probe"); probe {
		n := e.ProbeAll(ctx)
		logger.Info().Int("probed", n).Msg("health probes finished")
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	return printProviders(os.Stdout, e, jsonOutput)
}

func printProviders(w io.Writer, e *engine.Engine, jsonOutput bool) error {
	if jsonOutput {
		out := map[string]any{"stats": e.ProviderStats()}
		routing := map[string]any{}
		for _, tool := range e.Tools() {
			scores, err := e.Routing(tool)
			if err != nil {
				return err
			}
			routing[tool] = scores
		}
		out["routing"] = routing
		out["dedupe"] = e.DedupeStats()
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	stats := e.ProviderStats()
	fmt.Fprintf(w, "%-20s  %-16s  %-6s  %-8s  %-8s  %-10s  %s\n",
		"Tool", "Provider", "Score", "Errors", "Rep", "State", "Requests")
	fmt.Fprintln(w, strings.Repeat("-", 90))
	for _, tool := range e.Tools() {
		scores, err := e.Routing(tool)
		if err != nil {
			return err
		}
		for _, s := range scores {
			fmt.Fprintf(w, "%-20s  %-16s  %-6.3f  %-8.3f  %-8.3f  %-10s  %d\n",
				tool, s.Provider, s.Overall, s.ErrorRate, s.Reputation, s.State, stats[s.Provider].RequestCount)
		}
	}
	d := e.DedupeStats()
	fmt.Fprintf(w, "\nIn-flight upstream calls: %d, shared results: %d\n", d.InFlight, d.Shared)
	return nil
}

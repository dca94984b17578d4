// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pdiddy/fusion-engine/internal/engine"
	"github.com/pdiddy/fusion-engine/internal/fault"
	"github.com/pdiddy/fusion-engine/internal/metrics"
	"github.com/pdiddy/fusion-engine/pkg/types"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve fused records over HTTP",
	Long: `Serve starts the engine's background work (health probes, cache
maintenance, reputation snapshots) and answers HTTP requests:

  GET /v1/{entity}/{identifier}   fused record as JSON
  GET /v1/providers               provider statistics
  GET /v1/cache                   cache counters
  GET /healthz                    liveness
  GET /metrics                    Prometheus metrics

Query parameters on /v1/{entity}/{identifier}: sources (comma-separated),
strategy, mode, min_sources, timeout, ttl, market (open|closed), no_cache.
Any other query parameter is passed to the providers.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "listen address")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := buildEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()
	if err := e.Start(ctx); err != nil {
		return err
	}

	addr, _ := cmd.Flags().GetString("addr")
	srv := &http.Server{
		Addr:         addr,
		Handler:      newHandler(e, logger),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("serving fused records")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newHandler(e *engine.Engine, log zerolog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/providers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, e.ProviderStats())
	})
	mux.HandleFunc("GET /v1/cache", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, e.CacheStats())
	})
	mux.HandleFunc("GET /v1/dedupe", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, e.DedupeStats())
	})
	mux.HandleFunc("GET /v1/{entity}/{identifier}", func(w http.ResponseWriter, r *http.Request) {
		opts, err := optionsFromQuery(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		ctx := log.WithContext(r.Context())
		rec, err := e.GetUnified(ctx, r.PathValue("entity"), r.PathValue("identifier"), opts)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, rec)
		case errors.Is(err, fault.ErrConfiguration):
			writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, fault.ErrNoSourcesAvailable):
			writeError(w, http.StatusBadGateway, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

var reservedQuery = map[string]bool{
	"sources": true, "strategy": true, "mode": true, "min_sources": true,
	"timeout": true, "ttl": true, "market": true, "no_cache": true,
}

func optionsFromQuery(r *http.Request) (engine.Options, error) {
	q := r.URL.Query()
	opts := engine.Options{
		Strategy: types.Strategy(q.Get("strategy")),
		Mode:     types.FetchMode(q.Get("mode")),
	}
	if s := q.Get("sources"); s != "" {
		opts.Sources = strings.Split(s, ",")
	}
	if s := q.Get("min_sources"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return engine.Options{}, errors.New("min_sources must be an integer")
		}
		opts.MinSources = n
	}
	for name, dst := range map[string]*time.Duration{"timeout": &opts.Timeout, "ttl": &opts.CacheTTL} {
		if s := q.Get(name); s != "" {
			d, err := time.ParseDuration(s)
			if err != nil {
				return engine.Options{}, errors.New(name + " must be a duration such as 2s")
			}
			*dst = d
		}
	}
	open, err := parseMarket(q.Get("market"))
	if err != nil {
		return engine.Options{}, err
	}
	opts.MarketOpen = open
	if s := q.Get("no_cache"); s != "" {
		opts.NoCache, _ = strconv.ParseBool(s)
	}
	for k, v := range q {
		if reservedQuery[k] || len(v) == 0 {
			continue
		}
		if opts.Params == nil {
			opts.Params = types.Params{}
		}
		opts.Params[k] = v[0]
	}
	return opts, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{
		"error":   err.Error(),
		"sources": fault.Providers(err),
	})
}

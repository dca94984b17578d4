// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package fusion combines scored provider results into one record.
//
// Fields are compared across every contributing source regardless of the
// strategy, so ConflictCount reports disagreement even when the chosen
// strategy averages it away. Numeric values agree when their difference
// relative to the smaller magnitude is below the tolerance; any other values
// agree only when equal.
package fusion

import (
	"errors"
	"math"
	"reflect"
	"sort"
	"time"

	"github.com/pdiddy/fusion-engine/internal/fault"
	"github.com/pdiddy/fusion-engine/pkg/types"
)

// DefaultTolerance is the relative numeric difference treated as a conflict.
const DefaultTolerance = 0.005

// boundaryEpsilon keeps a difference sitting exactly on the tolerance a
// conflict despite float rounding.
const boundaryEpsilon = 1e-12

// Options control a single Fuse call.
type Options struct {
	Strategy   types.Strategy
	MinQuality float64
}

// Engine fuses results. It holds no per-call state and is safe for
// concurrent use.
type Engine struct {
	strategy  types.Strategy
	tolerance float64
	now       func() time.Time
}

// New creates a fusion engine from cfg, defaulting to highest_quality and
// DefaultTolerance.
func New(cfg types.FusionConfig) *Engine {
	e := &Engine{
		strategy:  cfg.DefaultStrategy,
		tolerance: cfg.Tolerance,
		now:       time.Now,
	}
	if !e.strategy.Valid() {
		e.strategy = types.StrategyHighestQuality
	}
	if e.tolerance <= 0 {
		e.tolerance = DefaultTolerance
	}
	return e
}

// SetClock replaces the time source stamped on fused records.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Fuse resolves results into one record. Failed results are excluded and
// listed in FailedSources; with no successful result Fuse returns a
// NoSourcesError.
func (e *Engine) Fuse(tool string, results []types.ScoredResult, opts Options) (types.FusedRecord, error) {
	strategy := opts.Strategy
	if strategy == "" {
		strategy = e.strategy
	}
	if !strategy.Valid() {
		return types.FusedRecord{}, fault.Configf("unknown strategy %q", strategy)
	}

	var ok []types.ScoredResult
	var failed []string
	var failures []*fault.ProviderFailure
	for _, r := range results {
		if r.Result.Success {
			ok = append(ok, r)
			continue
		}
		failed = append(failed, r.Result.Source)
		failures = append(failures, &fault.ProviderFailure{
			Provider: r.Result.Source,
			Tool:     tool,
			Timeout:  r.Result.Timeout,
			Err:      failureCause(r.Result.Error),
		})
	}
	if len(ok) == 0 {
		return types.FusedRecord{}, &fault.NoSourcesError{Tool: tool, Failures: failures}
	}

	// Best first; ties keep input order.
	sort.SliceStable(ok, func(i, j int) bool {
		return ok[i].Quality.Overall > ok[j].Quality.Overall
	})

	degraded := false
	if opts.MinQuality > 0 {
		kept := ok[:0:0]
		for _, r := range ok {
			if r.Quality.Overall >= opts.MinQuality {
				kept = append(kept, r)
			}
		}
		if len(kept) == 0 {
			kept = ok[:1]
			degraded = true
		}
		ok = kept
	}

	meta := types.FusionMetadata{
		SourcesUsed:     sources(ok),
		PrimarySource:   ok[0].Result.Source,
		FailedSources:   failed,
		Degraded:        degraded,
		FusionTimestamp: e.now(),
	}

	if len(ok) == 1 {
		meta.ResolutionStrategy = types.StrategySingleSource
		meta.QualityScore = ok[0].Quality.Overall
		return types.FusedRecord{Data: ok[0].Result.Data.Clone(), Fusion: meta}, nil
	}

	meta.ConflictFields = e.conflicts(ok)
	meta.ConflictCount = len(meta.ConflictFields)
	meta.ResolutionStrategy = strategy

	var data types.Record
	switch strategy {
	case types.StrategyHighestQuality:
		data = ok[0].Result.Data.Clone()
		meta.QualityScore = ok[0].Quality.Overall
	case types.StrategyWeightedAverage:
		data = e.weightedAverage(ok)
		meta.QualityScore = aggregateQuality(ok)
	case types.StrategyVoting:
		data = e.vote(ok)
		meta.QualityScore = aggregateQuality(ok)
	}
	return types.FusedRecord{Data: data, Fusion: meta}, nil
}

// conflicts returns the sorted names of fields on which sources disagree.
func (e *Engine) conflicts(results []types.ScoredResult) []string {
	var out []string
	for _, f := range fieldNames(results) {
		vals := values(results, f)
		if !e.allAgree(vals) {
			out = append(out, f)
		}
	}
	return out
}

func (e *Engine) allAgree(vals []fieldValue) bool {
	for i := 0; i < len(vals); i++ {
		for j := i + 1; j < len(vals); j++ {
			if !e.agree(vals[i].v, vals[j].v) {
				return false
			}
		}
	}
	return true
}

func (e *Engine) agree(a, b any) bool {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum && bNum {
		return e.withinTolerance(fa, fb)
	}
	return reflect.DeepEqual(a, b)
}

func (e *Engine) withinTolerance(a, b float64) bool {
	diff := math.Abs(a - b)
	if diff == 0 {
		return true
	}
	ref := math.Min(math.Abs(a), math.Abs(b))
	if ref == 0 {
		return false
	}
	return diff/ref < e.tolerance-boundaryEpsilon
}

// weightedAverage averages numeric fields by quality. Other fields, and
// fields where any value is non-numeric, take the best source's value.
func (e *Engine) weightedAverage(results []types.ScoredResult) types.Record {
	out := types.Record{}
	for _, f := range fieldNames(results) {
		vals := values(results, f)
		if len(vals) == 0 {
			out[f] = firstPresent(results, f)
			continue
		}
		nums, numeric := floats(vals)
		if !numeric {
			out[f] = vals[0].v
			continue
		}
		var sum, weight float64
		for i, v := range nums {
			sum += v * vals[i].q
			weight += vals[i].q
		}
		if weight == 0 {
			for _, v := range nums {
				sum += v
			}
			weight = float64(len(nums))
		}
		out[f] = sum / weight
	}
	return out
}

// vote picks the most common value per field. Numeric values within
// tolerance of each other count as the same answer; ties go to the group
// with the higher summed quality.
func (e *Engine) vote(results []types.ScoredResult) types.Record {
	out := types.Record{}
	for _, f := range fieldNames(results) {
		vals := values(results, f)
		if len(vals) == 0 {
			out[f] = firstPresent(results, f)
			continue
		}

		bestCount, bestQ, best := 0, -1.0, 0
		for i := range vals {
			count, q := 0, 0.0
			for j := range vals {
				if e.agree(vals[i].v, vals[j].v) {
					count++
					q += vals[j].q
				}
			}
			if count > bestCount || (count == bestCount && q > bestQ) {
				bestCount, bestQ, best = count, q, i
			}
		}
		// vals is ordered best quality first, so the first member of the
		// winning group carries the group's value.
		for j := range vals {
			if e.agree(vals[best].v, vals[j].v) {
				out[f] = vals[j].v
				break
			}
		}
	}
	return out
}

// aggregateQuality is the quality-weighted mean of the sources' quality.
func aggregateQuality(results []types.ScoredResult) float64 {
	var sq, s float64
	for _, r := range results {
		q := r.Quality.Overall
		sq += q * q
		s += q
	}
	if s == 0 {
		return 0
	}
	return sq / s
}

type fieldValue struct {
	v any
	q float64
}

// values returns the non-null values of field f in result order.
func values(results []types.ScoredResult, f string) []fieldValue {
	var out []fieldValue
	for _, r := range results {
		v, ok := r.Result.Data[f]
		if !ok || v == nil {
			continue
		}
		out = append(out, fieldValue{v: v, q: r.Quality.Overall})
	}
	return out
}

// firstPresent keeps an explicit null from the best source that has field f.
func firstPresent(results []types.ScoredResult, f string) any {
	for _, r := range results {
		if v, ok := r.Result.Data[f]; ok {
			return v
		}
	}
	return nil
}

func fieldNames(results []types.ScoredResult) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range results {
		for k := range r.Result.Data {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	sort.Strings(out)
	return out
}

func floats(vals []fieldValue) ([]float64, bool) {
	out := make([]float64, len(vals))
	for i, v := range vals {
		f, ok := toFloat(v.v)
		if !ok {
			return nil, false
		}
		out[i] = f
	}
	return out, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func sources(results []types.ScoredResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Result.Source
	}
	return out
}

func failureCause(msg string) error {
	if msg == "" {
		msg = "failed"
	}
	return errors.New(msg)
}

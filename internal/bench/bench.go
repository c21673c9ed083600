// Package bench compares the scan and hnsw match strategies on synthetic embeddings.
package bench

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-matcher/internal/database"
	"github.com/kozaktomas/face-matcher/internal/database/memory"
	"github.com/kozaktomas/face-matcher/internal/facematch"
	"gonum.org/v1/gonum/stat"
)

// Progress receives one Add per processed item.
type Progress interface {
	Add(num int) error
}

// ProgressFunc creates a Progress for a phase with total items.
type ProgressFunc func(total int64, description string) Progress

// Options configures a benchmark run.
type Options struct {
	Identities int
	Queries    int
	Dim        int
	Noise      float64 // stddev of the gaussian noise added to known-face queries
	Threshold  float64
	Seed       uint64
	HNSW       database.HNSWParams
}

// Validate checks the options.
func (o Options) Validate() error {
	var errs []error
	if o.Identities <= 0 {
		errs = append(errs, fmt.Errorf("identities must be positive, got %d", o.Identities))
	}
	if o.Queries <= 0 {
		errs = append(errs, fmt.Errorf("queries must be positive, got %d", o.Queries))
	}
	if o.Dim <= 0 {
		errs = append(errs, fmt.Errorf("dim must be positive, got %d", o.Dim))
	}
	if o.Noise < 0 {
		errs = append(errs, fmt.Errorf("noise must not be negative, got %v", o.Noise))
	}
	return errors.Join(errs...)
}

// Latency summarizes per-query durations.
type Latency struct {
	Mean time.Duration `json:"mean"`
	P50  time.Duration `json:"p50"`
	P95  time.Duration `json:"p95"`
	Max  time.Duration `json:"max"`
}

// StrategyReport holds the measurements of one strategy.
type StrategyReport struct {
	Strategy database.Strategy `json:"strategy"`
	Seed     time.Duration     `json:"seed"` // time to insert all identities
	Latency  Latency           `json:"latency"`
	Matches  int               `json:"matches"`
}

// Report is the outcome of a benchmark run.
type Report struct {
	Identities    int              `json:"identities"`
	Queries       int              `json:"queries"`
	Dim           int              `json:"dim"`
	Agreement     float64          `json:"agreement"` // share of queries with identical results
	Disagreements int              `json:"disagreements"`
	Strategies    []StrategyReport `json:"strategies"`
}

// Run seeds one in-memory store per strategy with the same random identities,
// runs the same queries against both and compares the results.
// Half of the queries are noisy copies of registered faces, the rest are unknown faces.
func Run(ctx context.Context, opts Options, progress ProgressFunc) (*Report, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if progress == nil {
		progress = func(int64, string) Progress { return nopProgress{} }
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))

	identities := make([]database.Identity, opts.Identities)
	for i := range identities {
		vec, err := randomUnit(rng, opts.Dim)
		if err != nil {
			return nil, err
		}
		id := uuid.NewString()
		identities[i] = database.Identity{
			ID:   id,
			Name: fmt.Sprintf("identity-%05d", i),
			Embeddings: []database.FaceEmbedding{{
				ID:      uuid.NewString(),
				OwnerID: id,
				Vector:  vec,
				Model:   "synthetic",
			}},
		}
	}

	queries := make([][]float32, opts.Queries)
	for i := range queries {
		var err error
		if i%2 == 0 {
			known := identities[rng.IntN(len(identities))].Embeddings[0].Vector
			queries[i], err = perturb(rng, known, opts.Noise)
		} else {
			queries[i], err = randomUnit(rng, opts.Dim)
		}
		if err != nil {
			return nil, err
		}
	}

	report := &Report{
		Identities: opts.Identities,
		Queries:    opts.Queries,
		Dim:        opts.Dim,
	}

	var results [][]facematch.Result
	for _, strategy := range []database.Strategy{database.StrategyScan, database.StrategyHNSW} {
		sr, res, err := runStrategy(ctx, strategy, opts, identities, queries, progress)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", strategy, err)
		}
		report.Strategies = append(report.Strategies, *sr)
		results = append(results, res)
	}

	for i := range queries {
		if !sameResult(results[0][i], results[1][i]) {
			report.Disagreements++
		}
	}
	report.Agreement = float64(opts.Queries-report.Disagreements) / float64(opts.Queries)
	return report, nil
}

func runStrategy(
	ctx context.Context, strategy database.Strategy, opts Options,
	identities []database.Identity, queries [][]float32, progress ProgressFunc,
) (*StrategyReport, []facematch.Result, error) {
	store, err := memory.New(strategy, opts.HNSW)
	if err != nil {
		return nil, nil, err
	}
	engine, err := facematch.NewEngine(store, facematch.EngineConfig{Dim: opts.Dim, Threshold: opts.Threshold})
	if err != nil {
		return nil, nil, err
	}

	sr := &StrategyReport{Strategy: strategy}

	bar := progress(int64(len(identities)), fmt.Sprintf("Seeding %s", strategy))
	start := time.Now()
	for i := range identities {
		if err := store.CreateIdentity(ctx, &identities[i]); err != nil {
			return nil, nil, fmt.Errorf("seeding identity %d: %w", i, err)
		}
		bar.Add(1)
	}
	sr.Seed = time.Since(start)

	bar = progress(int64(len(queries)), fmt.Sprintf("Querying %s", strategy))
	results := make([]facematch.Result, len(queries))
	latencies := make([]float64, len(queries))
	for i, q := range queries {
		start := time.Now()
		res, err := engine.Recognize(ctx, q)
		if err != nil {
			return nil, nil, fmt.Errorf("query %d: %w", i, err)
		}
		latencies[i] = float64(time.Since(start))
		results[i] = res
		if res.Matched {
			sr.Matches++
		}
		bar.Add(1)
	}
	sr.Latency = summarize(latencies)
	return sr, results, nil
}

// summarize computes latency statistics; durations are in nanoseconds.
func summarize(durations []float64) Latency {
	sorted := slices.Clone(durations)
	slices.Sort(sorted)
	return Latency{
		Mean: time.Duration(stat.Mean(sorted, nil)),
		P50:  time.Duration(stat.Quantile(0.5, stat.Empirical, sorted, nil)),
		P95:  time.Duration(stat.Quantile(0.95, stat.Empirical, sorted, nil)),
		Max:  time.Duration(sorted[len(sorted)-1]),
	}
}

func sameResult(a, b facematch.Result) bool {
	if a.Matched != b.Matched || a.CandidateFound != b.CandidateFound {
		return false
	}
	if a.OwnerID == nil || b.OwnerID == nil {
		return a.OwnerID == b.OwnerID
	}
	return *a.OwnerID == *b.OwnerID
}

func randomUnit(rng *rand.Rand, dim int) ([]float32, error) {
	v := make([]float64, dim)
	for i := range v {
		v[i] = rng.NormFloat64()
	}
	return facematch.Normalize(v)
}

func perturb(rng *rand.Rand, base []float32, noise float64) ([]float32, error) {
	v := make([]float64, len(base))
	for i, x := range base {
		v[i] = float64(x) + noise*rng.NormFloat64()
	}
	return facematch.Normalize(v)
}

type nopProgress struct{}

func (nopProgress) Add(int) error { return nil }

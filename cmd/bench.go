package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/kozaktomas/face-matcher/internal/bench"
	"github.com/kozaktomas/face-matcher/internal/constants"
	"github.com/kozaktomas/face-matcher/internal/database"
	"github.com/spf13/cobra"
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Compare the scan and hnsw strategies on random embeddings",
	Long: `Seed an in-memory store per strategy with the same random unit vectors,
run the same queries against both and report how often they agree and how
fast each answers. Half of the queries are noisy copies of registered faces,
the other half are unknown faces.

No database or embedding service is needed.

Examples:
  face-matcher bench
  face-matcher bench --identities 20000 --queries 1000 --json`,
	RunE: runBench,
}

func init() {
	rootCmd.AddCommand(benchCmd)

	benchCmd.Flags().Int("identities", constants.DefaultBenchIdentities, "Number of random identities to register")
	benchCmd.Flags().Int("queries", constants.DefaultBenchQueries, "Number of queries per strategy")
	benchCmd.Flags().Int("dim", 0, "Embedding dimension (defaults to FACE_EMBEDDING_DIM)")
	benchCmd.Flags().Float64("noise", constants.DefaultBenchNoise, "Gaussian noise added to known-face queries")
	benchCmd.Flags().Uint64("seed", 1, "Random seed")
	benchCmd.Flags().Bool("json", false, "Output as JSON")
}

func runBench(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	opts := bench.Options{
		Identities: mustGetInt(cmd, "identities"),
		Queries:    mustGetInt(cmd, "queries"),
		Dim:        cfg.Match.Dim,
		Noise:      mustGetFloat64(cmd, "noise"),
		Threshold:  cfg.Match.Threshold,
		Seed:       mustGetUint64(cmd, "seed"),
		HNSW:       hnswParams(cfg),
	}
	if dim := mustGetInt(cmd, "dim"); dim > 0 {
		opts.Dim = dim
	}

	var progress bench.ProgressFunc
	if !jsonOutput {
		fmt.Printf("Benchmarking %d identities, %d queries, %d dimensions\n\n", opts.Identities, opts.Queries, opts.Dim)
		progress = func(total int64, description string) bench.Progress {
			return newProgressBar(total, description)
		}
	}

	report, err := bench.Run(context.Background(), opts, progress)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(report)
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STRATEGY\tSEED\tMEAN\tP50\tP95\tMAX\tMATCHES")
	for _, sr := range report.Strategies {
		fmt.Fprintf(w, "%s\t%v\t%v\t%v\t%v\t%v\t%d\n",
			sr.Strategy, round(sr.Seed),
			round(sr.Latency.Mean), round(sr.Latency.P50), round(sr.Latency.P95), round(sr.Latency.Max),
			sr.Matches)
	}
	w.Flush()

	fmt.Printf("\nAgreement: %.2f%% (%d of %d queries differ)\n",
		report.Agreement*100, report.Disagreements, report.Queries)
	if report.Agreement < 0.99 {
		fmt.Printf("Warning: %s disagrees with %s on more than 1%% of queries; consider raising HNSW_EF_SEARCH\n",
			database.StrategyHNSW, database.StrategyScan)
	}
	return nil
}

func round(d time.Duration) time.Duration {
	switch {
	case d >= time.Second:
		return d.Round(time.Millisecond)
	case d >= time.Millisecond:
		return d.Round(time.Microsecond)
	default:
		return d
	}
}

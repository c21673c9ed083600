package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/kozaktomas/face-matcher/internal/facematch"
	"github.com/spf13/cobra"
)

var recognizeCmd = &cobra.Command{
	Use:   "recognize",
	Short: "Find the registered identity matching a face",
	Long: `Compare a face against every registered identity and report the best match.

The query comes from --image (exactly one face) or --vector-file (a JSON array
of numbers, normalized before matching). The decision uses MATCH_THRESHOLD
unless --threshold is given.

Examples:
  face-matcher recognize --image visitor.jpg
  face-matcher recognize --vector-file query.json --threshold 0.6 --json`,
	RunE: runRecognize,
}

func init() {
	rootCmd.AddCommand(recognizeCmd)

	recognizeCmd.Flags().String("image", "", "Face image to recognize")
	recognizeCmd.Flags().String("vector-file", "", "JSON file with a query embedding")
	recognizeCmd.Flags().Float64("threshold", 0, "Minimum cosine similarity for a match (defaults to MATCH_THRESHOLD)")
	recognizeCmd.Flags().Bool("json", false, "Output as JSON")
}

func runRecognize(cmd *cobra.Command, args []string) error {
	imagePath, vectorPath, err := imageOrVector(cmd)
	if err != nil {
		return err
	}
	jsonOutput := mustGetBool(cmd, "json")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("threshold") {
		cfg.Match.Threshold = mustGetFloat64(cmd, "threshold")
	}
	strategy, err := configuredStrategy(cfg)
	if err != nil {
		return err
	}

	ctx := context.Background()

	var query []float32
	if imagePath != "" {
		data, err := os.ReadFile(imagePath)
		if err != nil {
			return fmt.Errorf("reading image: %w", err)
		}
		extraction, err := newExtractor(cfg).Extract(ctx, data)
		if err != nil {
			return err
		}
		query = extraction.Vector
	} else {
		vec, err := readVectorFile(vectorPath)
		if err != nil {
			return err
		}
		if query, err = facematch.NormalizeFloat32(vec); err != nil {
			return err
		}
	}

	pool, store, err := openPostgresStore(ctx, cfg, strategy)
	if err != nil {
		return err
	}
	defer pool.Close()

	engine, err := newEngine(cfg, store)
	if err != nil {
		return err
	}
	result, err := engine.Recognize(ctx, query)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(result)
	}
	switch {
	case !result.CandidateFound:
		fmt.Println("No identities registered")
	case result.Matched:
		identity, err := store.GetIdentity(ctx, *result.OwnerID)
		if err != nil {
			return err
		}
		name := "(deleted)"
		if identity != nil {
			name = identity.Name
		}
		fmt.Printf("Matched %s (%s), similarity %.4f\n", name, *result.OwnerID, result.Similarity)
	default:
		fmt.Printf("No match: best similarity %.4f is below threshold %.2f\n", result.Similarity, cfg.Match.Threshold)
	}
	return nil
}

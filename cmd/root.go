package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "face-matcher",
	Short: "Match face embeddings against registered identities",
	Long: `Face Matcher stores face embeddings of known people and decides whether
a new face belongs to one of them using cosine similarity.

Embeddings come from an InsightFace sidecar (buffalo_l, 512 dimensions) or are
supplied directly. Nearest-neighbor search runs as an exhaustive scan, through
the pgvector index in PostgreSQL, or through an in-process HNSW graph.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/kozaktomas/face-matcher/internal/facematch"
	"github.com/kozaktomas/face-matcher/internal/registration"
	"github.com/spf13/cobra"
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a new identity from a face image or an embedding",
	Long: `Register a new identity with a single face embedding.

The embedding is computed by the embedding service from --image (the image
must contain exactly one face) or read from --vector-file, a JSON array of
numbers. Vectors from a file must already be unit-normalized unless
--normalize is given.

Examples:
  face-matcher register --name "Jane Doe" --image jane.jpg
  face-matcher register --name "Jane Doe" --vector-file jane.json --normalize --json`,
	RunE: runRegister,
}

func init() {
	rootCmd.AddCommand(registerCmd)

	registerCmd.Flags().String("name", "", "Name of the identity")
	registerCmd.Flags().String("image", "", "Face image to compute the embedding from")
	registerCmd.Flags().String("vector-file", "", "JSON file with a precomputed embedding")
	registerCmd.Flags().Bool("normalize", false, "Scale the vector from --vector-file to unit length")
	registerCmd.Flags().Bool("json", false, "Output as JSON")
	registerCmd.MarkFlagRequired("name")
}

func runRegister(cmd *cobra.Command, args []string) error {
	imagePath, vectorPath, err := imageOrVector(cmd)
	if err != nil {
		return err
	}
	name := mustGetString(cmd, "name")
	jsonOutput := mustGetBool(cmd, "json")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	strategy, err := configuredStrategy(cfg)
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, store, err := openPostgresStore(ctx, cfg, strategy)
	if err != nil {
		return err
	}
	defer pool.Close()

	flow := newFlow(cfg, store, newExtractor(cfg))

	var reg *registration.Registration
	if imagePath != "" {
		data, err := os.ReadFile(imagePath)
		if err != nil {
			return fmt.Errorf("reading image: %w", err)
		}
		reg, err = flow.RegisterImage(ctx, name, data)
		if err != nil {
			return err
		}
	} else {
		vec, err := readVectorFile(vectorPath)
		if err != nil {
			return err
		}
		if mustGetBool(cmd, "normalize") {
			if vec, err = facematch.NormalizeFloat32(vec); err != nil {
				return err
			}
		}
		reg, err = flow.Register(ctx, name, vec, nil)
		if err != nil {
			return err
		}
	}

	persistIndex(ctx, store)

	if jsonOutput {
		return printJSON(reg)
	}
	fmt.Printf("Registered %s\n", reg.Name)
	fmt.Printf("  Identity:  %s\n", reg.IdentityID)
	fmt.Printf("  Embedding: %s\n", reg.EmbeddingID)
	if reg.DetectionConfidence != nil {
		fmt.Printf("  Detection: %.3f\n", *reg.DetectionConfidence)
	}
	return nil
}

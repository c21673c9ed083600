// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// HTTP server constants
const (
	// RequestTimeout bounds every API request, including the embedding sidecar call
	RequestTimeout = 60 * time.Second

	// ReadHeaderTimeout limits slow clients
	ReadHeaderTimeout = 10 * time.Second

	// ShutdownTimeout is how long in-flight requests get on SIGINT/SIGTERM
	ShutdownTimeout = 15 * time.Second

	// MaxJSONBodySize is the maximum size of a JSON request body (a 512-dim
	// embedding in JSON is ~12KB)
	MaxJSONBodySize = 1 << 20
)

// Embedding sidecar constants
const (
	// EmbedderTimeout is the HTTP client timeout for the embedding sidecar
	EmbedderTimeout = 30 * time.Second

	// EmbedFacePath is the sidecar endpoint returning face embeddings
	EmbedFacePath = "/embed/face"
)

// Benchmark constants
const (
	// DefaultBenchIdentities is the number of random identities seeded by `bench`
	DefaultBenchIdentities = 2000

	// DefaultBenchQueries is the number of queries run against each strategy
	DefaultBenchQueries = 200

	// DefaultBenchNoise is the gaussian noise added to half of the bench queries
	DefaultBenchNoise = 0.03
)

// Identity constants
const (
	// MaxNameLength is the maximum length of an identity name in runes
	MaxNameLength = 255
)

package database

// FaceEmbeddingDim is the fixed dimension of the face_embeddings.embedding column
// (512 for InsightFace buffalo_l / ArcFace).
const FaceEmbeddingDim = 512

// HNSW parameters for the in-process face index.
const (
	// HNSWMaxNeighbors (M) is the maximum number of links per node on upper layers.
	// Layer 0 allows twice as many.
	HNSWMaxNeighbors = 16

	// HNSWEfConstruction is the candidate list size while inserting.
	HNSWEfConstruction = 200

	// HNSWEfSearch is the search candidate pool size.
	HNSWEfSearch = 100

	// HNSWSeed seeds level generation so rebuilds from the same rows give the same graph.
	HNSWSeed = 42
)

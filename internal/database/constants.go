package database

// HNSW index parameters for 512-dim face embeddings
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search candidate pool size for pgvector queries.
	HNSWEfSearch = 100

	// HNSWSearchMultiplier widens in-memory searches so entries of inactive
	// or deleted employees can be dropped without starving the result.
	HNSWSearchMultiplier = 3
)

// GalleryCandidates is how many nearest faces a match considers before
// collapsing them to one entry per employee.
const GalleryCandidates = 20

// Package databases backs the vector/keyword search arms a StoreClient
// exposes to hybrid-search tools, and the Postgres tree-persistence store.
package databases

import (
	"context"
)

// SearchResult represents a single hit from the full-text search backend.
type SearchResult struct {
	ID       string
	Score    float64
	Snippet  string
	Metadata map[string]string
}

// FullTextSearch defines the minimum interface for a pluggable FTS backend,
// the keyword arm of a hybrid-search tool.
type FullTextSearch interface {
	Index(ctx context.Context, id string, text string, metadata map[string]string) error
	Remove(ctx context.Context, id string) error
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
}

// VectorResult represents a single nearest neighbor lookup result.
type VectorResult struct {
	ID       string
	Score    float64 // Higher is closer by default
	Metadata map[string]string
}

// VectorStore defines the minimum interface for a pluggable vector store,
// the similarity-search arm of a hybrid-search tool.
type VectorStore interface {
	Upsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error
	Delete(ctx context.Context, id string) error
	SimilaritySearch(ctx context.Context, vector []float32, k int, filter map[string]string) ([]VectorResult, error)
}

// CollectionInfo describes a backend's schema for one collection, the
// shape internal/collection.FetchMetadata reports upward through
// treedata.MetadataFetcher. Optional: a VectorStore implements it only
// when it can report per-collection schema (both qdrantVector and the
// in-memory memoryVector do).
type CollectionInfo struct {
	PointsCount  uint64
	VectorSize   uint64
	Distance     string
	PayloadKeys  []string
	IndexedField map[string]string
}

// CollectionInspector is implemented by a VectorStore that can report its
// own schema, queried by internal/collection.FetchMetadata.
type CollectionInspector interface {
	Info(ctx context.Context) (CollectionInfo, error)
}

// Package collection implements the collection-metadata external
// collaborator (SPEC_FULL.md §4.I): treedata.SetCollectionNames consults it
// to learn a collection's schema the first time a prompt references it.
package collection

import (
	"context"
	"fmt"

	"github.com/elysia-go/elysiatree/internal/persistence/databases"
	"github.com/elysia-go/elysiatree/internal/store"
	"github.com/elysia-go/elysiatree/internal/treedata"
)

// Fetcher implements treedata.MetadataFetcher against a StoreClient
// connection. It resolves a collection's schema through
// databases.CollectionInspector when the backend's VectorStore exposes it,
// and reports FetchUnpreprocessed for one that doesn't, since
// "unpreprocessed" means "exists but has no schema
// metadata to offer the LM yet", not "missing".
type Fetcher struct {
	ClientManager *store.ClientManager
}

// NewFetcher returns a Fetcher backed by mgr.
func NewFetcher(mgr *store.ClientManager) *Fetcher {
	return &Fetcher{ClientManager: mgr}
}

// FetchMetadata reports the schema of the one collection the current
// lease's vector store is bound to; name labels the result but does not
// select the collection, so any name is reported as found when Info
// succeeds. A connection error is returned as-is; a backend with no schema
// introspection reports FetchUnpreprocessed rather than failing.
func (f *Fetcher) FetchMetadata(ctx context.Context, name string) (treedata.CollectionMetadata, treedata.FetchOutcome, error) {
	if f.ClientManager == nil {
		return treedata.CollectionMetadata{}, treedata.FetchNonexistent, fmt.Errorf("collection: no client manager configured")
	}
	lease, err := f.ClientManager.Connect(ctx)
	if err != nil {
		return treedata.CollectionMetadata{}, treedata.FetchNonexistent, fmt.Errorf("collection: connect: %w", err)
	}
	defer lease.Close()

	inspector, ok := lease.Client.Vector.(databases.CollectionInspector)
	if !ok {
		return treedata.CollectionMetadata{}, treedata.FetchUnpreprocessed, nil
	}

	info, err := inspector.Info(ctx)
	if err != nil {
		return treedata.CollectionMetadata{}, treedata.FetchNonexistent, fmt.Errorf("collection: fetch %q: %w", name, err)
	}

	return treedata.CollectionMetadata{
		Fields:       info.PayloadKeys,
		Summary:      fmt.Sprintf("%d points, vector size %d, distance %s", info.PointsCount, info.VectorSize, info.Distance),
		NamedVectors: []string{name},
		Vectorizer:   info.Distance,
	}, treedata.FetchFound, nil
}

// StaticFetcher is a fixed-table MetadataFetcher for unit tests and
// offline tools that shouldn't reach a live store (§4.I "falling back to a
// static test double in unit tests").
type StaticFetcher map[string]treedata.CollectionMetadata

// FetchMetadata returns the entry registered under name, or
// FetchNonexistent if none was registered.
func (s StaticFetcher) FetchMetadata(_ context.Context, name string) (treedata.CollectionMetadata, treedata.FetchOutcome, error) {
	m, ok := s[name]
	if !ok {
		return treedata.CollectionMetadata{}, treedata.FetchNonexistent, nil
	}
	return m, treedata.FetchFound, nil
}
